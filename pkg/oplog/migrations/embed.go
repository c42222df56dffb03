package migrations

import "embed"

// FS embeds the oplog schema migrations for use with database.Migrator.
//
//go:embed *.sql
var FS embed.FS
