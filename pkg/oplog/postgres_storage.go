package oplog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/golemcloud/golemrt/pkg/database"
	"github.com/golemcloud/golemrt/pkg/telemetry"
)

// PostgresStorage is a Storage backed by a shared Postgres pool (§6).
// Index assignment happens inside a transaction that first takes a
// transaction-scoped advisory lock on the worker, so concurrent appends
// to the same worker serialize before the MAX(idx) lookup, preserving
// monotonicity under concurrent writers.
type PostgresStorage struct {
	db    database.DB
	codec *Codec
}

// NewPostgresStorage creates a Postgres-backed oplog store.
func NewPostgresStorage(db database.DB) *PostgresStorage {
	return &PostgresStorage{db: db, codec: NewCodec()}
}

func (s *PostgresStorage) Append(ctx context.Context, worker WorkerId, entry Entry) (OplogIndex, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStorage.Append")
	defer span.End()

	encoded, err := s.codec.Encode(entry)
	if err != nil {
		return NoIndex, fmt.Errorf("encode entry: %w", err)
	}
	// encoded carries the length prefix; only the tag+payload belongs
	// in body, the prefix is reconstructible from len(body).
	body := encoded[4:]

	return database.WithTransactionResult(ctx, s.db, func(tx pgx.Tx) (OplogIndex, error) {
		// Postgres rejects FOR UPDATE together with an aggregate, so the
		// per-worker serialization comes from an advisory lock instead.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, worker.String()); err != nil {
			return NoIndex, fmt.Errorf("lock worker oplog: %w", err)
		}

		var last int64
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(idx), 0) FROM oplog_entries WHERE component_id = $1 AND worker_name = $2`,
			worker.ComponentId, worker.WorkerName,
		).Scan(&last)
		if err != nil {
			return NoIndex, fmt.Errorf("select last index: %w", err)
		}

		next := last + 1
		_, err = tx.Exec(ctx,
			`INSERT INTO oplog_entries (component_id, worker_name, idx, tag, body) VALUES ($1, $2, $3, $4, $5)`,
			worker.ComponentId, worker.WorkerName, next, int16(entry.Tag()), body,
		)
		if err != nil {
			return NoIndex, fmt.Errorf("insert entry: %w", err)
		}

		return OplogIndex(next), nil
	})
}

func (s *PostgresStorage) Read(ctx context.Context, worker WorkerId, from, to OplogIndex) ([]Entry, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStorage.Read")
	defer span.End()

	if from < 1 {
		from = 1
	}

	var rows pgx.Rows
	var err error
	if to == NoIndex {
		rows, err = s.db.Query(ctx,
			`SELECT tag, body FROM oplog_entries WHERE component_id = $1 AND worker_name = $2 AND idx >= $3 ORDER BY idx`,
			worker.ComponentId, worker.WorkerName, int64(from),
		)
	} else {
		rows, err = s.db.Query(ctx,
			`SELECT tag, body FROM oplog_entries WHERE component_id = $1 AND worker_name = $2 AND idx BETWEEN $3 AND $4 ORDER BY idx`,
			worker.ComponentId, worker.WorkerName, int64(from), int64(to),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var tag int16
		var body []byte
		if err := rows.Scan(&tag, &body); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		// Reconstruct the length-prefixed wire form the codec expects.
		framed := make([]byte, 4+len(body))
		framed[3] = byte(len(body))
		framed[2] = byte(len(body) >> 8)
		framed[1] = byte(len(body) >> 16)
		framed[0] = byte(len(body) >> 24)
		copy(framed[4:], body)

		entry, _, err := s.codec.Decode(framed)
		if err != nil {
			return nil, fmt.Errorf("decode entry tag %d: %w", tag, err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	if len(out) == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM oplog_entries WHERE component_id = $1 AND worker_name = $2)`,
			worker.ComponentId, worker.WorkerName,
		).Scan(&exists); err == nil && !exists {
			return nil, ErrWorkerNotFound
		}
	}
	return out, nil
}

func (s *PostgresStorage) LastIndex(ctx context.Context, worker WorkerId) (OplogIndex, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStorage.LastIndex")
	defer span.End()

	var last int64
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(idx), 0) FROM oplog_entries WHERE component_id = $1 AND worker_name = $2`,
		worker.ComponentId, worker.WorkerName,
	).Scan(&last)
	if err != nil {
		return NoIndex, fmt.Errorf("select last index: %w", err)
	}
	return OplogIndex(last), nil
}

func (s *PostgresStorage) UploadPayload(ctx context.Context, worker WorkerId, data []byte) (PayloadRef, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStorage.UploadPayload")
	defer span.End()

	hash := sha256Hex(data)
	blobID := newBlobID()

	_, err := s.db.Exec(ctx,
		`INSERT INTO oplog_payloads (component_id, worker_name, hash, data, size_bytes)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (component_id, worker_name, hash) DO NOTHING`,
		worker.ComponentId, worker.WorkerName, hash, data, int64(len(data)),
	)
	if err != nil {
		return PayloadRef{}, fmt.Errorf("insert payload: %w", err)
	}

	return PayloadRef{BlobId: blobID, Size: int64(len(data)), Hash: hash}, nil
}

func (s *PostgresStorage) DownloadPayload(ctx context.Context, worker WorkerId, ref PayloadRef) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresStorage.DownloadPayload")
	defer span.End()

	var data []byte
	err := s.db.QueryRow(ctx,
		`SELECT data FROM oplog_payloads WHERE component_id = $1 AND worker_name = $2 AND hash = $3`,
		worker.ComponentId, worker.WorkerName, ref.Hash,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select payload: %w", err)
	}
	return data, nil
}

// Commit is a no-op: every write above happens in its own committed
// transaction or auto-committed statement.
func (s *PostgresStorage) Commit(_ context.Context, _ WorkerId, _ CommitLevel) error {
	return nil
}

var _ Storage = (*PostgresStorage)(nil)
