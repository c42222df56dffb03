package oplog

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// InlineThreshold is the payload size (in bytes) above which a payload
// is stored out-of-line and referenced by PayloadRef rather than
// embedded directly in an entry (§3).
const InlineThreshold = 8 * 1024

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newBlobID() uuid.UUID {
	return uuid.New()
}
