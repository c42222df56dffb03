package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// PayloadHash computes the content hash used to address a PayloadRef's
// out-of-line blob (§3). Two identical payloads hash identically
// regardless of which worker produced them, so the blob store can
// deduplicate across workers sharing a component.
func PayloadHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// BuildPayloadKey builds the cache key for a payload blob given its
// owning component and content hash.
func BuildPayloadKey(componentID, payloadHash string) string {
	return fmt.Sprintf("payload:%s:%s", componentID, payloadHash)
}

// QuickHash is a general-purpose content hash for arbitrary data.
func QuickHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ShortHash is a truncated (8-byte) content hash, used where a full
// hex-encoded sha256 would make keys unwieldy.
func ShortHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}
