package etl

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// contentHash computes the deterministic digest used for change
// detection: the canonical field map is marshaled with sorted keys and
// hashed with SHA-256. Two records with identical canonical fields
// always produce the same digest, regardless of source key order.
func contentHash(fields map[string]string) string {
	// json.Marshal sorts map keys, giving a stable byte stream.
	data, err := json.Marshal(fields)
	if err != nil {
		// A map[string]string cannot fail to marshal; keep the
		// signature simple for callers.
		panic("etl: marshal canonical fields: " + err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
