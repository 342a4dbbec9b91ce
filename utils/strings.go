package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"unsafe"
)

func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return *(*string)(unsafe.Pointer(&b))
}

// Fingerprint hashes a secret (bearer token) so it can be used as a cache key.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:16])
}
