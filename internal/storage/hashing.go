package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// SHA256Bytes returns the lowercase hex digest of data.
func SHA256Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256File streams path through SHA-256.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CanonicalJSONBytes is the stable encoding used for content-addressed
// hashes: key-sorted maps, no insignificant whitespace, no HTML escaping.
func CanonicalJSONBytes(v any) ([]byte, error) {
	return MarshalLine(v)
}

// ContentHash hashes the canonical JSON of v, prefixed for embedding in
// records.
func ContentHash(v any) (string, error) {
	data, err := CanonicalJSONBytes(v)
	if err != nil {
		return "", err
	}
	return "sha256:" + SHA256Bytes(data), nil
}
