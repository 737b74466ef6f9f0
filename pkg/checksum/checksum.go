// Package checksum computes and verifies the SHA-256 digests recorded for
// every part of a partition archive.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrMismatch is returned by Verify when the content does not hash to the
// expected digest.
var ErrMismatch = errors.New("checksum mismatch")

// Sum returns the lowercase hex SHA-256 digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Stream hashes r to EOF and returns the digest along with the number of bytes read.
func Stream(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Verify reads r to EOF and wraps ErrMismatch when it does not hash to want.
func Verify(r io.Reader, want string) error {
	got, _, err := Stream(r)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: got %s, want %s", ErrMismatch, got, want)
	}
	return nil
}
