// Package hashing computes content fingerprints used for deduplication.
//
// Digests are md5 hex strings. This is content addressing, not security:
// the digest only needs to be deterministic and collision-resistant enough
// to identify re-uploaded bytes.
package hashing

import (
	"crypto/md5"
	"fmt"
	"io"
)

// DigestLength is the length of a hex-encoded digest.
const DigestLength = 32

// Hash returns the hex digest of data.
func Hash(data []byte) string {
	return fmt.Sprintf("%x", md5.Sum(data))
}

// HashReader hashes the full contents of r and restores the read position
// to where it was before the call, so callers can hash a stream they are
// about to consume without losing their place.
func HashReader(r io.ReadSeeker) (string, error) {
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", fmt.Errorf("record position: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind: %w", err)
	}
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	if _, err := r.Seek(pos, io.SeekStart); err != nil {
		return "", fmt.Errorf("restore position: %w", err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
