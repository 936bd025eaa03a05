// Package blobstore abstracts durable storage for document artifacts:
// the originally uploaded bytes and the OCR-generated searchable PDF.
package blobstore

import "errors"

// ErrNotFound is returned by Get when no blob exists under the key.
var ErrNotFound = errors.New("blob not found")

// Store holds named byte blobs.
type Store interface {
	Put(key string, data []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	Exists(key string) bool
}
