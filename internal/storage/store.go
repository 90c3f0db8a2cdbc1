package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrKeyNotFound reports an absent key. Backends translate their native
// not-found conditions to this sentinel so callers can branch with errors.Is.
var ErrKeyNotFound = errors.New("storage: key not found")

// BlobStore is the opaque key-value backend holding the durable documents.
// All implementations are best-effort: callers log and continue on failure.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// StoreError wraps a backend failure with a dotted operation code.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
