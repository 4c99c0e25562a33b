package objectstore

import (
	"context"
	"io"
)

// Object is a stored byte object. Body must be closed by the caller; it
// streams directly from the backend so memory stays bounded regardless of
// object size.
type Object struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// Store provides put/get access to byte objects by key.
type Store interface {
	Get(ctx context.Context, key string) (*Object, error)
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}
