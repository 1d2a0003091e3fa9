package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
	// PutMultipart streams large objects in parts of partSize bytes.
	PutMultipart(ctx context.Context, key string, data io.Reader, partSize int64) error
}

// TickArchiver exports ticks observed before a cutoff to cold storage and
// returns how many it wrote.
type TickArchiver interface {
	ArchiveTicks(ctx context.Context, before time.Time) (int64, error)
}
