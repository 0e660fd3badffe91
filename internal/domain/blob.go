package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver copies history rows to cold storage.
type Archiver interface {
	ArchiveTrades(ctx context.Context, day time.Time) (int64, error)
}
