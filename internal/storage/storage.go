// Package storage provides export destinations and persistent file storage.
// It defines the Storage interface (port) for hexagonal architecture and
// implementations for local disk and S3 storage.
package storage

import (
	"context"
	"io"
)

// Storage defines where exports are written and how finished artifacts are
// published. Destinations are created fresh per export and must be claimed by
// exactly one job while it writes them.
type Storage interface {
	// NewDestination returns a fresh, unused file path for an export artifact.
	// The name parameter is used as a hint for the filename; ext includes the dot.
	NewDestination(ctx context.Context, name, ext string) (path string, err error)

	// ClaimDestination takes exclusive ownership of path until the returned
	// claim is released. Returns ErrDestinationBusy if another job holds it.
	ClaimDestination(ctx context.Context, path string) (*Claim, error)

	// Open reads a stored file. The caller must close the returned ReadCloser.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Cleanup removes the specified files.
	// It continues cleanup even if some files fail to delete.
	Cleanup(ctx context.Context, paths []string) error

	// UploadToS3 uploads data to S3 and returns the public URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}
