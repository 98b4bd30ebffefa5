package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/google/uuid"
)

// ErrNotFound reports that no blob exists under the given locator.
var ErrNotFound = errors.New("blob not found")

// WriteError wraps an I/O failure while writing or deleting a blob.
type WriteError struct {
	Op      string
	Locator string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("blob %s %s: %v", e.Op, e.Locator, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Config contains the information required to talk to a blob store.
type Config struct {
	Provider  string
	LocalDir  string
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Store persists raw video bytes under generated locators. Put never leaves
// a partially written blob visible to readers.
type Store interface {
	Put(ctx context.Context, reader io.Reader, size int64, opts PutOptions) (string, error)
	Delete(ctx context.Context, locator string) error
	Exists(ctx context.Context, locator string) (bool, error)
	Close() error
}

// PutOptions carries upload metadata used when naming and storing a blob.
type PutOptions struct {
	Filename    string
	ContentType string
}

// New creates a blob store based on the given configuration.
func New(cfg Config) (Store, error) {
	switch cfg.Provider {
	case "local":
		return newLocalStore(cfg.LocalDir)
	case "minio", "s3":
		return newMinioStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported blob store provider: %s", cfg.Provider)
	}
}

const locatorPrefix = "Videos"

// newLocator generates a collision-resistant locator, keeping the original
// file extension so downstream tooling can sniff the container format.
func newLocator(filename string) string {
	return path.Join(locatorPrefix, uuid.NewString()+path.Ext(filename))
}
