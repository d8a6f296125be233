// Package rulesource reads raw ruleset documents from external locations: a
// local directory tree, an S3-compatible bucket or process memory.
package rulesource

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"campfees/internal/config"
)

// Driver identifies a concrete source backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local directory tree (default)
	DriverS3         Driver = "s3"     // S3 / MinIO compatible bucket
	DriverMemory     Driver = "memory" // in-memory (tests)
)

// ErrNotFound is returned by Fetch for keys the source does not hold.
var ErrNotFound = errors.New("rulesource: document not found")

// Info describes one ruleset document available from a source.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Source lists and fetches ruleset documents. List only reports YAML
// documents and orders them by key.
type Source interface {
	List(ctx context.Context) ([]Info, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	Driver() Driver
}

// IsDocument reports whether key names a YAML ruleset document.
func IsDocument(key string) bool {
	switch strings.ToLower(path.Ext(key)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Open selects a Source implementation from configuration. An empty driver
// means fs.
func Open(ctx context.Context, cfg config.Source) (Source, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		src, err := NewFilesystem(cfg.Root)
		if err != nil {
			return nil, err
		}
		return src, nil
	case DriverS3:
		src, err := NewS3(ctx, S3Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKey,
			SecretAccessKey: cfg.S3.SecretKey,
			PathStyle:       cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	case DriverMemory:
		return NewMemory(nil), nil
	default:
		return nil, fmt.Errorf("unknown source driver %s", driver)
	}
}
