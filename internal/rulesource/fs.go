package rulesource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Filesystem serves ruleset documents from a directory tree. Keys are
// slash-separated paths relative to the root.
type Filesystem struct {
	root string
}

// NewFilesystem returns a source rooted at root. The directory must exist.
func NewFilesystem(root string) (*Filesystem, error) {
	if root == "" {
		root = "rulesets"
	}
	st, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("ruleset directory: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("ruleset directory %s is not a directory", root)
	}
	return &Filesystem{root: root}, nil
}

// Driver implements Source.
func (f *Filesystem) Driver() Driver { return DriverFilesystem }

// Root returns the scanned directory.
func (f *Filesystem) Root() string { return f.root }

// List walks the tree recursively and reports every YAML document. ETags are
// the hex sha256 of the content.
func (f *Filesystem) List(ctx context.Context) ([]Info, error) {
	var infos []Info
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !IsDocument(p) {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		st, err := d.Info()
		if err != nil {
			return err
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		infos = append(infos, Info{Key: filepath.ToSlash(rel), Size: st.Size(), ETag: etag(b), LastModified: st.ModTime().UTC()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Fetch reads the document stored at key.
func (f *Filesystem) Fetch(_ context.Context, key string) ([]byte, error) {
	p, err := f.pathFor(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return b, err
}

func etag(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// sanitizeKey keeps keys inside the root by rejecting traversal and
// absolute paths.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key contains '..'")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute key")
	}
	return filepath.ToSlash(filepath.Clean(key)), nil
}

func (f *Filesystem) pathFor(key string) (string, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.root, filepath.FromSlash(k)), nil
}
