package objstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"
)

// ErrNotFound is returned by Get for keys with no stored object.
var ErrNotFound = errors.New("objstore: key not found")

// FS is a filesystem-backed bucket rooted at a directory. Each key maps to
// one file under the root.
type FS struct {
	root string
}

// NewFS opens (creating if needed) a bucket directory.
func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, errors.New("objstore: bucket root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FS{root: root}, nil
}

// Root returns the bucket's directory.
func (f *FS) Root() string { return f.root }

func (f *FS) path(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}

// Get returns the object stored under key, or ErrNotFound.
func (f *FS) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// Put stores body under key, overwriting any existing object. The content
// type is implied by the key's extension on a filesystem bucket.
func (f *FS) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := f.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, body, 0o644)
}

// List returns the keys of all objects under prefix, sorted.
func (f *FS) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := godirwalk.Walk(f.root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(f.root, path)
			if err != nil {
				return err
			}
			key := filepath.ToSlash(rel)
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
			return nil
		},
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
