package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// fileStore keeps one 0600 file per key under dir.
type fileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFile(dir string) (TokenStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("file storage directory is required")
	}
	return &fileStore{dir: dir}, nil
}

func (f *fileStore) Init(context.Context) error {
	return os.MkdirAll(f.dir, 0o700)
}

func (f *fileStore) Close() error { return nil }

func (f *fileStore) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid key %q", name)
	}
	return filepath.Join(f.dir, name), nil
}

func (f *fileStore) Load(_ context.Context, name string) (string, error) {
	p, err := f.path(name)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (f *fileStore) Save(_ context.Context, name, value string) error {
	p, err := f.path(name)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (f *fileStore) Delete(_ context.Context, name string) error {
	p, err := f.path(name)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
