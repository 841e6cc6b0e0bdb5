package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/honeycombio/beacon/config"
	"github.com/honeycombio/beacon/logger"
)

var _ Store = (*FileStore)(nil)

// FileStore keeps one file per key under StoreConfig.Path. Writes go to a
// temporary file that is renamed into place, so a crash never leaves a
// half-written value behind.
type FileStore struct {
	Config config.Config `inject:""`
	Logger logger.Logger `inject:""`

	// Fs defaults to the OS filesystem; tests substitute afero.NewMemMapFs.
	Fs afero.Fs

	dir string
	mut sync.Mutex
}

func (f *FileStore) Start() error {
	if f.Fs == nil {
		f.Fs = afero.NewOsFs()
	}
	f.dir = f.Config.GetStoreConfig().Path
	if err := f.Fs.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("creating store directory %s: %w", f.dir, err)
	}
	f.Logger.Debug().WithString("path", f.dir).Logf("file store ready")
	return nil
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+".json")
}

func (f *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mut.Lock()
	defer f.mut.Unlock()

	b, err := afero.ReadFile(f.Fs, f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return string(b), true, nil
}

func (f *FileStore) Set(_ context.Context, key string, value string) error {
	f.mut.Lock()
	defer f.mut.Unlock()

	final := f.path(key)
	tmp := final + ".tmp"
	if err := afero.WriteFile(f.Fs, tmp, []byte(value), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := f.Fs.Rename(tmp, final); err != nil {
		return fmt.Errorf("replacing %s: %w", key, err)
	}
	return nil
}

func (f *FileStore) Remove(_ context.Context, key string) error {
	f.mut.Lock()
	defer f.mut.Unlock()

	err := f.Fs.Remove(f.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", key, err)
	}
	return nil
}
