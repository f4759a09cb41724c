package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// LocalStore хранит объекты в файловой системе
type LocalStore struct {
	fs afero.Fs
}

// NewLocalStore создает хранилище с корнем в root
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", root, err)
	}
	return NewFsStore(afero.NewBasePathFs(afero.NewOsFs(), root)), nil
}

func NewFsStore(fs afero.Fs) *LocalStore {
	return &LocalStore{fs: fs}
}

func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if err := s.fs.MkdirAll(filepath.Dir(key), 0o755); err != nil {
		return fmt.Errorf("failed to create dir for %s: %w", key, err)
	}

	// Пишем в свой временный файл, чтобы читатели не увидели частичный объект,
	// а параллельные записи того же ключа не затирали друг друга
	f, err := afero.TempFile(s.fs, filepath.Dir(key), filepath.Base(key)+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", key, err)
	}
	tmp := f.Name()
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		s.fs.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", key, err)
	}
	if err := s.fs.Rename(tmp, key); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := s.fs.Open(key)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return f, nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	err := s.fs.Remove(key)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
