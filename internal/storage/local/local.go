// Package local implements the filesystem storage backend. It is meant for
// development and single-node deployments: several API instances would need to
// share the same directory, e.g. over NFS. Paths are always resolved inside the
// configured base directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/consejo-social/veeduria/internal/config"
	"github.com/consejo-social/veeduria/internal/storage"
	"github.com/consejo-social/veeduria/pkg/checksum"
)

func init() {
	storage.Register("local", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Local)
	})
}

// LocalStorage stores objects as files under a base directory.
type LocalStorage struct {
	basePath string
}

// New resolves and creates the base directory.
func New(cfg *config.LocalStorageConfig) (*LocalStorage, error) {
	base, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}
	if err := os.MkdirAll(base, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{basePath: base}, nil
}

// resolve maps a storage path to a file under basePath, refusing paths that
// would leave it.
func (s *LocalStorage) resolve(path string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return "", fmt.Errorf("invalid storage path: %q", path)
	}
	full := filepath.Join(s.basePath, filepath.FromSlash(path))
	if full != s.basePath && !strings.HasPrefix(full, s.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage path: %q", path)
	}
	return full, nil
}

// Upload writes into a temp file beside the target and links it into place,
// so readers never see a partial object and an existing path is never
// replaced. A size other than -1 must match the bytes read.
func (s *LocalStorage) Upload(ctx context.Context, path string, reader io.Reader, size int64) (*storage.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	cw := checksum.NewWriter(tmp)
	_, copyErr := io.Copy(cw, reader)
	if err := errors.Join(copyErr, tmp.Close()); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	if size >= 0 && cw.Size() != size {
		return nil, fmt.Errorf("write %s: got %d bytes, want %d", path, cw.Size(), size)
	}
	if err := os.Chmod(tmp.Name(), 0o640); err != nil {
		return nil, fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Link(tmp.Name(), fullPath); err != nil {
		return nil, fmt.Errorf("store %s: %w", path, err)
	}

	return &storage.UploadResult{Path: path, Size: cw.Size(), Checksum: cw.Sum()}, nil
}

// Download opens the stored file.
func (s *LocalStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return file, nil
}

// Delete removes the object. Missing objects are not an error.
func (s *LocalStorage) Delete(ctx context.Context, path string) error {
	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("delete %s: %w", path, err)
	}

	// Prune the YYYY/MM directories the object leaves empty.
	for dir := filepath.Dir(fullPath); dir != s.basePath; dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}

	return nil
}

// GetURL returns a file:// URL. The local backend has no signed links; the
// API streams local files through the download endpoint instead.
func (s *LocalStorage) GetURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	exists, err := s.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, path)
	}

	fullPath, _ := s.resolve(path)
	return "file://" + filepath.ToSlash(fullPath), nil
}

// Exists reports whether a regular file is stored at path.
func (s *LocalStorage) Exists(ctx context.Context, path string) (bool, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(fullPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Mode().IsRegular(), nil
}
