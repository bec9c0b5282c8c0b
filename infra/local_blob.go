package infra

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

type LocalBlobStore struct {
	root string
}

func NewLocalBlobStore(root string) (*LocalBlobStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &LocalBlobStore{root: abs}, nil
}

func (s *LocalBlobStore) Name() string {
	return "local"
}

func (s *LocalBlobStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) (BlobInfo, error) {
	full, key, err := s.resolve(key)
	if err != nil {
		return BlobInfo{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return BlobInfo{}, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return BlobInfo{}, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return BlobInfo{}, err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return BlobInfo{}, err
	}

	if contentType == "" {
		contentType = ContentTypeFor(key)
	}
	return BlobInfo{Key: key, Size: n, ContentType: contentType, ModTime: time.Now()}, nil
}

func (s *LocalBlobStore) Open(ctx context.Context, key string) (io.ReadCloser, BlobInfo, error) {
	info, err := s.Stat(ctx, key)
	if err != nil {
		return nil, BlobInfo{}, err
	}
	full, _, _ := s.resolve(key)
	f, err := os.Open(full)
	if err != nil {
		return nil, BlobInfo{}, mapFSError(err)
	}
	return f, info, nil
}

func (s *LocalBlobStore) Stat(_ context.Context, key string) (BlobInfo, error) {
	full, key, err := s.resolve(key)
	if err != nil {
		return BlobInfo{}, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		return BlobInfo{}, mapFSError(err)
	}
	if fi.IsDir() {
		return BlobInfo{}, ErrBlobNotFound
	}
	return BlobInfo{Key: key, Size: fi.Size(), ContentType: ContentTypeFor(key), ModTime: fi.ModTime()}, nil
}

func (s *LocalBlobStore) PresignGet(context.Context, string, time.Duration) (string, error) {
	return "", ErrPresignUnsupported
}

func (s *LocalBlobStore) Ping(context.Context) error {
	_, err := os.Stat(s.root)
	return err
}

func (s *LocalBlobStore) resolve(key string) (string, string, error) {
	key, err := CleanBlobKey(key)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), key, nil
}

func mapFSError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrBlobNotFound
	}
	return err
}
