package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrPresignUnsupported = errors.New("blob backend does not presign urls")
)

type BlobInfo struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	ModTime     time.Time `json:"mod_time"`
}

// BlobStore holds generated audio and uploaded training datasets. Keys are
// slash separated and relative, e.g. "out/<job>.wav".
type BlobStore interface {
	Name() string
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (BlobInfo, error)
	Open(ctx context.Context, key string) (io.ReadCloser, BlobInfo, error)
	Stat(ctx context.Context, key string) (BlobInfo, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Ping(ctx context.Context) error
}

// CleanBlobKey normalizes key and rejects anything escaping the store root.
func CleanBlobKey(key string) (string, error) {
	key = strings.ReplaceAll(strings.TrimSpace(key), "\\", "/")
	if key == "" {
		return "", fmt.Errorf("blob key is empty")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("blob key %q must be relative", key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("blob key %q escapes the store", key)
	}
	return cleaned, nil
}

// ContentTypeFor guesses the media type of an artifact from its extension.
func ContentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".zip":
		return "application/zip"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
