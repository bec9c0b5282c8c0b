package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/madmin-go/v3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tnqbao/gau-music-dispatch/config"
)

type MinioClient struct {
	Admin    *madmin.AdminClient
	Client   *minio.Client
	Endpoint string
	Bucket   string
}

func InitMinioClient(cfg *config.EnvConfig) *MinioClient {
	endpoint := cfg.Minio.Endpoint
	if endpoint == "" {
		panic("MinIO endpoint is not configured")
	}

	rootUser := cfg.Minio.RootUser
	if rootUser == "" {
		panic("MinIO root user is not configured")
	}

	rootPassword := cfg.Minio.RootPassword
	if rootPassword == "" {
		panic("MinIO root password is not configured")
	}

	madminClient, err := madmin.New(endpoint, rootUser, rootPassword, cfg.Minio.UseSSL)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize MinIO admin client: %v", err))
	}

	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(rootUser, rootPassword, ""),
		Secure: cfg.Minio.UseSSL,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize MinIO client: %v", err))
	}

	client := &MinioClient{
		Admin:    madminClient,
		Client:   minioClient,
		Endpoint: endpoint,
		Bucket:   cfg.Blob.Bucket,
	}
	if err := client.EnsureBucket(context.Background()); err != nil {
		panic(fmt.Sprintf("Failed to prepare MinIO bucket %s: %v", cfg.Blob.Bucket, err))
	}
	return client
}

func (m *MinioClient) Name() string {
	return "minio"
}

func (m *MinioClient) EnsureBucket(ctx context.Context) error {
	err := m.Client.MakeBucket(ctx, m.Bucket, minio.MakeBucketOptions{})
	if err != nil {
		exists, errBucketExists := m.Client.BucketExists(ctx, m.Bucket)
		if errBucketExists == nil && exists {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func (m *MinioClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (BlobInfo, error) {
	key, err := CleanBlobKey(key)
	if err != nil {
		return BlobInfo{}, err
	}
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}
	if size <= 0 {
		size = -1
	}

	info, err := m.Client.PutObject(ctx, m.Bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return BlobInfo{}, fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return BlobInfo{Key: key, Size: info.Size, ContentType: contentType, ModTime: time.Now()}, nil
}

func (m *MinioClient) Open(ctx context.Context, key string) (io.ReadCloser, BlobInfo, error) {
	info, err := m.Stat(ctx, key)
	if err != nil {
		return nil, BlobInfo{}, err
	}
	obj, err := m.Client.GetObject(ctx, m.Bucket, info.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, BlobInfo{}, mapMinioError(err)
	}
	return obj, info, nil
}

func (m *MinioClient) Stat(ctx context.Context, key string) (BlobInfo, error) {
	key, err := CleanBlobKey(key)
	if err != nil {
		return BlobInfo{}, err
	}
	stat, err := m.Client.StatObject(ctx, m.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return BlobInfo{}, mapMinioError(err)
	}
	return BlobInfo{Key: key, Size: stat.Size, ContentType: stat.ContentType, ModTime: stat.LastModified}, nil
}

func (m *MinioClient) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	key, err := CleanBlobKey(key)
	if err != nil {
		return "", err
	}
	u, err := m.Client.PresignedGetObject(ctx, m.Bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign object %s: %w", key, err)
	}
	return u.String(), nil
}

// Ping asks the admin API for server info so health reflects the cluster,
// not only the bucket endpoint.
func (m *MinioClient) Ping(ctx context.Context) error {
	info, err := m.Admin.ServerInfo(ctx)
	if err != nil {
		return fmt.Errorf("minio admin unreachable: %w", err)
	}
	if info.Mode != "" && info.Mode != "online" {
		return fmt.Errorf("minio cluster is %s", info.Mode)
	}
	return nil
}

func mapMinioError(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
		return ErrBlobNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("minio: %w", err)
}
