package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/tnqbao/gau-music-dispatch/config"
)

// S3Client stores artifacts in any S3-compatible bucket. A custom endpoint
// switches to path-style addressing.
type S3Client struct {
	Client  *s3.Client
	Presign *s3.PresignClient
	Bucket  string
}

func InitS3Client(cfg *config.EnvConfig) *S3Client {
	ctx := context.Background()

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3.Region)}
	if cfg.S3.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3.AccessKey, cfg.S3.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		panic(fmt.Sprintf("Failed to load S3 configuration: %v", err))
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
			o.UsePathStyle = true
		}
	})

	s := &S3Client{
		Client:  client,
		Presign: s3.NewPresignClient(client),
		Bucket:  cfg.Blob.Bucket,
	}
	if err := s.EnsureBucket(ctx); err != nil {
		panic(fmt.Sprintf("Failed to prepare S3 bucket %s: %v", cfg.Blob.Bucket, err))
	}
	return s
}

func (s *S3Client) Name() string {
	return "s3"
}

func (s *S3Client) EnsureBucket(ctx context.Context) error {
	if _, err := s.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.Bucket)}); err == nil {
		return nil
	}
	_, err := s.Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.Bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func (s *S3Client) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (BlobInfo, error) {
	key, err := CleanBlobKey(key)
	if err != nil {
		return BlobInfo{}, err
	}
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}

	// The v4 signer needs a seekable body to hash the payload.
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return BlobInfo{}, err
		}
		body = bytes.NewReader(data)
		size = int64(len(data))
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.Client.PutObject(ctx, input); err != nil {
		return BlobInfo{}, fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return BlobInfo{Key: key, Size: size, ContentType: contentType, ModTime: time.Now()}, nil
}

func (s *S3Client) Open(ctx context.Context, key string) (io.ReadCloser, BlobInfo, error) {
	key, err := CleanBlobKey(key)
	if err != nil {
		return nil, BlobInfo{}, err
	}
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.Bucket), Key: aws.String(key)})
	if err != nil {
		return nil, BlobInfo{}, mapS3Error(err)
	}
	info := BlobInfo{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		ModTime:     aws.ToTime(out.LastModified),
	}
	return out.Body, info, nil
}

func (s *S3Client) Stat(ctx context.Context, key string) (BlobInfo, error) {
	key, err := CleanBlobKey(key)
	if err != nil {
		return BlobInfo{}, err
	}
	out, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.Bucket), Key: aws.String(key)})
	if err != nil {
		return BlobInfo{}, mapS3Error(err)
	}
	return BlobInfo{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		ModTime:     aws.ToTime(out.LastModified),
	}, nil
}

func (s *S3Client) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	key, err := CleanBlobKey(key)
	if err != nil {
		return "", err
	}
	req, err := s.Presign.PresignGetObject(ctx,
		&s3.GetObjectInput{Bucket: aws.String(s.Bucket), Key: aws.String(key)},
		s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign object %s: %w", key, err)
	}
	return req.URL, nil
}

func (s *S3Client) Ping(ctx context.Context) error {
	_, err := s.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.Bucket)})
	return err
}

func mapS3Error(err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return ErrBlobNotFound
	}
	return fmt.Errorf("s3: %w", err)
}
