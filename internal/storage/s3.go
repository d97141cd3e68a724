package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Compile-time check that S3Store implements Store.
var _ Store = (*S3Store)(nil)

// S3Config holds the configuration for S3 storage.
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string // Optional: key prefix inside the bucket
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// S3Store keeps media objects in an S3 bucket.
// Uploads are spooled through the scratch area so that PutObject
// receives a seekable body with a known length.
type S3Store struct {
	client  *s3.Client
	scratch *Scratch
	bucket  string
	prefix  string
}

// NewS3Store creates a new S3Store instance.
func NewS3Store(ctx context.Context, cfg S3Config, scratch *Scratch) (*S3Store, error) {
	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client:  s3.NewFromConfig(awsCfg, clientOpts...),
		scratch: scratch,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
	}, nil
}

// Put spools data to scratch, then uploads it.
func (s *S3Store) Put(ctx context.Context, key string, data io.Reader) (int64, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return 0, err
	}

	spool, err := s.scratch.SaveTemp(ctx, "upload", data)
	if err != nil {
		return 0, err
	}
	defer func() { _ = s.scratch.CleanupTemp(spool) }()

	f, err := os.Open(spool) // #nosec G304 - spool path is created by Scratch
	if err != nil {
		return 0, fmt.Errorf("open spool: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat spool: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return 0, fmt.Errorf("upload to S3: %w", err)
	}

	return info.Size(), nil
}

// Stat issues a HEAD request for the object.
func (s *S3Store) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return ObjectInfo{}, err
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return ObjectInfo{}, s.mapError(key, "head object", err)
	}

	return ObjectInfo{Key: key, Size: aws.ToInt64(out.ContentLength)}, nil
}

// OpenRange issues a ranged GET.
func (s *S3Store) OpenRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return io.NopCloser(http.NoBody), nil
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}
	if offset > 0 || length > 0 {
		input.Range = aws.String(byteRange(offset, length))
	}

	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		return nil, s.mapError(key, "get object", err)
	}
	return out.Body, nil
}

// Delete removes the object. S3 treats missing keys as success.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return s.mapError(key, "delete object", err)
	}
	return nil
}

// Materialize downloads the object into dir.
func (s *S3Store) Materialize(ctx context.Context, key, dir string) (string, error) {
	body, err := s.OpenRange(ctx, key, 0, -1)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	target := filepath.Join(dir, "source"+path.Ext(key))
	f, err := os.Create(target) // #nosec G304 - dir is a run directory owned by the caller
	if err != nil {
		return "", fmt.Errorf("create local copy: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("download object: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close local copy: %w", err)
	}
	return target, nil
}

func (s *S3Store) objectKey(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return cleaned, nil
	}
	return path.Join(s.prefix, cleaned), nil
}

func (s *S3Store) mapError(key, op string, err error) error {
	if isS3NotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}

// isS3NotFound reports whether err means the key does not exist.
// HEAD responses carry no body, so the status code is checked as well.
func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

// byteRange formats an HTTP Range header value for offset and length.
// A negative length means through the end of the object.
func byteRange(offset, length int64) string {
	if length < 0 {
		return fmt.Sprintf("bytes=%d-", offset)
	}
	return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
}
