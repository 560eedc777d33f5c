package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store is the production Store, backing the object-store adapter spec.md
// assumes with a real S3 (or S3-compatible) bucket. Cloud keys map directly
// onto S3 object keys; "id" is the S3 ETag, the closest S3 analogue to a
// GridFS object id.
type S3Store struct {
	client *s3.Client
	bucket string
}

// S3Config configures the S3-backed store.
type S3Config struct {
	Bucket         string
	Region         string
	Endpoint       string // non-empty for S3-compatible endpoints (minio, etc.)
	ForcePathStyle bool
}

// NewS3Store builds an S3Store from the default AWS credential chain plus
// the given bucket/region/endpoint overrides.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Store) IDByKey(ctx context.Context, key string) (string, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("head object %q: %w", key, err)
	}
	return aws.ToString(out.ETag), nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.IDByKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}

func (s *S3Store) Upload(ctx context.Context, key string, r io.Reader, metadata map[string]string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read upload body for %q: %w", key, err)
	}

	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if ct, ok := metadata["content_type"]; ok {
		in.ContentType = aws.String(ct)
	}
	if len(metadata) > 0 {
		in.Metadata = metadata
	}

	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		return "", fmt.Errorf("put object %q: %w", key, err)
	}
	return aws.ToString(out.ETag), nil
}

func (s *S3Store) Download(ctx context.Context, key string, w io.Writer) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("get object %q: %w", key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("copy object body %q: %w", key, err)
	}
	return nil
}

func (s *S3Store) ReadString(ctx context.Context, key string) (string, error) {
	var buf bytes.Buffer
	if err := s.Download(ctx, key, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *S3Store) WriteString(ctx context.Context, key, str string) (string, error) {
	return s.Upload(ctx, key, bytes.NewReader([]byte(str)), nil)
}

func (s *S3Store) Metadata(ctx context.Context, key string) (map[string]string, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("head object %q: %w", key, err)
	}
	return out.Metadata, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}
