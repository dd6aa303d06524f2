// Package objectstore persists task store documents as objects in an
// S3-compatible bucket, one object per key.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dukerupert/crewtasks/internal/apperr"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config holds S3-compatible storage configuration.
type Config struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	// Prefix is prepended to every object key.
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	// Passphrase, when set, encrypts object bodies at rest.
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase"`
}

// Enabled reports whether enough is configured to reach a bucket.
func (c Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Storage is a key/value store over bucket objects.
type Storage struct {
	client s3Client
	bucket string
	prefix string
	sealer *sealer
}

// New builds a Storage for cfg.
func New(cfg Config) (*Storage, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: object storage needs bucket, access key and secret key", apperr.ErrValidation)
	}
	return newStorage(newS3Client(cfg), cfg)
}

func newStorage(client s3Client, cfg Config) (*Storage, error) {
	s := &Storage{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
	if cfg.Passphrase != "" {
		sl, err := newSealer(cfg.Passphrase)
		if err != nil {
			return nil, err
		}
		s.sealer = sl
	}
	return s, nil
}

func newS3Client(cfg Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func (s *Storage) objectKey(key string) string {
	if s.prefix == "" {
		return key + ".json"
	}
	return path.Join(s.prefix, key+".json")
}

// Get reports ok=false when the object does not exist.
func (s *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: get object %s: %w", apperr.ErrNetwork, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", false, fmt.Errorf("%w: read object %s: %w", apperr.ErrNetwork, key, err)
	}
	if s.sealer != nil {
		data, err = s.sealer.open(data)
		if err != nil {
			return "", false, fmt.Errorf("open object %s: %w", key, err)
		}
	}
	return string(data), true, nil
}

func (s *Storage) Set(ctx context.Context, key, value string) error {
	body := []byte(value)
	contentType := "application/json"
	if s.sealer != nil {
		sealed, err := s.sealer.seal(body)
		if err != nil {
			return fmt.Errorf("seal object %s: %w", key, err)
		}
		body = sealed
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("%w: put object %s: %w", apperr.ErrNetwork, key, err)
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("%w: delete object %s: %w", apperr.ErrNetwork, key, err)
	}
	return nil
}
