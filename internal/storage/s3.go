package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/helixir/paper-aggregation-service/internal/domain"
)

// S3Config holds configuration for the S3-backed store. A custom Endpoint
// lets it run against S3-compatible services such as MinIO or Backblaze B2.
type S3Config struct {
	// Bucket is the bucket objects are stored in.
	Bucket string

	// Region is the AWS region.
	Region string

	// Endpoint overrides the AWS endpoint for S3-compatible services.
	Endpoint string

	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible services.
	UsePathStyle bool

	// PublicBaseURL, when set, is used to build returned object URLs
	// instead of the s3:// scheme.
	PublicBaseURL string
}

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store implements Store on top of an S3 bucket.
type S3Store struct {
	client s3API
	config S3Config
}

// Compile-time check that S3Store implements Store.
var _ Store = (*S3Store)(nil)

// NewS3Store builds an S3 client from the ambient AWS configuration and the
// given store config.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: cfg.UsePathStyle,
					SigningRegion:     cfg.Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{client: client, config: cfg}, nil
}

// NewS3StoreWithClient creates a store around an existing client.
// This is useful for testing with a mock API.
func NewS3StoreWithClient(client s3API, cfg S3Config) *S3Store {
	return &S3Store{client: client, config: cfg}
}

// Exists reports whether the key is present in the bucket.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("head object %q: %w", key, errors.Join(domain.ErrStorageUnavailable, err))
	}
	return true, nil
}

// Put uploads the bytes and returns the durable URL of the stored object.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %q: %w", key, errors.Join(domain.ErrStorageUnavailable, err))
	}
	return s.URL(key), nil
}

// Get retrieves the stored bytes for the key.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, domain.NewNotFoundError("object", key)
		}
		return nil, fmt.Errorf("get object %q: %w", key, errors.Join(domain.ErrStorageUnavailable, err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object %q: %w", key, err)
	}
	return data, nil
}

// URL builds the durable URL returned for a stored key.
func (s *S3Store) URL(key string) string {
	if s.config.PublicBaseURL != "" {
		return strings.TrimRight(s.config.PublicBaseURL, "/") + "/" + key
	}
	return fmt.Sprintf("s3://%s/%s", s.config.Bucket, key)
}

// Healthy probes the bucket with a cheap request, used by readiness checks.
func (s *S3Store) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Heading a well-known key answers quickly whether the bucket is
	// reachable; a NotFound still proves connectivity.
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(".healthcheck"),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("storage health: %w", errors.Join(domain.ErrStorageUnavailable, err))
	}
	return nil
}
