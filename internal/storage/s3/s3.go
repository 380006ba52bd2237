// Package s3 stores archivos and donation receipts in an S3-compatible bucket
// (AWS S3, MinIO and similar through a configurable endpoint). Objects carry
// their sniffed content type and SHA-256, may be encrypted server side, and
// live under an optional key prefix so deployments can share a bucket.
//
// Authentication uses the default AWS credential chain, a static key pair,
// or AssumeRole through STS for cross-account buckets.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/gabriel-vasile/mimetype"

	appconfig "github.com/consejo-social/veeduria/internal/config"
	"github.com/consejo-social/veeduria/internal/storage"
	"github.com/consejo-social/veeduria/pkg/checksum"
)

func init() {
	storage.Register("s3", func(cfg *appconfig.Config) (storage.Storage, error) {
		return New(&cfg.Storage.S3)
	})
}

const (
	authDefault    = "default"
	authStatic     = "static"
	authAssumeRole = "assume_role"

	// metadata key holding the content SHA-256
	checksumMetaKey = "sha256"

	// us-east-1 rejects an explicit LocationConstraint on CreateBucket
	defaultRegion = "us-east-1"
)

// Store is a storage.Storage backed by one bucket.
type Store struct {
	client   *s3.Client
	presign  *s3.PresignClient
	bucket   string
	region   string
	prefix   string
	sse      types.ServerSideEncryption
	kmsKeyID string
}

// New builds a Store. No request is sent until the first operation, which
// includes the STS call for assume_role.
func New(cfg *appconfig.S3StorageConfig) (*Store, error) {
	switch {
	case cfg.Bucket == "":
		return nil, errors.New("s3: bucket is required")
	case cfg.Region == "":
		return nil, errors.New("s3: region is required")
	}

	method := authMethod(cfg)
	awsCfg, err := loadAWSConfig(cfg, method)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{
		client:   client,
		presign:  s3.NewPresignClient(client),
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		sse:      types.ServerSideEncryption(cfg.ServerSideEncryption),
		kmsKeyID: cfg.KMSKeyID,
	}, nil
}

// authMethod falls back to static when keys are present and no method is set.
func authMethod(cfg *appconfig.S3StorageConfig) string {
	if cfg.AuthMethod != "" {
		return cfg.AuthMethod
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		return authStatic
	}
	return authDefault
}

func loadAWSConfig(cfg *appconfig.S3StorageConfig, method string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}

	switch method {
	case authDefault:
	case authStatic:
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return aws.Config{}, errors.New("s3: static auth needs access_key_id and secret_access_key")
		}
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	case authAssumeRole:
		if cfg.RoleARN == "" {
			return aws.Config{}, errors.New("s3: assume_role auth needs role_arn")
		}
	default:
		return aws.Config{}, fmt.Errorf("s3: auth_method %q is not one of %s, %s, %s",
			method, authDefault, authStatic, authAssumeRole)
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("s3: load aws config: %w", err)
	}
	if method != authAssumeRole {
		return awsCfg, nil
	}

	role := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsCfg), cfg.RoleARN,
		func(o *stscreds.AssumeRoleOptions) {
			if cfg.RoleSessionName != "" {
				o.RoleSessionName = cfg.RoleSessionName
			}
			if cfg.ExternalID != "" {
				o.ExternalID = aws.String(cfg.ExternalID)
			}
		})
	awsCfg.Credentials = aws.NewCredentialsCache(role)
	return awsCfg, nil
}

func (s *Store) key(p string) *string {
	if s.prefix == "" {
		return aws.String(p)
	}
	return aws.String(path.Join(s.prefix, p))
}

// Upload buffers the body, which storage.max_upload_mb bounds, so the
// checksum and content type are known before the PUT.
func (s *Store) Upload(ctx context.Context, p string, r io.Reader, size int64) (*storage.UploadResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", p, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return nil, fmt.Errorf("s3 upload %s: got %d bytes, want %d", p, len(data), size)
	}
	sum := checksum.Sum(data)

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           s.key(p),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(mimetype.Detect(data).String()),
		Metadata:      map[string]string{checksumMetaKey: sum},
	}
	if s.sse != "" {
		in.ServerSideEncryption = s.sse
	}
	if s.sse == types.ServerSideEncryptionAwsKms && s.kmsKeyID != "" {
		in.SSEKMSKeyId = aws.String(s.kmsKeyID)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return nil, fmt.Errorf("s3 put %s: %w", p, err)
	}
	return &storage.UploadResult{Path: p, Size: int64(len(data)), Checksum: sum}, nil
}

func (s *Store) Download(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: s.key(p)})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", p, err)
	}
	return out.Body, nil
}

// Delete succeeds for keys that do not exist, as S3 itself does.
func (s *Store) Delete(ctx context.Context, p string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: s.key(p)})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", p, err)
	}
	return nil
}

// GetURL presigns a GET that downloads the object as an attachment.
func (s *Store) GetURL(ctx context.Context, p string, ttl time.Duration) (string, error) {
	ok, err := s.Exists(ctx, p)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, p)
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(s.bucket),
		Key:                        s.key(p),
		ResponseContentDisposition: aws.String("attachment"),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("s3 presign %s: %w", p, err)
	}
	return req.URL, nil
}

func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: s.key(p)})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("s3 head %s: %w", p, err)
	}
}

// EnsureBucket creates the bucket when HeadBucket fails. The server calls it
// once at startup.
func (s *Store) EnsureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}

	in := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	if s.region != defaultRegion {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, in); err != nil {
		return fmt.Errorf("s3 create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// isNotFound covers typed error bodies and bare 404s; HEAD responses carry
// no body.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noKey *types.NoSuchKey
	var nf *types.NotFound
	var re *awshttp.ResponseError
	switch {
	case errors.As(err, &noKey), errors.As(err, &nf):
		return true
	case errors.As(err, &re):
		return re.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}
