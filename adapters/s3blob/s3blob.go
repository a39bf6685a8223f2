// Package s3blob stores blobs in AWS S3 or an S3 compatible object store.
package s3blob

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/luno/ledgerflow"
)

// API is the subset of the S3 client the provider uses.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ API = (*s3.Client)(nil)

type Config struct {
	Region string `yaml:"region"`

	// Endpoint is an optional custom endpoint for S3 compatible stores such as MinIO or LocalStack.
	Endpoint string `yaml:"endpoint"`

	// KMSKeyID is the key used for encrypted uploads. The bucket's default KMS key is used when empty.
	KMSKeyID string `yaml:"kmsKeyId"`
}

// NewFromConfig creates a provider with an S3 client configured from the default AWS credential chain.
func NewFromConfig(ctx context.Context, cfg Config) (*Provider, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return New(client, WithKMSKeyID(cfg.KMSKeyID)), nil
}

type Option func(p *Provider)

func WithKMSKeyID(id string) Option {
	return func(p *Provider) {
		p.kmsKeyID = id
	}
}

func New(client API, opts ...Option) *Provider {
	p := &Provider{client: client}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

type Provider struct {
	client   API
	kmsKeyID string
}

var _ ledgerflow.BlobProvider = (*Provider)(nil)

func (p *Provider) Bucket(ctx context.Context, name string) (ledgerflow.BlobStore, error) {
	if name == "" {
		return nil, errors.New("bucket name is required")
	}

	return &Bucket{provider: p, name: name}, nil
}

type Bucket struct {
	provider *Provider
	name     string
}

var _ ledgerflow.BlobStore = (*Bucket)(nil)

func (b *Bucket) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.provider.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return false, nil
	} else if err != nil {
		return false, errors.Wrap(err, "s3 head object", j.MKV{"bucket": b.name, "key": key})
	}

	return true, nil
}

func (b *Bucket) Download(ctx context.Context, key, localPath string) error {
	out, err := b.provider.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return errors.Wrap(ledgerflow.ErrBlobNotFound, "", j.MKV{"bucket": b.name, "key": key})
	} else if err != nil {
		return errors.Wrap(err, "s3 get object", j.MKV{"bucket": b.name, "key": key})
	}
	defer out.Body.Close()

	err = os.MkdirAll(filepath.Dir(localPath), 0o700)
	if err != nil {
		return errors.Wrap(err, "create directory", j.KV("path", localPath))
	}

	dst, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, "create file", j.KV("path", localPath))
	}

	_, err = io.Copy(dst, out.Body)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return errors.Wrap(err, "write download", j.MKV{"bucket": b.name, "key": key})
	}

	return nil
}

// Upload puts the file at key. Encrypted uploads use server side encryption with KMS.
func (b *Bucket) Upload(ctx context.Context, key, localPath string, encrypted bool) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrap(err, "open upload", j.KV("path", localPath))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat upload", j.KV("path", localPath))
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(b.name),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/zip"),
	}

	if encrypted {
		in.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		if b.provider.kmsKeyID != "" {
			in.SSEKMSKeyId = aws.String(b.provider.kmsKeyID)
		}
	}

	_, err = b.provider.client.PutObject(ctx, in)
	if err != nil {
		return errors.Wrap(err, "s3 put object", j.MKV{"bucket": b.name, "key": key})
	}

	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
