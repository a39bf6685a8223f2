//go:build gcp

// Package gcsblob stores blobs in Google Cloud Storage. Build with the gcp tag to include it.
package gcsblob

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/luno/ledgerflow"
)

type Option func(p *Provider)

// WithKMSKeyName sets the Cloud KMS key used for encrypted uploads. Without it encrypted uploads rely on the
// bucket's default encryption.
func WithKMSKeyName(name string) Option {
	return func(p *Provider) {
		p.kmsKeyName = name
	}
}

// New creates a provider using application default credentials.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "create gcs client")
	}

	p := &Provider{client: client}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

type Provider struct {
	client     *storage.Client
	kmsKeyName string
}

var _ ledgerflow.BlobProvider = (*Provider)(nil)

func (p *Provider) Bucket(ctx context.Context, name string) (ledgerflow.BlobStore, error) {
	if name == "" {
		return nil, errors.New("bucket name is required")
	}

	return &Bucket{
		handle:     p.client.Bucket(name),
		name:       name,
		kmsKeyName: p.kmsKeyName,
	}, nil
}

func (p *Provider) Close() error {
	return p.client.Close()
}

type Bucket struct {
	handle     *storage.BucketHandle
	name       string
	kmsKeyName string
}

var _ ledgerflow.BlobStore = (*Bucket)(nil)

func (b *Bucket) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.handle.Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	} else if err != nil {
		return false, errors.Wrap(err, "gcs object attrs", j.MKV{"bucket": b.name, "key": key})
	}

	return true, nil
}

func (b *Bucket) Download(ctx context.Context, key, localPath string) error {
	r, err := b.handle.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrap(ledgerflow.ErrBlobNotFound, "", j.MKV{"bucket": b.name, "key": key})
	} else if err != nil {
		return errors.Wrap(err, "gcs read object", j.MKV{"bucket": b.name, "key": key})
	}
	defer r.Close()

	err = os.MkdirAll(filepath.Dir(localPath), 0o700)
	if err != nil {
		return errors.Wrap(err, "create directory", j.KV("path", localPath))
	}

	dst, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, "create file", j.KV("path", localPath))
	}

	_, err = io.Copy(dst, r)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return errors.Wrap(err, "write download", j.MKV{"bucket": b.name, "key": key})
	}

	return nil
}

func (b *Bucket) Upload(ctx context.Context, key, localPath string, encrypted bool) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrap(err, "open upload", j.KV("path", localPath))
	}
	defer f.Close()

	w := b.handle.Object(key).NewWriter(ctx)
	w.ContentType = "application/zip"
	if encrypted && b.kmsKeyName != "" {
		w.KMSKeyName = b.kmsKeyName
	}

	_, err = io.Copy(w, f)
	if err != nil {
		_ = w.Close()
		return errors.Wrap(err, "gcs write object", j.MKV{"bucket": b.name, "key": key})
	}

	err = w.Close()
	if err != nil {
		return errors.Wrap(err, "gcs close object", j.MKV{"bucket": b.name, "key": key})
	}

	return nil
}
