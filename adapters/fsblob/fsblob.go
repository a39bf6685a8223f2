// Package fsblob stores blobs as files. Every bucket is a directory below the root and every key a slash
// separated path within it. Files are not encrypted; the encrypted flag of Upload is accepted and ignored.
package fsblob

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/luno/ledgerflow"
)

var ErrInvalidKey = errors.New("blob key is not a relative path", j.C("ERR_0d4b8f2a6e1c3597"))

func New(root string) *Provider {
	return &Provider{root: root}
}

type Provider struct {
	root string
}

var _ ledgerflow.BlobProvider = (*Provider)(nil)

func (p *Provider) Bucket(ctx context.Context, name string) (ledgerflow.BlobStore, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, errors.Wrap(ErrInvalidKey, "invalid bucket name", j.KV("bucket", name))
	}

	return &Bucket{dir: filepath.Join(p.root, name)}, nil
}

type Bucket struct {
	dir string
}

var _ ledgerflow.BlobStore = (*Bucket)(nil)

func (b *Bucket) Exists(ctx context.Context, key string) (bool, error) {
	path, err := b.path(key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, errors.Wrap(err, "stat blob", j.KV("key", key))
	}

	return info.Mode().IsRegular(), nil
}

func (b *Bucket) Download(ctx context.Context, key, localPath string) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}

	src, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(ledgerflow.ErrBlobNotFound, "", j.KV("key", key))
	} else if err != nil {
		return errors.Wrap(err, "open blob", j.KV("key", key))
	}
	defer src.Close()

	return writeFile(localPath, src)
}

func (b *Bucket) Upload(ctx context.Context, key, localPath string, encrypted bool) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return errors.Wrap(err, "open upload", j.KV("path", localPath))
	}
	defer src.Close()

	// Write to a temporary file first so that readers never observe a partial blob.
	tmp := path + ".tmp"
	err = writeFile(tmp, src)
	if err != nil {
		return err
	}

	err = os.Rename(tmp, path)
	if err != nil {
		return errors.Wrap(err, "commit blob", j.KV("key", key))
	}

	return nil
}

func (b *Bucket) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || !fs.ValidPath(key) {
		return "", errors.Wrap(ErrInvalidKey, "", j.KV("key", key))
	}

	return filepath.Join(b.dir, filepath.FromSlash(key)), nil
}

func writeFile(path string, r io.Reader) error {
	err := os.MkdirAll(filepath.Dir(path), 0o700)
	if err != nil {
		return errors.Wrap(err, "create directory", j.KV("path", path))
	}

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, "create file", j.KV("path", path))
	}

	_, err = io.Copy(dst, r)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return errors.Wrap(err, "write file", j.KV("path", path))
	}

	return nil
}
