// Package archive unpacks contract template archives. Templates are distributed as zip files.
package archive

import (
	"archive/zip"
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

const defaultMaxFileSize = 64 << 20

var (
	ErrUnsafePath   = errors.New("archive entry escapes destination", j.C("ERR_8e2b6f0d4a1c9357"))
	ErrFileTooLarge = errors.New("archive entry exceeds size limit", j.C("ERR_3d7c1a9e5b0f2468"))
)

type Extractor struct {
	maxFileSize int64
}

type Option func(e *Extractor)

// WithMaxFileSize limits the uncompressed size of every single entry.
func WithMaxFileSize(n int64) Option {
	return func(e *Extractor) {
		e.maxFileSize = n
	}
}

func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{maxFileSize: defaultMaxFileSize}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

var _ ledgerflow.Extractor = (*Extractor)(nil)

// Extract unpacks the archive into destDir. On failure everything that was written to destDir is removed.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string) (err error) {
	defer func() {
		if err != nil {
			if cerr := empty(destDir); cerr != nil {
				err = errors.Wrap(cerr, "empty destination after failed extraction", j.KV("cause", err.Error()))
			}
		}
	}()

	r, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		if r != nil {
			r.Close()
		}

		return errors.Wrap(ErrUnsafePath, "", j.KV("path", archivePath))
	} else if err != nil {
		return errors.Wrap(err, "open archive", j.KV("path", archivePath))
	}
	defer r.Close()

	err = os.MkdirAll(destDir, 0o700)
	if err != nil {
		return errors.Wrap(err, "create destination", j.KV("dir", destDir))
	}

	for _, f := range r.File {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := e.extractFile(f, destDir)
		if err != nil {
			return err
		}
	}

	return nil
}

func (e *Extractor) extractFile(f *zip.File, destDir string) error {
	target, err := safeJoin(destDir, f.Name)
	if err != nil {
		return err
	}

	if f.FileInfo().IsDir() {
		err := os.MkdirAll(target, 0o700)
		if err != nil {
			return errors.Wrap(err, "create directory", j.KV("entry", f.Name))
		}

		return nil
	}

	if !f.Mode().IsRegular() {
		return errors.New("unsupported archive entry", j.MKV{"entry": f.Name, "mode": f.Mode().String()})
	}

	if f.UncompressedSize64 > uint64(e.maxFileSize) {
		return errors.Wrap(ErrFileTooLarge, "", j.KV("entry", f.Name))
	}

	err = os.MkdirAll(filepath.Dir(target), 0o700)
	if err != nil {
		return errors.Wrap(err, "create directory", j.KV("entry", f.Name))
	}

	src, err := f.Open()
	if err != nil {
		return errors.Wrap(err, "open entry", j.KV("entry", f.Name))
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, "create file", j.KV("entry", f.Name))
	}

	n, err := io.Copy(dst, io.LimitReader(src, e.maxFileSize+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return errors.Wrap(err, "write file", j.KV("entry", f.Name))
	}

	if n > e.maxFileSize {
		return errors.Wrap(ErrFileTooLarge, "", j.KV("entry", f.Name))
	}

	return nil
}

func safeJoin(destDir, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", errors.Wrap(ErrUnsafePath, "", j.KV("entry", name))
	}

	target := filepath.Join(destDir, filepath.FromSlash(name))
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Wrap(ErrUnsafePath, "", j.KV("entry", name))
	}

	return target, nil
}

// empty removes the contents of dir but keeps dir itself.
func empty(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}

	for _, entry := range entries {
		err := os.RemoveAll(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
	}

	return nil
}

// Create writes every regular file under srcDir into a new zip archive at archivePath. Entry names are the
// slash separated paths relative to srcDir.
func Create(archivePath, srcDir string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return errors.Wrap(err, "create archive", j.KV("path", archivePath))
	}

	w := zip.NewWriter(out)
	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}

		f, err := w.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = io.Copy(f, src)
		return err
	})
	if err != nil {
		out.Close()
		return errors.Wrap(err, "write archive", j.KV("src", srcDir))
	}

	err = w.Close()
	if cerr := out.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return errors.Wrap(err, "close archive", j.KV("path", archivePath))
	}

	return nil
}
