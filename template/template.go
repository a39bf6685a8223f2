// Package template loads contract templates from a directory.
//
// A template directory holds a package.json with the template name and semantic version, the contract logic
// files read by the engine and optionally a schema.json holding the JSON Schema of the contract data.
package template

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/gowebpki/jcs"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/luno/ledgerflow"
)

const (
	MetadataFile = "package.json"
	SchemaFile   = "schema.json"
)

var (
	ErrMissingMetadata    = errors.New("template metadata missing", j.C("ERR_1a5e9c3f7b2d0846"))
	ErrInvalidMetadata    = errors.New("template metadata invalid", j.C("ERR_c7f3b1d9e5a20486"))
	ErrEngineIncompatible = errors.New("template requires a different engine version", j.C("ERR_5b9d3f1a7e0c2648"))
	ErrDataInvalid        = errors.New("contract data does not match template schema", j.C("ERR_e2a6c0f8d4b19375"))
)

// Metadata is the content of package.json.
type Metadata struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`

	// Engine is an optional semantic version constraint on the engine that can run the template.
	Engine string `json:"engine,omitempty"`
}

type Template struct {
	dir      string
	metadata Metadata
	version  *semver.Version
	hash     string
	schema   *jsonschema.Schema
}

var (
	_ ledgerflow.Template      = (*Template)(nil)
	_ ledgerflow.DataValidator = (*Template)(nil)
)

// Identifier is the name and version of the template, for example "loan@1.2.0".
func (t *Template) Identifier() string {
	return t.metadata.Name + "@" + t.version.String()
}

// Hash is the content hash of every file in the template directory.
func (t *Template) Hash() string {
	return t.hash
}

func (t *Template) Dir() string {
	return t.dir
}

func (t *Template) Metadata() Metadata {
	return t.metadata
}

func (t *Template) Version() *semver.Version {
	return t.version
}

// ValidateData checks the contract data against the schema of the template. Templates without a schema accept
// any data.
func (t *Template) ValidateData(data []byte) error {
	if t.schema == nil {
		return nil
	}

	var v any
	err := ledgerflow.Unmarshal(data, &v)
	if err != nil {
		return errors.Wrap(ErrDataInvalid, "", j.KV("cause", err.Error()))
	}

	err = t.schema.Validate(v)
	if err != nil {
		return errors.Wrap(ErrDataInvalid, "", j.KV("cause", err.Error()))
	}

	return nil
}

type Loader struct {
	engineVersion *semver.Version
}

type Option func(l *Loader)

// WithEngineVersion makes the loader reject templates whose engine constraint excludes the version.
func WithEngineVersion(v string) Option {
	return func(l *Loader) {
		l.engineVersion = semver.MustParse(v)
	}
}

func NewLoader(opts ...Option) *Loader {
	var l Loader
	for _, opt := range opts {
		opt(&l)
	}

	return &l
}

var _ ledgerflow.TemplateLoader = (*Loader)(nil)

func (l *Loader) Load(ctx context.Context, dir string) (ledgerflow.Template, error) {
	return l.LoadTemplate(ctx, dir)
}

// LoadTemplate is Load returning the concrete template.
func (l *Loader) LoadTemplate(ctx context.Context, dir string) (*Template, error) {
	b, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(ErrMissingMetadata, "", j.KV("dir", dir))
	} else if err != nil {
		return nil, errors.Wrap(err, "read template metadata", j.KV("dir", dir))
	}

	var md Metadata
	err = json.Unmarshal(b, &md)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidMetadata, "", j.KV("cause", err.Error()))
	}

	if md.Name == "" {
		return nil, errors.Wrap(ErrInvalidMetadata, "name is required")
	}

	version, err := semver.StrictNewVersion(md.Version)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidMetadata, "version is not a semantic version", j.KV("version", md.Version))
	}

	if md.Engine != "" {
		constraint, err := semver.NewConstraint(md.Engine)
		if err != nil {
			return nil, errors.Wrap(ErrInvalidMetadata, "engine is not a version constraint", j.KV("engine", md.Engine))
		}

		if l.engineVersion != nil && !constraint.Check(l.engineVersion) {
			return nil, errors.Wrap(ErrEngineIncompatible, "", j.MKV{
				"engine":  md.Engine,
				"version": l.engineVersion.String(),
			})
		}
	}

	schema, err := compileSchema(dir, md.Name)
	if err != nil {
		return nil, err
	}

	hash, err := HashDir(ctx, dir)
	if err != nil {
		return nil, err
	}

	return &Template{
		dir:      dir,
		metadata: md,
		version:  version,
		hash:     hash,
		schema:   schema,
	}, nil
}

func compileSchema(dir, name string) (*jsonschema.Schema, error) {
	b, err := os.ReadFile(filepath.Join(dir, SchemaFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "read template schema", j.KV("dir", dir))
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := "https://ledgerflow.schemas.local/templates/" + name + "/" + SchemaFile
	err = c.AddResource(url, bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidMetadata, "schema load failed", j.KV("cause", err.Error()))
	}

	schema, err := c.Compile(url)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidMetadata, "schema compile failed", j.KV("cause", err.Error()))
	}

	return schema, nil
}

// HashDir hashes every regular file under dir. The hash is the SHA-256 of the canonical JSON object mapping
// each slash separated relative path to the SHA-256 of the file, so it changes with any byte of any file and
// with any file being added, removed or renamed.
func HashDir(ctx context.Context, dir string) (string, error) {
	digests := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		sum := sha256.Sum256(b)
		digests[filepath.ToSlash(rel)] = hex.EncodeToString(sum[:])
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "hash template", j.KV("dir", dir))
	}

	if len(digests) == 0 {
		return "", errors.Wrap(ErrMissingMetadata, "template is empty", j.KV("dir", dir))
	}

	b, err := json.Marshal(digests)
	if err != nil {
		return "", errors.Wrap(err, "marshal template digests")
	}

	canonical, err := jcs.Transform(b)
	if err != nil {
		return "", errors.Wrap(err, "canonicalise template digests", j.KV("files", len(digests)))
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
