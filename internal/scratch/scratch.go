package scratch

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// Prefix is the name prefix of every scratch directory.
const Prefix = "ledgerflow-"

// Dir is the scratch space of a single invocation. Nothing in it outlives the invocation.
type Dir struct {
	Root     string
	Archive  string
	Contract string
}

// New creates a fresh scratch directory under root that no other invocation shares.
func New(root string) (*Dir, error) {
	dir := filepath.Join(root, Prefix+uuid.NewString())
	d := &Dir{
		Root:     dir,
		Archive:  filepath.Join(dir, "archive.cta"),
		Contract: filepath.Join(dir, "contract"),
	}

	err := os.MkdirAll(d.Contract, 0o700)
	if err != nil {
		return nil, errors.Wrap(err, "create scratch dir", j.KV("dir", dir))
	}

	return d, nil
}

// Remove deletes the scratch directory and everything in it. It is safe to call more than once.
func (d *Dir) Remove() error {
	err := os.RemoveAll(d.Root)
	if err != nil {
		return errors.Wrap(err, "remove scratch dir", j.KV("dir", d.Root))
	}

	return nil
}

// Leftovers lists the scratch directories that still exist under root.
func Leftovers(root string) ([]string, error) {
	return filepath.Glob(filepath.Join(root, Prefix+"*"))
}
