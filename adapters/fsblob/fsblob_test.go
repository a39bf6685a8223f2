package fsblob_test

import (
	"context"
	"testing"

	"github.com/luno/jettison/jtest"

	"github.com/luno/ledgerflow"
	"github.com/luno/ledgerflow/adapters/adaptertest"
	"github.com/luno/ledgerflow/adapters/fsblob"
)

func TestProvider(t *testing.T) {
	adaptertest.RunBlobStoreTest(t, func(t *testing.T) ledgerflow.BlobProvider {
		return fsblob.New(t.TempDir())
	})
}

func TestInvalidKeys(t *testing.T) {
	ctx := context.Background()
	p := fsblob.New(t.TempDir())

	_, err := p.Bucket(ctx, "../escape")
	jtest.Require(t, fsblob.ErrInvalidKey, err)

	b, err := p.Bucket(ctx, "ledger")
	jtest.RequireNil(t, err)

	for _, key := range []string{"", "/etc/passwd", "../c1.cta", "a/../../c1.cta"} {
		_, err := b.Exists(ctx, key)
		jtest.Require(t, fsblob.ErrInvalidKey, err)
	}
}
