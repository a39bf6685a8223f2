package adaptertest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/luno/ledgerflow"
)

// RunBlobStoreTest runs the conformance suite every BlobProvider implementation must pass. The factory must
// return a provider with no objects in it.
func RunBlobStoreTest(t *testing.T, factory func(t *testing.T) ledgerflow.BlobProvider) {
	tests := []func(t *testing.T, provider ledgerflow.BlobProvider){
		testDownloadNotFound,
		testUploadDownload,
		testUploadEncrypted,
		testBucketsAreIsolated,
	}

	for _, test := range tests {
		test(t, factory(t))
	}
}

func bucket(t *testing.T, provider ledgerflow.BlobProvider, name string) ledgerflow.BlobStore {
	b, err := provider.Bucket(context.Background(), name)
	jtest.RequireNil(t, err)
	return b
}

func writeTemp(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "upload.cta")
	err := os.WriteFile(path, []byte(content), 0o600)
	jtest.RequireNil(t, err)
	return path
}

func testDownloadNotFound(t *testing.T, provider ledgerflow.BlobProvider) {
	t.Run("Download not found", func(t *testing.T) {
		ctx := context.Background()
		b := bucket(t, provider, "ledger")

		ok, err := b.Exists(ctx, "c1.cta")
		jtest.RequireNil(t, err)
		require.False(t, ok)

		err = b.Download(ctx, "c1.cta", filepath.Join(t.TempDir(), "archive.cta"))
		jtest.Require(t, ledgerflow.ErrBlobNotFound, err)
	})
}

func testUploadDownload(t *testing.T, provider ledgerflow.BlobProvider) {
	t.Run("Upload download", func(t *testing.T) {
		ctx := context.Background()
		b := bucket(t, provider, "ledger")

		err := b.Upload(ctx, "templates/c1.cta", writeTemp(t, "archive bytes"), false)
		jtest.RequireNil(t, err)

		ok, err := b.Exists(ctx, "templates/c1.cta")
		jtest.RequireNil(t, err)
		require.True(t, ok)

		dst := filepath.Join(t.TempDir(), "nested", "archive.cta")
		err = b.Download(ctx, "templates/c1.cta", dst)
		jtest.RequireNil(t, err)

		got, err := os.ReadFile(dst)
		jtest.RequireNil(t, err)
		require.Equal(t, "archive bytes", string(got))
	})
}

func testUploadEncrypted(t *testing.T, provider ledgerflow.BlobProvider) {
	t.Run("Upload encrypted", func(t *testing.T) {
		ctx := context.Background()
		b := bucket(t, provider, "ledger")

		err := b.Upload(ctx, "c1.cta", writeTemp(t, "first"), true)
		jtest.RequireNil(t, err)

		err = b.Upload(ctx, "c1.cta", writeTemp(t, "second"), true)
		jtest.RequireNil(t, err)

		dst := filepath.Join(t.TempDir(), "archive.cta")
		err = b.Download(ctx, "c1.cta", dst)
		jtest.RequireNil(t, err)

		got, err := os.ReadFile(dst)
		jtest.RequireNil(t, err)
		require.Equal(t, "second", string(got))
	})
}

func testBucketsAreIsolated(t *testing.T, provider ledgerflow.BlobProvider) {
	t.Run("Buckets are isolated", func(t *testing.T) {
		ctx := context.Background()

		err := bucket(t, provider, "source").Upload(ctx, "c1.cta", writeTemp(t, "source"), false)
		jtest.RequireNil(t, err)

		ok, err := bucket(t, provider, "ledger").Exists(ctx, "c1.cta")
		jtest.RequireNil(t, err)
		require.False(t, ok)
	})
}
