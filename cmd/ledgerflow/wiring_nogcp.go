//go:build !gcp

package main

import (
	"context"

	"github.com/luno/jettison/errors"

	"github.com/luno/ledgerflow"
)

func (a *app) gcsProvider(ctx context.Context, cfg blobsConfig) (ledgerflow.BlobProvider, error) {
	return nil, errors.New("gcs blobs require a build with the gcp tag")
}
