//go:build gcp

package main

import (
	"context"

	"github.com/luno/ledgerflow"
	"github.com/luno/ledgerflow/adapters/gcsblob"
)

func (a *app) gcsProvider(ctx context.Context, cfg blobsConfig) (ledgerflow.BlobProvider, error) {
	var opts []gcsblob.Option
	if cfg.GCSKMSKeyName != "" {
		opts = append(opts, gcsblob.WithKMSKeyName(cfg.GCSKMSKeyName))
	}

	p, err := gcsblob.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, p)

	return p, nil
}
