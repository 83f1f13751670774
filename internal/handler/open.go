package handler

import (
	"context"
	"fmt"

	"github.com/animus-labs/netsec-pipeline/internal/platform/objectstore"
	"github.com/animus-labs/netsec-pipeline/internal/platform/postgres"
	"github.com/animus-labs/netsec-pipeline/internal/runctx"
	storage "github.com/animus-labs/netsec-pipeline/internal/storage/objectstore"
)

// Env carries the deployment settings the remote variants connect with.
type Env struct {
	Postgres    postgres.Config
	ObjectStore objectstore.Config
}

// NewSourceOpener selects the source variant named by cfg.Kind.
func NewSourceOpener(cfg runctx.SourceConfig, env Env) (SourceOpener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case runctx.SourcePostgres:
		return func(ctx context.Context) (Source, error) {
			db, err := postgres.Open(ctx, env.Postgres)
			if err != nil {
				return nil, err
			}
			src, err := NewPostgresSource(db, cfg.Table)
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			return src, nil
		}, nil
	case runctx.SourceObject:
		return func(ctx context.Context) (Source, error) {
			store, err := openStore(ctx, env.ObjectStore, cfg.Bucket, false)
			if err != nil {
				return nil, err
			}
			return NewObjectSource(store, cfg.Key), nil
		}, nil
	case runctx.SourceFile:
		return func(context.Context) (Source, error) {
			return NewFileSource(cfg.Path), nil
		}, nil
	}
	return nil, fmt.Errorf("unsupported source kind %q", cfg.Kind)
}

// NewSinkOpener selects the sink variant named by cfg.Kind. The object
// variant creates its bucket on first use.
func NewSinkOpener(cfg runctx.SinkConfig, env Env) (SinkOpener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case runctx.SinkObject:
		return func(ctx context.Context) (Sink, error) {
			store, err := openStore(ctx, env.ObjectStore, cfg.Bucket, true)
			if err != nil {
				return nil, err
			}
			return NewObjectSink(store), nil
		}, nil
	case runctx.SinkFile:
		return func(context.Context) (Sink, error) {
			return NewFileSink(cfg.Dir)
		}, nil
	}
	return nil, fmt.Errorf("unsupported sink kind %q", cfg.Kind)
}

func openStore(ctx context.Context, cfg objectstore.Config, bucket string, create bool) (*storage.MinioStore, error) {
	client, err := objectstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	if create {
		err = objectstore.EnsureBucket(ctx, client, bucket, cfg.Region)
	} else {
		err = objectstore.CheckBucket(ctx, client, bucket)
	}
	if err != nil {
		return nil, err
	}
	return storage.NewMinioStoreWithClient(client, bucket)
}
