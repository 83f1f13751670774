// Package handler puts upstream data sources and remote artifact storage
// behind two small capability interfaces. Variants are chosen from
// configuration when the trainer starts.
package handler

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/animus-labs/netsec-pipeline/internal/frame"
)

type Source interface {
	// LoadFromSource fetches the full dataset.
	LoadFromSource(ctx context.Context) (*frame.Frame, error)
	Close() error
}

type Sink interface {
	UploadFile(ctx context.Context, localPath, remoteKey string) error
	// SyncDirectory uploads every regular file under localDir to
	// remotePrefix/<relative path>. Re-running overwrites the same keys.
	SyncDirectory(ctx context.Context, localDir, remotePrefix string) error
	// URI renders where remoteKey lives.
	URI(remoteKey string) string
	Close() error
}

// Openers acquire a handle. The handle belongs to the caller until Close.
type (
	SourceOpener func(ctx context.Context) (Source, error)
	SinkOpener   func(ctx context.Context) (Sink, error)
)

// UseSource opens a source, runs fn and always closes the source. A close
// failure is reported only when fn succeeded.
func UseSource(ctx context.Context, open SourceOpener, fn func(Source) error) (err error) {
	src, err := open(ctx)
	if err != nil {
		return storageErr(OpLoad, "open", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(src)
}

func UseSink(ctx context.Context, open SinkOpener, fn func(Sink) error) (err error) {
	sink, err := open(ctx)
	if err != nil {
		return storageErr(OpUpload, "open", err)
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(sink)
}

// RemoteKey joins prefix and a slash-separated relative path.
func RemoteKey(prefix, rel string) string {
	prefix = strings.Trim(prefix, "/")
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "/")
	if prefix == "" {
		return rel
	}
	return path.Join(prefix, rel)
}

// syncDirectory walks localDir in lexical order and hands each regular file
// to upload with its remote key.
func syncDirectory(ctx context.Context, localDir, remotePrefix string, upload func(ctx context.Context, localPath, key string) error) error {
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		return upload(ctx, p, RemoteKey(remotePrefix, rel))
	})
}

func requireDir(dir string) error {
	st, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return errors.New(dir + " is not a directory")
	}
	return nil
}
