package handler

import (
	"context"
	"mime"
	"os"
	"path/filepath"

	"github.com/animus-labs/netsec-pipeline/internal/frame"
	"github.com/animus-labs/netsec-pipeline/internal/storage/objectstore"
)

// ObjectSource reads one CSV object.
type ObjectSource struct {
	store objectstore.Store
	key   string
}

func NewObjectSource(store objectstore.Store, key string) *ObjectSource {
	return &ObjectSource{store: store, key: key}
}

func (s *ObjectSource) LoadFromSource(ctx context.Context) (*frame.Frame, error) {
	target := objectstore.URI(s.store, s.key)
	body, _, err := s.store.Get(ctx, s.key)
	if err != nil {
		return nil, storageErr(OpLoad, target, err)
	}
	defer body.Close()
	f, err := frame.ReadCSV(body)
	if err != nil {
		return nil, storageErr(OpLoad, target, err)
	}
	return f, nil
}

func (s *ObjectSource) Close() error { return nil }

// ObjectSink uploads into one bucket.
type ObjectSink struct {
	store objectstore.Store
}

func NewObjectSink(store objectstore.Store) *ObjectSink {
	return &ObjectSink{store: store}
}

func (s *ObjectSink) UploadFile(ctx context.Context, localPath, remoteKey string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return storageErr(OpUpload, localPath, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return storageErr(OpUpload, localPath, err)
	}
	if err := s.store.Put(ctx, remoteKey, f, st.Size(), contentType(localPath)); err != nil {
		return storageErr(OpUpload, s.URI(remoteKey), err)
	}
	return nil
}

func (s *ObjectSink) SyncDirectory(ctx context.Context, localDir, remotePrefix string) error {
	if err := requireDir(localDir); err != nil {
		return storageErr(OpSync, localDir, err)
	}
	return storageErr(OpSync, localDir, syncDirectory(ctx, localDir, remotePrefix, s.UploadFile))
}

func (s *ObjectSink) URI(remoteKey string) string {
	return objectstore.URI(s.store, remoteKey)
}

func (s *ObjectSink) Close() error { return nil }

func contentType(p string) string {
	switch filepath.Ext(p) {
	case ".yaml", ".yml":
		return "application/yaml"
	case ".log":
		return "text/plain"
	}
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
