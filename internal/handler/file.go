package handler

import (
	"context"
	"os"
	"path/filepath"

	"github.com/animus-labs/netsec-pipeline/internal/atomicfile"
	"github.com/animus-labs/netsec-pipeline/internal/frame"
)

// FileSource reads a local CSV file.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource { return &FileSource{path: path} }

func (s *FileSource) LoadFromSource(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr(OpLoad, s.path, err)
	}
	f, err := frame.ReadCSVFile(s.path)
	if err != nil {
		return nil, storageErr(OpLoad, s.path, err)
	}
	return f, nil
}

func (s *FileSource) Close() error { return nil }

// FileSink mirrors uploads into a local directory tree. It stands in for
// object storage on a workstation or a shared volume.
type FileSink struct {
	root string
}

func NewFileSink(root string) (*FileSink, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileSink{root: root}, nil
}

func (s *FileSink) target(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *FileSink) UploadFile(ctx context.Context, localPath, remoteKey string) error {
	if err := ctx.Err(); err != nil {
		return storageErr(OpUpload, localPath, err)
	}
	dst := s.target(remoteKey)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return storageErr(OpUpload, dst, err)
	}
	return storageErr(OpUpload, localPath, atomicfile.Copy(localPath, dst))
}

func (s *FileSink) SyncDirectory(ctx context.Context, localDir, remotePrefix string) error {
	if err := requireDir(localDir); err != nil {
		return storageErr(OpSync, localDir, err)
	}
	return storageErr(OpSync, localDir, syncDirectory(ctx, localDir, remotePrefix, s.UploadFile))
}

func (s *FileSink) URI(remoteKey string) string {
	return "file://" + filepath.ToSlash(s.target(remoteKey))
}

func (s *FileSink) Close() error { return nil }
