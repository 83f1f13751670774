package handler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/animus-labs/netsec-pipeline/internal/storage/objectstore"
)

type Kind string

const (
	// KindNotFound: the local file or remote object does not exist.
	KindNotFound Kind = "not_found"
	// KindRejected: the remote system received the request and refused it.
	KindRejected   Kind = "rejected"
	KindUnexpected Kind = "unexpected"
)

const (
	OpLoad   = "load_from_source"
	OpUpload = "upload_file"
	OpSync   = "sync_directory"
)

// StorageError is returned by every Source and Sink operation. Op tells a
// source failure from a sink failure.
type StorageError struct {
	Kind   Kind
	Op     string
	Target string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Target, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsKind reports whether err carries a StorageError of kind k.
func IsKind(err error, k Kind) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Kind == k
}

func storageErr(op, target string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		if se.Op == op {
			return err
		}
		return &StorageError{Kind: se.Kind, Op: op, Target: target, Err: err}
	}
	return &StorageError{Kind: classify(err), Op: op, Target: target, Err: err}
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindUnexpected
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, objectstore.ErrNotFound):
		return KindNotFound
	case objectstore.IsRemoteRejection(err):
		return KindRejected
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UndefinedTable, pgerrcode.InvalidSchemaName, pgerrcode.InvalidCatalogName:
			return KindNotFound
		}
		return KindRejected
	}
	return KindUnexpected
}
