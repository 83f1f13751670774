package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/animus-labs/netsec-pipeline/internal/frame"
)

// IDColumn is the source-internal identifier column added to every frame
// loaded from the document store.
const IDColumn = "_id"

// PostgresSource reads a table of JSONB documents, one record per row:
//
//	CREATE TABLE <table> (id TEXT PRIMARY KEY, doc JSONB NOT NULL)
//
// Document keys become columns; the row id becomes IDColumn.
type PostgresSource struct {
	db    *sql.DB
	table string

	closeOnce sync.Once
	closeErr  error
}

// NewPostgresSource takes ownership of db; Close closes it.
func NewPostgresSource(db *sql.DB, table string) (*PostgresSource, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("table is required")
	}
	return &PostgresSource{db: db, table: table}, nil
}

// documentsQuery quotes each dotted part of table so schema-qualified names
// work and nothing else can be injected.
func documentsQuery(table string) string {
	ident := pgx.Identifier(strings.Split(table, "."))
	return "SELECT id::text, doc FROM " + ident.Sanitize() + " ORDER BY id"
}

func (s *PostgresSource) LoadFromSource(ctx context.Context) (*frame.Frame, error) {
	rows, err := s.db.QueryContext(ctx, documentsQuery(s.table))
	if err != nil {
		return nil, storageErr(OpLoad, s.table, err)
	}
	defer rows.Close()

	var records []map[string]any
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, storageErr(OpLoad, s.table, err)
		}
		rec, err := decodeDocument(id, doc)
		if err != nil {
			return nil, storageErr(OpLoad, s.table, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(OpLoad, s.table, err)
	}
	f, err := frame.FromRecords([]string{IDColumn}, records)
	if err != nil {
		return nil, storageErr(OpLoad, s.table, err)
	}
	return f, nil
}

func decodeDocument(id string, doc []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("document %s is not an object", id)
	}
	rec[IDColumn] = id
	return rec, nil
}

func (s *PostgresSource) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.db.Close() })
	return s.closeErr
}
