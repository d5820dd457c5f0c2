package backend

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kvbench/kvbench/internal/errors"
)

// SQLite implements Backend on a local SQLite database. Records live in
// the kv table, secondary-index entries in kv_index. Each Put runs in its
// own transaction; pipeline flushes run as one transaction, so a failed
// pipeline leaves no partial writes behind.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	keyspace TEXT NOT NULL,
	id       TEXT NOT NULL,
	data     BLOB NOT NULL,
	PRIMARY KEY (keyspace, id)
);
CREATE TABLE IF NOT EXISTS kv_index (
	keyspace TEXT NOT NULL,
	field    TEXT NOT NULL,
	value    TEXT NOT NULL,
	id       TEXT NOT NULL,
	PRIMARY KEY (keyspace, field, value, id)
);
CREATE INDEX IF NOT EXISTS idx_kv_index_by_id ON kv_index (keyspace, id);
`

// NewSQLite opens (and if needed initializes) a SQLite-backed store at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewBackendError(errors.CodeConnectionFailed, "failed to open sqlite database", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.NewBackendError(errors.CodeConnectionFailed, "failed to initialize sqlite schema", err)
	}

	return &SQLite{db: db}, nil
}

// Put stores data with create-or-update semantics and reindexes.
func (s *SQLite) Put(ctx context.Context, keyspace, id string, data []byte, index IndexMap) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewBackendError(errors.CodeConnectionFailed, "failed to begin transaction", err)
	}
	if err := putInTx(ctx, tx, keyspace, id, data, index, false); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.NewBackendError(errors.CodeWriteRejected, "commit failed", err)
	}
	return nil
}

// putInTx performs one write inside tx. Create-or-update removes stale
// index entries first; create-only inserts nothing when the id exists.
func putInTx(ctx context.Context, tx *sql.Tx, keyspace, id string, data []byte, index IndexMap, createOnly bool) error {
	if createOnly {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO kv (keyspace, id, data) VALUES (?, ?, ?)`,
			keyspace, id, data)
		if err != nil {
			return errors.NewBackendError(errors.CodeWriteRejected, "create-only insert failed", err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return errors.NewBackendError(errors.CodeWriteRejected, "create-only insert failed", err)
		}
		if inserted == 0 {
			// Key already present: create-only leaves it untouched.
			return nil
		}
		return insertIndex(ctx, tx, keyspace, id, index)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kv_index WHERE keyspace = ? AND id = ?`, keyspace, id); err != nil {
		return errors.NewBackendError(errors.CodeWriteRejected, "reindex delete failed", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv (keyspace, id, data) VALUES (?, ?, ?)`,
		keyspace, id, data); err != nil {
		return errors.NewBackendError(errors.CodeWriteRejected, "upsert failed", err)
	}
	return insertIndex(ctx, tx, keyspace, id, index)
}

func insertIndex(ctx context.Context, tx *sql.Tx, keyspace, id string, index IndexMap) error {
	for field, value := range index {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO kv_index (keyspace, field, value, id) VALUES (?, ?, ?, ?)`,
			keyspace, field, value, id); err != nil {
			return errors.NewBackendError(errors.CodeWriteRejected, "index insert failed", err)
		}
	}
	return nil
}

// Get returns the stored bytes for keyspace/id.
func (s *SQLite) Get(ctx context.Context, keyspace, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM kv WHERE keyspace = ? AND id = ?`, keyspace, id).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound.WithDetails(map[string]interface{}{
			"keyspace": keyspace, "id": id,
		})
	}
	if err != nil {
		return nil, errors.NewBackendError(errors.CodeConnectionFailed, "get failed", err)
	}
	return data, nil
}

// QueryIndexSet returns the ids indexed under (field, value) in a keyspace.
func (s *SQLite) QueryIndexSet(ctx context.Context, keyspace, field, value string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM kv_index WHERE keyspace = ? AND field = ? AND value = ?`,
		keyspace, field, value)
	if err != nil {
		return nil, errors.NewBackendError(errors.CodeConnectionFailed, "index query failed", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewBackendError(errors.CodeConnectionFailed, "index scan failed", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewBackendError(errors.CodeConnectionFailed, "index iteration failed", err)
	}
	return ids, nil
}

// Count returns the number of records in a keyspace.
func (s *SQLite) Count(ctx context.Context, keyspace string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kv WHERE keyspace = ?`, keyspace).Scan(&n); err != nil {
		return 0, errors.NewBackendError(errors.CodeConnectionFailed, "count failed", err)
	}
	return n, nil
}

// Pipeline opens a pipelined connection over this backend.
func (s *SQLite) Pipeline() Conn {
	return &sqliteConn{backend: s}
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// sqliteConn queues commands and executes them in issuance order inside a
// single transaction on Flush. Not safe for concurrent use.
type sqliteConn struct {
	backend *SQLite
	queue   []pipeCommand
	flushed bool
}

func (c *sqliteConn) PutCreateOnly(keyspace, id string, data []byte, index IndexMap) {
	c.queue = append(c.queue, pipeCommand{
		write: true, keyspace: keyspace, id: id, data: data, index: index,
	})
}

func (c *sqliteConn) QueryIndexSet(keyspace, field, value string) {
	c.queue = append(c.queue, pipeCommand{
		keyspace: keyspace, field: field, value: value,
	})
}

func (c *sqliteConn) Flush(ctx context.Context) ([]Result, error) {
	if c.flushed {
		return nil, errors.NewBackendError(errors.CodeConnectionFailed,
			"pipelined connection already flushed", nil)
	}
	c.flushed = true

	tx, err := c.backend.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewBackendError(errors.CodeConnectionFailed, "failed to begin pipeline transaction", err)
	}

	results := make([]Result, 0, len(c.queue))
	for i, cmd := range c.queue {
		if cmd.write {
			if err := putInTx(ctx, tx, cmd.keyspace, cmd.id, cmd.data, cmd.index, true); err != nil {
				tx.Rollback()
				return nil, errors.NewBackendError(errors.CodeConnectionFailed,
					fmt.Sprintf("pipeline aborted at command %d of %d", i+1, len(c.queue)), err)
			}
			results = append(results, Result{})
			continue
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM kv_index WHERE keyspace = ? AND field = ? AND value = ?`,
			cmd.keyspace, cmd.field, cmd.value)
		if err != nil {
			tx.Rollback()
			return nil, errors.NewBackendError(errors.CodeConnectionFailed,
				fmt.Sprintf("pipeline aborted at command %d of %d", i+1, len(c.queue)), err)
		}
		ids, err := scanIDs(rows)
		rows.Close()
		if err != nil {
			tx.Rollback()
			return nil, errors.NewBackendError(errors.CodeConnectionFailed,
				fmt.Sprintf("pipeline aborted at command %d of %d", i+1, len(c.queue)), err)
		}
		results = append(results, Result{Members: ids})
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewBackendError(errors.CodeConnectionFailed, "pipeline commit failed", err)
	}
	return results, nil
}
