// Package backend abstracts the key-value store behind a small capability
// interface: keyed create-or-update, secondary-index set queries, and a
// single-connection pipelining primitive. Implementations include an
// in-memory store, SQLite, and S3.
package backend

import (
	"context"

	"github.com/kvbench/kvbench/internal/errors"
)

// ErrKeyNotFound is returned by Get for missing keys. Match with errors.Is.
var ErrKeyNotFound = errors.New(errors.ErrCategoryBackend, errors.CodeKeyNotFound, "key not found")

// IndexMap associates secondary-index field names with their values for a
// record, e.g. {"tid": "<transaction id>"}. The backend maintains, per
// keyspace, a set of record ids for every (field, value) pair.
type IndexMap map[string]string

// Result is the outcome of one pipelined command, returned by Flush in
// issuance order. Members is populated for index queries and nil for writes.
type Result struct {
	Members []string
}

// Backend is the capability interface over the KV store.
//
// Put, Get, QueryIndexSet and Count are safe for concurrent use: every call
// acquires its own connection. Pipelined connections are not.
type Backend interface {
	// Put stores data under keyspace/id with create-or-update semantics.
	// Stale secondary-index entries from a previous version of the record
	// are removed before the new index entries are written.
	Put(ctx context.Context, keyspace, id string, data []byte, index IndexMap) error

	// Get returns the stored bytes for keyspace/id, or ErrKeyNotFound.
	Get(ctx context.Context, keyspace, id string) ([]byte, error)

	// QueryIndexSet returns the set of record ids indexed under the given
	// (field, value) pair within a keyspace. Order is unspecified.
	QueryIndexSet(ctx context.Context, keyspace, field, value string) ([]string, error)

	// Count returns the number of records stored in a keyspace.
	Count(ctx context.Context, keyspace string) (int64, error)

	// Pipeline opens a pipelined connection. The returned Conn must be
	// used from a single goroutine.
	Pipeline() Conn

	// Close releases backend resources.
	Close() error
}

// Conn is a single pipelined connection. Commands are queued without
// waiting for replies and executed by Flush in issuance order.
//
// A Conn must never be shared across goroutines: the ordering guarantee of
// the pipeline depends on strictly sequential issuance.
type Conn interface {
	// PutCreateOnly queues a create-only write: it inserts a new key but
	// leaves an existing key's stored value untouched. It bypasses the
	// read-modify-write path, so it cannot apply updates or reindex.
	PutCreateOnly(keyspace, id string, data []byte, index IndexMap)

	// QueryIndexSet queues a secondary-index set-membership query.
	QueryIndexSet(keyspace, field, value string)

	// Flush executes all queued commands and returns one Result per
	// command in issuance order. The first failing command aborts the
	// remaining queued commands; the whole pipeline fails as a unit with
	// a single aggregate error and no partial results.
	Flush(ctx context.Context) ([]Result, error)
}
