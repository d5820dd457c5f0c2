package backend

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/kvbench/kvbench/internal/errors"
)

// Memory is the in-memory reference implementation of Backend. It doubles
// as the test fake for the write strategies and the verification engine.
type Memory struct {
	mu        sync.RWMutex
	keyspaces map[string]map[string]memEntry

	// FailPut, when set, is consulted before every write and lets tests
	// inject per-record write failures. Never set in production use.
	FailPut func(keyspace, id string) error
}

type memEntry struct {
	data  []byte
	index IndexMap
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{keyspaces: make(map[string]map[string]memEntry)}
}

// Put stores data with create-or-update semantics and reindexes.
func (m *Memory) Put(ctx context.Context, keyspace, id string, data []byte, index IndexMap) error {
	if err := ctx.Err(); err != nil {
		return errors.NewBackendError(errors.CodeConnectionFailed, "put aborted", err)
	}
	if m.FailPut != nil {
		if err := m.FailPut(keyspace, id); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(keyspace, id, data, index, false)
	return nil
}

// putLocked writes an entry. With createOnly set, an existing id is left
// completely untouched, value and index entries included.
func (m *Memory) putLocked(keyspace, id string, data []byte, index IndexMap, createOnly bool) {
	ks, ok := m.keyspaces[keyspace]
	if !ok {
		ks = make(map[string]memEntry)
		m.keyspaces[keyspace] = ks
	}

	if _, exists := ks[id]; exists {
		if createOnly {
			return
		}
	}

	ks[id] = memEntry{data: bytes.Clone(data), index: cloneIndex(index)}
}

// Get returns the stored bytes for keyspace/id.
func (m *Memory) Get(ctx context.Context, keyspace, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewBackendError(errors.CodeConnectionFailed, "get aborted", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.keyspaces[keyspace][id]
	if !ok {
		return nil, ErrKeyNotFound.WithDetails(map[string]interface{}{
			"keyspace": keyspace, "id": id,
		})
	}
	return bytes.Clone(entry.data), nil
}

// QueryIndexSet returns all ids whose index map carries field=value.
func (m *Memory) QueryIndexSet(ctx context.Context, keyspace, field, value string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewBackendError(errors.CodeConnectionFailed, "query aborted", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryIndexLocked(keyspace, field, value), nil
}

func (m *Memory) queryIndexLocked(keyspace, field, value string) []string {
	var ids []string
	for id, entry := range m.keyspaces[keyspace] {
		if entry.index[field] == value {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns the number of records in a keyspace.
func (m *Memory) Count(ctx context.Context, keyspace string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.NewBackendError(errors.CodeConnectionFailed, "count aborted", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.keyspaces[keyspace])), nil
}

// Pipeline opens a pipelined connection over this backend.
func (m *Memory) Pipeline() Conn {
	return &memConn{backend: m}
}

// Close is a no-op for the in-memory backend.
func (m *Memory) Close() error { return nil }

// memConn queues commands and executes them in order on Flush. Not safe
// for concurrent use.
type memConn struct {
	backend *Memory
	queue   []pipeCommand
	flushed bool
}

type pipeCommand struct {
	write    bool
	keyspace string
	id       string
	data     []byte
	index    IndexMap
	field    string
	value    string
}

func (c *memConn) PutCreateOnly(keyspace, id string, data []byte, index IndexMap) {
	c.queue = append(c.queue, pipeCommand{
		write: true, keyspace: keyspace, id: id, data: data, index: index,
	})
}

func (c *memConn) QueryIndexSet(keyspace, field, value string) {
	c.queue = append(c.queue, pipeCommand{
		keyspace: keyspace, field: field, value: value,
	})
}

func (c *memConn) Flush(ctx context.Context) ([]Result, error) {
	if c.flushed {
		return nil, errors.NewBackendError(errors.CodeConnectionFailed,
			"pipelined connection already flushed", nil)
	}
	c.flushed = true

	m := c.backend
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]Result, 0, len(c.queue))
	for i, cmd := range c.queue {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewBackendError(errors.CodeConnectionFailed,
				fmt.Sprintf("pipeline aborted at command %d of %d", i+1, len(c.queue)), err)
		}
		if cmd.write {
			if m.FailPut != nil {
				if err := m.FailPut(cmd.keyspace, cmd.id); err != nil {
					return nil, errors.NewBackendError(errors.CodeConnectionFailed,
						fmt.Sprintf("pipeline aborted at command %d of %d", i+1, len(c.queue)), err)
				}
			}
			m.putLocked(cmd.keyspace, cmd.id, cmd.data, cmd.index, true)
			results = append(results, Result{})
			continue
		}
		results = append(results, Result{Members: m.queryIndexLocked(cmd.keyspace, cmd.field, cmd.value)})
	}
	return results, nil
}

func cloneIndex(index IndexMap) IndexMap {
	if index == nil {
		return nil
	}
	cp := make(IndexMap, len(index))
	for k, v := range index {
		cp[k] = v
	}
	return cp
}
