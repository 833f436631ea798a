// Package memory provides an in-memory docstore.Store. It is safe for
// concurrent use and transactional, which makes it the backing store for
// service tests and single-instance local development. For deployments,
// use the Firestore implementation.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/finfolio-app/finfolio/internal/docstore"
)

// Store is a mutex-guarded map of collections.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]interface{}
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		collections: make(map[string]map[string]map[string]interface{}),
	}
}

// Get implements docstore.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", docstore.ErrTransient, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return &docstore.Document{ID: id, Data: cloneDoc(data)}, nil
}

// Query implements docstore.Store.
func (s *Store) Query(ctx context.Context, collection string, filters []docstore.Filter, limit int) ([]*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", docstore.ErrTransient, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryLocked(s.collections, collection, filters, limit), nil
}

// BatchWrite implements docstore.Store.
func (s *Store) BatchWrite(ctx context.Context, writes []docstore.Write) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", docstore.ErrTransient, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range writes {
		switch w.Op {
		case docstore.OpSet:
			s.ensureCollection(w.Collection)[w.ID] = cloneDoc(w.Data)
		case docstore.OpDelete:
			delete(s.collections[w.Collection], w.ID)
		default:
			return fmt.Errorf("memory: unknown write op %q", w.Op)
		}
	}
	return nil
}

// RunTransaction implements docstore.Store. The store lock is held for the
// whole callback, so transactions are serializable; staged writes are
// validated and applied only if fn returns nil.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx docstore.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", docstore.ErrTransient, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}

	// Validate creates before applying anything: all-or-nothing.
	for _, op := range tx.staged {
		if op.create {
			if _, exists := s.collections[op.collection][op.id]; exists {
				return fmt.Errorf("%s/%s: %w", op.collection, op.id, docstore.ErrExists)
			}
		}
	}
	for _, op := range tx.staged {
		if op.data == nil {
			delete(s.collections[op.collection], op.id)
			continue
		}
		s.ensureCollection(op.collection)[op.id] = op.data
	}
	return nil
}

func (s *Store) ensureCollection(name string) map[string]map[string]interface{} {
	if s.collections[name] == nil {
		s.collections[name] = make(map[string]map[string]interface{})
	}
	return s.collections[name]
}

type stagedOp struct {
	collection string
	id         string
	data       map[string]interface{} // nil means delete
	create     bool
}

// memTx stages writes against the locked store. Reads observe committed
// state, matching Firestore transaction semantics.
type memTx struct {
	store  *Store
	staged []stagedOp
}

func (t *memTx) Get(collection, id string) (*docstore.Document, error) {
	data, ok := t.store.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return &docstore.Document{ID: id, Data: cloneDoc(data)}, nil
}

func (t *memTx) Query(collection string, filters []docstore.Filter, limit int) ([]*docstore.Document, error) {
	return queryLocked(t.store.collections, collection, filters, limit), nil
}

func (t *memTx) Create(collection, id string, data map[string]interface{}) error {
	if _, exists := t.store.collections[collection][id]; exists {
		return fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrExists)
	}
	t.staged = append(t.staged, stagedOp{collection: collection, id: id, data: cloneDoc(data), create: true})
	return nil
}

func (t *memTx) Set(collection, id string, data map[string]interface{}) error {
	t.staged = append(t.staged, stagedOp{collection: collection, id: id, data: cloneDoc(data)})
	return nil
}

func (t *memTx) Update(collection, id string, fields map[string]interface{}) error {
	existing, ok := t.store.collections[collection][id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}

	// Merge over committed state plus any earlier staged write to this doc.
	merged := cloneDoc(existing)
	for _, op := range t.staged {
		if op.collection == collection && op.id == id && op.data != nil {
			merged = cloneDoc(op.data)
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	t.staged = append(t.staged, stagedOp{collection: collection, id: id, data: merged})
	return nil
}

func (t *memTx) Delete(collection, id string) error {
	t.staged = append(t.staged, stagedOp{collection: collection, id: id})
	return nil
}

func queryLocked(collections map[string]map[string]map[string]interface{}, collection string, filters []docstore.Filter, limit int) []*docstore.Document {
	var out []*docstore.Document
	for id, data := range collections[collection] {
		if !matches(data, filters) {
			continue
		}
		out = append(out, &docstore.Document{ID: id, Data: cloneDoc(data)})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func matches(data map[string]interface{}, filters []docstore.Filter) bool {
	for _, f := range filters {
		v, ok := data[f.Field]
		if !ok || !reflect.DeepEqual(v, f.Value) {
			return false
		}
	}
	return true
}

// cloneDoc deep-copies a document so callers can never alias stored state.
func cloneDoc(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cloneDoc(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
