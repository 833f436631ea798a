// Package docstore defines the document-store collaborator consumed by the
// dedup, team and ingestion services: keyed documents in named collections
// with equality-filter queries, batched writes, and an atomic transaction
// primitive. It is implementable atop any transactional document or key-value
// store; this repo ships an in-memory implementation (tests, local dev) and a
// Firestore-backed one.
package docstore

import (
	"context"
	"errors"
)

// Sentinel errors shared by all implementations. Implementations wrap these
// so callers can classify with errors.Is.
var (
	// ErrNotFound is returned by Get and transactional Get for unknown IDs.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrExists is returned when Create targets an existing document.
	ErrExists = errors.New("docstore: document already exists")
	// ErrTransient marks timeouts and contention. The enclosing operation is
	// safe to retry wholesale: a failed transaction commits nothing.
	ErrTransient = errors.New("docstore: transient store failure")
)

// Document is a stored record: an ID unique within its collection plus its
// field data.
type Document struct {
	ID   string
	Data map[string]interface{}
}

// Filter is an equality condition on a document field.
type Filter struct {
	Field string
	Value interface{}
}

// WriteOp discriminates Write entries.
type WriteOp string

const (
	// OpSet creates or fully replaces a document.
	OpSet WriteOp = "set"
	// OpDelete removes a document. Deleting a missing document is a no-op.
	OpDelete WriteOp = "delete"
)

// Write is one entry of a BatchWrite.
type Write struct {
	Op         WriteOp
	Collection string
	ID         string
	Data       map[string]interface{} // nil for OpDelete
}

// Tx is the view of the store inside RunTransaction. Reads observe committed
// state; writes are staged and commit atomically when the callback returns
// nil, or not at all.
type Tx interface {
	// Get reads a document, ErrNotFound if absent.
	Get(collection, id string) (*Document, error)
	// Query runs an equality-filter query. limit <= 0 means no limit.
	Query(collection string, filters []Filter, limit int) ([]*Document, error)
	// Create stages a document creation; the transaction fails with ErrExists
	// if the document already exists at commit.
	Create(collection, id string, data map[string]interface{}) error
	// Set stages a create-or-replace.
	Set(collection, id string, data map[string]interface{}) error
	// Update stages a merge of the given fields into an existing document;
	// ErrNotFound if the document is absent.
	Update(collection, id string, fields map[string]interface{}) error
	// Delete stages a document removal.
	Delete(collection, id string) error
}

// Store is the document-store collaborator.
type Store interface {
	// Get reads one document by ID, ErrNotFound if absent.
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Query returns documents matching every filter (equality only).
	// limit <= 0 means no limit. Result order is unspecified.
	Query(ctx context.Context, collection string, filters []Filter, limit int) ([]*Document, error)
	// BatchWrite applies the writes. Not transactional across entries, but
	// each entry is durable once the call returns nil.
	BatchWrite(ctx context.Context, writes []Write) error
	// RunTransaction executes fn atomically: every staged write commits, or
	// none do. Used for the conditional invite-use increment and the
	// single-active-membership guarantee.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
}
