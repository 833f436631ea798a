// Package firestoredb implements docstore.Store on Cloud Firestore. It holds
// a shared client to avoid creating a new connection for each operation.
//
// Collection layout is flat: batches, transactions, teams, team_memberships
// and team_invites are all top-level collections keyed by document ID, with
// equality filters on indexed fields.
package firestoredb

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/finfolio-app/finfolio/internal/docstore"
)

// Store is the Firestore-backed docstore.Store.
type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore store for the given project. Application
// Default Credentials are assumed, as with the rest of the GCP stack.
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestoredb: creating client: %w", err)
	}
	return &Store{client: client}, nil
}

// Close releases the underlying client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Get implements docstore.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapError(err, "get %s/%s", collection, id)
	}
	return &docstore.Document{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

// Query implements docstore.Store.
func (s *Store) Query(ctx context.Context, collection string, filters []docstore.Filter, limit int) ([]*docstore.Document, error) {
	q := s.buildQuery(collection, filters, limit)
	return drain(q.Documents(ctx), collection)
}

// BatchWrite implements docstore.Store using a BulkWriter. Entries are not
// atomic as a group (per the docstore contract); every job is awaited so
// failures surface to the caller.
func (s *Store) BatchWrite(ctx context.Context, writes []docstore.Write) error {
	bw := s.client.BulkWriter(ctx)

	jobs := make([]*firestore.BulkWriterJob, 0, len(writes))
	for _, w := range writes {
		ref := s.client.Collection(w.Collection).Doc(w.ID)
		var (
			job *firestore.BulkWriterJob
			err error
		)
		switch w.Op {
		case docstore.OpSet:
			job, err = bw.Set(ref, w.Data)
		case docstore.OpDelete:
			job, err = bw.Delete(ref)
		default:
			bw.End()
			return fmt.Errorf("firestoredb: unknown write op %q", w.Op)
		}
		if err != nil {
			bw.End()
			return mapError(err, "batch write %s/%s", w.Collection, w.ID)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return mapError(err, "batch write %s/%s", writes[i].Collection, writes[i].ID)
		}
	}
	return nil
}

// RunTransaction implements docstore.Store on native Firestore transactions.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx docstore.Tx) error) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, t *firestore.Transaction) error {
		return fn(&fsTx{store: s, tx: t})
	})
	if err != nil {
		// Preserve docstore sentinels raised inside the callback; map the
		// rest (contention, deadline) at the boundary.
		return mapError(err, "transaction")
	}
	return nil
}

func (s *Store) buildQuery(collection string, filters []docstore.Filter, limit int) firestore.Query {
	q := s.client.Collection(collection).Query
	for _, f := range filters {
		q = q.Where(f.Field, "==", f.Value)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}

// fsTx adapts *firestore.Transaction to docstore.Tx.
type fsTx struct {
	store *Store
	tx    *firestore.Transaction
}

func (t *fsTx) Get(collection, id string) (*docstore.Document, error) {
	snap, err := t.tx.Get(t.store.client.Collection(collection).Doc(id))
	if err != nil {
		return nil, mapError(err, "tx get %s/%s", collection, id)
	}
	return &docstore.Document{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (t *fsTx) Query(collection string, filters []docstore.Filter, limit int) ([]*docstore.Document, error) {
	q := t.store.buildQuery(collection, filters, limit)
	return drain(t.tx.Documents(q), collection)
}

func (t *fsTx) Create(collection, id string, data map[string]interface{}) error {
	if err := t.tx.Create(t.store.client.Collection(collection).Doc(id), data); err != nil {
		return mapError(err, "tx create %s/%s", collection, id)
	}
	return nil
}

func (t *fsTx) Set(collection, id string, data map[string]interface{}) error {
	if err := t.tx.Set(t.store.client.Collection(collection).Doc(id), data); err != nil {
		return mapError(err, "tx set %s/%s", collection, id)
	}
	return nil
}

func (t *fsTx) Update(collection, id string, fields map[string]interface{}) error {
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	if err := t.tx.Update(t.store.client.Collection(collection).Doc(id), updates); err != nil {
		return mapError(err, "tx update %s/%s", collection, id)
	}
	return nil
}

func (t *fsTx) Delete(collection, id string) error {
	if err := t.tx.Delete(t.store.client.Collection(collection).Doc(id)); err != nil {
		return mapError(err, "tx delete %s/%s", collection, id)
	}
	return nil
}

func drain(it *firestore.DocumentIterator, collection string) ([]*docstore.Document, error) {
	defer it.Stop()

	var out []*docstore.Document
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, mapError(err, "query %s", collection)
		}
		out = append(out, &docstore.Document{ID: snap.Ref.ID, Data: snap.Data()})
	}
}

// mapError translates gRPC status codes into the docstore sentinels so
// callers classify with errors.Is regardless of backend. Errors already
// carrying a sentinel pass through untouched.
func mapError(err error, format string, args ...interface{}) error {
	for _, sentinel := range []error{docstore.ErrNotFound, docstore.ErrExists, docstore.ErrTransient} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	prefix := fmt.Sprintf(format, args...)
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("firestoredb: %s: %w", prefix, docstore.ErrNotFound)
	case codes.AlreadyExists:
		return fmt.Errorf("firestoredb: %s: %w", prefix, docstore.ErrExists)
	case codes.Aborted, codes.DeadlineExceeded, codes.Unavailable, codes.ResourceExhausted, codes.Canceled:
		return fmt.Errorf("firestoredb: %s: %v: %w", prefix, err, docstore.ErrTransient)
	default:
		return fmt.Errorf("firestoredb: %s: %w", prefix, err)
	}
}
