package ingest

import (
	"context"
	"errors"
	"sort"

	"github.com/finfolio-app/finfolio/internal/apperr"
	"github.com/finfolio-app/finfolio/internal/docstore"
	"github.com/finfolio-app/finfolio/internal/model"
)

// Read-side queries. All of them resolve the caller's read scope first, so a
// team member sees teammates' batches and transactions, while outsiders see
// only their own.

// ListBatches returns every batch in the caller's scope, newest first.
func (s *Service) ListBatches(ctx context.Context, callerID string) ([]*model.UploadBatch, error) {
	owners, err := s.scopes.ResolveReadScope(ctx, callerID)
	if err != nil {
		return nil, err
	}

	var batches []*model.UploadBatch
	for _, owner := range owners {
		docs, err := s.store.Query(ctx, model.CollectionBatches, []docstore.Filter{
			{Field: "user_id", Value: owner},
		}, 0)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			b, err := model.BatchFromDoc(doc.ID, doc.Data)
			if err != nil {
				return nil, err
			}
			batches = append(batches, b)
		}
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].CreatedAt.After(batches[j].CreatedAt) })
	return batches, nil
}

// GetBatch fetches one batch if it is inside the caller's scope. Batches
// outside the scope read as not found, never as forbidden, so existence does
// not leak.
func (s *Service) GetBatch(ctx context.Context, callerID, batchID string) (*model.UploadBatch, error) {
	doc, err := s.store.Get(ctx, model.CollectionBatches, batchID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apperr.NotFound("batch %s not found", batchID)
		}
		return nil, err
	}
	batch, err := model.BatchFromDoc(doc.ID, doc.Data)
	if err != nil {
		return nil, err
	}

	owners, err := s.scopes.ResolveReadScope(ctx, callerID)
	if err != nil {
		return nil, err
	}
	for _, owner := range owners {
		if batch.UserID == owner {
			return batch, nil
		}
	}
	return nil, apperr.NotFound("batch %s not found", batchID)
}

// ListTransactions returns every transaction in the caller's scope, optionally
// restricted to one batch, sorted by date then description.
func (s *Service) ListTransactions(ctx context.Context, callerID, batchID string) ([]*model.Transaction, error) {
	owners, err := s.scopes.ResolveReadScope(ctx, callerID)
	if err != nil {
		return nil, err
	}

	var txns []*model.Transaction
	for _, owner := range owners {
		filters := []docstore.Filter{{Field: "user_id", Value: owner}}
		if batchID != "" {
			filters = append(filters, docstore.Filter{Field: "batch_id", Value: batchID})
		}
		docs, err := s.store.Query(ctx, model.CollectionTransactions, filters, 0)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			t, err := model.TransactionFromDoc(doc.ID, doc.Data)
			if err != nil {
				return nil, err
			}
			txns = append(txns, t)
		}
	}
	sort.Slice(txns, func(i, j int) bool {
		a, b := txns[i], txns[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Description < b.Description
	})
	return txns, nil
}

// Summarize aggregates all transactions visible to the caller, or one batch
// when batchID is set.
func (s *Service) Summarize(ctx context.Context, callerID, batchID string) (*Summary, error) {
	txns, err := s.ListTransactions(ctx, callerID, batchID)
	if err != nil {
		return nil, err
	}
	return BuildSummary(txns), nil
}
