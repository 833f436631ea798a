// Package dedup answers "have we seen this before?" at two granularities:
// whole upload batches, via content signatures, and individual transactions,
// via per-record signatures. Both checks run against the caller's resolved
// read scope, so a teammate's earlier upload suppresses the same data for
// everyone on the team.
package dedup

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/finfolio-app/finfolio/internal/docstore"
	"github.com/finfolio-app/finfolio/internal/fingerprint"
	"github.com/finfolio-app/finfolio/internal/model"
)

// ScopeResolver yields the owner IDs whose records the caller may read.
type ScopeResolver interface {
	ResolveReadScope(ctx context.Context, callerID string) ([]string, error)
}

// Service performs scope-aware duplicate detection.
type Service struct {
	store  docstore.Store
	scopes ScopeResolver
	log    zerolog.Logger
}

// NewService creates a dedup service.
func NewService(store docstore.Store, scopes ScopeResolver, log zerolog.Logger) *Service {
	return &Service{store: store, scopes: scopes, log: log}
}

// BatchMatch reports the outcome of a batch-level duplicate check.
type BatchMatch struct {
	Duplicate   bool
	BatchID     string
	OwnerID     string
	CreatedAt   time.Time
	Categorized bool
}

// CheckBatch looks for an existing batch with the given content signature
// anywhere in the caller's read scope. Batches that ended in error do not
// count, so a failed upload can be retried as-is.
func (s *Service) CheckBatch(ctx context.Context, callerID, signature string) (*BatchMatch, error) {
	owners, err := s.scopes.ResolveReadScope(ctx, callerID)
	if err != nil {
		return nil, err
	}

	for _, owner := range owners {
		docs, err := s.store.Query(ctx, model.CollectionBatches, []docstore.Filter{
			{Field: "user_id", Value: owner},
			{Field: "content_signature", Value: signature},
		}, 0)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			batch, err := model.BatchFromDoc(doc.ID, doc.Data)
			if err != nil {
				return nil, err
			}
			if batch.Status == model.BatchError {
				continue
			}
			s.log.Debug().
				Str("batch_id", batch.ID).
				Str("owner_id", owner).
				Msg("duplicate batch detected")
			return &BatchMatch{
				Duplicate:   true,
				BatchID:     batch.ID,
				OwnerID:     owner,
				CreatedAt:   batch.CreatedAt,
				Categorized: batch.Categorized,
			}, nil
		}
	}
	return &BatchMatch{}, nil
}

// FilterResult partitions an incoming transaction list.
type FilterResult struct {
	ToInsert []*model.Transaction
	Skipped  int
}

// FilterNew drops transactions whose signature already exists in the caller's
// read scope, and duplicates within the incoming list itself. Order of the
// surviving transactions is preserved. Each survivor has its Signature field
// populated.
func (s *Service) FilterNew(ctx context.Context, callerID string, txns []*model.Transaction) (*FilterResult, error) {
	owners, err := s.scopes.ResolveReadScope(ctx, callerID)
	if err != nil {
		return nil, err
	}

	seen, err := s.storedSignatures(ctx, owners)
	if err != nil {
		return nil, err
	}

	res := &FilterResult{ToInsert: make([]*model.Transaction, 0, len(txns))}
	for _, txn := range txns {
		if txn.Signature == "" {
			txn.Signature = fingerprint.ForTransaction(txn)
		}
		if seen[txn.Signature] {
			res.Skipped++
			continue
		}
		seen[txn.Signature] = true
		res.ToInsert = append(res.ToInsert, txn)
	}

	if res.Skipped > 0 {
		s.log.Info().
			Int("to_insert", len(res.ToInsert)).
			Int("skipped", res.Skipped).
			Msg("filtered previously seen transactions")
	}
	return res, nil
}

// storedSignatures collects the signatures of every stored transaction owned
// by the given users.
func (s *Service) storedSignatures(ctx context.Context, owners []string) (map[string]bool, error) {
	seen := make(map[string]bool)
	for _, owner := range owners {
		docs, err := s.store.Query(ctx, model.CollectionTransactions, []docstore.Filter{
			{Field: "user_id", Value: owner},
		}, 0)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			if sig, ok := doc.Data["signature"].(string); ok && sig != "" {
				seen[sig] = true
			}
		}
	}
	return seen, nil
}
