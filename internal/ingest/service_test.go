package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finfolio-app/finfolio/internal/dedup"
	"github.com/finfolio-app/finfolio/internal/docstore/memory"
	"github.com/finfolio-app/finfolio/internal/model"
)

type soloScope struct{}

func (soloScope) ResolveReadScope(ctx context.Context, callerID string) ([]string, error) {
	return []string{callerID}, nil
}

type fakeCategorizer struct {
	calls int
	fail  bool
}

func (f *fakeCategorizer) Categorize(ctx context.Context, txns []*model.Transaction) error {
	f.calls++
	if f.fail {
		return errors.New("model unavailable")
	}
	for _, t := range txns {
		t.Category = "Categorized"
	}
	return nil
}

type fakeArchiver struct {
	archived []string
}

func (f *fakeArchiver) Archive(ctx context.Context, userID, filename string, data []byte) (string, error) {
	f.archived = append(f.archived, filename)
	return "mem://" + userID + "/" + filename, nil
}

func newTestPipeline(t *testing.T) (*Service, *memory.Store, *fakeCategorizer, *fakeArchiver) {
	t.Helper()
	store := memory.NewStore()
	scope := soloScope{}
	dd := dedup.NewService(store, scope, zerolog.Nop())
	cat := &fakeCategorizer{}
	arc := &fakeArchiver{}
	return NewService(store, dd, scope, cat, arc, zerolog.Nop()), store, cat, arc
}

const sampleCSV = `Date,Description,Amount
2026-01-05,COFFEE SHOP,-3.50
2026-01-06,SALARY,3000.00
2026-01-06,GROCERY,-41.20
`

func upload(files ...UploadFile) *UploadRequest {
	return &UploadRequest{UserID: "alice", Files: files}
}

func TestProcessUpload(t *testing.T) {
	svc, _, _, arc := newTestPipeline(t)
	ctx := context.Background()

	res, err := svc.ProcessUpload(ctx, upload(UploadFile{Name: "jan.csv", Data: []byte(sampleCSV)}))
	require.NoError(t, err)
	require.Nil(t, res.Duplicate)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, model.BatchDone, res.Batch.Status)
	assert.Equal(t, []string{"jan.csv"}, res.Batch.Files)
	assert.Equal(t, []string{"jan.csv"}, arc.archived)

	assert.True(t, res.Summary.TotalCredits.Equal(decimal.RequireFromString("3000")))
	assert.True(t, res.Summary.TotalDebits.Equal(decimal.RequireFromString("44.70")))
	assert.True(t, res.Summary.Net.Equal(decimal.RequireFromString("2955.30")))

	// Rows are persisted with owner, batch and signature attached.
	txns, err := svc.ListTransactions(ctx, "alice", res.Batch.ID)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	for _, tx := range txns {
		assert.Equal(t, "alice", tx.UserID)
		assert.Equal(t, res.Batch.ID, tx.BatchID)
		assert.NotEmpty(t, tx.Signature)
	}
}

func TestProcessUpload_DuplicateBatchShortCircuits(t *testing.T) {
	svc, _, _, _ := newTestPipeline(t)
	ctx := context.Background()
	file := UploadFile{Name: "jan.csv", Data: []byte(sampleCSV)}

	first, err := svc.ProcessUpload(ctx, upload(file))
	require.NoError(t, err)

	second, err := svc.ProcessUpload(ctx, upload(file))
	require.NoError(t, err)
	require.NotNil(t, second.Duplicate, "identical re-upload must be flagged")
	assert.True(t, second.Duplicate.Duplicate)
	assert.Equal(t, first.Batch.ID, second.Duplicate.BatchID)
	assert.Nil(t, second.Batch)

	batches, err := svc.ListBatches(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestProcessUpload_ForceReplacesOwnBatch(t *testing.T) {
	svc, _, _, _ := newTestPipeline(t)
	ctx := context.Background()
	file := UploadFile{Name: "jan.csv", Data: []byte(sampleCSV)}

	first, err := svc.ProcessUpload(ctx, upload(file))
	require.NoError(t, err)

	req := upload(file)
	req.Force = true
	second, err := svc.ProcessUpload(ctx, req)
	require.NoError(t, err)
	require.Nil(t, second.Duplicate)
	assert.NotEqual(t, first.Batch.ID, second.Batch.ID)
	assert.Equal(t, 3, second.Inserted, "prior rows were deleted, so nothing is filtered")

	batches, err := svc.ListBatches(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestProcessUpload_PartialOverlap(t *testing.T) {
	svc, _, _, _ := newTestPipeline(t)
	ctx := context.Background()

	_, err := svc.ProcessUpload(ctx, upload(UploadFile{Name: "jan.csv", Data: []byte(sampleCSV)}))
	require.NoError(t, err)

	overlapping := `Date,Description,Amount
2026-01-06,GROCERY,-41.20
2026-02-01,NEW THING,-7.00
`
	res, err := svc.ProcessUpload(ctx, upload(UploadFile{Name: "feb.csv", Data: []byte(overlapping)}))
	require.NoError(t, err)
	require.Nil(t, res.Duplicate, "different batch content is not a batch duplicate")
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.SkippedDup)
}

func TestProcessUpload_Categorization(t *testing.T) {
	svc, _, cat, _ := newTestPipeline(t)
	ctx := context.Background()

	req := upload(UploadFile{Name: "jan.csv", Data: []byte(sampleCSV)})
	req.Categorize = true
	res, err := svc.ProcessUpload(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Batch.Categorized)
	assert.Equal(t, 1, cat.calls)

	txns, err := svc.ListTransactions(ctx, "alice", res.Batch.ID)
	require.NoError(t, err)
	for _, tx := range txns {
		assert.Equal(t, "Categorized", tx.Category)
	}
}

func TestProcessUpload_CategorizerFailureMarksError(t *testing.T) {
	svc, _, cat, _ := newTestPipeline(t)
	cat.fail = true
	ctx := context.Background()

	req := upload(UploadFile{Name: "jan.csv", Data: []byte(sampleCSV)})
	req.Categorize = true
	_, err := svc.ProcessUpload(ctx, req)
	require.Error(t, err)

	batches, err := svc.ListBatches(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, model.BatchError, batches[0].Status)
	assert.NotEmpty(t, batches[0].Error)

	// No rows were stored for the failed batch.
	txns, err := svc.ListTransactions(ctx, "alice", batches[0].ID)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestProcessUpload_Validation(t *testing.T) {
	svc, _, _, _ := newTestPipeline(t)
	ctx := context.Background()

	_, err := svc.ProcessUpload(ctx, &UploadRequest{UserID: "alice"})
	assert.Error(t, err)

	_, err = svc.ProcessUpload(ctx, &UploadRequest{Files: []UploadFile{{Name: "a.csv", Data: []byte("Date,Amount\n")}}})
	assert.Error(t, err)

	many := make([]UploadFile, MaxFilesPerUpload+1)
	for i := range many {
		many[i] = UploadFile{Name: "a.csv", Data: []byte("Date,Amount\n")}
	}
	_, err = svc.ProcessUpload(ctx, upload(many...))
	assert.Error(t, err)
}

func TestGetBatch_OutsideScopeReadsAsNotFound(t *testing.T) {
	svc, _, _, _ := newTestPipeline(t)
	ctx := context.Background()

	res, err := svc.ProcessUpload(ctx, upload(UploadFile{Name: "jan.csv", Data: []byte(sampleCSV)}))
	require.NoError(t, err)

	got, err := svc.GetBatch(ctx, "alice", res.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Batch.ID, got.ID)

	_, err = svc.GetBatch(ctx, "mallory", res.Batch.ID)
	assert.Error(t, err)
}
