// Package ingest runs the upload pipeline: parse and normalize statement
// files, fingerprint the batch, drop anything already seen in the caller's
// read scope, persist what is new and summarize it.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/finfolio-app/finfolio/internal/apperr"
	"github.com/finfolio-app/finfolio/internal/dedup"
	"github.com/finfolio-app/finfolio/internal/docstore"
	"github.com/finfolio-app/finfolio/internal/fingerprint"
	"github.com/finfolio-app/finfolio/internal/model"
)

// DuplicateChecker is the dedup collaborator.
type DuplicateChecker interface {
	CheckBatch(ctx context.Context, callerID, signature string) (*dedup.BatchMatch, error)
	FilterNew(ctx context.Context, callerID string, txns []*model.Transaction) (*dedup.FilterResult, error)
}

// Categorizer assigns categories in place. Optional; a nil categorizer skips
// the step.
type Categorizer interface {
	Categorize(ctx context.Context, txns []*model.Transaction) error
}

// Archiver stores raw uploads for audit. Optional; archive failures are
// logged, never fatal.
type Archiver interface {
	Archive(ctx context.Context, userID, filename string, data []byte) (string, error)
}

// Service is the ingestion pipeline plus the scope-aware read side.
type Service struct {
	store      docstore.Store
	dedup      DuplicateChecker
	scopes     dedup.ScopeResolver
	categorize Categorizer
	archive    Archiver
	log        zerolog.Logger

	now   func() time.Time
	newID func() string
}

// NewService wires the ingestion pipeline. categorizer and archiver may be
// nil.
func NewService(store docstore.Store, dd DuplicateChecker, scopes dedup.ScopeResolver, categorizer Categorizer, archiver Archiver, log zerolog.Logger) *Service {
	return &Service{
		store:      store,
		dedup:      dd,
		scopes:     scopes,
		categorize: categorizer,
		archive:    archiver,
		log:        log,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// UploadFile is one file of an upload request.
type UploadFile struct {
	Name string
	Data []byte
}

// UploadRequest describes one upload.
type UploadRequest struct {
	UserID     string
	Files      []UploadFile
	Force      bool // reprocess even if the batch content was seen before
	Categorize bool
}

// UploadResult is the pipeline outcome. When Duplicate is set the upload was
// short-circuited and no batch was created.
type UploadResult struct {
	Batch       *model.UploadBatch
	Duplicate   *dedup.BatchMatch
	Summary     *Summary
	Inserted    int
	SkippedRows int // rows dropped during normalization
	SkippedDup  int // transactions dropped as already seen
}

// Prepared is the outcome of PrepareUpload: a recorded pending batch plus
// the rows that survived filtering, ready for processing.
type Prepared struct {
	Batch       *model.UploadBatch
	Duplicate   *dedup.BatchMatch // set when short-circuited; Batch is nil
	ToInsert    []*model.Transaction
	SkippedRows int
	SkippedDup  int
}

// ProcessUpload runs the whole pipeline synchronously. The batch record is
// visible in state pending before row writes begin, and ends in done or
// error; transitions are one-way.
func (s *Service) ProcessUpload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	prep, err := s.PrepareUpload(ctx, req)
	if err != nil {
		return nil, err
	}
	if prep.Duplicate != nil {
		return &UploadResult{Duplicate: prep.Duplicate}, nil
	}

	result, err := s.processBatch(ctx, prep.Batch, prep.ToInsert, req.Categorize)
	if err != nil {
		return nil, err
	}
	result.SkippedRows = prep.SkippedRows
	result.SkippedDup = prep.SkippedDup
	return result, nil
}

// PrepareUpload runs parsing, fingerprinting and dedup, and records the batch
// in state pending. The caller decides whether to process inline
// (ProcessUpload does) or hand the prepared batch to the job queue.
func (s *Service) PrepareUpload(ctx context.Context, req *UploadRequest) (*Prepared, error) {
	if req.UserID == "" {
		return nil, apperr.Validation("user id is required")
	}
	if len(req.Files) == 0 {
		return nil, apperr.Validation("no files provided")
	}
	if len(req.Files) > MaxFilesPerUpload {
		return nil, apperr.Validation("too many files: %d (limit %d)", len(req.Files), MaxFilesPerUpload)
	}

	txns, skippedRows, fileNames, err := s.parseFiles(req.Files)
	if err != nil {
		return nil, err
	}

	signature := fingerprint.Batch(txns)
	match, err := s.dedup.CheckBatch(ctx, req.UserID, signature)
	if err != nil {
		return nil, err
	}
	if match.Duplicate {
		if !req.Force {
			s.log.Info().Str("batch_id", match.BatchID).Msg("upload is a duplicate batch")
			return &Prepared{Duplicate: match}, nil
		}
		// Force only replaces the caller's own batch. A teammate's copy of
		// the same data stays put; we proceed alongside it.
		if match.OwnerID == req.UserID {
			if err := s.deleteBatch(ctx, match.BatchID); err != nil {
				return nil, err
			}
		}
	}

	filtered, err := s.dedup.FilterNew(ctx, req.UserID, txns)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	batch := &model.UploadBatch{
		ID:               s.newID(),
		UserID:           req.UserID,
		ContentSignature: signature,
		Status:           model.BatchPending,
		SkippedCount:     skippedRows + filtered.Skipped,
		Files:            fileNames,
		CreatedAt:        now,
	}
	if err := s.store.BatchWrite(ctx, []docstore.Write{
		{Op: docstore.OpSet, Collection: model.CollectionBatches, ID: batch.ID, Data: batch.Doc()},
	}); err != nil {
		return nil, err
	}

	s.archiveFiles(ctx, req.UserID, req.Files)

	return &Prepared{
		Batch:       batch,
		ToInsert:    filtered.ToInsert,
		SkippedRows: skippedRows,
		SkippedDup:  filtered.Skipped,
	}, nil
}

// ProcessPending picks up a previously recorded pending batch, used by the
// async worker path. The rows to insert must be re-derived because only the
// batch record was persisted.
func (s *Service) ProcessPending(ctx context.Context, batchID string, txns []*model.Transaction, categorize bool) (*UploadResult, error) {
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
	if batch.Status != model.BatchPending {
		return nil, apperr.Conflict("", "batch %s is %s, not pending", batchID, batch.Status)
	}
	return s.processBatch(ctx, batch, txns, categorize)
}

// processBatch moves a pending batch through processing to done or error.
func (s *Service) processBatch(ctx context.Context, batch *model.UploadBatch, txns []*model.Transaction, categorize bool) (*UploadResult, error) {
	if err := s.setStatus(ctx, batch, model.BatchProcessing, ""); err != nil {
		return nil, err
	}

	categorized := false
	if categorize && s.categorize != nil {
		if err := s.categorize.Categorize(ctx, txns); err != nil {
			s.log.Error().Err(err).Str("batch_id", batch.ID).Msg("categorization failed")
			if serr := s.setStatus(ctx, batch, model.BatchError, err.Error()); serr != nil {
				return nil, serr
			}
			return nil, fmt.Errorf("categorizing batch %s: %w", batch.ID, err)
		}
		categorized = true
	}

	writes := make([]docstore.Write, 0, len(txns))
	for _, t := range txns {
		t.ID = s.newID()
		t.UserID = batch.UserID
		t.BatchID = batch.ID
		if t.Signature == "" {
			t.Signature = fingerprint.ForTransaction(t)
		}
		writes = append(writes, docstore.Write{
			Op: docstore.OpSet, Collection: model.CollectionTransactions, ID: t.ID, Data: t.Doc(),
		})
	}
	if len(writes) > 0 {
		if err := s.store.BatchWrite(ctx, writes); err != nil {
			if serr := s.setStatus(ctx, batch, model.BatchError, err.Error()); serr != nil {
				return nil, serr
			}
			return nil, fmt.Errorf("persisting batch %s rows: %w", batch.ID, err)
		}
	}

	batch.Categorized = categorized
	batch.TransactionCount = len(txns)
	if err := s.setStatus(ctx, batch, model.BatchDone, ""); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("batch_id", batch.ID).
		Int("transactions", len(txns)).
		Bool("categorized", categorized).
		Msg("batch processed")

	return &UploadResult{
		Batch:    batch,
		Summary:  BuildSummary(txns),
		Inserted: len(txns),
	}, nil
}

// setStatus advances the batch lifecycle, refusing illegal transitions.
func (s *Service) setStatus(ctx context.Context, batch *model.UploadBatch, next model.BatchStatus, errMsg string) error {
	if !batch.Status.CanTransitionTo(next) {
		return apperr.Conflict("", "batch %s cannot move from %s to %s", batch.ID, batch.Status, next)
	}
	batch.Status = next
	batch.Error = errMsg
	return s.store.BatchWrite(ctx, []docstore.Write{
		{Op: docstore.OpSet, Collection: model.CollectionBatches, ID: batch.ID, Data: batch.Doc()},
	})
}

func (s *Service) parseFiles(files []UploadFile) ([]*model.Transaction, int, []string, error) {
	var (
		txns    []*model.Transaction
		skipped int
		names   []string
	)
	for _, f := range files {
		raw, err := ParseCSV(f.Name, bytes.NewReader(f.Data))
		if err != nil {
			return nil, 0, nil, err
		}
		rows, nskip, err := NormalizeRows(raw)
		if err != nil {
			return nil, 0, nil, err
		}
		txns = append(txns, rows...)
		skipped += nskip
		names = append(names, f.Name)
	}
	return txns, skipped, names, nil
}

func (s *Service) archiveFiles(ctx context.Context, userID string, files []UploadFile) {
	if s.archive == nil {
		return
	}
	for _, f := range files {
		if _, err := s.archive.Archive(ctx, userID, f.Name, f.Data); err != nil {
			s.log.Warn().Err(err).Str("file", f.Name).Msg("archiving upload failed")
		}
	}
}

// deleteBatch removes a batch and its transactions, used by force reprocess.
func (s *Service) deleteBatch(ctx context.Context, batchID string) error {
	docs, err := s.store.Query(ctx, model.CollectionTransactions, []docstore.Filter{
		{Field: "batch_id", Value: batchID},
	}, 0)
	if err != nil {
		return err
	}
	writes := make([]docstore.Write, 0, len(docs)+1)
	for _, doc := range docs {
		writes = append(writes, docstore.Write{
			Op: docstore.OpDelete, Collection: model.CollectionTransactions, ID: doc.ID,
		})
	}
	writes = append(writes, docstore.Write{
		Op: docstore.OpDelete, Collection: model.CollectionBatches, ID: batchID,
	})
	s.log.Info().Str("batch_id", batchID).Int("transactions", len(docs)).Msg("deleting batch for reprocess")
	return s.store.BatchWrite(ctx, writes)
}
