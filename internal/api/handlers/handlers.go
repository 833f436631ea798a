// Package handlers implements the HTTP API over the ingestion, dedup and
// team services. Handlers stay thin: decode, call the service with the
// caller identity, encode.
package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/finfolio-app/finfolio/internal/api/middleware"
	"github.com/finfolio-app/finfolio/internal/ingest"
	"github.com/finfolio-app/finfolio/internal/jobs"
	"github.com/finfolio-app/finfolio/internal/model"
)

// maxUploadBytes caps one multipart upload request.
const maxUploadBytes = 32 << 20

// UploadsHandler accepts statement uploads.
type UploadsHandler struct {
	svc       *ingest.Service
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewUploadsHandler creates the uploads handler. publisher may be nil, in
// which case async processing is unavailable and uploads run inline.
func NewUploadsHandler(svc *ingest.Service, publisher jobs.Publisher, log zerolog.Logger) *UploadsHandler {
	return &UploadsHandler{svc: svc, publisher: publisher, log: log}
}

// Upload handles POST /api/uploads. Multipart field "files" carries one or
// more CSVs; query parameters force, categorize and async toggle behavior.
func (h *UploadsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart request")
		return
	}
	if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "At least one file is required")
		return
	}

	var files []ingest.UploadFile
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Unreadable file "+fh.Filename)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Unreadable file "+fh.Filename)
			return
		}
		files = append(files, ingest.UploadFile{Name: fh.Filename, Data: data})
	}

	req := &ingest.UploadRequest{
		UserID:     userID,
		Files:      files,
		Force:      boolParam(r, "force"),
		Categorize: boolParam(r, "categorize"),
	}

	if boolParam(r, "async") && h.publisher != nil {
		h.uploadAsync(w, r, req)
		return
	}

	result, err := h.svc.ProcessUpload(ctx, req)
	if err != nil {
		h.log.Error().Err(err).Msg("Upload failed")
		middleware.WriteAppError(w, err)
		return
	}

	if result.Duplicate != nil {
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"duplicate":   true,
			"batch_id":    result.Duplicate.BatchID,
			"uploaded_at": result.Duplicate.CreatedAt,
			"categorized": result.Duplicate.Categorized,
		})
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"batch_id":     result.Batch.ID,
		"status":       result.Batch.Status,
		"inserted":     result.Inserted,
		"skipped_rows": result.SkippedRows,
		"skipped_dup":  result.SkippedDup,
		"summary":      result.Summary,
	})
}

// uploadAsync records the batch as pending and hands processing to the queue.
func (h *UploadsHandler) uploadAsync(w http.ResponseWriter, r *http.Request, req *ingest.UploadRequest) {
	ctx := r.Context()

	prep, err := h.svc.PrepareUpload(ctx, req)
	if err != nil {
		h.log.Error().Err(err).Msg("Upload preparation failed")
		middleware.WriteAppError(w, err)
		return
	}
	if prep.Duplicate != nil {
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"duplicate":   true,
			"batch_id":    prep.Duplicate.BatchID,
			"uploaded_at": prep.Duplicate.CreatedAt,
			"categorized": prep.Duplicate.Categorized,
		})
		return
	}

	job := &jobs.ProcessBatchJob{
		BatchID:      prep.Batch.ID,
		UserID:       req.UserID,
		Transactions: prep.ToInsert,
		Categorize:   req.Categorize,
	}
	if err := h.publisher.PublishProcessBatch(ctx, job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue batch job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue processing")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("batch_id", prep.Batch.ID).Msg("Batch job enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"batch_id":     prep.Batch.ID,
		"job_id":       job.JobID,
		"status":       prep.Batch.Status,
		"skipped_rows": prep.SkippedRows,
		"skipped_dup":  prep.SkippedDup,
	})
}

// BatchesHandler serves batch reads.
type BatchesHandler struct {
	svc *ingest.Service
	log zerolog.Logger
}

// NewBatchesHandler creates the batches handler.
func NewBatchesHandler(svc *ingest.Service, log zerolog.Logger) *BatchesHandler {
	return &BatchesHandler{svc: svc, log: log}
}

// ListBatches handles GET /api/batches
func (h *BatchesHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.svc.ListBatches(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list batches")
		middleware.WriteAppError(w, err)
		return
	}
	if batches == nil {
		batches = []*model.UploadBatch{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"batches": batches,
		"count":   len(batches),
	})
}

// GetBatch handles GET /api/batches/{id}
func (h *BatchesHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.svc.GetBatch(r.Context(), middleware.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		middleware.WriteAppError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, batch)
}

// GetSummary handles GET /api/summary and GET /api/batches/{id}/summary
func (h *BatchesHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Summarize(r.Context(), middleware.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build summary")
		middleware.WriteAppError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, summary)
}

// TransactionsHandler serves transaction reads.
type TransactionsHandler struct {
	svc *ingest.Service
	log zerolog.Logger
}

// NewTransactionsHandler creates the transactions handler.
func NewTransactionsHandler(svc *ingest.Service, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{svc: svc, log: log}
}

// ListTransactions handles GET /api/transactions?batch_id=
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.svc.ListTransactions(r.Context(), middleware.UserID(r.Context()), r.URL.Query().Get("batch_id"))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list transactions")
		middleware.WriteAppError(w, err)
		return
	}
	if txns == nil {
		txns = []*model.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, txns)
}

// JobsHandler serves queue state.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates the jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{store: store, log: log}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		BatchID: query.Get("batch_id"),
		UserID:  middleware.UserID(r.Context()),
		Status:  jobs.JobStatus(query.Get("status")),
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

func boolParam(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	if v == "" {
		v = r.FormValue(name)
	}
	b, _ := strconv.ParseBool(v)
	return b
}
