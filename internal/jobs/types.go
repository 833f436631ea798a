// Package jobs defines the async batch-processing queue contract. Uploads
// can be accepted quickly and processed in the background; the job drives the
// UploadBatch status lifecycle.
package jobs

import (
	"context"
	"time"

	"github.com/finfolio-app/finfolio/internal/model"
)

// JobType discriminates queue payloads.
type JobType string

const (
	// JobTypeProcessBatch processes a prepared upload batch.
	JobTypeProcessBatch JobType = "process_batch"
)

// JobStatus is the queue-side execution status, distinct from the batch's own
// lifecycle status.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a worker picked the job up.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed permanently.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and will run again.
	JobStatusRetrying JobStatus = "retrying"
)

// ProcessBatchJob carries a prepared upload batch to the worker. Transactions
// ride along in memory; the batch record itself is already persisted in state
// pending.
type ProcessBatchJob struct {
	JobID   string `json:"job_id"`
	BatchID string `json:"batch_id"`
	UserID  string `json:"user_id"`

	// Transactions that survived dedup filtering, to be written by the worker.
	Transactions []*model.Transaction `json:"transactions"`

	// Categorize requests AI categorization before the batch completes.
	Categorize bool `json:"categorize"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
}

// Job is the generic queue payload.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

// GetID implements Job.
func (j *ProcessBatchJob) GetID() string { return j.JobID }

// GetType implements Job.
func (j *ProcessBatchJob) GetType() JobType { return JobTypeProcessBatch }

// GetStatus implements Job.
func (j *ProcessBatchJob) GetStatus() JobStatus { return j.Status }

// Publisher enqueues jobs. Implementations may be in-memory, Cloud Tasks or
// Pub/Sub; callers only see this interface.
type Publisher interface {
	// PublishProcessBatch enqueues a batch-processing job.
	PublishProcessBatch(ctx context.Context, job *ProcessBatchJob) error

	// Close releases publisher resources.
	Close() error
}

// Consumer runs jobs from the queue.
type Consumer interface {
	// Start begins consuming; handler is called per job.
	Start(ctx context.Context, handler JobHandler) error

	// Stop drains in-flight jobs and shuts the consumer down.
	Stop(ctx context.Context) error
}

// JobHandler processes one job. A returned error triggers a retry until the
// job's retry budget runs out.
type JobHandler func(ctx context.Context, job Job) error

// JobStore tracks job execution state so batch status can be inspected while
// processing is in flight.
type JobStore interface {
	SaveJob(ctx context.Context, job *ProcessBatchJob) error
	GetJob(ctx context.Context, jobID string) (*ProcessBatchJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*ProcessBatchJob, error)
}

// JobFilter restricts ListJobs results.
type JobFilter struct {
	BatchID string
	UserID  string
	Status  JobStatus
	Limit   int
}
