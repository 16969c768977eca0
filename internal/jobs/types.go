package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dvloznov/expense-insight/internal/anomaly"
)

// ErrJobNotFound is returned by stores for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// JobType represents the type of analysis a job runs.
type JobType string

const (
	// JobTypeComprehensive runs every anomaly detector over one snapshot.
	JobTypeComprehensive JobType = "comprehensive"
	// JobTypeDynamicRCA attributes every consecutive period pair.
	JobTypeDynamicRCA JobType = "dynamic_rca"
	// JobTypeRCAPair attributes one period pair.
	JobTypeRCAPair JobType = "rca_pair"
)

// ParseJobType validates a job type name.
func ParseJobType(s string) (JobType, bool) {
	switch t := JobType(s); t {
	case JobTypeComprehensive, JobTypeDynamicRCA, JobTypeRCAPair:
		return t, true
	}
	return "", false
}

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// JobParams carries the analysis parameters of a job. Unset detector
// parameters mean the service defaults.
type JobParams struct {
	FromPeriod string `json:"from_period,omitempty"`
	ToPeriod   string `json:"to_period,omitempty"`
	anomaly.Overrides
}

// AnalysisJob represents one asynchronous analysis request.
type AnalysisJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	Type   JobType   `json:"type"`
	Params JobParams `json:"parameters"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Result is the JSON report of a completed job.
	Result json.RawMessage `json:"result,omitempty"`

	// ReportURI is where the report was archived, when archiving is enabled.
	ReportURI string `json:"report_uri,omitempty"`
}

// Clone returns a copy that shares no mutable state with j.
func (j *AnalysisJob) Clone() *AnalysisJob {
	c := *j
	c.Params.Overrides = j.Params.Overrides.Clone()
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	return &c
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// Publish enqueues an analysis job.
	Publish(ctx context.Context, job *AnalysisJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. It may set Result and ReportURI on the job and
// should return an error only if the job should be retried.
type JobHandler func(ctx context.Context, job *AnalysisJob) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *AnalysisJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*AnalysisJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*AnalysisJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	Type   JobType
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
