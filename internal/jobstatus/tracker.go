package jobstatus

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shaharzep/decision-extract/constants"
	"github.com/shaharzep/decision-extract/internal/common"
)

const statusFileName = "job_status.json"

// JobMetadata is the durable lifecycle record for one job type.
// CompletedAt is set iff the status is terminal; SubmittedAt is set iff the
// status has reached SUBMITTED at least once.
type JobMetadata struct {
	JobID            string              `json:"job_id"`
	JobType          string              `json:"job_type"`
	Status           constants.JobStatus `json:"status"`
	CreatedAt        time.Time           `json:"created_at"`
	SubmittedAt      *time.Time          `json:"submitted_at,omitempty"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
	TotalRecords     *int                `json:"total_records,omitempty"`
	RecordsProcessed int                 `json:"records_processed"`
	RecordsFailed    int                 `json:"records_failed"`
	Errors           []string            `json:"errors,omitempty"`
	ProviderBatchID  string              `json:"provider_batch_id,omitempty"`
}

// Patch carries the optional fields UpdateStatus may merge alongside a
// transition. Nil pointers leave the current value untouched.
type Patch struct {
	TotalRecords     *int
	RecordsProcessed *int
	RecordsFailed    *int
	ProviderBatchID  string
}

// Tracker persists JobMetadata for a single job type as a JSON document.
// One tracker instance owns the document exclusively; running two writers
// against the same job type is unsupported.
type Tracker struct {
	jobType string
	dir     string
	logger  *slog.Logger
}

func NewTracker(stateDir, jobType string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		jobType: jobType,
		dir:     filepath.Join(stateDir, jobType),
		logger:  logger,
	}
}

// Path returns the location of the status document for this job type.
func (t *Tracker) Path() string {
	return filepath.Join(t.dir, statusFileName)
}

// Initialize returns fresh metadata at PENDING. Nothing is persisted until
// the first Save.
func (t *Tracker) Initialize(jobID string) *JobMetadata {
	return &JobMetadata{
		JobID:     jobID,
		JobType:   t.jobType,
		Status:    constants.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Save writes the complete record, creating the parent directory if absent.
func (t *Tracker) Save(meta *JobMetadata) error {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return common.WrapError(err, "create status dir")
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return common.WrapError(err, "encode job status")
	}
	if err := os.WriteFile(t.Path(), b, 0o644); err != nil {
		return common.WrapError(err, "write job status")
	}
	t.logger.Debug("jobstatus.saved", "job_type", t.jobType, "job_id", meta.JobID, "status", meta.Status)
	return nil
}

// Load returns the persisted record. A missing document is reported as
// common.ErrNotFound so callers can distinguish "no job yet" from real I/O
// failures; an unparseable document is state corruption and always fatal.
func (t *Tracker) Load() (*JobMetadata, error) {
	b, err := os.ReadFile(t.Path())
	if os.IsNotExist(err) {
		return nil, common.NewAppError("STATUS_NOT_FOUND", "no status document for "+t.jobType, common.ErrNotFound)
	}
	if err != nil {
		return nil, common.WrapError(err, "read job status")
	}
	var meta JobMetadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, common.NewAppError("STATUS_CORRUPT", "status document for "+t.jobType+" is unparseable", common.ErrStateCorruption)
	}
	return &meta, nil
}

// UpdateStatus merges the patch, sets the new status, and persists.
// SubmittedAt is stamped the first time SUBMITTED is reached and CompletedAt
// the first time any terminal state is reached; neither stamp is ever
// overwritten afterwards.
func (t *Tracker) UpdateStatus(meta *JobMetadata, status constants.JobStatus, patch *Patch) error {
	if patch != nil {
		if patch.TotalRecords != nil {
			meta.TotalRecords = patch.TotalRecords
		}
		if patch.RecordsProcessed != nil {
			meta.RecordsProcessed = *patch.RecordsProcessed
		}
		if patch.RecordsFailed != nil {
			meta.RecordsFailed = *patch.RecordsFailed
		}
		if patch.ProviderBatchID != "" {
			meta.ProviderBatchID = patch.ProviderBatchID
		}
	}
	meta.Status = status
	now := time.Now().UTC()
	if status == constants.JobStatusSubmitted && meta.SubmittedAt == nil {
		meta.SubmittedAt = &now
	}
	if status.Terminal() && meta.CompletedAt == nil {
		meta.CompletedAt = &now
	}
	t.logger.Info("jobstatus.transition", "job_type", t.jobType, "job_id", meta.JobID, "status", status)
	return t.Save(meta)
}

// AddError appends to the error log and persists. Prior entries are kept.
func (t *Tracker) AddError(meta *JobMetadata, msg string) error {
	meta.Errors = append(meta.Errors, msg)
	return t.Save(meta)
}

// UpdateProgress persists the counters without a state transition.
func (t *Tracker) UpdateProgress(meta *JobMetadata, processed, failed int) error {
	meta.RecordsProcessed = processed
	meta.RecordsFailed = failed
	return t.Save(meta)
}

// IsRunning reports whether a persisted job for this type is active.
// Any load failure (including a missing document) means "not running".
func (t *Tracker) IsRunning() bool {
	meta, err := t.Load()
	if err != nil {
		return false
	}
	return meta.Status.Running()
}
