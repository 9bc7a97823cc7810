package batch

import (
	"context"
	"time"

	"github.com/shaharzep/decision-extract/constants"
)

// RequestCounts summarizes per-request progress inside a remote batch.
type RequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Status is a normalized snapshot of a remote batch job. It is reconstructed
// on every poll and never persisted.
type Status struct {
	ID           string
	State        constants.BatchState
	InputFileID  string
	OutputFileID string
	ErrorFileID  string
	CreatedAt    time.Time
	CompletedAt  *time.Time
	Counts       RequestCounts
	Errors       []string
}

// Submission pairs the two ids produced by SubmitBatchJob.
type Submission struct {
	FileID  string
	BatchID string
}

// Provider is the uniform contract over asynchronous batch backends.
// GetBatchStatus must translate every documented native state into exactly
// one constants.BatchState; an unrecognized native value is a hard error.
// Polling is side-effect-free: a caller may resume with the same batch id at
// any time.
type Provider interface {
	Name() string
	UploadFile(ctx context.Context, path string) (string, error)
	CreateBatch(ctx context.Context, fileID string, metadata map[string]string) (string, error)
	GetBatchStatus(ctx context.Context, batchID string) (*Status, error)
	DownloadFile(ctx context.Context, fileID, destPath string) error
	CancelBatch(ctx context.Context, batchID string) error
}

// SubmitBatchJob uploads the request file and creates a batch for it,
// returning both ids so the caller can persist them before polling.
func SubmitBatchJob(ctx context.Context, p Provider, path string, metadata map[string]string) (*Submission, error) {
	fileID, err := p.UploadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	batchID, err := p.CreateBatch(ctx, fileID, metadata)
	if err != nil {
		return nil, err
	}
	return &Submission{FileID: fileID, BatchID: batchID}, nil
}
