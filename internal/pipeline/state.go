package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/shaharzep/decision-extract/internal/common"
)

// StepStatus is the persisted per-step state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepState is the durable record of one step's last execution.
type StepState struct {
	Status         StepStatus `json:"status"`
	TotalItems     int        `json:"total_items"`
	CompletedItems int        `json:"completed_items"`
	SkippedItems   int        `json:"skipped_items"`
	FailedItems    int        `json:"failed_items"`
	DurationMs     int64      `json:"duration_ms"`
	Error          string     `json:"error,omitempty"`
}

// State is the pipeline state document, one instance per run identity. It is
// created at first run, loaded on resume, mutated after every step, and never
// auto-deleted.
type State struct {
	EntityID  string               `json:"entity_id"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	Steps     map[string]StepState `json:"steps"`
}

// NewState returns a fresh document for the entity.
func NewState(entityID string) *State {
	now := time.Now().UTC()
	return &State{
		EntityID:  entityID,
		CreatedAt: now,
		UpdatedAt: now,
		Steps:     make(map[string]StepState),
	}
}

// LoadState reads a prior state document. Absence means a fresh start and is
// reported as (nil, nil). A document that exists but cannot be parsed is
// state corruption and always fatal; treating it as absent would risk
// duplicate overlapping runs.
func LoadState(path string) (*State, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, common.WrapError(err, "read pipeline state")
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, common.NewAppError("STATE_CORRUPT", "pipeline state at "+path+" is unparseable", common.ErrStateCorruption)
	}
	if st.Steps == nil {
		st.Steps = make(map[string]StepState)
	}
	return &st, nil
}

// Save persists the document, creating the parent directory if absent.
func (s *State) Save(path string) error {
	s.UpdatedAt = time.Now().UTC()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return common.WrapError(err, "create state dir")
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return common.WrapError(err, "encode pipeline state")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return common.WrapError(err, "write pipeline state")
	}
	return nil
}
