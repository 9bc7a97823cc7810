package engine

import (
	"context"
	"fmt"

	"github.com/shaharzep/decision-extract/internal/common"
	"github.com/shaharzep/decision-extract/internal/llm"
)

// Mode discriminates the closed set of job variants. Exactly one variant
// struct must be populated, matching the mode; field presence is never used
// to guess the execution shape.
type Mode string

const (
	ModeCustom    Mode = "custom"    // caller supplies the whole per-row function
	ModeTemplated Mode = "templated" // prompt template + schema + provider call
	ModeTwoStage  Mode = "two_stage" // templated extract, then templated refine
)

// Row is one input record. The worker executing it owns it exclusively.
type Row struct {
	DecisionID string
	Language   string
	Data       map[string]any
}

// Key is the stable composite identity used to name per-row artifacts and to
// deduplicate retries.
func (r Row) Key() string {
	return fmt.Sprintf("%s_%s", r.DecisionID, r.Language)
}

// CustomSpec runs an arbitrary caller-supplied function per row.
type CustomSpec struct {
	Run func(ctx context.Context, row Row) (map[string]any, error)
}

// TemplatedSpec renders a prompt from the row, calls the extractor, and
// validates the response against Schema.
type TemplatedSpec struct {
	System    string
	Template  string
	Schema    map[string]any
	MaxTokens int

	// Preprocess may mutate the row's data before prompt rendering and is
	// allowed to perform I/O (lookups, snippet extraction).
	Preprocess func(ctx context.Context, row *Row) error
	// Postprocess normalizes the validated output before it is written.
	Postprocess func(ctx context.Context, row Row, out map[string]any) (map[string]any, error)
}

// TwoStageSpec chains two templated calls: the refine stage sees the extract
// stage's output under the "first_pass" key of its row data.
type TwoStageSpec struct {
	Extract TemplatedSpec
	Refine  TemplatedSpec
}

// Job is one extraction job definition.
type Job struct {
	Name        string
	Mode        Mode
	Concurrency int    // hard ceiling on in-flight rows
	OutputDir   string // per-row artifacts + failures document land here

	Custom    *CustomSpec
	Templated *TemplatedSpec
	TwoStage  *TwoStageSpec

	Extractor llm.Extractor // required for templated and two-stage modes
}

// Validate checks the discriminator against the populated variant.
func (j *Job) Validate() error {
	if j.Name == "" {
		return common.NewAppError("JOB_INVALID", "job name is required", common.ErrInvalidInput)
	}
	if j.Concurrency <= 0 {
		return common.NewAppError("JOB_INVALID", "concurrency must be positive", common.ErrInvalidInput)
	}
	if j.OutputDir == "" {
		return common.NewAppError("JOB_INVALID", "output dir is required", common.ErrInvalidInput)
	}
	switch j.Mode {
	case ModeCustom:
		if j.Custom == nil || j.Custom.Run == nil {
			return common.NewAppError("JOB_INVALID", "custom mode requires a row function", common.ErrInvalidInput)
		}
	case ModeTemplated:
		if j.Templated == nil {
			return common.NewAppError("JOB_INVALID", "templated mode requires a templated spec", common.ErrInvalidInput)
		}
		if j.Extractor == nil {
			return common.NewAppError("JOB_INVALID", "templated mode requires an extractor", common.ErrInvalidInput)
		}
	case ModeTwoStage:
		if j.TwoStage == nil {
			return common.NewAppError("JOB_INVALID", "two-stage mode requires a two-stage spec", common.ErrInvalidInput)
		}
		if j.Extractor == nil {
			return common.NewAppError("JOB_INVALID", "two-stage mode requires an extractor", common.ErrInvalidInput)
		}
	default:
		return common.NewAppError("JOB_INVALID", fmt.Sprintf("unknown mode %q", j.Mode), common.ErrInvalidInput)
	}
	return nil
}
