package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shaharzep/decision-extract/internal/common"
)

func statePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "pipeline_state.json")
}

func countingStep(id string, ran *[]string, res StepResult, err error) Step {
	return Step{
		ID: id,
		Run: func(context.Context) (StepResult, error) {
			*ran = append(*ran, id)
			return res, err
		},
	}
}

func TestOrchestrator_FailureHaltsRemainingSteps(t *testing.T) {
	path := statePath(t)
	var ran []string

	steps := []Step{
		countingStep("step1", &ran, StepResult{TotalItems: 5, CompletedItems: 5}, nil),
		countingStep("step2", &ran, StepResult{TotalItems: 5, CompletedItems: 4, FailedItems: 1}, errors.New("1 item failed")),
		countingStep("step3", &ran, StepResult{}, nil),
		countingStep("step4", &ran, StepResult{}, nil),
	}

	res, err := NewOrchestrator("ECLI:BE:CASS:2024:0001", path, steps, nil).Run(context.Background())
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, []string{"step1", "step2"}, ran, "steps 3-4 must not run")

	state, err := LoadState(path)
	require.NoError(t, err)
	require.Equal(t, StepCompleted, state.Steps["step1"].Status)
	require.Equal(t, StepFailed, state.Steps["step2"].Status)
	require.Equal(t, 1, state.Steps["step2"].FailedItems)
	require.Equal(t, StepPending, state.Steps["step3"].Status)
	require.Equal(t, StepPending, state.Steps["step4"].Status)
}

func TestOrchestrator_NonBlockingFailureContinues(t *testing.T) {
	path := statePath(t)
	var ran []string

	steps := []Step{
		countingStep("step1", &ran, StepResult{}, nil),
		{
			ID:          "step2",
			NonBlocking: true,
			Run: func(context.Context) (StepResult, error) {
				ran = append(ran, "step2")
				return StepResult{FailedItems: 2}, errors.New("2 items failed")
			},
		},
		countingStep("step3", &ran, StepResult{}, nil),
	}

	res, err := NewOrchestrator("entity", path, steps, nil).Run(context.Background())
	require.NoError(t, err)
	require.False(t, res.Success, "a failed step still fails the run")
	require.Equal(t, []string{"step1", "step2", "step3"}, ran)
}

func TestOrchestrator_RerunAllCompletedDoesZeroWork(t *testing.T) {
	path := statePath(t)
	var ran []string

	steps := []Step{
		countingStep("step1", &ran, StepResult{TotalItems: 3, CompletedItems: 3}, nil),
		countingStep("step2", &ran, StepResult{TotalItems: 2, CompletedItems: 2}, nil),
	}
	orch := NewOrchestrator("entity", path, steps, nil)

	res, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, ran, 2)

	// Second run: every step already completed, zero new work.
	ran = nil
	res, err = orch.Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Empty(t, ran)

	state, err := LoadState(path)
	require.NoError(t, err)
	require.Equal(t, 3, state.Steps["step1"].CompletedItems, "recorded counts unchanged")
	require.Equal(t, 2, state.Steps["step2"].CompletedItems)
}

func TestOrchestrator_ResumeRunsOnlyUnfinishedSteps(t *testing.T) {
	path := statePath(t)

	// Prior run: step1 completed with recorded counts, no entry for step2+.
	prior := NewState("entity")
	prior.Steps["step1"] = StepState{Status: StepCompleted, TotalItems: 9, CompletedItems: 9, DurationMs: 1234}
	require.NoError(t, prior.Save(path))

	var ran []string
	steps := []Step{
		countingStep("step1", &ran, StepResult{TotalItems: 1}, nil),
		countingStep("step2", &ran, StepResult{TotalItems: 4, CompletedItems: 4}, nil),
		countingStep("step3", &ran, StepResult{}, nil),
		countingStep("step4", &ran, StepResult{}, nil),
	}

	res, err := NewOrchestrator("entity", path, steps, nil).Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, []string{"step2", "step3", "step4"}, ran)

	state, err := LoadState(path)
	require.NoError(t, err)
	require.Equal(t, 9, state.Steps["step1"].CompletedItems, "step1's recorded counts unchanged")
	require.Equal(t, int64(1234), state.Steps["step1"].DurationMs)
}

func TestOrchestrator_SatisfiedStepRecordedAsSkipped(t *testing.T) {
	path := statePath(t)
	var ran []string

	steps := []Step{
		{
			ID:        "step1",
			Satisfied: func(context.Context) (bool, error) { return true, nil },
			Run: func(context.Context) (StepResult, error) {
				ran = append(ran, "step1")
				return StepResult{}, nil
			},
		},
		countingStep("step2", &ran, StepResult{}, nil),
	}

	res, err := NewOrchestrator("entity", path, steps, nil).Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, []string{"step2"}, ran, "satisfied step performs no work")
	require.Equal(t, StepSkipped, res.Steps["step1"].Status)
}

func TestOrchestrator_CorruptStateIsFatal(t *testing.T) {
	path := statePath(t)
	require.NoError(t, os.WriteFile(path, []byte("][ definitely not json"), 0o644))

	var ran []string
	steps := []Step{countingStep("step1", &ran, StepResult{}, nil)}

	_, err := NewOrchestrator("entity", path, steps, nil).Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, common.ErrStateCorruption)
	require.Empty(t, ran, "no step may run on corrupted state")
}

func TestLoadState_AbsentMeansFreshStart(t *testing.T) {
	st, err := LoadState(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	require.Nil(t, st)
}

func TestState_SaveLoadRoundTrip(t *testing.T) {
	path := statePath(t)
	st := NewState("ECLI:BE:CASS:2024:0042")
	st.Steps["extract"] = StepState{Status: StepCompleted, TotalItems: 10, CompletedItems: 8, SkippedItems: 1, FailedItems: 1, DurationMs: 5500}
	require.NoError(t, st.Save(path))

	loaded, err := LoadState(path)
	require.NoError(t, err)
	require.Equal(t, st.EntityID, loaded.EntityID)
	require.Equal(t, st.Steps, loaded.Steps)
}
