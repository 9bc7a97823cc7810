package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaharzep/decision-extract/internal/common"
)

// StepResult carries the item counters a step reports about its own work.
type StepResult struct {
	TotalItems     int
	CompletedItems int
	SkippedItems   int
	FailedItems    int
}

// Step is one named unit of the pipeline.
type Step struct {
	ID string

	// NonBlocking lets later steps run even if this one fails. The default
	// (blocking) is right for steps whose committed output feeds the next.
	NonBlocking bool

	// Satisfied, when set, inspects currently persisted results and reports
	// whether the step's goal is already met. It must be idempotent and must
	// judge content, not mere file existence. A satisfied step is recorded as
	// skipped with zero new work.
	Satisfied func(ctx context.Context) (bool, error)

	// Run does the step's work. Its counters are recorded even when it
	// returns an error.
	Run func(ctx context.Context) (StepResult, error)
}

// Result is the outcome of one orchestrator run.
type Result struct {
	Success bool
	Steps   map[string]StepState
}

// Orchestrator executes ordered steps against one entity, persisting
// cumulative state after every step so a crash between steps loses at most
// the in-flight step's partial progress. Steps never overlap: later steps
// consume earlier steps' committed output, so step boundaries are the only
// safe resumption points.
type Orchestrator struct {
	entityID  string
	statePath string
	steps     []Step
	logger    *slog.Logger
}

func NewOrchestrator(entityID, statePath string, steps []Step, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		entityID:  entityID,
		statePath: statePath,
		steps:     steps,
		logger:    logger,
	}
}

// Run loads prior state (absence = fresh start, corruption = fatal), executes
// the steps in declared order, and returns the per-step summary. Steps
// already completed in prior state are skipped with zero new work; their
// recorded counts stay untouched.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	state, err := LoadState(o.statePath)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = NewState(o.entityID)
	}
	// Declared steps without an entry start out pending.
	for _, step := range o.steps {
		if _, ok := state.Steps[step.ID]; !ok {
			state.Steps[step.ID] = StepState{Status: StepPending}
		}
	}
	if err := state.Save(o.statePath); err != nil {
		return nil, err
	}

	success := true
	halted := false

	for _, step := range o.steps {
		if halted {
			break
		}

		prior := state.Steps[step.ID]
		if prior.Status == StepCompleted {
			o.logger.Info("pipeline.step.fast_path", "entity", o.entityID, "step", step.ID)
			continue
		}

		if step.Satisfied != nil {
			ok, err := step.Satisfied(ctx)
			if err != nil {
				return nil, common.WrapError(err, "inspect step "+step.ID)
			}
			if ok {
				state.Steps[step.ID] = StepState{Status: StepSkipped}
				if err := state.Save(o.statePath); err != nil {
					return nil, err
				}
				o.logger.Info("pipeline.step.skipped", "entity", o.entityID, "step", step.ID)
				continue
			}
		}

		o.logger.Info("pipeline.step.start", "entity", o.entityID, "step", step.ID)
		start := time.Now()
		res, runErr := step.Run(ctx)
		elapsed := time.Since(start)

		next := StepState{
			Status:         StepCompleted,
			TotalItems:     res.TotalItems,
			CompletedItems: res.CompletedItems,
			SkippedItems:   res.SkippedItems,
			FailedItems:    res.FailedItems,
			DurationMs:     elapsed.Milliseconds(),
		}
		if runErr != nil {
			next.Status = StepFailed
			next.Error = runErr.Error()
			success = false
			if !step.NonBlocking {
				halted = true
			}
			o.logger.Error("pipeline.step.failed",
				"entity", o.entityID,
				"step", step.ID,
				"failed_items", res.FailedItems,
				"error", runErr,
				"halting", halted,
			)
		} else {
			o.logger.Info("pipeline.step.done",
				"entity", o.entityID,
				"step", step.ID,
				"total", res.TotalItems,
				"completed", res.CompletedItems,
				"skipped", res.SkippedItems,
				"failed", res.FailedItems,
				"elapsed_ms", next.DurationMs,
			)
		}

		state.Steps[step.ID] = next
		if err := state.Save(o.statePath); err != nil {
			return nil, err
		}
	}

	steps := make(map[string]StepState, len(state.Steps))
	for id, st := range state.Steps {
		steps[id] = st
	}
	return &Result{Success: success, Steps: steps}, nil
}
