package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shaharzep/decision-extract/internal/common"
	"github.com/shaharzep/decision-extract/internal/llm"
)

// Report is the aggregate outcome of one run. It is produced even under
// widespread row failure; only fatal setup errors abort without one.
type Report struct {
	Attempted    int
	Succeeded    int
	Failed       int
	FailuresPath string
}

// Engine executes many independent per-row operations with a bounded number
// in flight. Per-row failures are isolated at the row boundary and recorded;
// they never abort sibling rows.
type Engine struct {
	logger *slog.Logger
	retry  RetryPolicy

	// onProgress, when set, is invoked after every row settles with the
	// cumulative processed and failed counts.
	onProgress func(processed, failed int)
}

type Option func(*Engine)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

func WithProgress(fn func(processed, failed int)) Option {
	return func(e *Engine) { e.onProgress = fn }
}

func New(logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{logger: logger, retry: DefaultRetryPolicy()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes the job over rows with at most job.Concurrency rows in flight.
// Cancelling ctx stops dispatching new rows; rows already dispatched run to
// completion. Every dispatched row is accounted for exactly once as a success
// artifact or a failure record.
func (e *Engine) Run(ctx context.Context, job *Job, rows []Row) (*Report, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	failures, err := newFailuresWriter(job.OutputDir)
	if err != nil {
		return nil, err
	}
	defer failures.Close()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		attempted int
		succeeded int
		failed    int
	)

	settle := func(ok bool) {
		mu.Lock()
		attempted++
		if ok {
			succeeded++
		} else {
			failed++
		}
		p, f := attempted, failed
		mu.Unlock()
		if e.onProgress != nil {
			e.onProgress(p, f)
		}
	}

	ch := make(chan Row)
	for i := 0; i < job.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			e.logger.Debug("engine.worker.started", "job", job.Name, "worker_id", workerID)
			for row := range ch {
				ok := e.runRow(ctx, job, row, failures)
				settle(ok)
			}
			e.logger.Debug("engine.worker.stopped", "job", job.Name, "worker_id", workerID)
		}(i + 1)
	}

	dispatched := 0
dispatch:
	for _, row := range rows {
		select {
		case <-ctx.Done():
			e.logger.Warn("engine.dispatch.cancelled", "job", job.Name, "dispatched", dispatched, "remaining", len(rows)-dispatched)
			break dispatch
		case ch <- row:
			dispatched++
		}
	}
	close(ch)
	wg.Wait()

	report := &Report{
		Attempted:    attempted,
		Succeeded:    succeeded,
		Failed:       failed,
		FailuresPath: failures.Path(),
	}
	e.logger.Info("engine.run.done",
		"job", job.Name,
		"attempted", report.Attempted,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
	)
	return report, nil
}

// runRow executes one row end to end and reports whether it succeeded.
// Every failure path lands in the failures document; nothing escapes the row
// boundary.
func (e *Engine) runRow(ctx context.Context, job *Job, row Row, failures *failuresWriter) bool {
	out, err := e.executeRow(ctx, job, row)
	if err != nil {
		e.recordFailure(job, row, err, failures)
		return false
	}
	if _, err := writeRowOutput(job.OutputDir, row, out); err != nil {
		e.recordFailure(job, row, err, failures)
		return false
	}
	return true
}

func (e *Engine) executeRow(ctx context.Context, job *Job, row Row) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = common.NewAppError("ROW_PANIC", fmt.Sprintf("row %s panicked: %v", row.Key(), r), nil)
		}
	}()

	switch job.Mode {
	case ModeCustom:
		err = e.retry.Do(ctx, e.logger, row.Key(), func(ctx context.Context) error {
			out, err = job.Custom.Run(ctx, row)
			return err
		})
		return out, err
	case ModeTemplated:
		return e.runTemplated(ctx, job.Extractor, *job.Templated, row)
	case ModeTwoStage:
		first, err := e.runTemplated(ctx, job.Extractor, job.TwoStage.Extract, row)
		if err != nil {
			return nil, err
		}
		refined := row
		refined.Data = make(map[string]any, len(row.Data)+1)
		for k, v := range row.Data {
			refined.Data[k] = v
		}
		refined.Data["first_pass"] = first
		return e.runTemplated(ctx, job.Extractor, job.TwoStage.Refine, refined)
	default:
		return nil, common.NewAppError("JOB_INVALID", fmt.Sprintf("unknown mode %q", job.Mode), common.ErrInvalidInput)
	}
}

// runTemplated is the per-row pipeline: preprocess, render, call with schema
// validation, postprocess. Only the provider call sits inside the retry loop;
// validation failures fall out of it immediately.
func (e *Engine) runTemplated(ctx context.Context, extractor llm.Extractor, spec TemplatedSpec, row Row) (map[string]any, error) {
	if spec.Preprocess != nil {
		if err := spec.Preprocess(ctx, &row); err != nil {
			return nil, common.WrapError(err, "preprocess")
		}
	}

	tmpl, err := llm.ParsePromptTemplate(spec.Template)
	if err != nil {
		return nil, err
	}
	prompt, err := tmpl.Render(row.Data)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	err = e.retry.Do(ctx, e.logger, row.Key(), func(ctx context.Context) error {
		doc, _, err := extractor.Extract(ctx, llm.Request{
			CustomID:  row.Key(),
			System:    spec.System,
			Prompt:    prompt,
			Schema:    spec.Schema,
			MaxTokens: spec.MaxTokens,
		})
		if err != nil {
			return err
		}
		out = doc
		return nil
	})
	if err != nil {
		return nil, err
	}

	if spec.Postprocess != nil {
		out, err = spec.Postprocess(ctx, row, out)
		if err != nil {
			return nil, common.WrapError(err, "postprocess")
		}
	}
	return out, nil
}

func (e *Engine) recordFailure(job *Job, row Row, cause error, failures *failuresWriter) {
	rec := FailureRecord{
		CustomID:   row.Key(),
		Reason:     common.ClassifyFailure(cause),
		Error:      cause.Error(),
		DecisionID: row.DecisionID,
		Language:   row.Language,
	}
	e.logger.Warn("engine.row.failed",
		"job", job.Name,
		"custom_id", rec.CustomID,
		"reason", rec.Reason,
		"error", cause,
	)
	if err := failures.Append(rec); err != nil {
		e.logger.Error("engine.failures.append_error", "job", job.Name, "custom_id", rec.CustomID, "error", err)
	}
}
