package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/shaharzep/decision-extract/internal/common"
	"github.com/shaharzep/decision-extract/internal/engine"
	"github.com/shaharzep/decision-extract/internal/export"
	"github.com/shaharzep/decision-extract/internal/llm"
	llmopenai "github.com/shaharzep/decision-extract/internal/llm/openai"
	"github.com/shaharzep/decision-extract/internal/pipeline"
	"github.com/shaharzep/decision-extract/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

// rowsDocument is the committed output of the fetch step; the extract step
// consumes this file, not the database, so resumption never re-queries.
type rowsDocument struct {
	EntityID string       `json:"entity_id"`
	Rows     []engine.Row `json:"rows"`
}

func main() {
	_ = godotenv.Load()

	var (
		entity       = flag.String("entity", "", "pipeline run identity, e.g. a dataset or collection name (required)")
		query        = flag.String("query", "", "SQL returning decision_id, language and prompt columns (required)")
		templateFile = flag.String("template", "", "prompt template file (required)")
		system       = flag.String("system", "", "system message")
		workDir      = flag.String("dir", "", "working directory (defaults to OUTPUT_DIR/<entity>)")
	)
	flag.Parse()

	if *entity == "" || *query == "" || *templateFile == "" {
		printError("Error: --entity, --query and --template are required\n")
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if *workDir == "" {
		*workDir = filepath.Join(cfg.Paths.OutputDir, *entity)
	}
	rowsPath := filepath.Join(*workDir, "rows.json")
	outputDir := filepath.Join(*workDir, "results")
	reportPath := filepath.Join(*workDir, "report.xlsx")
	statePath := filepath.Join(cfg.Paths.StateDir, *entity, "pipeline_state.json")

	tmplBytes, err := os.ReadFile(*templateFile)
	if err != nil {
		log.Fatalf("read template: %v", err)
	}
	schema := llm.BuildCitedProvisionsSchema()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	extractor := llmopenai.NewClient(llmopenai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, nil)

	var lastReport *engine.Report

	steps := []pipeline.Step{
		{
			ID: "fetch-rows",
			// Satisfied when a prior run committed a parseable, non-empty
			// rows document; existence alone is not enough.
			Satisfied: func(context.Context) (bool, error) {
				doc, err := loadRowsDocument(rowsPath)
				if err != nil {
					return false, nil
				}
				return doc.EntityID == *entity && len(doc.Rows) > 0, nil
			},
			Run: func(ctx context.Context) (pipeline.StepResult, error) {
				pool, err := repository.Open(ctx, cfg.Database, nil)
				if err != nil {
					return pipeline.StepResult{}, err
				}
				defer pool.Close()
				decisionRows, err := repository.NewDecisionRepository(pool, nil).FetchRows(ctx, *query)
				if err != nil {
					return pipeline.StepResult{}, err
				}
				rows := make([]engine.Row, len(decisionRows))
				for i, dr := range decisionRows {
					rows[i] = engine.Row{DecisionID: dr.DecisionID, Language: dr.Language, Data: dr.Data}
				}
				if err := saveRowsDocument(rowsPath, rowsDocument{EntityID: *entity, Rows: rows}); err != nil {
					return pipeline.StepResult{}, err
				}
				n := len(rows)
				return pipeline.StepResult{TotalItems: n, CompletedItems: n}, nil
			},
		},
		{
			ID: "extract",
			// Satisfied when every fetched row already has a parseable result
			// document carrying its composite identity.
			Satisfied: func(context.Context) (bool, error) {
				doc, err := loadRowsDocument(rowsPath)
				if err != nil || len(doc.Rows) == 0 {
					return false, nil
				}
				for _, row := range doc.Rows {
					if !rowOutputSatisfied(outputDir, row) {
						return false, nil
					}
				}
				return true, nil
			},
			Run: func(ctx context.Context) (pipeline.StepResult, error) {
				doc, err := loadRowsDocument(rowsPath)
				if err != nil {
					return pipeline.StepResult{}, err
				}
				// Rows already extracted keep their artifacts; only the rest
				// are dispatched.
				var pending []engine.Row
				skipped := 0
				for _, row := range doc.Rows {
					if rowOutputSatisfied(outputDir, row) {
						skipped++
						continue
					}
					pending = append(pending, row)
				}

				job := &engine.Job{
					Name:        *entity + "-extract",
					Mode:        engine.ModeTemplated,
					Concurrency: cfg.Engine.Concurrency,
					OutputDir:   outputDir,
					Extractor:   extractor,
					Templated: &engine.TemplatedSpec{
						System:   *system,
						Template: string(tmplBytes),
						Schema:   schema,
					},
				}
				eng := engine.New(nil, engine.WithRetryPolicy(engine.RetryPolicy{
					MaxAttempts:      cfg.Engine.MaxAttempts,
					InitialBackoff:   cfg.Engine.InitialBackoff,
					RateLimitBackoff: cfg.Engine.RateLimitBackoff,
					MaxBackoff:       cfg.Engine.MaxBackoff,
				}))
				report, err := eng.Run(ctx, job, pending)
				if err != nil {
					return pipeline.StepResult{}, err
				}
				lastReport = report
				res := pipeline.StepResult{
					TotalItems:     len(doc.Rows),
					CompletedItems: report.Succeeded,
					SkippedItems:   skipped,
					FailedItems:    report.Failed,
				}
				if report.Failed > 0 {
					return res, fmt.Errorf("%d rows failed; see %s", report.Failed, report.FailuresPath)
				}
				return res, nil
			},
		},
		{
			ID:          "report",
			NonBlocking: true,
			Run: func(context.Context) (pipeline.StepResult, error) {
				if lastReport == nil {
					// Fast-pathed extract step: rebuild the report from the
					// persisted failures document.
					lastReport = &engine.Report{FailuresPath: filepath.Join(outputDir, "failures.jsonl")}
				}
				failures, err := engine.ReadFailures(lastReport.FailuresPath)
				if err != nil && !errors.Is(err, common.ErrNotFound) {
					return pipeline.StepResult{}, err
				}
				if err := export.NewService(nil).WriteRunReport(reportPath, *entity, lastReport, failures); err != nil {
					return pipeline.StepResult{}, err
				}
				return pipeline.StepResult{TotalItems: 1, CompletedItems: 1}, nil
			},
		},
	}

	orch := pipeline.NewOrchestrator(*entity, statePath, steps, nil)
	result, err := orch.Run(ctx)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}

	for id, st := range result.Steps {
		log.Infow("step summary", "step", id, "status", st.Status,
			"total", st.TotalItems, "completed", st.CompletedItems,
			"skipped", st.SkippedItems, "failed", st.FailedItems)
	}
	if !result.Success {
		log.Fatalf("pipeline for %s finished with failed steps; state at %s", *entity, statePath)
	}
	log.Infof("pipeline for %s finished; state at %s", *entity, statePath)
}

func loadRowsDocument(path string) (*rowsDocument, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc rowsDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func saveRowsDocument(path string, doc rowsDocument) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// rowOutputSatisfied inspects a persisted result document and confirms it
// parses and carries the row's composite identity.
func rowOutputSatisfied(dir string, row engine.Row) bool {
	b, err := os.ReadFile(filepath.Join(dir, row.Key()+".json"))
	if err != nil {
		return false
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return false
	}
	return doc["decision_id"] == row.DecisionID && doc["language"] == row.Language
}
