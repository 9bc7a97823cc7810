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
	"sync"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/shaharzep/decision-extract/constants"
	"github.com/shaharzep/decision-extract/internal/common"
	"github.com/shaharzep/decision-extract/internal/engine"
	"github.com/shaharzep/decision-extract/internal/export"
	"github.com/shaharzep/decision-extract/internal/jobstatus"
	"github.com/shaharzep/decision-extract/internal/llm"
	llmopenai "github.com/shaharzep/decision-extract/internal/llm/openai"
	"github.com/shaharzep/decision-extract/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	_ = godotenv.Load()

	var (
		jobType      = flag.String("job", "", "job type name (required)")
		query        = flag.String("query", "", "SQL returning decision_id, language and prompt columns (required)")
		templateFile = flag.String("template", "", "prompt template file (required)")
		schemaFile   = flag.String("schema", "", "JSON schema file (defaults to the cited-provisions schema)")
		system       = flag.String("system", "", "system message")
		concurrency  = flag.Int("concurrency", 0, "override ENGINE_CONCURRENCY")
		out          = flag.String("out", "", "output directory (defaults to OUTPUT_DIR/<job>)")
		reportPath   = flag.String("report", "", "write an XLSX run report to this path")
	)
	flag.Parse()

	if *jobType == "" || *query == "" || *templateFile == "" {
		printError("Error: --job, --query and --template are required\n")
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if *concurrency > 0 {
		cfg.Engine.Concurrency = *concurrency
	}
	if *out == "" {
		*out = filepath.Join(cfg.Paths.OutputDir, *jobType)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tracker := jobstatus.NewTracker(cfg.Paths.StateDir, *jobType, nil)
	if tracker.IsRunning() {
		log.Fatalf("a %s job is already running; refusing to start a second writer", *jobType)
	}

	tmplBytes, err := os.ReadFile(*templateFile)
	if err != nil {
		log.Fatalf("read template: %v", err)
	}
	schema := llm.BuildCitedProvisionsSchema()
	if *schemaFile != "" {
		b, err := os.ReadFile(*schemaFile)
		if err != nil {
			log.Fatalf("read schema: %v", err)
		}
		schema = map[string]any{}
		if err := json.Unmarshal(b, &schema); err != nil {
			log.Fatalf("parse schema: %v", err)
		}
	}
	if _, err := llm.CompileSchema(schema); err != nil {
		log.Fatalf("schema does not compile: %v", err)
	}

	pool, err := repository.Open(ctx, cfg.Database, nil)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	decisionRows, err := repository.NewDecisionRepository(pool, nil).FetchRows(ctx, *query)
	if err != nil {
		log.Fatalf("fetch rows: %v", err)
	}
	rows := make([]engine.Row, len(decisionRows))
	for i, dr := range decisionRows {
		rows[i] = engine.Row{DecisionID: dr.DecisionID, Language: dr.Language, Data: dr.Data}
	}
	log.Infof("fetched %d rows for job %s", len(rows), *jobType)

	meta := tracker.Initialize(uuid.New().String())
	if err := tracker.Save(meta); err != nil {
		log.Fatalf("save status: %v", err)
	}
	total := len(rows)
	if err := tracker.UpdateStatus(meta, constants.JobStatusGenerated, &jobstatus.Patch{TotalRecords: &total}); err != nil {
		log.Fatalf("update status: %v", err)
	}

	extractor := llmopenai.NewClient(llmopenai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, nil)

	job := &engine.Job{
		Name:        *jobType,
		Mode:        engine.ModeTemplated,
		Concurrency: cfg.Engine.Concurrency,
		OutputDir:   *out,
		Extractor:   extractor,
		Templated: &engine.TemplatedSpec{
			System:   *system,
			Template: string(tmplBytes),
			Schema:   schema,
		},
	}

	if err := tracker.UpdateStatus(meta, constants.JobStatusInProgress, nil); err != nil {
		log.Fatalf("update status: %v", err)
	}

	// The tracker is single-writer; serialize progress saves and only persist
	// every few rows to keep the status file from churning.
	var progressMu sync.Mutex
	eng := engine.New(nil,
		engine.WithRetryPolicy(engine.RetryPolicy{
			MaxAttempts:      cfg.Engine.MaxAttempts,
			InitialBackoff:   cfg.Engine.InitialBackoff,
			RateLimitBackoff: cfg.Engine.RateLimitBackoff,
			MaxBackoff:       cfg.Engine.MaxBackoff,
		}),
		engine.WithProgress(func(processed, failed int) {
			if processed%25 != 0 && processed != total {
				return
			}
			progressMu.Lock()
			defer progressMu.Unlock()
			if err := tracker.UpdateProgress(meta, processed, failed); err != nil {
				log.Warnf("persist progress: %v", err)
			}
		}),
	)

	report, err := eng.Run(ctx, job, rows)
	if err != nil {
		_ = tracker.AddError(meta, err.Error())
		_ = tracker.UpdateStatus(meta, constants.JobStatusFailed, nil)
		log.Fatalf("run: %v", err)
	}

	final := constants.JobStatusCompleted
	if report.Attempted > 0 && report.Succeeded == 0 {
		final = constants.JobStatusFailed
	}
	if err := tracker.UpdateStatus(meta, final, &jobstatus.Patch{
		RecordsProcessed: &report.Attempted,
		RecordsFailed:    &report.Failed,
	}); err != nil {
		log.Fatalf("update status: %v", err)
	}

	if *reportPath != "" {
		failures, err := engine.ReadFailures(report.FailuresPath)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			log.Warnf("read failures for report: %v", err)
		}
		if err := export.NewService(nil).WriteRunReport(*reportPath, *jobType, report, failures); err != nil {
			log.Warnf("write report: %v", err)
		} else {
			log.Infof("report written to %s", *reportPath)
		}
	}

	log.Infof("job %s finished: attempted=%d succeeded=%d failed=%d failures=%s",
		*jobType, report.Attempted, report.Succeeded, report.Failed, report.FailuresPath)
}
