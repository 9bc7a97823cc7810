package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/shaharzep/decision-extract/constants"
	"github.com/shaharzep/decision-extract/internal/batch"
	"github.com/shaharzep/decision-extract/internal/common"
	"github.com/shaharzep/decision-extract/internal/jobstatus"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func usage() {
	printError("usage: batchctl <submit|status|wait|download|cancel> [flags]\n")
	os.Exit(1)
}

// batchToJob maps a normalized batch state onto the job lifecycle so the
// status document mirrors provider progress during a wait.
func batchToJob(s constants.BatchState) (constants.JobStatus, bool) {
	switch s {
	case constants.BatchValidating:
		return constants.JobStatusValidating, true
	case constants.BatchInProgress:
		return constants.JobStatusInProgress, true
	case constants.BatchFinalizing:
		return constants.JobStatusFinalizing, true
	case constants.BatchCompleted:
		return constants.JobStatusCompleted, true
	case constants.BatchFailed, constants.BatchExpired:
		return constants.JobStatusFailed, true
	case constants.BatchCancelled:
		return constants.JobStatusCancelled, true
	}
	return "", false
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	var (
		providerName = fs.String("provider", "", "batch provider (defaults to BATCH_PROVIDER)")
		input        = fs.String("input", "", "JSONL request file (submit)")
		jobType      = fs.String("job", "", "job type to track in the status store")
		batchID      = fs.String("batch", "", "provider batch id")
		fileID       = fs.String("file", "", "provider file id or results URL")
		dest         = fs.String("dest", "", "destination path (download)")
		interval     = fs.Duration("interval", 30*time.Second, "poll interval (wait)")
		maxWait      = fs.Duration("max-wait", 2*time.Hour, "maximum wait before giving up (wait)")
	)
	_ = fs.Parse(os.Args[2:])

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	cfg := common.LoadConfig()
	if *providerName == "" {
		*providerName = cfg.Batch.Provider
	}

	provider, err := batch.New(*providerName, cfg.Batch, nil)
	if err != nil {
		log.Fatalf("provider: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var tracker *jobstatus.Tracker
	if *jobType != "" {
		tracker = jobstatus.NewTracker(cfg.Paths.StateDir, *jobType, nil)
	}

	switch command {
	case "submit":
		if *input == "" {
			printError("Error: --input is required for submit\n")
			os.Exit(1)
		}
		var meta *jobstatus.JobMetadata
		if tracker != nil {
			if tracker.IsRunning() {
				log.Fatalf("a %s job is already running; refusing to start a second writer", *jobType)
			}
			meta = tracker.Initialize(uuid.New().String())
			if err := tracker.Save(meta); err != nil {
				log.Fatalf("save status: %v", err)
			}
			if err := tracker.UpdateStatus(meta, constants.JobStatusGenerated, nil); err != nil {
				log.Fatalf("update status: %v", err)
			}
		}
		sub, err := batch.SubmitBatchJob(ctx, provider, *input, map[string]string{"job_type": *jobType})
		if err != nil {
			if tracker != nil {
				_ = tracker.AddError(meta, err.Error())
				_ = tracker.UpdateStatus(meta, constants.JobStatusFailed, nil)
			}
			log.Fatalf("submit: %v", err)
		}
		if tracker != nil {
			if err := tracker.UpdateStatus(meta, constants.JobStatusSubmitted, &jobstatus.Patch{ProviderBatchID: sub.BatchID}); err != nil {
				log.Fatalf("update status: %v", err)
			}
		}
		fmt.Printf("file_id=%s batch_id=%s\n", sub.FileID, sub.BatchID)

	case "status":
		if *batchID == "" {
			printError("Error: --batch is required for status\n")
			os.Exit(1)
		}
		st, err := provider.GetBatchStatus(ctx, *batchID)
		if err != nil {
			log.Fatalf("status: %v", err)
		}
		b, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(b))

	case "wait":
		if *batchID == "" {
			printError("Error: --batch is required for wait\n")
			os.Exit(1)
		}
		st, err := batch.WaitForCompletion(ctx, provider, *batchID, *interval, *maxWait, nil)
		if errors.Is(err, common.ErrPollTimeout) {
			log.Warnf("batch %s still %s after %s; resume later with the same id", *batchID, st.State, *maxWait)
			os.Exit(2)
		}
		if err != nil {
			log.Fatalf("wait: %v", err)
		}
		if tracker != nil {
			if meta, loadErr := tracker.Load(); loadErr == nil {
				if js, ok := batchToJob(st.State); ok {
					_ = tracker.UpdateStatus(meta, js, &jobstatus.Patch{
						RecordsProcessed: &st.Counts.Completed,
						RecordsFailed:    &st.Counts.Failed,
					})
				}
			}
		}
		fmt.Printf("state=%s completed=%d failed=%d output_file=%s error_file=%s\n",
			st.State, st.Counts.Completed, st.Counts.Failed, st.OutputFileID, st.ErrorFileID)

	case "download":
		if *fileID == "" || *dest == "" {
			printError("Error: --file and --dest are required for download\n")
			os.Exit(1)
		}
		if err := provider.DownloadFile(ctx, *fileID, *dest); err != nil {
			log.Fatalf("download: %v", err)
		}
		fmt.Printf("downloaded %s to %s\n", *fileID, *dest)

	case "cancel":
		if *batchID == "" {
			printError("Error: --batch is required for cancel\n")
			os.Exit(1)
		}
		if err := provider.CancelBatch(ctx, *batchID); err != nil {
			log.Fatalf("cancel: %v", err)
		}
		if tracker != nil {
			if meta, loadErr := tracker.Load(); loadErr == nil {
				_ = tracker.UpdateStatus(meta, constants.JobStatusCancelled, nil)
			}
		}
		fmt.Printf("cancellation requested for %s\n", *batchID)

	default:
		usage()
	}
}
