package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaharzep/decision-extract/constants"
	"github.com/shaharzep/decision-extract/internal/common"
	"github.com/shaharzep/decision-extract/internal/llm"
)

// AnthropicConfig configures the Anthropic Message Batches provider.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string // default https://api.anthropic.com/v1
	Version string // anthropic-version header, default 2023-06-01
	Timeout time.Duration
}

// AnthropicProvider adapts the Message Batches API to the uniform contract.
// Anthropic has no separate file-upload step: requests ride inline in the
// batch creation call. UploadFile therefore stages the local JSONL under a
// synthetic file id and CreateBatch inlines its rows. Results are exposed
// through a results URL, which this adapter reports as the output file id.
type AnthropicProvider struct {
	cfg    AnthropicConfig
	http   *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	staged map[string]string // synthetic file id -> local path
}

// anthropicStates is the total translation table for Anthropic's native
// processing_status vocabulary. "ended" covers success, errors, expiry and
// cancellation alike; per-request outcomes live in the counts.
var anthropicStates = map[string]constants.BatchState{
	"in_progress": constants.BatchInProgress,
	"canceling":   constants.BatchCancelling,
	"ended":       constants.BatchCompleted,
}

func NewAnthropicProvider(cfg AnthropicConfig, logger *slog.Logger) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, common.NewAppError("CONFIG_ERROR", "Anthropic batch provider requires an API key", common.ErrConfiguration)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	if cfg.Version == "" {
		cfg.Version = "2023-06-01"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicProvider{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		staged: make(map[string]string),
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) url(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}

func (p *AnthropicProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": p.cfg.Version,
	}
}

// UploadFile stages the JSONL locally and returns a synthetic file id.
func (p *AnthropicProvider) UploadFile(_ context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", common.WrapError(err, "stat batch input")
	}
	id := "staged_" + uuid.New().String()
	p.mu.Lock()
	p.staged[id] = path
	p.mu.Unlock()
	p.logger.Info("batch.anthropic.staged", "path", path, "file_id", id)
	return id, nil
}

// CreateBatch reads the staged JSONL, one request object per line, and posts
// them inline to the Message Batches API.
func (p *AnthropicProvider) CreateBatch(ctx context.Context, fileID string, _ map[string]string) (string, error) {
	p.mu.Lock()
	path, ok := p.staged[fileID]
	p.mu.Unlock()
	if !ok {
		return "", common.NewAppError("UNKNOWN_FILE", fmt.Sprintf("file id %q was not staged by this provider", fileID), common.ErrInvalidInput)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", common.WrapError(err, "open batch input")
	}
	defer f.Close()

	var requests []json.RawMessage
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		requests = append(requests, json.RawMessage(line))
	}
	if err := sc.Err(); err != nil {
		return "", common.WrapError(err, "read batch input")
	}
	if len(requests) == 0 {
		return "", common.NewAppError("EMPTY_BATCH", "batch input has no requests", common.ErrInvalidInput)
	}

	raw, _, err := llm.SendJSON(ctx, p.http, p.url("/messages/batches"), map[string]any{"requests": requests}, p.headers(), p.logger)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.ID == "" {
		return "", common.NewAppError("CREATE_DECODE", "create batch response missing id", common.ErrTransport)
	}
	p.logger.Info("batch.anthropic.created", "batch_id", out.ID, "requests", len(requests))
	return out.ID, nil
}

// anthropicBatch is the subset of the native batch object we read.
type anthropicBatch struct {
	ID               string `json:"id"`
	ProcessingStatus string `json:"processing_status"`
	RequestCounts    struct {
		Processing int `json:"processing"`
		Succeeded  int `json:"succeeded"`
		Errored    int `json:"errored"`
		Canceled   int `json:"canceled"`
		Expired    int `json:"expired"`
	} `json:"request_counts"`
	ResultsURL string     `json:"results_url"`
	CreatedAt  time.Time  `json:"created_at"`
	EndedAt    *time.Time `json:"ended_at"`
}

// GetBatchStatus fetches and normalizes the batch snapshot.
func (p *AnthropicProvider) GetBatchStatus(ctx context.Context, batchID string) (*Status, error) {
	raw, err := p.get(ctx, p.url("/messages/batches/"+batchID))
	if err != nil {
		return nil, err
	}
	var b anthropicBatch
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, common.NewAppError("STATUS_DECODE", "decode batch status", common.ErrTransport)
	}
	state, ok := anthropicStates[b.ProcessingStatus]
	if !ok {
		return nil, common.NewAppError("STATUS_TRANSLATE",
			fmt.Sprintf("unrecognized anthropic processing_status %q", b.ProcessingStatus), common.ErrInvalidInput)
	}
	c := b.RequestCounts
	total := c.Processing + c.Succeeded + c.Errored + c.Canceled + c.Expired
	return &Status{
		ID:           b.ID,
		State:        state,
		OutputFileID: b.ResultsURL,
		CreatedAt:    b.CreatedAt,
		CompletedAt:  b.EndedAt,
		Counts: RequestCounts{
			Total:     total,
			Completed: c.Succeeded,
			Failed:    c.Errored + c.Canceled + c.Expired,
		},
	}, nil
}

// DownloadFile streams the batch results. fileID is the results URL reported
// by GetBatchStatus.
func (p *AnthropicProvider) DownloadFile(ctx context.Context, fileID, destPath string) error {
	if !strings.HasPrefix(fileID, "http") {
		return common.NewAppError("BAD_RESULTS_URL", fmt.Sprintf("expected a results URL, got %q", fileID), common.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileID, nil)
	if err != nil {
		return common.WrapError(err, "build download request")
	}
	for k, v := range p.headers() {
		req.Header.Set(k, v)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return common.NewAppError("DOWNLOAD_SEND", "download failed", fmt.Errorf("%w: %v", common.ErrTransport, err))
	}
	defer resp.Body.Close()
	if err := llm.ClassifyStatus(resp.StatusCode); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return common.WrapError(err, "create download dir")
	}
	out, err := os.Create(destPath)
	if err != nil {
		return common.WrapError(err, "create download file")
	}
	defer out.Close()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return common.NewAppError("DOWNLOAD_COPY", "stream to disk", fmt.Errorf("%w: %v", common.ErrTransport, err))
	}
	p.logger.Info("batch.anthropic.downloaded", "batch_results", fileID, "dest", destPath, "bytes", n)
	return nil
}

// CancelBatch requests cancellation; the batch moves through canceling
// asynchronously.
func (p *AnthropicProvider) CancelBatch(ctx context.Context, batchID string) error {
	_, _, err := llm.SendJSON(ctx, p.http, p.url("/messages/batches/"+batchID+"/cancel"), map[string]any{}, p.headers(), p.logger)
	return err
}

func (p *AnthropicProvider) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, common.WrapError(err, "build request")
	}
	for k, v := range p.headers() {
		req.Header.Set(k, v)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, common.NewAppError("HTTP_SEND", "request failed", fmt.Errorf("%w: %v", common.ErrTransport, err))
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if err := llm.ClassifyStatus(resp.StatusCode); err != nil {
		return raw, err
	}
	return raw, nil
}
