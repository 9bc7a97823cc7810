package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shaharzep/decision-extract/constants"
	"github.com/shaharzep/decision-extract/internal/common"
	"github.com/shaharzep/decision-extract/internal/llm"
)

// OpenAIConfig configures the OpenAI batch provider.
type OpenAIConfig struct {
	APIKey           string
	BaseURL          string        // default https://api.openai.com/v1
	Endpoint         string        // request target inside the batch, default /v1/chat/completions
	CompletionWindow string        // default 24h
	Timeout          time.Duration // http client timeout for control calls
}

// OpenAIProvider speaks the OpenAI files + batches REST API.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	http   *http.Client
	logger *slog.Logger
}

// openAIStates is the total translation table for OpenAI's native batch
// vocabulary. The normalized enum mirrors it one-to-one.
var openAIStates = map[string]constants.BatchState{
	"validating":  constants.BatchValidating,
	"failed":      constants.BatchFailed,
	"in_progress": constants.BatchInProgress,
	"finalizing":  constants.BatchFinalizing,
	"completed":   constants.BatchCompleted,
	"expired":     constants.BatchExpired,
	"cancelling":  constants.BatchCancelling,
	"cancelled":   constants.BatchCancelled,
}

// NewOpenAIProvider fails with a configuration error when the API key is
// missing; it never falls back to another provider.
func NewOpenAIProvider(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, common.NewAppError("CONFIG_ERROR", "OpenAI batch provider requires an API key", common.ErrConfiguration)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/v1/chat/completions"
	}
	if cfg.CompletionWindow == "" {
		cfg.CompletionWindow = "24h"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIProvider{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) url(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}

func (p *OpenAIProvider) authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
}

// UploadFile streams the request file as multipart/form-data with
// purpose=batch and returns the provider file id.
func (p *OpenAIProvider) UploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", common.WrapError(err, "open batch input")
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		if err := mw.WriteField("purpose", "batch"); err != nil {
			pw.CloseWithError(err)
			return
		}
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url("/files"), pr)
	if err != nil {
		return "", common.WrapError(err, "build upload request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return "", common.NewAppError("UPLOAD_SEND", "upload failed", fmt.Errorf("%w: %v", common.ErrTransport, err))
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if err := llm.ClassifyStatus(resp.StatusCode); err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.ID == "" {
		return "", common.NewAppError("UPLOAD_DECODE", "upload response missing file id", common.ErrTransport)
	}
	p.logger.Info("batch.openai.uploaded", "path", path, "file_id", out.ID)
	return out.ID, nil
}

// CreateBatch registers a batch over the uploaded input file.
func (p *OpenAIProvider) CreateBatch(ctx context.Context, fileID string, metadata map[string]string) (string, error) {
	body := map[string]any{
		"input_file_id":     fileID,
		"endpoint":          p.cfg.Endpoint,
		"completion_window": p.cfg.CompletionWindow,
	}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}
	raw, _, err := llm.SendJSON(ctx, p.http, p.url("/batches"), body, p.authHeader(), p.logger)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.ID == "" {
		return "", common.NewAppError("CREATE_DECODE", "create batch response missing id", common.ErrTransport)
	}
	p.logger.Info("batch.openai.created", "batch_id", out.ID, "input_file_id", fileID)
	return out.ID, nil
}

// openAIBatch is the subset of the native batch object we read.
type openAIBatch struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	InputFileID   string `json:"input_file_id"`
	OutputFileID  string `json:"output_file_id"`
	ErrorFileID   string `json:"error_file_id"`
	CreatedAt     int64  `json:"created_at"`
	CompletedAt   int64  `json:"completed_at"`
	RequestCounts struct {
		Total     int `json:"total"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	} `json:"request_counts"`
	Errors *struct {
		Data []struct {
			Message string `json:"message"`
		} `json:"data"`
	} `json:"errors"`
}

// GetBatchStatus fetches and normalizes the batch snapshot.
func (p *OpenAIProvider) GetBatchStatus(ctx context.Context, batchID string) (*Status, error) {
	raw, err := p.get(ctx, p.url("/batches/"+batchID))
	if err != nil {
		return nil, err
	}
	var b openAIBatch
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, common.NewAppError("STATUS_DECODE", "decode batch status", common.ErrTransport)
	}
	state, ok := openAIStates[b.Status]
	if !ok {
		return nil, common.NewAppError("STATUS_TRANSLATE",
			fmt.Sprintf("unrecognized openai batch status %q", b.Status), common.ErrInvalidInput)
	}
	st := &Status{
		ID:           b.ID,
		State:        state,
		InputFileID:  b.InputFileID,
		OutputFileID: b.OutputFileID,
		ErrorFileID:  b.ErrorFileID,
		CreatedAt:    time.Unix(b.CreatedAt, 0).UTC(),
		Counts: RequestCounts{
			Total:     b.RequestCounts.Total,
			Completed: b.RequestCounts.Completed,
			Failed:    b.RequestCounts.Failed,
		},
	}
	if b.CompletedAt > 0 {
		t := time.Unix(b.CompletedAt, 0).UTC()
		st.CompletedAt = &t
	}
	if b.Errors != nil {
		for _, e := range b.Errors.Data {
			st.Errors = append(st.Errors, e.Message)
		}
	}
	return st, nil
}

// DownloadFile streams the file contents to destPath. Result files can be
// tens of MB, so the body is copied straight to disk, never buffered whole.
func (p *OpenAIProvider) DownloadFile(ctx context.Context, fileID, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url("/files/"+fileID+"/content"), nil)
	if err != nil {
		return common.WrapError(err, "build download request")
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

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
	p.logger.Info("batch.openai.downloaded", "file_id", fileID, "dest", destPath, "bytes", n)
	return nil
}

// CancelBatch requests cancellation. Best-effort: the provider may finish
// in-flight requests before the batch lands in cancelled.
func (p *OpenAIProvider) CancelBatch(ctx context.Context, batchID string) error {
	_, _, err := llm.SendJSON(ctx, p.http, p.url("/batches/"+batchID+"/cancel"), map[string]any{}, p.authHeader(), p.logger)
	return err
}

func (p *OpenAIProvider) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, common.WrapError(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
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
