package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaharzep/decision-extract/internal/common"
)

// SendJSON sends a JSON request to a full URL with optional headers and returns the raw response body.
// It does not assume any provider (OpenAI/Anthropic/etc.). Callers decide the URL and headers.
// Non-2xx responses come back as classified errors: 429 is ErrRateLimit, everything
// else (including network failures) is ErrTransport.
func SendJSON(ctx context.Context, client *http.Client, url string, body any, headers map[string]string, logger *slog.Logger) ([]byte, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}

	reqID := uuid.New().String()
	start := time.Now()

	bs, err := json.Marshal(body)
	if err != nil {
		logger.Error("llm.http.encode_error", "req_id", reqID, "error", err)
		return nil, 0, fmt.Errorf("encode json: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		logger.Error("llm.http.build_request_error", "req_id", reqID, "error", err)
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	// Default headers; allow caller overrides.
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	logger.Debug("llm.http.request",
		"req_id", reqID,
		"url", url,
		"content_length", len(bs),
	)

	resp, err := client.Do(req)
	if err != nil {
		logger.Error("llm.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, 0, common.NewAppError("HTTP_SEND", "request failed", fmt.Errorf("%w: %v", common.ErrTransport, err))
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logger.Warn("llm.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)

	logger.Debug("llm.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if err := ClassifyStatus(resp.StatusCode); err != nil {
		return raw, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}

// ClassifyStatus maps an HTTP status code onto the failure taxonomy.
func ClassifyStatus(code int) error {
	switch {
	case code/100 == 2:
		return nil
	case code == http.StatusTooManyRequests:
		return common.NewAppError("HTTP_RATE_LIMITED", fmt.Sprintf("status %d", code), common.ErrRateLimit)
	default:
		return common.NewAppError("HTTP_STATUS", fmt.Sprintf("non-2xx status: %d", code), common.ErrTransport)
	}
}
