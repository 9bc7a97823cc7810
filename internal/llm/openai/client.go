package openai

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shaharzep/decision-extract/internal/common"
	"github.com/shaharzep/decision-extract/internal/llm"
)

// Extract implements llm.Extractor using chat/completions with a JSON
// response format. The model output is validated against req.Schema before it
// is returned; a mismatch is a validation failure, never retried upstream.
func (c *Client) Extract(ctx context.Context, req llm.Request) (map[string]any, []byte, error) {
	start := time.Now()

	c.logger.Info("llm.extract.start",
		"custom_id", req.CustomID,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"prompt_len", len(req.Prompt),
	)

	sys := req.System
	if sys == "" {
		sys = "Return ONLY JSON that matches the provided JSON Schema."
	}

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": sys},
			{"role": "user", "content": req.Prompt},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(req.Schema)},
		},
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	raw, status, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if err != nil {
		c.logger.Error("llm.extract.http_error",
			"custom_id", req.CustomID, "status", status, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, raw, err
	}

	content, err := extractContent(raw)
	if err != nil {
		c.logger.Error("llm.extract.bad_envelope", "custom_id", req.CustomID, "error", err)
		return nil, raw, err
	}

	if req.Schema != nil {
		if err := llm.ValidateAgainstSchema(req.Schema, []byte(content)); err != nil {
			c.logger.Warn("llm.extract.schema_mismatch", "custom_id", req.CustomID, "error", err)
			return nil, []byte(content), err
		}
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, []byte(content), common.NewAppError("RESPONSE_NOT_JSON", "model output is not a JSON object", common.ErrValidation)
	}

	c.logger.Info("llm.extract.ok",
		"custom_id", req.CustomID,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return doc, []byte(content), nil
}

// chat/completions response envelope, reduced to what we read.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func extractContent(raw []byte) (string, error) {
	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", common.NewAppError("ENVELOPE_DECODE", "decode chat response", common.ErrValidation)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return "", common.NewAppError("ENVELOPE_EMPTY", "chat response has no content", common.ErrValidation)
	}
	return cr.Choices[0].Message.Content, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
