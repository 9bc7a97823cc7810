package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaharzep/decision-extract/internal/common"
)

// WaitForCompletion polls the batch on pollInterval until it reaches a
// terminal state or maxWait elapses. On timeout it returns the last snapshot
// together with an error wrapping common.ErrPollTimeout; the batch itself is
// untouched and the caller may resume polling later with the same id.
// maxWait == 0 performs exactly one status check.
func WaitForCompletion(ctx context.Context, p Provider, batchID string, pollInterval, maxWait time.Duration, logger *slog.Logger) (*Status, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	deadline := time.Now().Add(maxWait)

	for {
		st, err := p.GetBatchStatus(ctx, batchID)
		if err != nil {
			return nil, err
		}
		logger.Info("batch.poll",
			"provider", p.Name(),
			"batch_id", batchID,
			"state", st.State,
			"completed", st.Counts.Completed,
			"failed", st.Counts.Failed,
			"total", st.Counts.Total,
		)
		if st.State.Terminal() {
			return st, nil
		}
		if !time.Now().Before(deadline) {
			return st, common.NewAppError("POLL_TIMEOUT",
				fmt.Sprintf("batch %s not terminal after %s", batchID, maxWait),
				common.ErrPollTimeout)
		}

		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
