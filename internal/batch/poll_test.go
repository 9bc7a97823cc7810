package batch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaharzep/decision-extract/constants"
	"github.com/shaharzep/decision-extract/internal/common"
)

// scriptedProvider returns a fixed sequence of states, then repeats the last.
type scriptedProvider struct {
	states []constants.BatchState
	polls  int
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) GetBatchStatus(_ context.Context, batchID string) (*Status, error) {
	i := s.polls
	if i >= len(s.states) {
		i = len(s.states) - 1
	}
	s.polls++
	return &Status{ID: batchID, State: s.states[i]}, nil
}

func (s *scriptedProvider) UploadFile(context.Context, string) (string, error) {
	return "file_1", nil
}
func (s *scriptedProvider) CreateBatch(context.Context, string, map[string]string) (string, error) {
	return "batch_1", nil
}
func (s *scriptedProvider) DownloadFile(context.Context, string, string) error { return nil }
func (s *scriptedProvider) CancelBatch(context.Context, string) error          { return nil }

func TestWaitForCompletion_TerminalState(t *testing.T) {
	p := &scriptedProvider{states: []constants.BatchState{
		constants.BatchValidating,
		constants.BatchInProgress,
		constants.BatchCompleted,
	}}

	st, err := WaitForCompletion(context.Background(), p, "batch_1", time.Millisecond, time.Second, nil)
	require.NoError(t, err)
	require.Equal(t, constants.BatchCompleted, st.State)
	require.Equal(t, 3, p.polls)
}

func TestWaitForCompletion_ZeroMaxWaitChecksExactlyOnce(t *testing.T) {
	p := &scriptedProvider{states: []constants.BatchState{constants.BatchInProgress}}

	st, err := WaitForCompletion(context.Background(), p, "batch_1", time.Millisecond, 0, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, common.ErrPollTimeout)
	require.Equal(t, 1, p.polls)
	require.NotNil(t, st, "timeout still returns the last snapshot")
	require.Equal(t, constants.BatchInProgress, st.State)
}

func TestWaitForCompletion_ZeroMaxWaitTerminalSucceeds(t *testing.T) {
	p := &scriptedProvider{states: []constants.BatchState{constants.BatchCancelled}}

	st, err := WaitForCompletion(context.Background(), p, "batch_1", time.Millisecond, 0, nil)
	require.NoError(t, err)
	require.Equal(t, constants.BatchCancelled, st.State)
	require.Equal(t, 1, p.polls)
}

func TestWaitForCompletion_TimeoutLeavesBatchResumable(t *testing.T) {
	p := &scriptedProvider{states: []constants.BatchState{constants.BatchInProgress}}

	_, err := WaitForCompletion(context.Background(), p, "batch_1", 5*time.Millisecond, 12*time.Millisecond, nil)
	require.ErrorIs(t, err, common.ErrPollTimeout)

	// The caller can resume polling with the same id; the provider was never
	// asked to change anything.
	p.states = []constants.BatchState{constants.BatchCompleted}
	p.polls = 0
	st, err := WaitForCompletion(context.Background(), p, "batch_1", time.Millisecond, time.Second, nil)
	require.NoError(t, err)
	require.Equal(t, constants.BatchCompleted, st.State)
}

func TestSubmitBatchJob_ReturnsBothIDs(t *testing.T) {
	p := &scriptedProvider{states: []constants.BatchState{constants.BatchValidating}}

	sub, err := SubmitBatchJob(context.Background(), p, "/tmp/requests.jsonl", nil)
	require.NoError(t, err)
	require.Equal(t, "file_1", sub.FileID)
	require.Equal(t, "batch_1", sub.BatchID)
}
