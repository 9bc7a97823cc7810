package batch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shaharzep/decision-extract/constants"
	"github.com/shaharzep/decision-extract/internal/common"
)

func newOpenAITestProvider(t *testing.T, handler http.Handler) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	return p
}

func TestOpenAIProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{}, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, common.ErrConfiguration)
}

func TestOpenAIProvider_StatusTranslationIsTotal(t *testing.T) {
	want := map[string]constants.BatchState{
		"validating":  constants.BatchValidating,
		"failed":      constants.BatchFailed,
		"in_progress": constants.BatchInProgress,
		"finalizing":  constants.BatchFinalizing,
		"completed":   constants.BatchCompleted,
		"expired":     constants.BatchExpired,
		"cancelling":  constants.BatchCancelling,
		"cancelled":   constants.BatchCancelled,
	}
	// Every documented native status must be covered by the table.
	require.Equal(t, len(want), len(openAIStates))

	for native, normalized := range want {
		t.Run(native, func(t *testing.T) {
			p := newOpenAITestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"id":"batch_1","status":%q,"input_file_id":"file_in","created_at":1700000000}`, native)
			}))
			st, err := p.GetBatchStatus(context.Background(), "batch_1")
			require.NoError(t, err)
			require.Equal(t, normalized, st.State)
		})
	}
}

func TestOpenAIProvider_UnknownStatusIsHardError(t *testing.T) {
	p := newOpenAITestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"batch_1","status":"paused"}`)
	}))

	_, err := p.GetBatchStatus(context.Background(), "batch_1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "paused")
}

func TestOpenAIProvider_StatusCarriesCountsAndFileIDs(t *testing.T) {
	p := newOpenAITestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"id":"batch_1","status":"completed",
			"input_file_id":"file_in","output_file_id":"file_out","error_file_id":"file_err",
			"created_at":1700000000,"completed_at":1700003600,
			"request_counts":{"total":100,"completed":97,"failed":3}
		}`)
	}))

	st, err := p.GetBatchStatus(context.Background(), "batch_1")
	require.NoError(t, err)
	require.Equal(t, "file_out", st.OutputFileID)
	require.Equal(t, "file_err", st.ErrorFileID)
	require.Equal(t, RequestCounts{Total: 100, Completed: 97, Failed: 3}, st.Counts)
	require.NotNil(t, st.CompletedAt)
}

func TestOpenAIProvider_UploadFile(t *testing.T) {
	var gotPurpose string
	p := newOpenAITestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotPurpose = r.FormValue("purpose")
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		fmt.Fprint(w, `{"id":"file_abc"}`)
	}))

	path := filepath.Join(t.TempDir(), "requests.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"custom_id":"d1_FR"}`+"\n"), 0o644))

	id, err := p.UploadFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "file_abc", id)
	require.Equal(t, "batch", gotPurpose)
}

func TestOpenAIProvider_DownloadFileStreamsToDisk(t *testing.T) {
	payload := []byte("{\"custom_id\":\"d1_FR\"}\n{\"custom_id\":\"d2_NL\"}\n")
	p := newOpenAITestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/files/file_out/content", r.URL.Path)
		_, _ = w.Write(payload)
	}))

	dest := filepath.Join(t.TempDir(), "results", "output.jsonl")
	require.NoError(t, p.DownloadFile(context.Background(), "file_out", dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestOpenAIProvider_RateLimitClassified(t *testing.T) {
	p := newOpenAITestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := p.GetBatchStatus(context.Background(), "batch_1")
	require.ErrorIs(t, err, common.ErrRateLimit)
}
