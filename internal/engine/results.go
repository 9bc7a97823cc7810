package engine

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/shaharzep/decision-extract/internal/common"
)

const failuresFileName = "failures.jsonl"

// FailureRecord captures everything needed to retry one failed row later
// without re-deriving its identity.
type FailureRecord struct {
	CustomID   string               `json:"custom_id"`
	Reason     common.FailureReason `json:"reason"`
	Error      string               `json:"error"`
	DecisionID string               `json:"decision_id"`
	Language   string               `json:"language"`
	Metadata   map[string]any       `json:"metadata,omitempty"`
}

// failuresWriter appends FailureRecords to a shared JSONL document as they
// happen, one object per line. Appends are serialized by the mutex; no write
// ever needs read-modify-write, so concurrent rows stay safe.
type failuresWriter struct {
	mu    sync.Mutex
	f     *os.File
	count int
}

func newFailuresWriter(dir string) (*failuresWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, common.WrapError(err, "create output dir")
	}
	f, err := os.OpenFile(filepath.Join(dir, failuresFileName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, common.WrapError(err, "open failures document")
	}
	return &failuresWriter{f: f}, nil
}

func (w *failuresWriter) Append(rec FailureRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return common.WrapError(err, "encode failure record")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(append(b, '\n')); err != nil {
		return common.WrapError(err, "append failure record")
	}
	w.count++
	return nil
}

func (w *failuresWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

func (w *failuresWriter) Path() string { return w.f.Name() }

func (w *failuresWriter) Close() error { return w.f.Close() }

// writeRowOutput persists one successful row as <outputDir>/<key>.json.
// The composite identity is embedded in the document so a result file is
// self-describing even when moved.
func writeRowOutput(dir string, row Row, out map[string]any) (string, error) {
	doc := make(map[string]any, len(out)+2)
	for k, v := range out {
		doc[k] = v
	}
	doc["decision_id"] = row.DecisionID
	doc["language"] = row.Language

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", common.WrapError(err, "encode row output")
	}
	path := filepath.Join(dir, row.Key()+".json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", common.WrapError(err, "write row output")
	}
	return path, nil
}

// ReadFailures loads a failures document back into memory, e.g. for a retry
// pass or a report.
func ReadFailures(path string) ([]FailureRecord, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, common.NewAppError("FAILURES_NOT_FOUND", "no failures document at "+path, common.ErrNotFound)
	}
	if err != nil {
		return nil, common.WrapError(err, "read failures document")
	}
	var recs []FailureRecord
	dec := json.NewDecoder(bytes.NewReader(b))
	for dec.More() {
		var rec FailureRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, common.NewAppError("FAILURES_CORRUPT", "failures document is unparseable", common.ErrStateCorruption)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
