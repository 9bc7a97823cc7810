package llm

import "context"

// Request is one structured-extraction call against a provider.
type Request struct {
	CustomID  string         // stable composite identity of the row (for tracing)
	System    string         // system message
	Prompt    string         // rendered user prompt
	Schema    map[string]any // JSON Schema the response must satisfy
	MaxTokens int            // 0 means provider default
}

// Extractor is the interface the execution engine depends on for per-row
// synchronous calls. Implementations must return the parsed document and the
// raw response body, and classify failures with the common error taxonomy.
type Extractor interface {
	Extract(ctx context.Context, req Request) (map[string]any, []byte, error)
}
