package capabilities

import "context"

// Query analysis categories, mirroring the analyzer service contract.
const (
	CategorySimple     = "simple"
	CategoryComplex    = "complex"
	CategoryRubbish    = "rubbish"
	CategoryMultitopic = "multitopic"
)

// SafetyVerdict is the outcome of a content-safety classification.
type SafetyVerdict struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason,omitempty"`
}

// PatternVerdict is the outcome of a jailbreak or injection classification.
type PatternVerdict struct {
	Flagged bool   `json:"flagged"`
	Reason  string `json:"reason,omitempty"`
}

// Analysis is the structured result of query analysis.
type Analysis struct {
	Category          string   `json:"category"`
	RewrittenQuery    string   `json:"rewritten_query"`
	SubQueries        []string `json:"sub_queries,omitempty"`
	NeedsConfirmation bool     `json:"needs_confirmation"`
	Reason            string   `json:"reason,omitempty"`
}

// SearchResult is one web search response.
type SearchResult struct {
	Content   string   `json:"content"`
	Citations []string `json:"citations,omitempty"`
}

// SafetyClassifier classifies a single piece of text at a gate checkpoint.
type SafetyClassifier interface {
	ClassifyContentSafety(ctx context.Context, text, role string) (SafetyVerdict, error)
}

// JailbreakClassifier inspects recent user messages for jailbreak patterns.
type JailbreakClassifier interface {
	ClassifyJailbreak(ctx context.Context, recentMessages []string) (PatternVerdict, error)
}

// InjectionClassifier inspects recent messages for prompt injection patterns.
type InjectionClassifier interface {
	ClassifyInjection(ctx context.Context, recentMessages []string) (PatternVerdict, error)
}

// QueryAnalyzer classifies and rewrites a research request.
type QueryAnalyzer interface {
	AnalyzeQuery(ctx context.Context, text string) (Analysis, error)
}

// WebSearcher performs one web search inside a research unit's loop.
type WebSearcher interface {
	SearchWeb(ctx context.Context, query string) (SearchResult, error)
}

// Synthesizer turns collected unit findings into the final report text.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, findings []string) (string, error)
}
