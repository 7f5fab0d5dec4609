package capabilities

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/praxislabs/scout/internal/config"
)

// AnalyzerService calls the external query-analysis endpoint.
type AnalyzerService struct {
	client *httpCapability
}

// NewAnalyzerService creates a query analyzer client.
func NewAnalyzerService(cfg config.CapabilitiesConfig, logger *zap.Logger) *AnalyzerService {
	return &AnalyzerService{
		client: newHTTPCapability("analyze", cfg.AnalyzerURL, cfg.Timeout, cfg.Retry, logger),
	}
}

// AnalyzeQuery classifies and rewrites a research request.
func (a *AnalyzerService) AnalyzeQuery(ctx context.Context, text string) (Analysis, error) {
	req := struct {
		Query string `json:"query"`
	}{Query: text}

	var analysis Analysis
	if err := a.client.postJSON(ctx, "/v1/analyze", req, &analysis); err != nil {
		return Analysis{}, err
	}
	return analysis, nil
}

// SearchService calls the external web-search endpoint. Calls are paced by
// a token-bucket limiter so concurrent research units cannot exceed the
// upstream provider's rate.
type SearchService struct {
	client  *httpCapability
	limiter *rate.Limiter
}

// NewSearchService creates a web search client.
func NewSearchService(cfg config.CapabilitiesConfig, research config.ResearchConfig, logger *zap.Logger) *SearchService {
	return &SearchService{
		client:  newHTTPCapability("search", cfg.SearchURL, cfg.Timeout, cfg.Retry, logger),
		limiter: rate.NewLimiter(rate.Limit(research.SearchRatePerSecond), research.SearchBurst),
	}
}

// SearchWeb performs one search call.
func (s *SearchService) SearchWeb(ctx context.Context, query string) (SearchResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return SearchResult{}, fmt.Errorf("search rate limit wait: %w", err)
	}

	req := struct {
		Query string `json:"query"`
	}{Query: query}

	var result SearchResult
	if err := s.client.postJSON(ctx, "/v1/search", req, &result); err != nil {
		return SearchResult{}, err
	}
	return result, nil
}

// SynthesisService calls the external synthesis endpoint once per task.
type SynthesisService struct {
	client *httpCapability
}

// NewSynthesisService creates a synthesis client.
func NewSynthesisService(cfg config.CapabilitiesConfig, logger *zap.Logger) *SynthesisService {
	return &SynthesisService{
		client: newHTTPCapability("synthesize", cfg.SynthesisURL, cfg.Timeout, cfg.Retry, logger),
	}
}

// Synthesize turns unit findings into the final report text.
func (s *SynthesisService) Synthesize(ctx context.Context, query string, findings []string) (string, error) {
	req := struct {
		Query    string   `json:"query"`
		Findings []string `json:"findings"`
	}{Query: query, Findings: findings}

	var resp struct {
		Report string `json:"report"`
	}
	if err := s.client.postJSON(ctx, "/v1/synthesize", req, &resp); err != nil {
		return "", err
	}
	return resp.Report, nil
}
