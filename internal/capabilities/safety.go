package capabilities

import (
	"context"

	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/config"
)

// SafetyService calls the external guard endpoints for content safety,
// jailbreak and prompt-injection classification. Callers (the gate
// pipeline) treat any returned error as a deny.
type SafetyService struct {
	client *httpCapability
}

// NewSafetyService creates a safety classifier client.
func NewSafetyService(cfg config.CapabilitiesConfig, logger *zap.Logger) *SafetyService {
	return &SafetyService{
		client: newHTTPCapability("safety", cfg.SafetyURL, cfg.Timeout, cfg.Retry, logger),
	}
}

// ClassifyContentSafety classifies a single message. Role distinguishes the
// inbound user message from the outbound synthesized report.
func (s *SafetyService) ClassifyContentSafety(ctx context.Context, text, role string) (SafetyVerdict, error) {
	req := struct {
		Text string `json:"text"`
		Role string `json:"role"`
	}{Text: text, Role: role}

	var verdict SafetyVerdict
	if err := s.client.postJSON(ctx, "/v1/guard/content-safety", req, &verdict); err != nil {
		return SafetyVerdict{}, err
	}
	return verdict, nil
}

// ClassifyJailbreak inspects recent user messages for jailbreak patterns.
func (s *SafetyService) ClassifyJailbreak(ctx context.Context, recentMessages []string) (PatternVerdict, error) {
	req := struct {
		Messages []string `json:"messages"`
	}{Messages: recentMessages}

	var verdict PatternVerdict
	if err := s.client.postJSON(ctx, "/v1/guard/jailbreak", req, &verdict); err != nil {
		return PatternVerdict{}, err
	}
	return verdict, nil
}

// ClassifyInjection inspects recent messages for prompt-injection patterns.
func (s *SafetyService) ClassifyInjection(ctx context.Context, recentMessages []string) (PatternVerdict, error) {
	req := struct {
		Messages []string `json:"messages"`
	}{Messages: recentMessages}

	var verdict PatternVerdict
	if err := s.client.postJSON(ctx, "/v1/guard/injection", req, &verdict); err != nil {
		return PatternVerdict{}, err
	}
	return verdict, nil
}
