package gates

import (
	"context"

	"github.com/praxislabs/scout/internal/capabilities"
)

// ContentSafetyCheck classifies the text under inspection. The role tells
// the classifier whether it is looking at a user message or a synthesized
// response.
type ContentSafetyCheck struct {
	classifier capabilities.SafetyClassifier
	role       string
}

// NewContentSafetyCheck creates a content-safety check for the given role.
func NewContentSafetyCheck(classifier capabilities.SafetyClassifier, role string) *ContentSafetyCheck {
	return &ContentSafetyCheck{classifier: classifier, role: role}
}

func (c *ContentSafetyCheck) Name() string { return "content_safety" }

func (c *ContentSafetyCheck) Evaluate(ctx context.Context, content Content) (Decision, error) {
	verdict, err := c.classifier.ClassifyContentSafety(ctx, content.Text, c.role)
	if err != nil {
		return Decision{}, err
	}
	if !verdict.Safe {
		reason := verdict.Reason
		if reason == "" {
			reason = "content violates safety guidelines"
		}
		return Decision{Check: c.Name(), Verdict: Deny, Reason: reason}, nil
	}
	return Decision{Check: c.Name(), Verdict: Allow}, nil
}

// JailbreakCheck inspects the recent user messages of the thread, combined,
// for jailbreak patterns.
type JailbreakCheck struct {
	classifier capabilities.JailbreakClassifier
}

// NewJailbreakCheck creates a jailbreak check.
func NewJailbreakCheck(classifier capabilities.JailbreakClassifier) *JailbreakCheck {
	return &JailbreakCheck{classifier: classifier}
}

func (c *JailbreakCheck) Name() string { return "jailbreak" }

func (c *JailbreakCheck) Evaluate(ctx context.Context, content Content) (Decision, error) {
	messages := content.RecentUserMessages
	if len(messages) == 0 {
		messages = []string{content.Text}
	}
	verdict, err := c.classifier.ClassifyJailbreak(ctx, messages)
	if err != nil {
		return Decision{}, err
	}
	if verdict.Flagged {
		reason := verdict.Reason
		if reason == "" {
			reason = "jailbreak attempt detected"
		}
		return Decision{Check: c.Name(), Verdict: Deny, Reason: reason}, nil
	}
	return Decision{Check: c.Name(), Verdict: Allow}, nil
}

// InjectionCheck inspects recent thread messages for prompt-injection
// patterns.
type InjectionCheck struct {
	classifier capabilities.InjectionClassifier
}

// NewInjectionCheck creates a prompt-injection check.
func NewInjectionCheck(classifier capabilities.InjectionClassifier) *InjectionCheck {
	return &InjectionCheck{classifier: classifier}
}

func (c *InjectionCheck) Name() string { return "prompt_injection" }

func (c *InjectionCheck) Evaluate(ctx context.Context, content Content) (Decision, error) {
	messages := content.RecentMessages
	if len(messages) == 0 {
		messages = []string{content.Text}
	}
	verdict, err := c.classifier.ClassifyInjection(ctx, messages)
	if err != nil {
		return Decision{}, err
	}
	if verdict.Flagged {
		reason := verdict.Reason
		if reason == "" {
			reason = "prompt injection detected"
		}
		return Decision{Check: c.Name(), Verdict: Deny, Reason: reason}, nil
	}
	return Decision{Check: c.Name(), Verdict: Allow}, nil
}
