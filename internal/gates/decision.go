package gates

import "context"

// Checkpoint identifies where in the task lifecycle a gate runs.
type Checkpoint string

const (
	// Inbound gates the raw user message before any processing.
	Inbound Checkpoint = "inbound"
	// Outbound gates the synthesized report before it becomes visible.
	Outbound Checkpoint = "outbound"
)

// Verdict is the outcome of a gate check.
type Verdict string

const (
	Allow Verdict = "allow"
	Deny  Verdict = "deny"
)

// Decision is the outcome of evaluating one checkpoint. When the verdict is
// deny, Check names the denying check and Reason carries the justification.
type Decision struct {
	Checkpoint Checkpoint
	Check      string
	Verdict    Verdict
	Reason     string
}

// Allowed reports whether the content may proceed.
func (d Decision) Allowed() bool {
	return d.Verdict == Allow
}

// Content is the material a checkpoint evaluates. Text is the message or
// report under inspection; the message slices carry thread context for the
// pattern classifiers.
type Content struct {
	TaskID             string
	Text               string
	RecentUserMessages []string
	RecentMessages     []string
}

// Check is a single safety check. Checks are pure functions of their input
// plus one external classification call.
type Check interface {
	Name() string
	Evaluate(ctx context.Context, content Content) (Decision, error)
}
