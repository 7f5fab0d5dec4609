package gates

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/metrics"
)

// Pipeline runs a fixed ordered list of checks per checkpoint. Checks run
// in declared order, cheapest first, and the first deny short-circuits the
// rest. A check error or timeout is a deny, never an allow.
type Pipeline struct {
	inbound      []Check
	outbound     []Check
	checkTimeout time.Duration
	logger       *zap.Logger
}

// NewPipeline creates a gate pipeline with the given per-checkpoint check
// orders.
func NewPipeline(inbound, outbound []Check, checkTimeout time.Duration, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		inbound:      inbound,
		outbound:     outbound,
		checkTimeout: checkTimeout,
		logger:       logger,
	}
}

// Evaluate runs the checkpoint's checks against the content and returns the
// first deny, or an allow once every check passed.
func (p *Pipeline) Evaluate(ctx context.Context, checkpoint Checkpoint, content Content) Decision {
	checks := p.inbound
	if checkpoint == Outbound {
		checks = p.outbound
	}

	for _, check := range checks {
		decision := p.runCheck(ctx, checkpoint, check, content)
		metrics.GateDecisions.WithLabelValues(string(checkpoint), decision.Check, string(decision.Verdict)).Inc()
		if !decision.Allowed() {
			p.logger.Info("Gate denied content",
				zap.String("task_id", content.TaskID),
				zap.String("checkpoint", string(checkpoint)),
				zap.String("check", decision.Check),
				zap.String("reason", decision.Reason),
			)
			return decision
		}
	}
	return Decision{Checkpoint: checkpoint, Verdict: Allow}
}

func (p *Pipeline) runCheck(ctx context.Context, checkpoint Checkpoint, check Check, content Content) Decision {
	cctx, cancel := context.WithTimeout(ctx, p.checkTimeout)
	defer cancel()

	start := time.Now()
	decision, err := check.Evaluate(cctx, content)
	metrics.GateCheckDuration.WithLabelValues(check.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		// Fail closed: an unreachable classifier cannot vouch for safety.
		p.logger.Warn("Gate check failed, denying",
			zap.String("task_id", content.TaskID),
			zap.String("checkpoint", string(checkpoint)),
			zap.String("check", check.Name()),
			zap.Error(err),
		)
		return Decision{
			Checkpoint: checkpoint,
			Check:      check.Name(),
			Verdict:    Deny,
			Reason:     "safety check unavailable",
		}
	}
	decision.Checkpoint = checkpoint
	return decision
}
