// Package orchestrator drives a research task from submission to a terminal
// state: safety gating, query analysis, optional human confirmation, bounded
// research delegation, synthesis, and an outbound gate on the report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/capabilities"
	"github.com/praxislabs/scout/internal/gates"
	"github.com/praxislabs/scout/internal/interrupts"
	"github.com/praxislabs/scout/internal/metrics"
	"github.com/praxislabs/scout/internal/research"
	"github.com/praxislabs/scout/internal/taskstore"
	"github.com/praxislabs/scout/internal/threads"
	"github.com/praxislabs/scout/internal/tracing"
)

// User-visible failure texts. Gate denials never leak classifier reasons.
const (
	inboundRefusal  = "I cannot process that request as it violates safety guidelines."
	outboundRefusal = "We are unable to give you response as it violates our safety guidelines."
	internalFault   = "internal error during task processing"
)

// Window sizes for the thread context handed to the pattern classifiers.
const (
	jailbreakWindow = 10
	injectionWindow = 5
)

// Config bounds a single task run.
type Config struct {
	// TaskTimeout caps the whole run, including any approval wait.
	TaskTimeout time.Duration
	// ApprovalTimeout caps the approval wait separately; zero means the
	// wait shares the task deadline.
	ApprovalTimeout time.Duration
}

// Orchestrator executes research tasks end to end.
type Orchestrator struct {
	store       *taskstore.Store
	threads     *threads.History
	gates       *gates.Pipeline
	broker      *interrupts.Broker
	runner      *research.Runner
	analyzer    capabilities.QueryAnalyzer
	synthesizer capabilities.Synthesizer
	cfg         Config
	logger      *zap.Logger
}

// New assembles an orchestrator from its collaborators.
func New(
	store *taskstore.Store,
	history *threads.History,
	pipeline *gates.Pipeline,
	broker *interrupts.Broker,
	runner *research.Runner,
	analyzer capabilities.QueryAnalyzer,
	synthesizer capabilities.Synthesizer,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:       store,
		threads:     history,
		gates:       pipeline,
		broker:      broker,
		runner:      runner,
		analyzer:    analyzer,
		synthesizer: synthesizer,
		cfg:         cfg,
		logger:      logger,
	}
}

// Run processes one task to a terminal state. It never returns an error:
// every failure path records a failed status on the task instead. A panic
// anywhere in the run is recovered and recorded as a generic failure.
func (o *Orchestrator) Run(ctx context.Context, task *taskstore.Task) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.TaskTimeout)
	defer cancel()

	ctx, span := tracing.StartStage(ctx, "task.run", task.ID)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			metrics.WorkerPanicsRecovered.Inc()
			o.logger.Error("Recovered panic in task run",
				zap.String("task_id", task.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			o.fail(ctx, task, internalFault)
		}
		metrics.TaskDuration.Observe(time.Since(start).Seconds())
	}()

	logger := o.logger.With(zap.String("task_id", task.ID), zap.String("thread_id", task.ThreadID))

	if err := o.store.MarkProcessing(ctx, task.ID); err != nil {
		logger.Warn("Could not mark task processing", zap.Error(err))
	}
	if err := o.threads.Append(ctx, task.ThreadID, threads.Message{
		Role:    threads.RoleUser,
		Content: task.Message,
	}); err != nil {
		logger.Warn("Could not record user message", zap.Error(err))
	}

	// Inbound gate.
	if !o.gateInbound(ctx, task, logger) {
		return
	}

	// Query analysis.
	analysis, ok := o.analyze(ctx, task, logger)
	if !ok {
		return
	}

	query := analysis.RewrittenQuery
	if query == "" {
		query = task.Message
	}

	// Human confirmation, when the analyzer asks for it.
	if analysis.NeedsConfirmation {
		query, ok = o.awaitApproval(ctx, task, query, logger)
		if !ok {
			return
		}
	}

	// Research delegation.
	findings, ok := o.delegate(ctx, task, query, analysis.SubQueries, logger)
	if !ok {
		return
	}

	// Synthesis.
	sctx, sspan := tracing.StartStage(ctx, "task.synthesize", task.ID)
	report, err := o.synthesizer.Synthesize(sctx, query, findings)
	sspan.End()
	if err != nil {
		logger.Error("Synthesis failed", zap.Error(err))
		o.fail(ctx, task, "report synthesis failed")
		return
	}

	// Outbound gate on the synthesized report. A denied report is
	// discarded, never stored.
	decision := o.gates.Evaluate(ctx, gates.Outbound, gates.Content{
		TaskID: task.ID,
		Text:   report,
	})
	if !decision.Allowed() {
		o.fail(ctx, task, denialReason(outboundRefusal, decision))
		return
	}

	o.complete(ctx, task, report, logger)
}

func (o *Orchestrator) gateInbound(ctx context.Context, task *taskstore.Task, logger *zap.Logger) bool {
	gctx, span := tracing.StartStage(ctx, "task.gate_inbound", task.ID)
	defer span.End()

	userMsgs, err := o.threads.RecentByRole(gctx, task.ThreadID, threads.RoleUser, jailbreakWindow)
	if err != nil {
		logger.Warn("Could not load recent user messages", zap.Error(err))
	}
	allMsgs, err := o.threads.Recent(gctx, task.ThreadID, injectionWindow)
	if err != nil {
		logger.Warn("Could not load recent messages", zap.Error(err))
	}

	decision := o.gates.Evaluate(gctx, gates.Inbound, gates.Content{
		TaskID:             task.ID,
		Text:               task.Message,
		RecentUserMessages: threads.Contents(userMsgs),
		RecentMessages:     threads.Contents(allMsgs),
	})
	if decision.Allowed() {
		return true
	}
	o.fail(ctx, task, denialReason(inboundRefusal, decision))
	return false
}

// denialReason keeps the user-visible refusal text first and appends the
// denying check's reason so a failed poll says which detection fired.
func denialReason(refusal string, decision gates.Decision) string {
	if decision.Reason == "" {
		return refusal
	}
	return fmt.Sprintf("%s (%s)", refusal, decision.Reason)
}

func (o *Orchestrator) analyze(ctx context.Context, task *taskstore.Task, logger *zap.Logger) (capabilities.Analysis, bool) {
	actx, span := tracing.StartStage(ctx, "task.analyze", task.ID)
	defer span.End()

	analysis, err := o.analyzer.AnalyzeQuery(actx, task.Message)
	if err != nil {
		logger.Error("Query analysis failed", zap.Error(err))
		o.fail(ctx, task, "query analysis failed")
		return capabilities.Analysis{}, false
	}

	if analysis.Category == capabilities.CategoryRubbish {
		reason := analysis.Reason
		if reason == "" {
			reason = "query could not be understood as a research request"
		}
		o.fail(ctx, task, reason)
		return capabilities.Analysis{}, false
	}
	return analysis, true
}

// awaitApproval pauses the run until an external actor resolves the raised
// interrupt. It returns the possibly modified query and whether the run may
// proceed.
func (o *Orchestrator) awaitApproval(ctx context.Context, task *taskstore.Task, query string, logger *zap.Logger) (string, bool) {
	wctx, span := tracing.StartStage(ctx, "task.await_approval", task.ID)
	defer span.End()

	if _, err := o.broker.Raise(task.ID, query); err != nil {
		logger.Error("Could not raise interrupt", zap.Error(err))
		o.fail(ctx, task, internalFault)
		return "", false
	}

	if o.cfg.ApprovalTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(wctx, o.cfg.ApprovalTimeout)
		defer cancel()
	}

	verdict, err := o.broker.Await(wctx, task.ID)
	if err != nil {
		if errors.Is(err, interrupts.ErrInterruptTimedOut) {
			o.fail(ctx, task, "task timed out awaiting approval")
		} else {
			logger.Error("Approval wait failed", zap.Error(err))
			o.fail(ctx, task, internalFault)
		}
		return "", false
	}

	if !verdict.Approved {
		reason := "research plan rejected"
		if verdict.Feedback != "" {
			reason = fmt.Sprintf("%s: %s", reason, verdict.Feedback)
		}
		o.fail(ctx, task, reason)
		return "", false
	}
	if verdict.ModifiedQuery != "" {
		query = verdict.ModifiedQuery
	}
	return query, true
}

// delegate fans the query out to research units and collects the usable
// findings. Sub-queries from a multitopic analysis each become a unit;
// otherwise the whole query is a single unit.
func (o *Orchestrator) delegate(ctx context.Context, task *taskstore.Task, query string, subQueries []string, logger *zap.Logger) ([]string, bool) {
	dctx, span := tracing.StartStage(ctx, "task.delegate", task.ID)
	defer span.End()

	queries := subQueries
	if len(queries) == 0 {
		queries = []string{query}
	}
	units := make([]research.Unit, len(queries))
	for i, q := range queries {
		units[i] = research.Unit{ID: fmt.Sprintf("%s/%d", task.ID, i), Query: q}
	}

	outcomes := o.runner.RunAll(dctx, units)

	var findings []string
	for _, outcome := range outcomes {
		if outcome.Succeeded() {
			findings = append(findings, outcome.Content)
			continue
		}
		logger.Warn("Research unit failed",
			zap.String("unit_id", outcome.UnitID),
			zap.Int("iterations", outcome.Iterations),
			zap.Error(outcome.Err),
		)
	}
	if len(findings) == 0 {
		o.fail(ctx, task, "research failed to produce findings")
		return nil, false
	}
	return findings, true
}

func (o *Orchestrator) complete(ctx context.Context, task *taskstore.Task, report string, logger *zap.Logger) {
	wctx, cancel := terminalContext(ctx)
	defer cancel()

	if err := o.store.Complete(wctx, task.ID, report); err != nil {
		logger.Warn("Could not record completion", zap.Error(err))
	}
	if err := o.threads.Append(wctx, task.ThreadID, threads.Message{
		Role:    threads.RoleAssistant,
		Content: report,
	}); err != nil {
		logger.Warn("Could not record assistant message", zap.Error(err))
	}
	metrics.TasksCompleted.WithLabelValues(string(taskstore.StatusCompleted)).Inc()
	logger.Info("Task completed")
}

func (o *Orchestrator) fail(ctx context.Context, task *taskstore.Task, reason string) {
	wctx, cancel := terminalContext(ctx)
	defer cancel()

	if err := o.store.Fail(wctx, task.ID, reason); err != nil {
		o.logger.Warn("Could not record failure",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}
	if err := o.threads.Append(wctx, task.ThreadID, threads.Message{
		Role:    threads.RoleAssistant,
		Content: reason,
	}); err != nil {
		o.logger.Warn("Could not record assistant message",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}
	metrics.TasksCompleted.WithLabelValues(string(taskstore.StatusFailed)).Inc()
	o.logger.Info("Task failed",
		zap.String("task_id", task.ID),
		zap.String("reason", reason),
	)
}

// terminalContext detaches terminal status writes from the run's deadline so
// a timed-out task can still record its failure.
func terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}
