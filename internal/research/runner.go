package research

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/praxislabs/scout/internal/capabilities"
	"github.com/praxislabs/scout/internal/metrics"
)

// Unit is one delegated sub-task of a research phase.
type Unit struct {
	ID    string
	Query string
}

// Outcome is the terminal result of one unit. Err is set only when the unit
// produced no findings at all; a unit that exhausts its iteration budget
// keeps whatever it gathered and is marked Partial.
type Outcome struct {
	UnitID     string
	Query      string
	Content    string
	Citations  []string
	Iterations int
	Partial    bool
	Err        error
}

// Succeeded reports whether the unit produced usable findings.
func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.Content != ""
}

// ErrNoFindings marks a unit that ran out of budget with nothing gathered.
var ErrNoFindings = errors.New("research unit produced no findings")

// Config bounds the delegation phase.
type Config struct {
	MaxConcurrent        int
	MaxIterationsPerUnit int
}

// ContinueFunc decides, after one iteration, whether the unit's loop wants
// another pass. The runner enforces the iteration cap regardless of what
// this returns.
type ContinueFunc func(last capabilities.SearchResult, gathered string, iteration int) bool

// Runner dispatches research units with bounded parallelism and a hard
// per-unit iteration cap. One unit's failure never aborts its siblings.
type Runner struct {
	searcher capabilities.WebSearcher
	cfg      Config
	logger   *zap.Logger
	needMore ContinueFunc
}

// Option customizes a Runner.
type Option func(*Runner)

// WithContinueFunc overrides the loop-continuation decision.
func WithContinueFunc(f ContinueFunc) Option {
	return func(r *Runner) { r.needMore = f }
}

// NewRunner creates a research runner.
func NewRunner(searcher capabilities.WebSearcher, cfg Config, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		searcher: searcher,
		cfg:      cfg,
		logger:   logger,
		// Default: stop as soon as an iteration yields findings.
		needMore: func(_ capabilities.SearchResult, gathered string, _ int) bool {
			return gathered == ""
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunAll executes every unit, at most MaxConcurrent at a time, and returns
// one outcome per unit in input order.
func (r *Runner) RunAll(ctx context.Context, units []Unit) []Outcome {
	outcomes := make([]Outcome, len(units))

	var g errgroup.Group
	g.SetLimit(r.cfg.MaxConcurrent)
	for i, unit := range units {
		g.Go(func() error {
			metrics.ResearchUnitsStarted.Inc()
			metrics.ResearchUnitsActive.Inc()
			defer metrics.ResearchUnitsActive.Dec()

			outcomes[i] = r.runUnit(ctx, unit)
			return nil
		})
	}
	// Goroutines never return errors; failures live in the outcomes.
	_ = g.Wait()
	return outcomes
}

// runUnit loops "search, collect, decide" up to the iteration cap.
func (r *Runner) runUnit(ctx context.Context, unit Unit) Outcome {
	outcome := Outcome{UnitID: unit.ID, Query: unit.Query}

	var gathered strings.Builder
	var lastErr error
	for iteration := 1; iteration <= r.cfg.MaxIterationsPerUnit; iteration++ {
		outcome.Iterations = iteration

		result, err := r.searcher.SearchWeb(ctx, unit.Query)
		if err != nil {
			lastErr = err
			r.logger.Warn("Research unit iteration failed",
				zap.String("unit_id", unit.ID),
				zap.Int("iteration", iteration),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		lastErr = nil

		if result.Content != "" {
			if gathered.Len() > 0 {
				gathered.WriteString("\n\n")
			}
			gathered.WriteString(result.Content)
		}
		outcome.Citations = append(outcome.Citations, result.Citations...)

		if !r.needMore(result, gathered.String(), iteration) {
			outcome.Content = gathered.String()
			metrics.ResearchUnitIterations.Observe(float64(outcome.Iterations))
			return outcome
		}
	}

	// Budget exhausted or cancelled: keep the partial findings if any.
	metrics.ResearchUnitIterations.Observe(float64(outcome.Iterations))
	if gathered.Len() > 0 {
		outcome.Content = gathered.String()
		outcome.Partial = true
		r.logger.Info("Research unit exhausted its budget with partial findings",
			zap.String("unit_id", unit.ID),
			zap.Int("iterations", outcome.Iterations),
		)
		return outcome
	}

	metrics.ResearchUnitFailures.Inc()
	if lastErr != nil {
		outcome.Err = lastErr
	} else {
		outcome.Err = ErrNoFindings
	}
	return outcome
}
