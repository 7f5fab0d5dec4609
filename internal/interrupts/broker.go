package interrupts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/metrics"
)

// Status of an interrupt request.
type Status string

const (
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusApproved         Status = "approved"
	StatusRejected         Status = "rejected"
)

// Request is a paused decision point awaiting external approval.
type Request struct {
	ID             string    `json:"id"`
	TaskID         string    `json:"task_id"`
	ProposedAction string    `json:"proposed_action"`
	Status         Status    `json:"status"`
	RaisedAt       time.Time `json:"raised_at"`
}

// Verdict is the external actor's decision on a pending interrupt.
type Verdict struct {
	Approved      bool      `json:"approved"`
	Feedback      string    `json:"feedback,omitempty"`
	ModifiedQuery string    `json:"modified_query,omitempty"`
	ApprovedBy    string    `json:"approved_by,omitempty"`
	ResolvedAt    time.Time `json:"resolved_at"`
}

var (
	// ErrInterruptPending is returned by Raise when the task already
	// has an outstanding interrupt.
	ErrInterruptPending = errors.New("interrupt already pending for task")
	// ErrNoPendingInterrupt is returned by Resolve and Await when the
	// task has no outstanding interrupt.
	ErrNoPendingInterrupt = errors.New("no pending interrupt for task")
	// ErrInterruptTimedOut is returned by Await when the task deadline
	// elapses before a resolution arrives.
	ErrInterruptTimedOut = errors.New("interrupt timed out awaiting approval")
)

type pending struct {
	request  Request
	verdicts chan Verdict
	resolved bool
}

// Broker suspends orchestrator runs at decision points and resumes them
// when an external actor supplies a verdict. At most one interrupt may be
// outstanding per task; the waiting run blocks on a channel rather than
// polling.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*pending
	logger  *zap.Logger
}

// NewBroker creates an interrupt broker.
func NewBroker(logger *zap.Logger) *Broker {
	return &Broker{
		pending: make(map[string]*pending),
		logger:  logger,
	}
}

// Raise registers a pending decision point for the task and returns the
// request an external actor must resolve.
func (b *Broker) Raise(taskID, proposedAction string) (Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.pending[taskID]; exists {
		return Request{}, fmt.Errorf("task %s: %w", taskID, ErrInterruptPending)
	}

	req := Request{
		ID:             uuid.New().String(),
		TaskID:         taskID,
		ProposedAction: proposedAction,
		Status:         StatusAwaitingApproval,
		RaisedAt:       time.Now(),
	}
	b.pending[taskID] = &pending{
		request:  req,
		verdicts: make(chan Verdict, 1),
	}

	metrics.InterruptsRaised.Inc()
	b.logger.Info("Interrupt raised",
		zap.String("task_id", taskID),
		zap.String("interrupt_id", req.ID),
	)
	return req, nil
}

// Resolve delivers a verdict for the task's pending interrupt. Only the
// first resolution while awaiting approval is honored; later calls return
// ErrNoPendingInterrupt.
func (b *Broker) Resolve(taskID string, verdict Verdict) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, exists := b.pending[taskID]
	if !exists || p.resolved {
		return fmt.Errorf("task %s: %w", taskID, ErrNoPendingInterrupt)
	}

	p.resolved = true
	if verdict.Approved {
		p.request.Status = StatusApproved
	} else {
		p.request.Status = StatusRejected
	}
	verdict.ResolvedAt = time.Now()
	p.verdicts <- verdict

	metrics.InterruptsResolved.WithLabelValues(string(p.request.Status)).Inc()
	b.logger.Info("Interrupt resolved",
		zap.String("task_id", taskID),
		zap.String("interrupt_id", p.request.ID),
		zap.Bool("approved", verdict.Approved),
	)
	return nil
}

// Await blocks the calling run until the task's pending interrupt is
// resolved or the context ends. When the context ends first, the pending
// request is discarded and ErrInterruptTimedOut is returned.
func (b *Broker) Await(ctx context.Context, taskID string) (Verdict, error) {
	b.mu.Lock()
	p, exists := b.pending[taskID]
	b.mu.Unlock()
	if !exists {
		return Verdict{}, fmt.Errorf("task %s: %w", taskID, ErrNoPendingInterrupt)
	}

	select {
	case verdict := <-p.verdicts:
		b.discard(taskID)
		return verdict, nil
	case <-ctx.Done():
		b.discard(taskID)
		metrics.InterruptsExpired.Inc()
		b.logger.Warn("Interrupt expired with task deadline",
			zap.String("task_id", taskID),
			zap.String("interrupt_id", p.request.ID),
		)
		return Verdict{}, ErrInterruptTimedOut
	}
}

// Pending returns the task's outstanding request, if any.
func (b *Broker) Pending(taskID string) (Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, exists := b.pending[taskID]
	if !exists {
		return Request{}, false
	}
	return p.request, true
}

func (b *Broker) discard(taskID string) {
	b.mu.Lock()
	delete(b.pending, taskID)
	b.mu.Unlock()
}
