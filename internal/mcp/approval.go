package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"mongorunner/internal/domain"
)

// EventEmitter allows the approval queue to announce pending actions.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// Events emitted in channel mode.
const (
	EventApprovalRequired  = "approval-required"
	EventApprovalDismissed = "approval-dismissed"
)

var (
	ErrRejected = errors.New("action rejected by user")
	ErrTimedOut = errors.New("action timed out")
)

// actionResult is sent through the channel when user approves/rejects.
type actionResult struct {
	approved bool
}

// ApprovalQueue manages human-in-the-loop approval for destructive tool calls.
// It supports two modes:
//   - In-process: pending actions are emitted as events and decided through
//     Approve/Reject.
//   - Store-based: pending actions are written to an ApprovalStore and polled
//     until another process (`mongorunner approvals`) decides them.
//
// It satisfies service.Prompter; text input is never prompted since MCP
// clients pass it as a tool argument.
type ApprovalQueue struct {
	mu      sync.Mutex
	pending map[string]chan actionResult
	emitter EventEmitter
	store   domain.ApprovalStore

	Timeout      time.Duration
	PollInterval time.Duration
}

func NewApprovalQueue(emitter EventEmitter) *ApprovalQueue {
	return &ApprovalQueue{
		pending:      make(map[string]chan actionResult),
		emitter:      emitter,
		Timeout:      120 * time.Second,
		PollInterval: 500 * time.Millisecond,
	}
}

// SetStore enables store-based approval.
func (q *ApprovalQueue) SetStore(store domain.ApprovalStore) {
	q.store = store
}

// Confirm implements service.Prompter. Rejections and timeouts are answers,
// not errors.
func (q *ApprovalQueue) Confirm(ctx context.Context, message string) (bool, error) {
	ok, err := q.Request(ctx, "confirm", message)
	if errors.Is(err, ErrRejected) || errors.Is(err, ErrTimedOut) {
		log.Printf("[MCP] %v", err)
		return false, nil
	}
	return ok, err
}

// InputText implements service.Prompter; it always reports a dismissed prompt.
func (q *ApprovalQueue) InputText(context.Context, string) (string, bool, error) {
	return "", false, nil
}

// Request blocks until the action is approved, rejected or times out.
// metadata is optional JSON with extra context.
func (q *ApprovalQueue) Request(ctx context.Context, tool, description string, metadata ...string) (bool, error) {
	a := domain.PendingApproval{
		ID:          uuid.New().String(),
		Tool:        tool,
		Description: description,
		Status:      domain.ApprovalPending,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		Metadata:    "{}",
	}
	if len(metadata) > 0 && metadata[0] != "" {
		a.Metadata = metadata[0]
	}

	if q.store != nil {
		return q.requestViaStore(ctx, a)
	}
	return q.requestViaChannel(ctx, a)
}

// requestViaStore writes a pending approval and polls until resolved.
func (q *ApprovalQueue) requestViaStore(ctx context.Context, a domain.PendingApproval) (bool, error) {
	if err := q.store.CreateApproval(&a); err != nil {
		return false, err
	}
	log.Printf("[MCP] waiting for approval %s: %s", a.ID, a.Description)
	defer func() {
		if err := q.store.DeleteApproval(a.ID); err != nil {
			log.Printf("[MCP] cleanup approval %s: %v", a.ID, err)
		}
	}()

	deadline := time.NewTimer(q.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(q.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status, err := q.store.ApprovalStatus(a.ID)
			if err != nil {
				continue
			}
			switch status {
			case domain.ApprovalApproved:
				return true, nil
			case domain.ApprovalRejected:
				return false, fmt.Errorf("%w: %s", ErrRejected, a.Tool)
			}
		case <-deadline.C:
			return false, fmt.Errorf("%w after %s: %s", ErrTimedOut, q.Timeout, a.Tool)
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (q *ApprovalQueue) requestViaChannel(ctx context.Context, a domain.PendingApproval) (bool, error) {
	ch := make(chan actionResult, 1)

	q.mu.Lock()
	q.pending[a.ID] = ch
	q.mu.Unlock()
	defer q.cleanup(a.ID)

	q.emit(ctx, EventApprovalRequired, a)

	select {
	case result := <-ch:
		if !result.approved {
			return false, fmt.Errorf("%w: %s", ErrRejected, a.Tool)
		}
		return true, nil
	case <-time.After(q.Timeout):
		q.emit(ctx, EventApprovalDismissed, map[string]string{"id": a.ID})
		return false, fmt.Errorf("%w after %s: %s", ErrTimedOut, q.Timeout, a.Tool)
	case <-ctx.Done():
		q.emit(ctx, EventApprovalDismissed, map[string]string{"id": a.ID})
		return false, ctx.Err()
	}
}

func (q *ApprovalQueue) emit(ctx context.Context, event string, data any) {
	if q.emitter != nil {
		q.emitter.Emit(ctx, event, data)
	}
}

// Approve marks a pending action as approved (in-process mode).
func (q *ApprovalQueue) Approve(actionID string) bool {
	return q.resolve(actionID, true)
}

// Reject marks a pending action as rejected (in-process mode).
func (q *ApprovalQueue) Reject(actionID string) bool {
	return q.resolve(actionID, false)
}

func (q *ApprovalQueue) resolve(actionID string, approved bool) bool {
	q.mu.Lock()
	ch, ok := q.pending[actionID]
	q.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- actionResult{approved: approved}:
		return true
	default:
		return false // already decided
	}
}

// Pending lists the ids waiting for a decision in channel mode.
func (q *ApprovalQueue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.pending))
	for id := range q.pending {
		ids = append(ids, id)
	}
	return ids
}

func (q *ApprovalQueue) cleanup(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}
