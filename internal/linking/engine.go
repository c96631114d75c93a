// Package linking implements the two-pane assign/remove workflow that relates
// a source entity to a collection of targets. Membership is updated
// optimistically from the outcome of each remote call; the engine never
// re-fetches in the common path.
package linking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/starford/estatedesk/internal/apperr"
)

const serviceName = "LinkingEngine"

// Item is anything the engine can partition: it needs a stable identifier
// and a human-readable label for filtering.
type Item interface {
	LinkID() string
	LinkLabel() string
}

// Relation is the remote collaborator for one linkable relation.
// Implementations must never panic for expected failures; every failure is
// returned as a ServiceError.
type Relation[T Item] interface {
	FetchRelated(ctx context.Context, sourceID string) apperr.Result[[]T]
	Assign(ctx context.Context, sourceID, targetID string) apperr.Result[struct{}]
	Remove(ctx context.Context, sourceID, targetID string) apperr.Result[struct{}]
}

// Snapshot is a copy of the engine state handed to observers.
type Snapshot[T Item] struct {
	Available []T
	Assigned  []T
	Busy      []string
	Err       string
}

// Option configures an Engine.
type Option[T Item] func(*Engine[T])

// WithLogger sets the logger used for failed remote calls.
func WithLogger[T Item](l *slog.Logger) Option[T] {
	return func(e *Engine[T]) { e.logger = l }
}

// WithObserver registers fn to be called with a snapshot after every state
// change. fn runs outside the engine lock.
func WithObserver[T Item](fn func(Snapshot[T])) Option[T] {
	return func(e *Engine[T]) { e.observer = fn }
}

// Engine holds the available/assigned partition for one source entity.
// An id is in at most one pane at any time.
type Engine[T Item] struct {
	rel      Relation[T]
	source   string
	logger   *slog.Logger
	observer func(Snapshot[T])

	mu        sync.Mutex
	available []T
	assigned  []T
	busy      map[string]struct{}
	lastErr   string
	closed    bool
}

// New creates an engine for sourceID over rel. Call Load before use.
func New[T Item](rel Relation[T], sourceID string, opts ...Option[T]) *Engine[T] {
	e := &Engine[T]{
		rel:    rel,
		source: sourceID,
		logger: slog.Default(),
		busy:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Source returns the source entity id.
func (e *Engine[T]) Source() string { return e.source }

// Load fetches the targets already related to the source and partitions
// candidates around them. Related items missing from candidates are still
// shown as assigned. On failure the previous state is kept.
func (e *Engine[T]) Load(ctx context.Context, candidates []T) apperr.Result[Snapshot[T]] {
	res := e.rel.FetchRelated(ctx, e.source)
	related, ok := res.Get()
	if !ok {
		se, _ := res.Failure()
		return apperr.Fail[Snapshot[T]](e.fail(se, "load"))
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return apperr.OK(Snapshot[T]{})
	}
	e.assigned = dedupe(related, nil)
	seen := ids(e.assigned)
	e.available = dedupe(candidates, seen)
	e.lastErr = ""
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
	return apperr.OK(snap)
}

// Refresh reloads the related set, keeping every item currently known to
// the engine as a candidate.
func (e *Engine[T]) Refresh(ctx context.Context) apperr.Result[Snapshot[T]] {
	e.mu.Lock()
	known := make([]T, 0, len(e.available)+len(e.assigned))
	known = append(known, e.available...)
	known = append(known, e.assigned...)
	e.mu.Unlock()
	return e.Load(ctx, known)
}

// Assign relates targetID to the source. On success the item moves from the
// available pane to the end of the assigned pane. An id already assigned is
// accepted without a remote call; an id already in flight fails with
// apperr.ErrBusy.
func (e *Engine[T]) Assign(ctx context.Context, targetID string) apperr.Result[struct{}] {
	return e.move(ctx, targetID, true)
}

// Remove unrelates targetID from the source; the mirror image of Assign.
func (e *Engine[T]) Remove(ctx context.Context, targetID string) apperr.Result[struct{}] {
	return e.move(ctx, targetID, false)
}

func (e *Engine[T]) move(ctx context.Context, targetID string, assign bool) apperr.Result[struct{}] {
	op := "remove"
	if assign {
		op = "assign"
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return apperr.Fail[struct{}](apperr.UpdateFailed(serviceName, "linking view is closed", nil))
	}
	if targetID == "" || e.source == "" {
		e.mu.Unlock()
		return apperr.Fail[struct{}](e.fail(apperr.UpdateFailed(serviceName, "source and target ids are required", apperr.ErrValidation), op))
	}
	if _, inFlight := e.busy[targetID]; inFlight {
		e.mu.Unlock()
		return apperr.Fail[struct{}](apperr.UpdateFailed(serviceName,
			fmt.Sprintf("%s %s is already in progress", op, targetID), apperr.ErrBusy))
	}

	from, to := &e.available, &e.assigned
	if !assign {
		from, to = &e.assigned, &e.available
	}
	if indexOf(*to, targetID) >= 0 {
		// Already where it should end up.
		e.mu.Unlock()
		return apperr.OK(struct{}{})
	}
	if indexOf(*from, targetID) < 0 {
		e.mu.Unlock()
		return apperr.Fail[struct{}](e.fail(apperr.UpdateFailed(serviceName,
			fmt.Sprintf("%s is not a known target", targetID), apperr.ErrNotFound), op))
	}
	e.busy[targetID] = struct{}{}
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.notify(snap)

	var res apperr.Result[struct{}]
	if assign {
		res = e.rel.Assign(ctx, e.source, targetID)
	} else {
		res = e.rel.Remove(ctx, e.source, targetID)
	}

	e.mu.Lock()
	delete(e.busy, targetID)
	if e.closed {
		e.mu.Unlock()
		return res
	}
	if se, failed := res.Failure(); failed {
		e.lastErr = se.Message()
		e.logFailure(se, op)
	} else {
		// from may have changed while the call was outstanding.
		if i := indexOf(*from, targetID); i >= 0 {
			item := (*from)[i]
			*from = append((*from)[:i:i], (*from)[i+1:]...)
			*to = append(*to, item)
		}
		e.lastErr = ""
	}
	snap = e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
	return res
}

// Available returns the available pane, narrowed to items whose label or id
// contains filter (case-insensitive). The membership sets are not changed.
func (e *Engine[T]) Available(filter string) []T {
	e.mu.Lock()
	defer e.mu.Unlock()
	filter = strings.ToLower(strings.TrimSpace(filter))
	out := make([]T, 0, len(e.available))
	for _, it := range e.available {
		if filter == "" ||
			strings.Contains(strings.ToLower(it.LinkLabel()), filter) ||
			strings.Contains(strings.ToLower(it.LinkID()), filter) {
			out = append(out, it)
		}
	}
	return out
}

// Assigned returns a copy of the assigned pane.
func (e *Engine[T]) Assigned() []T {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]T(nil), e.assigned...)
}

// Err returns the message of the last failed operation, or "" after a
// success.
func (e *Engine[T]) Err() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Busy reports whether an operation on id is outstanding.
func (e *Engine[T]) Busy(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.busy[id]
	return ok
}

// Snapshot returns a copy of the current state.
func (e *Engine[T]) Snapshot() Snapshot[T] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Close detaches the engine. Results of calls still in flight are returned
// to their callers but no longer applied, and observers are not called.
func (e *Engine[T]) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

func (e *Engine[T]) fail(se *apperr.ServiceError, op string) *apperr.ServiceError {
	e.mu.Lock()
	if !e.closed {
		e.lastErr = se.Message()
	}
	snap := e.snapshotLocked()
	closed := e.closed
	e.mu.Unlock()
	e.logFailure(se, op)
	if !closed {
		e.notify(snap)
	}
	return se
}

func (e *Engine[T]) logFailure(se *apperr.ServiceError, op string) {
	e.logger.Warn("linking: "+op+" failed",
		slog.String("source", e.source),
		slog.String("code", se.Code()),
		slog.String("service", se.Service()),
		slog.String("error", se.Error()))
}

func (e *Engine[T]) snapshotLocked() Snapshot[T] {
	busy := make([]string, 0, len(e.busy))
	for id := range e.busy {
		busy = append(busy, id)
	}
	return Snapshot[T]{
		Available: append([]T(nil), e.available...),
		Assigned:  append([]T(nil), e.assigned...),
		Busy:      busy,
		Err:       e.lastErr,
	}
}

func (e *Engine[T]) notify(s Snapshot[T]) {
	if e.observer == nil {
		return
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if !closed {
		e.observer(s)
	}
}

func indexOf[T Item](items []T, id string) int {
	for i, it := range items {
		if it.LinkID() == id {
			return i
		}
	}
	return -1
}

func ids[T Item](items []T) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it.LinkID()] = struct{}{}
	}
	return out
}

// dedupe returns items without duplicates and without ids in skip,
// preserving order.
func dedupe[T Item](items []T, skip map[string]struct{}) []T {
	out := make([]T, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		id := it.LinkID()
		if _, ok := skip[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, it)
	}
	return out
}
