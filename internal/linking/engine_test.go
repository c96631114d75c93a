package linking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/estatedesk/internal/apperr"
)

type item struct {
	id    string
	label string
}

func (i item) LinkID() string    { return i.id }
func (i item) LinkLabel() string { return i.label }

// fakeRelation records calls and answers with preset results. When gate is
// non-nil, Assign and Remove block until it is closed.
type fakeRelation struct {
	related   []item
	fetchErr  *apperr.ServiceError
	assignErr *apperr.ServiceError
	removeErr *apperr.ServiceError
	gate      chan struct{}
	started   chan struct{}

	assigns atomic.Int32
	removes atomic.Int32
}

func (f *fakeRelation) FetchRelated(_ context.Context, _ string) apperr.Result[[]item] {
	if f.fetchErr != nil {
		return apperr.Fail[[]item](f.fetchErr)
	}
	return apperr.OK(f.related)
}

func (f *fakeRelation) wait() {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
}

func (f *fakeRelation) Assign(_ context.Context, _, _ string) apperr.Result[struct{}] {
	f.assigns.Add(1)
	f.wait()
	if f.assignErr != nil {
		return apperr.Fail[struct{}](f.assignErr)
	}
	return apperr.OK(struct{}{})
}

func (f *fakeRelation) Remove(_ context.Context, _, _ string) apperr.Result[struct{}] {
	f.removes.Add(1)
	f.wait()
	if f.removeErr != nil {
		return apperr.Fail[struct{}](f.removeErr)
	}
	return apperr.OK(struct{}{})
}

func idsOf(items []item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.id)
	}
	return out
}

func equalIDs(got []item, want ...string) bool {
	g := idsOf(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func loaded(t *testing.T, rel *fakeRelation, candidates ...item) *Engine[item] {
	t.Helper()
	e := New[item](rel, "m1")
	if res := e.Load(context.Background(), candidates); res.IsFailure() {
		se, _ := res.Failure()
		t.Fatalf("Load: %v", se)
	}
	return e
}

var (
	p1 = item{id: "p1", label: "Loft on Main"}
	p2 = item{id: "p2", label: "Harbour Barn"}
	p3 = item{id: "p3", label: "City Studio"}
)

func TestLoadPartitions(t *testing.T) {
	rel := &fakeRelation{related: []item{p2}}
	e := loaded(t, rel, p1, p2, p3, p1)

	if !equalIDs(e.Available(""), "p1", "p3") {
		t.Errorf("available = %v, want [p1 p3]", idsOf(e.Available("")))
	}
	if !equalIDs(e.Assigned(), "p2") {
		t.Errorf("assigned = %v, want [p2]", idsOf(e.Assigned()))
	}
}

func TestLoadFailureKeepsState(t *testing.T) {
	rel := &fakeRelation{}
	e := loaded(t, rel, p1, p2)

	rel.fetchErr = apperr.FetchFailed("PropertyService", "network error", nil)
	res := e.Refresh(context.Background())
	if !res.IsFailure() {
		t.Fatal("expected failure")
	}
	if !equalIDs(e.Available(""), "p1", "p2") {
		t.Errorf("available = %v", idsOf(e.Available("")))
	}
	if e.Err() != "network error" {
		t.Errorf("Err() = %q", e.Err())
	}
}

func TestAssignSuccess(t *testing.T) {
	rel := &fakeRelation{}
	e := loaded(t, rel, p1, p2)

	res := e.Assign(context.Background(), "p1")
	if !res.IsSuccess() {
		t.Fatalf("Assign failed: %v", res)
	}
	if !equalIDs(e.Available(""), "p2") {
		t.Errorf("available = %v, want [p2]", idsOf(e.Available("")))
	}
	if !equalIDs(e.Assigned(), "p1") {
		t.Errorf("assigned = %v, want [p1]", idsOf(e.Assigned()))
	}
	if e.Err() != "" {
		t.Errorf("Err() = %q, want empty", e.Err())
	}
}

func TestAssignFailure(t *testing.T) {
	rel := &fakeRelation{assignErr: apperr.FetchFailed("PropertyService", "network error", nil)}
	e := loaded(t, rel, p1, p2)

	res := e.Assign(context.Background(), "p1")
	se, failed := res.Failure()
	if !failed {
		t.Fatal("expected failure")
	}
	if se.Kind() != apperr.KindFetchFailed {
		t.Errorf("kind = %v, want FetchFailed", se.Kind())
	}
	if !equalIDs(e.Available(""), "p1", "p2") {
		t.Errorf("available = %v, want [p1 p2]", idsOf(e.Available("")))
	}
	if len(e.Assigned()) != 0 {
		t.Errorf("assigned = %v, want []", idsOf(e.Assigned()))
	}
	if e.Err() != "network error" {
		t.Errorf("Err() = %q, want %q", e.Err(), "network error")
	}
}

func TestRemoveSuccess(t *testing.T) {
	rel := &fakeRelation{related: []item{p1}}
	e := loaded(t, rel, p1)

	if res := e.Remove(context.Background(), "p1"); !res.IsSuccess() {
		t.Fatalf("Remove failed")
	}
	if len(e.Assigned()) != 0 {
		t.Errorf("assigned = %v, want []", idsOf(e.Assigned()))
	}
	if !equalIDs(e.Available(""), "p1") {
		t.Errorf("available = %v, want [p1]", idsOf(e.Available("")))
	}
}

func TestRemoveFailureKeepsState(t *testing.T) {
	rel := &fakeRelation{related: []item{p1}, removeErr: apperr.Unauthorized("LinkService", "token expired", nil)}
	e := loaded(t, rel, p1)

	if res := e.Remove(context.Background(), "p1"); !res.IsFailure() {
		t.Fatal("expected failure")
	}
	if !equalIDs(e.Assigned(), "p1") || len(e.Available("")) != 0 {
		t.Errorf("state changed: assigned=%v available=%v", idsOf(e.Assigned()), idsOf(e.Available("")))
	}
	if e.Err() != "token expired" {
		t.Errorf("Err() = %q", e.Err())
	}
}

func TestAssignAlreadyAssignedIsNoop(t *testing.T) {
	rel := &fakeRelation{related: []item{p1}}
	e := loaded(t, rel, p1, p2)

	if res := e.Assign(context.Background(), "p1"); !res.IsSuccess() {
		t.Fatal("expected success")
	}
	if rel.assigns.Load() != 0 {
		t.Errorf("remote assign called %d times, want 0", rel.assigns.Load())
	}
	if !equalIDs(e.Assigned(), "p1") {
		t.Errorf("assigned = %v", idsOf(e.Assigned()))
	}
}

func TestRemoveAvailableIsNoop(t *testing.T) {
	rel := &fakeRelation{}
	e := loaded(t, rel, p1)

	if res := e.Remove(context.Background(), "p1"); !res.IsSuccess() {
		t.Fatal("expected success")
	}
	if rel.removes.Load() != 0 {
		t.Errorf("remote remove called %d times, want 0", rel.removes.Load())
	}
	if !equalIDs(e.Available(""), "p1") || len(e.Assigned()) != 0 {
		t.Errorf("state changed")
	}
}

func TestUnknownTargetRejectedLocally(t *testing.T) {
	rel := &fakeRelation{}
	e := loaded(t, rel, p1)

	res := e.Assign(context.Background(), "ghost")
	se, failed := res.Failure()
	if !failed {
		t.Fatal("expected failure")
	}
	if !errors.Is(se, apperr.ErrNotFound) {
		t.Errorf("cause = %v, want ErrNotFound", se.Cause())
	}
	if rel.assigns.Load() != 0 {
		t.Error("remote called for unknown target")
	}
	if e.Err() == "" {
		t.Error("expected a surfaced message")
	}
}

func TestReentrantAssignSingleCall(t *testing.T) {
	rel := &fakeRelation{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	e := loaded(t, rel, p1, p2)
	ctx := context.Background()

	var wg sync.WaitGroup
	var first apperr.Result[struct{}]
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = e.Assign(ctx, "p1")
	}()
	<-rel.started

	if !e.Busy("p1") {
		t.Error("p1 should be busy while the call is outstanding")
	}
	second := e.Assign(ctx, "p1")
	se, failed := second.Failure()
	if !failed || !errors.Is(se, apperr.ErrBusy) {
		t.Errorf("second assign = %v, want ErrBusy failure", second)
	}

	close(rel.gate)
	wg.Wait()

	if !first.IsSuccess() {
		t.Error("first assign should succeed")
	}
	if n := rel.assigns.Load(); n != 1 {
		t.Errorf("remote assign calls = %d, want 1", n)
	}
	if !equalIDs(e.Assigned(), "p1") || !equalIDs(e.Available(""), "p2") {
		t.Errorf("assigned=%v available=%v", idsOf(e.Assigned()), idsOf(e.Available("")))
	}
	if e.Busy("p1") {
		t.Error("p1 still busy")
	}
}

func TestDifferentTargetsInFlightTogether(t *testing.T) {
	rel := &fakeRelation{gate: make(chan struct{}), started: make(chan struct{}, 2)}
	e := loaded(t, rel, p1, p2, p3)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"p1", "p3"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Assign(ctx, id)
		}()
	}
	<-rel.started
	<-rel.started
	if !e.Busy("p1") || !e.Busy("p3") {
		t.Error("both targets should be busy")
	}
	close(rel.gate)
	wg.Wait()

	if len(e.Assigned()) != 2 || !equalIDs(e.Available(""), "p2") {
		t.Errorf("assigned=%v available=%v", idsOf(e.Assigned()), idsOf(e.Available("")))
	}
}

func TestResultAfterCloseDiscarded(t *testing.T) {
	rel := &fakeRelation{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	var notified atomic.Int32
	e := New[item](rel, "m1", WithObserver(func(Snapshot[item]) { notified.Add(1) }))
	e.Load(context.Background(), []item{p1})

	done := make(chan struct{})
	go func() {
		e.Assign(context.Background(), "p1")
		close(done)
	}()
	<-rel.started
	e.Close()
	before := notified.Load()
	close(rel.gate)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("assign did not return")
	}
	if !equalIDs(e.Available(""), "p1") || len(e.Assigned()) != 0 {
		t.Errorf("closed engine applied a late result")
	}
	if notified.Load() != before {
		t.Error("observer called after Close")
	}
}

func TestAvailableFilter(t *testing.T) {
	e := loaded(t, &fakeRelation{}, p1, p2, p3)

	if got := e.Available("barn"); !equalIDs(got, "p2") {
		t.Errorf("label filter = %v", idsOf(got))
	}
	if got := e.Available("P3"); !equalIDs(got, "p3") {
		t.Errorf("id filter = %v", idsOf(got))
	}
	if got := e.Available("  "); len(got) != 3 {
		t.Errorf("blank filter = %v", idsOf(got))
	}
	if len(e.Available("nothing")) != 0 {
		t.Error("expected empty result")
	}
	// Filtering does not change membership.
	if len(e.Available("")) != 3 {
		t.Error("filter mutated the pool")
	}
}

func TestMembershipStaysDisjoint(t *testing.T) {
	rel := &fakeRelation{}
	e := loaded(t, rel, p1, p2, p3)
	ctx := context.Background()

	ops := []struct {
		assign bool
		id     string
		fail   bool
	}{
		{true, "p1", false}, {true, "p1", false}, {true, "p2", true}, {false, "p3", false},
		{true, "p3", false}, {false, "p1", false}, {false, "p1", false}, {true, "p2", false},
	}
	for _, op := range ops {
		rel.assignErr, rel.removeErr = nil, nil
		if op.fail {
			rel.assignErr = apperr.UpdateFailed("LinkService", "boom", nil)
			rel.removeErr = rel.assignErr
		}
		if op.assign {
			e.Assign(ctx, op.id)
		} else {
			e.Remove(ctx, op.id)
		}

		counts := map[string]int{}
		for _, it := range e.Available("") {
			counts[it.id]++
		}
		for _, it := range e.Assigned() {
			counts[it.id]++
		}
		for _, id := range []string{"p1", "p2", "p3"} {
			if counts[id] != 1 {
				t.Fatalf("after %+v: %s appears %d times", op, id, counts[id])
			}
		}
	}
	if !equalIDs(e.Assigned(), "p3", "p2") || !equalIDs(e.Available(""), "p1") {
		t.Errorf("final assigned=%v available=%v", idsOf(e.Assigned()), idsOf(e.Available("")))
	}
}

func TestObserverSeesBusyMarker(t *testing.T) {
	var mu sync.Mutex
	var snaps []Snapshot[item]
	rel := &fakeRelation{}
	e := New[item](rel, "m1", WithObserver(func(s Snapshot[item]) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	}))
	e.Load(context.Background(), []item{p1})
	e.Assign(context.Background(), "p1")

	mu.Lock()
	defer mu.Unlock()
	if len(snaps) != 3 {
		t.Fatalf("snapshots = %d, want 3 (load, busy, done)", len(snaps))
	}
	if len(snaps[1].Busy) != 1 || snaps[1].Busy[0] != "p1" {
		t.Errorf("busy snapshot = %+v", snaps[1])
	}
	if len(snaps[2].Busy) != 0 || !equalIDs(snaps[2].Assigned, "p1") {
		t.Errorf("final snapshot = %+v", snaps[2])
	}
}
