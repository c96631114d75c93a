package collection

import (
	"context"
	"testing"

	"github.com/starford/estatedesk/internal/apperr"
)

type countingLoader struct {
	calls int
	items []string
	err   *apperr.ServiceError
}

func (c *countingLoader) load(context.Context) apperr.Result[[]string] {
	c.calls++
	if c.err != nil {
		return apperr.Fail[[]string](c.err)
	}
	return apperr.OK(c.items)
}

func TestFetchCaches(t *testing.T) {
	l := &countingLoader{items: []string{"a", "b"}}
	s := New[string](l.load)
	ctx := context.Background()

	if s.Items() != nil {
		t.Error("Items before load should be nil")
	}
	for range 3 {
		items, ok := s.Fetch(ctx).Get()
		if !ok || len(items) != 2 {
			t.Fatalf("Fetch = %v, %v", items, ok)
		}
	}
	if l.calls != 1 {
		t.Errorf("loader calls = %d, want 1", l.calls)
	}
}

func TestRefreshReloadsAndNotifies(t *testing.T) {
	l := &countingLoader{items: []string{"a"}}
	s := New[string](l.load)
	ctx := context.Background()

	var got []string
	unsubscribe := s.Subscribe(func(items []string) { got = items })

	s.Fetch(ctx)
	l.items = []string{"a", "b", "c"}
	s.Refresh(ctx)
	if l.calls != 2 {
		t.Errorf("loader calls = %d, want 2", l.calls)
	}
	if len(got) != 3 {
		t.Errorf("subscriber got %v", got)
	}

	unsubscribe()
	unsubscribe()
	l.items = []string{"z"}
	s.Refresh(ctx)
	if len(got) != 3 {
		t.Errorf("unsubscribed func still called: %v", got)
	}
	if items := s.Items(); len(items) != 1 || items[0] != "z" {
		t.Errorf("Items = %v", items)
	}
}

func TestRefreshFailureKeepsCache(t *testing.T) {
	l := &countingLoader{items: []string{"a"}}
	s := New[string](l.load)
	ctx := context.Background()
	s.Fetch(ctx)

	l.err = apperr.FetchFailed("PropertyService", "offline", nil)
	res := s.Refresh(ctx)
	se, failed := res.Failure()
	if !failed || se.Message() != "offline" {
		t.Fatalf("Refresh = %v", res)
	}
	if items := s.Items(); len(items) != 1 {
		t.Errorf("cache lost: %v", items)
	}
}

func TestItemsIsACopy(t *testing.T) {
	l := &countingLoader{items: []string{"a"}}
	s := New[string](l.load)
	s.Fetch(context.Background())

	items := s.Items()
	items[0] = "mutated"
	if s.Items()[0] != "a" {
		t.Error("Items exposed internal slice")
	}
}
