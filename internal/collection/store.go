// Package collection holds fetched entity lists behind an explicit store
// object with fetch, refresh and subscription semantics.
package collection

import (
	"context"
	"sync"

	"github.com/starford/estatedesk/internal/apperr"
)

// Loader fetches the full list from the remote collaborator.
type Loader[T any] func(ctx context.Context) apperr.Result[[]T]

// Store caches the result of a Loader. The zero value is not usable; create
// stores with New and pass them by reference.
type Store[T any] struct {
	load Loader[T]

	mu     sync.Mutex
	items  []T
	loaded bool
	nextID int
	subs   map[int]func([]T)
}

// New returns an empty store backed by load.
func New[T any](load Loader[T]) *Store[T] {
	return &Store[T]{load: load, subs: make(map[int]func([]T))}
}

// Fetch returns the cached list, loading it on first use.
func (s *Store[T]) Fetch(ctx context.Context) apperr.Result[[]T] {
	s.mu.Lock()
	if s.loaded {
		items := append([]T(nil), s.items...)
		s.mu.Unlock()
		return apperr.OK(items)
	}
	s.mu.Unlock()
	return s.Refresh(ctx)
}

// Refresh always reloads from the remote collaborator and notifies
// subscribers on success. A failed refresh keeps the cached list.
func (s *Store[T]) Refresh(ctx context.Context) apperr.Result[[]T] {
	res := s.load(ctx)
	items, ok := res.Get()
	if !ok {
		return res
	}

	s.mu.Lock()
	s.items = append([]T(nil), items...)
	s.loaded = true
	subs := make([]func([]T), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(append([]T(nil), items...))
	}
	return apperr.OK(append([]T(nil), items...))
}

// Subscribe registers fn to receive the list after every successful refresh.
// The returned func removes the subscription.
func (s *Store[T]) Subscribe(fn func([]T)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Items returns a copy of the cached list, or nil before the first load.
func (s *Store[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return nil
	}
	return append([]T(nil), s.items...)
}
