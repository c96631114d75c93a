// Package sse streams back-office change notifications to browsers over
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// RelationsUpdated is the throttled event sent after changes that can alter
// links. It carries no payload and reaches every subscriber.
const RelationsUpdated = "relations.updated"

const (
	historySize  = 128
	clientBuffer = 64
	pingInterval = 25 * time.Second
)

// Change is one entity or link notification. Kind is the entity kind it
// concerns and drives per-subscriber filtering; an empty Kind reaches every
// subscriber.
type Change struct {
	Type string
	Kind string
	Data any
}

func touchesLinks(typ string) bool {
	return strings.HasPrefix(typ, "link.") || typ == "entity.deleted"
}

// message is an encoded frame kept for replay.
type message struct {
	id   uint64
	kind string
	raw  []byte
}

// Subscription is one connected stream. Live frames arrive on C; retained
// frames newer than the resume point are returned by Replay and precede
// everything sent on C.
type Subscription struct {
	C      chan []byte
	kinds  map[string]struct{}
	after  uint64
	replay [][]byte
	ready  chan struct{}
}

// Replay returns the retained frames the subscriber missed, oldest first.
func (s *Subscription) Replay() [][]byte {
	return s.replay
}

func (s *Subscription) wants(kind string) bool {
	if kind == "" || len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// Broker fans changes out to subscribers.
//
// A single loop goroutine owns the subscriber set, the replay history, the
// sequence counter and the relations throttle timestamp. Public methods talk
// to it through channels.
type Broker struct {
	relationsMin time.Duration

	subscribeCh   chan *Subscription
	unsubscribeCh chan *Subscription
	changeCh      chan Change
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits relations.updated at most once per
// relationsThrottle.
func NewBroker(relationsThrottle time.Duration) *Broker {
	if relationsThrottle <= 0 {
		relationsThrottle = 2 * time.Second
	}

	b := &Broker{
		relationsMin:  relationsThrottle,
		subscribeCh:   make(chan *Subscription),
		unsubscribeCh: make(chan *Subscription),
		changeCh:      make(chan Change, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func encode(id uint64, typ string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", id, typ, payload)), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	subs := make(map[*Subscription]struct{})
	history := make([]message, 0, historySize)
	var seq uint64
	var lastRelations time.Time

	send := func(s *Subscription, raw []byte) {
		select {
		case s.C <- raw:
		default:
			// Subscriber is not keeping up; drop rather than block the loop.
		}
	}

	emit := func(kind, typ string, data any) {
		raw, err := encode(seq+1, typ, data)
		if err != nil {
			return
		}
		seq++
		if len(history) == historySize {
			history = append(history[:0], history[1:]...)
		}
		history = append(history, message{id: seq, kind: kind, raw: raw})
		for s := range subs {
			if s.wants(kind) {
				send(s, raw)
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for s := range subs {
				close(s.C)
			}
			return

		case s := <-b.subscribeCh:
			subs[s] = struct{}{}
			if s.after > 0 {
				for _, m := range history {
					if m.id > s.after && s.wants(m.kind) {
						s.replay = append(s.replay, m.raw)
					}
				}
			}
			close(s.ready)

		case s := <-b.unsubscribeCh:
			if _, ok := subs[s]; ok {
				delete(subs, s)
				close(s.C)
			}

		case c := <-b.changeCh:
			emit(c.Kind, c.Type, c.Data)
			if !touchesLinks(c.Type) {
				continue
			}
			if now := time.Now(); now.Sub(lastRelations) >= b.relationsMin {
				lastRelations = now
				emit("", RelationsUpdated, struct{}{})
			}

		case resp := <-b.countReqCh:
			resp <- len(subs)
		}
	}
}

// Close stops the loop and closes every subscriber channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a subscriber for the given entity kinds (all kinds
// when none are given). When lastID is non-zero, retained events newer than
// lastID are collected into Replay before any live frame is queued.
func (b *Broker) Subscribe(lastID uint64, kinds ...string) *Subscription {
	s := &Subscription{
		C:     make(chan []byte, clientBuffer),
		after: lastID,
		ready: make(chan struct{}),
	}
	if len(kinds) > 0 {
		s.kinds = make(map[string]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}
	if b.closed.Load() {
		close(s.C)
		return s
	}

	select {
	case b.subscribeCh <- s:
		<-s.ready
	case <-b.stopped:
		close(s.C)
	}
	return s
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(s *Subscription) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- s:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected subscribers.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// PublishChange queues a change. Link changes and deletions are followed by
// a throttled relations.updated event.
func (b *Broker) PublishChange(c Change) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- c:
	case <-b.stopped:
	}
}

// subscriptionParams reads the kind filter (?kind=a&kind=b or ?kind=a,b) and
// the resume point (Last-Event-ID header or lastEventId query parameter).
func subscriptionParams(r *http.Request) (uint64, []string) {
	var kinds []string
	for _, v := range r.URL.Query()["kind"] {
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				kinds = append(kinds, k)
			}
		}
	}
	last := r.Header.Get("Last-Event-ID")
	if last == "" {
		last = r.URL.Query().Get("lastEventId")
	}
	id, _ := strconv.ParseUint(last, 10, 64)
	return id, kinds
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	lastID, kinds := subscriptionParams(r)
	sub := b.Subscribe(lastID, kinds...)
	defer b.Unsubscribe(sub)

	for _, msg := range sub.Replay() {
		_, _ = w.Write(msg)
	}
	flusher.Flush()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
