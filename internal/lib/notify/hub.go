// Package notify fans active-incident snapshots out to live subscribers.
//
// Every subscriber owns a one-slot mailbox and a delivery goroutine. Publish
// never blocks: a snapshot waiting in a mailbox is replaced by a newer one, so
// a slow subscriber skips intermediate versions but always converges on the
// latest. A subscriber whose Send fails or panics is removed without
// affecting the others.
package notify

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"

	"github.com/lamain12/Roadpulse-backend/internal/lib/incident"
)

// Subscriber receives snapshots
type Subscriber interface {
	ID() string
	Send(ctx context.Context, snapshot incident.Snapshot) error
}

type subscription struct {
	subscriber Subscriber
	mailbox    chan incident.Snapshot
	done       chan struct{}
	once       sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// offer replaces any pending snapshot with snap. Callers hold Hub.mu, so
// there is a single writer per mailbox.
func (s *subscription) offer(snap incident.Snapshot) {
	select {
	case s.mailbox <- snap:
		return
	default:
	}
	select {
	case <-s.mailbox:
	default:
	}
	s.mailbox <- snap
}

// Hub is an incident.Publisher that delivers to registered subscribers
type Hub struct {
	ctx    context.Context
	mu     sync.Mutex
	subs   map[string]*subscription
	latest *incident.Snapshot
	closed bool
	wg     sync.WaitGroup
}

var _ incident.Publisher = (*Hub)(nil)

// NewHub creates a hub. ctx carries logging fields for delivery goroutines
// and bounds their lifetime.
func NewHub(ctx context.Context) *Hub {
	return &Hub{ctx: logging.EnsureLogger(ctx), subs: make(map[string]*subscription)}
}

// Publish stores snap as the latest snapshot and offers it to every
// subscriber. Older versions than the latest seen are ignored.
func (h *Hub) Publish(ctx context.Context, snap incident.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	if h.latest != nil && snap.Version < h.latest.Version {
		return
	}
	h.latest = &snap
	for _, sub := range h.subs {
		sub.offer(snap)
	}
}

// Add registers a subscriber and immediately offers it the latest snapshot.
// A subscriber with the same ID replaces the existing one.
func (h *Hub) Add(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	if existing, ok := h.subs[sub.ID()]; ok {
		existing.stop()
	}

	s := &subscription{
		subscriber: sub,
		mailbox:    make(chan incident.Snapshot, 1),
		done:       make(chan struct{}),
	}
	h.subs[sub.ID()] = s
	if h.latest != nil {
		s.offer(*h.latest)
	}

	h.wg.Add(1)
	go h.deliver(s)

	logging.Infow(h.ctx, "notify: Subscriber added", "subscriber", sub.ID(), "subscribers", len(h.subs))
}

// Remove unregisters a subscriber. Unknown IDs are ignored.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id, nil)
}

func (h *Hub) removeLocked(id string, only *subscription) {
	s, ok := h.subs[id]
	if !ok || (only != nil && s != only) {
		return
	}
	s.stop()
	delete(h.subs, id)
	logging.Infow(h.ctx, "notify: Subscriber removed", "subscriber", id, "subscribers", len(h.subs))
}

// SendTo offers snap to a single subscriber, for example on an explicit
// refresh request. It reports whether the subscriber is registered. A snap
// older than the latest published version is replaced by the latest.
func (h *Hub) SendTo(id string, snap incident.Snapshot) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.subs[id]
	if !ok {
		return false
	}
	if h.latest != nil && snap.Version < h.latest.Version {
		snap = *h.latest
	}
	s.offer(snap)
	return true
}

// Len returns the number of registered subscribers
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close removes all subscribers and waits for delivery goroutines to exit
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for id := range h.subs {
		h.removeLocked(id, nil)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) deliver(s *subscription) {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-s.done:
			return
		case snap := <-s.mailbox:
			if err := h.send(s, snap); err != nil {
				logging.Warnw(h.ctx, "notify: Dropping subscriber after failed delivery",
					"subscriber", s.subscriber.ID(), "version", snap.Version, "error", err)
				h.mu.Lock()
				h.removeLocked(s.subscriber.ID(), s)
				h.mu.Unlock()
				return
			}
		}
	}
}

// send isolates a subscriber panic to that subscriber
func (h *Hub) send(s *subscription, snap incident.Snapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack, _ := errors.ParseStack(debug.Stack())
			skipFrames := 3
			numFrames := 5
			logging.Errorw(h.ctx, "notify: Subscriber panicked",
				"subscriber", s.subscriber.ID(), "error", r,
				"error.stack_trace", stack.MinimalStack(skipFrames, numFrames))
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return s.subscriber.Send(h.ctx, snap)
}
