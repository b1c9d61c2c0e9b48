package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/taskmaster/internal/logging"
)

// Handler receives published events.
type Handler func(Event)

type subscription struct {
	id   uint64
	kind Kind // empty means every kind
	fn   Handler
}

// Bus delivers events synchronously to subscribers in registration order.
// Handlers run on the publishing goroutine, outside the bus lock, so they may
// subscribe or publish themselves. A panicking handler is logged and skipped.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	now    func() time.Time
	logger *logging.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) BusOption {
	return func(b *Bus) {
		b.now = now
	}
}

// WithLogger sets the logger used for handler panics.
func WithLogger(l *logging.Logger) BusOption {
	return func(b *Bus) {
		b.logger = l
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		now:    time.Now,
		logger: logging.Component("events"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On subscribes h to one kind. The returned func removes the subscription.
func (b *Bus) On(kind Kind, h Handler) func() {
	return b.subscribe(kind, h)
}

// OnAll subscribes h to every kind.
func (b *Bus) OnAll(h Handler) func() {
	return b.subscribe("", h)
}

func (b *Bus) subscribe(kind Kind, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, kind: kind, fn: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish stamps p into an Event and delivers it. Publish returns after every
// matching handler has run.
func (b *Bus) Publish(p Payload) Event {
	ev := Event{
		ID:      uuid.NewString(),
		Kind:    p.Kind(),
		Time:    b.now(),
		Payload: p,
	}

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind == "" || s.kind == ev.Kind {
			targets = append(targets, s.fn)
		}
	}
	b.mu.RUnlock()

	for _, h := range targets {
		b.deliver(h, ev)
	}
	return ev
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorCtx("event handler panicked", map[string]any{
				"kind":  string(ev.Kind),
				"event": ev.ID,
				"panic": fmt.Sprint(r),
			})
		}
	}()
	h(ev)
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Recorder collects every event it sees. It is safe for concurrent use and
// mainly serves tests and the status front end.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Record appends ev.
func (r *Recorder) Record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the kinds recorded so far, in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

// OfKind returns recorded events of one kind.
func (r *Recorder) OfKind(k Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}
