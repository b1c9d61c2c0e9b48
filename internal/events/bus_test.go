package events

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/marcus/taskmaster/internal/logging"
	"github.com/marcus/taskmaster/internal/tasks"
)

func newTestBus() *Bus {
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return NewBus(WithClock(func() time.Time { return fixed }), WithLogger(logging.Nop()))
}

func TestPublishStampsEvent(t *testing.T) {
	b := newTestBus()
	var got Event
	b.On(KindTaskCreated, func(ev Event) { got = ev })

	ev := b.Publish(TaskCreated{Task: tasks.Task{ID: "t1"}})
	if ev.ID == "" || ev.Kind != KindTaskCreated {
		t.Fatalf("Publish() = %+v", ev)
	}
	if got.ID != ev.ID {
		t.Errorf("handler saw %q, want %q", got.ID, ev.ID)
	}
	if p, ok := got.Payload.(TaskCreated); !ok || p.Task.ID != "t1" {
		t.Errorf("payload = %#v", got.Payload)
	}
	if !ev.Time.Equal(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Time = %v", ev.Time)
	}
}

func TestDeliveryOrderAndFiltering(t *testing.T) {
	b := newTestBus()
	var order []string
	b.On(KindWarning, func(Event) { order = append(order, "warning-1") })
	b.OnAll(func(ev Event) { order = append(order, "all:"+string(ev.Kind)) })
	b.On(KindWarning, func(Event) { order = append(order, "warning-2") })

	b.Publish(Warning{Type: WarnRisk, Message: "m"})
	b.Publish(Connected{})

	want := []string{"warning-1", "all:warning", "warning-2", "all:connected"}
	if !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := newTestBus()
	calls := 0
	off := b.On(KindShutdown, func(Event) { calls++ })

	b.Publish(Shutdown{})
	off()
	off()
	b.Publish(Shutdown{})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if b.Len() != 0 {
		t.Errorf("Len() = %d, want 0", b.Len())
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	b := newTestBus()
	reached := false
	b.OnAll(func(Event) { panic("bad subscriber") })
	b.OnAll(func(Event) { reached = true })

	b.Publish(Connected{})
	if !reached {
		t.Error("second handler not called after panic")
	}
}

func TestHandlerMayPublish(t *testing.T) {
	b := newTestBus()
	rec := &Recorder{}
	b.OnAll(rec.Record)
	b.On(KindTaskCompleted, func(ev Event) {
		b.Publish(Suggestion{Type: SuggestTaskCompletion, Message: "done"})
	})

	b.Publish(TaskCompleted{})
	want := []Kind{KindTaskCompleted, KindSuggestion}
	if got := rec.Kinds(); !slices.Equal(got, want) {
		t.Errorf("kinds = %v, want %v", got, want)
	}
}

func TestConcurrentPublish(t *testing.T) {
	b := newTestBus()
	rec := &Recorder{}
	b.OnAll(rec.Record)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(FilesChanged{Paths: []string{"a.go"}})
		}()
	}
	wg.Wait()

	if got := len(rec.OfKind(KindFilesChanged)); got != 20 {
		t.Errorf("recorded %d events, want 20", got)
	}
}

func TestPayloadKinds(t *testing.T) {
	payloads := []Payload{
		TaskCreated{}, TaskStarted{}, TaskProgress{}, TaskCompleted{}, TaskFailed{},
		Suggestion{}, Warning{}, FilesChanged{}, GitActivity{}, WorkflowScheduled{},
		ConfigLoaded{}, TasksLoaded{}, Connected{}, Shutdown{},
	}
	if len(payloads) != len(Kinds) {
		t.Fatalf("%d payloads for %d kinds", len(payloads), len(Kinds))
	}
	for i, p := range payloads {
		if p.Kind() != Kinds[i] {
			t.Errorf("payload %T kind = %s, want %s", p, p.Kind(), Kinds[i])
		}
	}
}
