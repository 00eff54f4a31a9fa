package engine_test

import (
	"testing"

	"github.com/autolyrix/aligntrack/internal/engine"
	"github.com/autolyrix/aligntrack/internal/model"
)

func event(jobID, state string, progress int) engine.ProgressEvent {
	return engine.ProgressEvent{JobID: jobID, State: state, Progress: progress}
}

func TestBrokerSingleSubscriber(t *testing.T) {
	b := engine.NewProgressBroker()
	ch, unsub := b.Subscribe("j1")
	defer unsub()

	events := []engine.ProgressEvent{
		event("j1", model.StateDispatched, 10),
		event("j1", model.StateCorrelating, 14),
		event("j1", model.StatePolling, 30),
	}
	for _, ev := range events {
		b.Publish(ev)
	}
	b.Close("j1")

	var got []engine.ProgressEvent
	for ev := range ch {
		got = append(got, ev)
	}

	if len(got) != len(events) {
		t.Fatalf("got %d events, want %d", len(got), len(events))
	}
	for i, ev := range got {
		if ev != events[i] {
			t.Errorf("event[%d] = %+v, want %+v", i, ev, events[i])
		}
	}
}

func TestBrokerMultipleSubscribers(t *testing.T) {
	b := engine.NewProgressBroker()
	ch1, unsub1 := b.Subscribe("j1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("j1")
	defer unsub2()

	b.Publish(event("j1", model.StateDispatched, 10))
	b.Close("j1")

	var got1, got2 []engine.ProgressEvent
	for ev := range ch1 {
		got1 = append(got1, ev)
	}
	for ev := range ch2 {
		got2 = append(got2, ev)
	}

	if len(got1) != 1 || got1[0].State != model.StateDispatched {
		t.Errorf("subscriber 1 got %v", got1)
	}
	if len(got2) != 1 || got2[0].State != model.StateDispatched {
		t.Errorf("subscriber 2 got %v", got2)
	}
}

func TestBrokerReplaysLastEvent(t *testing.T) {
	b := engine.NewProgressBroker()

	b.Publish(event("j1", model.StateDispatched, 10))
	b.Publish(event("j1", model.StatePolling, 40))

	// A subscriber arriving mid-job starts from the current state.
	ch, unsub := b.Subscribe("j1")
	defer unsub()

	got := <-ch
	if got.State != model.StatePolling || got.Progress != 40 {
		t.Errorf("replayed event = %+v, want polling/40", got)
	}
}

func TestBrokerCloseClosesChannels(t *testing.T) {
	b := engine.NewProgressBroker()
	ch, unsub := b.Subscribe("j1")
	defer unsub()

	b.Close("j1")

	_, ok := <-ch
	if ok {
		t.Error("channel should be closed after Close()")
	}
}

func TestBrokerLateSubscriberGetsClosed(t *testing.T) {
	b := engine.NewProgressBroker()
	b.Publish(event("j1", model.StateCompleted, 100))
	b.Close("j1")

	ch, unsub := b.Subscribe("j1")
	defer unsub()

	_, ok := <-ch
	if ok {
		t.Error("late subscriber should get a closed channel")
	}
}

func TestBrokerPublishAfterCloseIgnored(t *testing.T) {
	b := engine.NewProgressBroker()
	b.Close("j1")
	b.Publish(event("j1", model.StatePolling, 50)) // no panic, silently dropped

	ch, unsub := b.Subscribe("j1")
	defer unsub()
	if _, ok := <-ch; ok {
		t.Error("topic should stay closed after Close()")
	}
}

func TestBrokerIndependentTopics(t *testing.T) {
	b := engine.NewProgressBroker()
	ch1, unsub1 := b.Subscribe("j1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("j2")
	defer unsub2()

	b.Publish(event("j1", model.StateDispatched, 10))
	b.Close("j1")
	b.Close("j2")

	var got1, got2 int
	for range ch1 {
		got1++
	}
	for range ch2 {
		got2++
	}
	if got1 != 1 {
		t.Errorf("j1 subscriber got %d events, want 1", got1)
	}
	if got2 != 0 {
		t.Errorf("j2 subscriber got %d events, want 0", got2)
	}
}
