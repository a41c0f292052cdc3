package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("Channel closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("Event not received within timeout")
	}
	return Event{}
}

func TestEventBus_Subscribe(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeDetectionComplete)
	other := bus.Subscribe(EventTypeModelLoaded)

	bus.Publish(Event{
		Type:   EventTypeDetectionComplete,
		Source: "coordinator",
		Data:   map[string]interface{}{"count": 3},
	})

	ev := receive(t, ch)
	if ev.Source != "coordinator" {
		t.Errorf("Expected source coordinator, got %s", ev.Source)
	}
	if ev.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
	select {
	case <-other:
		t.Error("Subscriber of another type should not receive the event")
	default:
	}
}

func TestEventBus_SubscribeAllReceivesLaterTypes(t *testing.T) {
	bus := NewEventBus(10)
	all := bus.SubscribeAll()

	bus.Publish(Event{Type: EventTypeModelFailed, Source: "model"})
	bus.Publish(Event{Type: EventTypeDetectionFailed, Source: "coordinator"})

	if ev := receive(t, all); ev.Type != EventTypeModelFailed {
		t.Errorf("Expected %s, got %s", EventTypeModelFailed, ev.Type)
	}
	if ev := receive(t, all); ev.Type != EventTypeDetectionFailed {
		t.Errorf("Expected %s, got %s", EventTypeDetectionFailed, ev.Type)
	}
}

func TestEventBus_PublishDoesNotBlock(t *testing.T) {
	bus := NewEventBus(1)
	bus.Subscribe(EventTypeStateChanged)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Type: EventTypeStateChanged})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestEventBus_UnsubscribeAndClose(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeDetectionComplete)
	all := bus.SubscribeAll()

	bus.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("Expected channel to be closed after Unsubscribe")
	}

	bus.Close()
	bus.Close()
	if _, ok := <-all; ok {
		t.Error("Expected wildcard channel to be closed after Close")
	}

	// Publishing and subscribing after close are safe
	bus.Publish(Event{Type: EventTypeDetectionComplete})
	late := bus.Subscribe(EventTypeDetectionComplete)
	if _, ok := <-late; ok {
		t.Error("Expected subscription after Close to be closed")
	}
}

func TestEventBus_SubscribeWithHandler(t *testing.T) {
	bus := NewEventBus(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan Event, 1)
	failures := make(chan error, 1)
	bus.SubscribeWithHandler(ctx, EventTypeDetectionFailed, func(ctx context.Context, ev Event) error {
		handled <- ev
		return errors.New("handler failed")
	}, func(ev Event, err error) {
		failures <- err
	})

	bus.Publish(Event{Type: EventTypeDetectionFailed, Source: "coordinator"})

	receive(t, handled)
	select {
	case err := <-failures:
		if err.Error() != "handler failed" {
			t.Errorf("Unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected onError to be called")
	}
}
