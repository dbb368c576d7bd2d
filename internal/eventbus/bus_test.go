package eventbus

import "testing"

func TestPublishOrder(t *testing.T) {
	t.Parallel()

	bus := New()
	var got []int
	bus.Subscribe("topic", func(any) { got = append(got, 1) })
	bus.Subscribe("topic", func(any) { got = append(got, 2) })
	bus.Subscribe("other", func(any) { got = append(got, 3) })

	bus.Publish("topic", nil)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("handlers ran as %v, want [1 2]", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	bus := New()
	calls := 0
	sub := bus.Subscribe("topic", func(any) { calls++ })
	bus.Publish("topic", nil)
	bus.Unsubscribe(sub)
	bus.Publish("topic", nil)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	// Unknown subscriptions are ignored.
	bus.Unsubscribe(Subscription{ID: "missing", Topic: "topic"})
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	t.Parallel()

	bus := New()
	delivered := false
	bus.Subscribe("topic", func(any) { panic("boom") })
	bus.Subscribe("topic", func(any) { delivered = true })

	bus.Publish("topic", nil)
	if !delivered {
		t.Fatal("second handler was not invoked after panic")
	}
}

func TestPayloadDelivery(t *testing.T) {
	t.Parallel()

	bus := New()
	var got any
	bus.Subscribe("topic", func(payload any) { got = payload })
	bus.Publish("topic", "connected")
	if got != "connected" {
		t.Fatalf("payload = %v, want connected", got)
	}
}
