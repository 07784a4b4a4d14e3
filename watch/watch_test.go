package watch

import "testing"

func TestSubscribeReceivesCurrent(t *testing.T) {
	v := New[int]()
	v.Publish(3)

	ch, cancel := v.Subscribe()
	defer cancel()

	if got := <-ch; got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
}

func TestSubscribeBeforePublish(t *testing.T) {
	v := New[string]()
	ch, cancel := v.Subscribe()
	defer cancel()

	select {
	case x := <-ch:
		t.Fatalf("expected no value yet, got %q", x)
	default:
	}

	v.Publish("a")
	if got := <-ch; got != "a" {
		t.Errorf("expected a, got %q", got)
	}
}

func TestSlowSubscriberSeesLatest(t *testing.T) {
	v := New[int]()
	ch, cancel := v.Subscribe()
	defer cancel()

	for i := 1; i <= 5; i++ {
		v.Publish(i)
	}
	if got := <-ch; got != 5 {
		t.Errorf("expected latest value 5, got %d", got)
	}
	select {
	case x := <-ch:
		t.Errorf("expected no further value, got %d", x)
	default:
	}
}

func TestCancelClosesChannel(t *testing.T) {
	v := New[int]()
	ch, cancel := v.Subscribe()
	if v.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", v.Subscribers())
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("expected closed channel")
	}
	if v.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", v.Subscribers())
	}
	v.Publish(1)
}

func TestClose(t *testing.T) {
	v := New[int]()
	v.Publish(1)
	ch, cancel := v.Subscribe()
	<-ch

	v.Close()
	if _, ok := <-ch; ok {
		t.Error("expected channel closed by Close")
	}
	cancel()

	late, _ := v.Subscribe()
	if _, ok := <-late; ok {
		t.Error("expected subscription after Close to be closed")
	}

	v.Publish(2)
	if got, _ := v.Get(); got != 1 {
		t.Errorf("expected publish after Close to be ignored, got %d", got)
	}
}
