package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	Emit(b, TypePoolResized, PoolResized{Pool: "cpu", From: 4, To: 2, Generation: 2})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TypePoolResized {
				t.Fatalf("Type = %s, want %s", e.Type, TypePoolResized)
			}
			if d, ok := e.Data.(PoolResized); !ok || d.To != 2 {
				t.Fatalf("unexpected data: %#v", e.Data)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()
	for i := 0; i < 10; i++ {
		Emit(b, TypePoolDrained, nil)
	}
	if got := len(ch); got != 1 {
		t.Fatalf("buffered = %d, want 1", got)
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub()
	Emit(b, TypePoolDrained, nil)
	Emit(nil, TypePoolDrained, nil)
}
