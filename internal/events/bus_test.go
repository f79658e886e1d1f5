package events

import (
	"sync"
	"testing"

	"github.com/webchat-console/webchat/internal/interfaces"
)

func TestDrainEmptiesQueueInOrder(t *testing.T) {
	b := New()
	b.Post(interfaces.ShowMessageBox{Text: "one"})
	b.Post(interfaces.ShowMessageBox{Text: "two"})
	b.Post(interfaces.ShowMessageBox{Text: "three"})

	var got []string
	n := b.Drain(func(ev interfaces.Event) {
		got = append(got, ev.(interfaces.ShowMessageBox).Text)
	})

	if n != 3 {
		t.Errorf("drained %d events, want 3", n)
	}
	for i, want := range []string{"one", "two", "three"} {
		if got[i] != want {
			t.Errorf("event %d = %q, want %q", i, got[i], want)
		}
	}
	if b.Pending() != 0 {
		t.Errorf("queue not empty after drain: %d", b.Pending())
	}
}

func TestDrainStopsAtYield(t *testing.T) {
	b := New()
	b.Post(interfaces.ShowMessageBox{Text: "before"})
	b.PostYield(interfaces.RefreshChatMembers{ChatID: "@@g1"})

	var first []interfaces.Event
	n := b.Drain(func(ev interfaces.Event) { first = append(first, ev) })
	if n != 1 {
		t.Fatalf("first pass handled %d events, want 1", n)
	}
	if _, ok := first[0].(interfaces.ShowMessageBox); !ok {
		t.Errorf("first pass handled %T", first[0])
	}

	// the deferred event arrives on the next pass
	var second []interfaces.Event
	b.Drain(func(ev interfaces.Event) { second = append(second, ev) })
	if len(second) != 1 {
		t.Fatalf("second pass handled %d events, want 1", len(second))
	}
	if ev, ok := second[0].(interfaces.RefreshChatMembers); !ok || ev.ChatID != "@@g1" {
		t.Errorf("second pass handled %#v", second[0])
	}
}

func TestDrainOnEmptyBus(t *testing.T) {
	b := New()
	if n := b.Drain(func(interfaces.Event) { t.Error("handler called on empty bus") }); n != 0 {
		t.Errorf("drained %d from empty bus", n)
	}
}

func TestConcurrentProducers(t *testing.T) {
	b := NewWithCapacity(1024)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Post(interfaces.ShowMessageBox{Text: "x"})
			}
		}()
	}
	wg.Wait()

	total := 0
	for {
		n := b.Drain(func(interfaces.Event) {})
		if n == 0 {
			break
		}
		total += n
	}
	if total != 800 {
		t.Errorf("drained %d events, want 800", total)
	}
}
