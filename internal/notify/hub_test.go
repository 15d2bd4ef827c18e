package notify

import (
	"sync"
	"testing"
	"time"
)

func TestHubDeliversToSubscriber(t *testing.T) {
	h := NewHub(nil)
	ch, cancel := h.Subscribe("a@x.com")
	defer cancel()

	h.Notify("a@x.com", "newMail", 42)

	select {
	case e := <-ch:
		if e.Name != "newMail" || e.Payload != 42 {
			t.Errorf("got event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestHubDropsWithoutSubscriber(t *testing.T) {
	h := NewHub(nil)
	// Must not panic or block.
	h.Notify("nobody@x.com", "newMail", nil)
}

func TestHubTopicIsolation(t *testing.T) {
	h := NewHub(nil)
	a, cancelA := h.Subscribe("a@x.com")
	defer cancelA()
	_, cancelB := h.Subscribe("b@x.com")
	defer cancelB()

	h.Notify("b@x.com", "newMail", nil)

	select {
	case e := <-a:
		t.Errorf("a received b's event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	h := NewHub(nil)
	ch, cancel := h.Subscribe("a@x.com")
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
	// Publishing after cancel must not panic.
	h.Notify("a@x.com", "newMail", nil)
}

// Cancelling a subscription while publishers are mid-Notify must never
// send on the closed channel. Run with -race to catch regressions in
// the lock discipline.
func TestHubConcurrentCancelAndNotify(t *testing.T) {
	h := NewHub(nil)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					h.Notify("a@x.com", "newMail", nil)
				}
			}
		}()
	}

	for i := 0; i < 2000; i++ {
		ch, cancel := h.Subscribe("a@x.com")
		for drained := false; !drained; {
			select {
			case <-ch:
			default:
				drained = true
			}
		}
		cancel()
	}
	close(stop)
	wg.Wait()
}

func TestHubFullSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(nil)
	_, cancel := h.Subscribe("a@x.com")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			h.Notify("a@x.com", "newMail", i)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on full subscriber")
	}
}
