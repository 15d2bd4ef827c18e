/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package notify is the in-process publish/subscribe channel for
// new-mail events. Topics are keyed by user identity; delivery is
// best-effort and never blocks or fails the publisher.
package notify

import (
	"sync"

	gologme "github.com/gologme/log"
)

// Event is one notification delivered to a subscriber.
type Event struct {
	Identity string
	Name     string
	Payload  any
}

const subscriberBuffer = 16

type Hub struct {
	mu   sync.RWMutex
	subs map[string][]chan Event
	log  *gologme.Logger
}

func NewHub(log *gologme.Logger) *Hub {
	return &Hub{
		subs: make(map[string][]chan Event),
		log:  log,
	}
}

// Subscribe returns a channel of events for one identity and a cancel
// function that closes it. Slow subscribers lose events rather than
// stalling the publisher.
func (h *Hub) Subscribe(identity string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[identity] = append(h.subs[identity], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		chans := h.subs[identity]
		for i, c := range chans {
			if c == ch {
				h.subs[identity] = append(chans[:i], chans[i+1:]...)
				close(ch)
				break
			}
		}
		if len(h.subs[identity]) == 0 {
			delete(h.subs, identity)
		}
	}
	return ch, cancel
}

// Notify publishes an event to every subscriber of the identity's
// topic. Fire-and-forget: events for identities nobody listens to are
// dropped, as are events a full subscriber cannot take.
func (h *Hub) Notify(identity, event string, payload any) {
	// Sends happen under the read lock: cancel closes channels under
	// the write lock, so a channel can never close mid-send. The sends
	// never block, so holding the lock here is cheap.
	h.mu.RLock()
	defer h.mu.RUnlock()
	chans := h.subs[identity]
	if len(chans) == 0 {
		return
	}
	e := Event{Identity: identity, Name: event, Payload: payload}
	for _, ch := range chans {
		select {
		case ch <- e:
		default:
			if h.log != nil {
				h.log.Debugf("dropping %s event for %s: subscriber full", event, identity)
			}
		}
	}
}
