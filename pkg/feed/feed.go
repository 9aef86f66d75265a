// Package feed is the live-notification broker: it delivers an event for
// each message insert to every subscriber whose filter matches the
// message's thread.
//
// The delivery contract is deliberately weak, matching what external
// change feeds provide: at-least-once, roughly creation order, no
// retention before subscription. One strengthening is made: when a
// subscriber's buffer overflows, the broker does not drop silently: it
// marks the subscription lapsed and closes the event channel, so the
// subscriber knows it must resubscribe and re-fetch the tail. Consumers
// must tolerate duplicates and out-of-order delivery regardless.
package feed

import (
	"sync"

	"commshub/pkg/logger"
	"commshub/pkg/models"
)

// Event is one qualifying row insert.
type Event struct {
	Thread  string
	Message models.Message
}

// Subscription is a live, thread-filtered event stream.
type Subscription struct {
	ThreadID string

	ch     chan Event
	broker *Broker

	// mu serializes delivery with teardown: the channel is only ever
	// closed, and only ever sent to, while holding it.
	mu     sync.Mutex
	closed bool
	lapsed bool
}

// Events returns the event channel. It is closed when the subscription is
// cancelled or lapses.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Lapsed reports whether the broker abandoned this subscription because
// the consumer fell behind. A lapsed subscriber must resubscribe and
// re-fetch the thread tail to close the gap.
func (s *Subscription) Lapsed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lapsed
}

// Cancel tears the subscription down. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.broker.remove(s)
	s.close(false)
}

// close shuts the channel at most once. Reports whether this call did the
// closing.
func (s *Subscription) close(lapsed bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	if lapsed {
		s.lapsed = true
	}
	close(s.ch)
	return true
}

// deliver attempts a non-blocking send. delivered is true when the event
// was buffered; open is false when the subscription was already torn down
// (the publisher skips it rather than lapsing it).
func (s *Subscription) deliver(ev Event) (delivered, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	select {
	case s.ch <- ev:
		return true, true
	default:
		return false, true
	}
}

// Broker fans message-insert events out to thread-scoped subscribers.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{} // thread id -> subs
	buffer int
}

// NewBroker returns a broker whose subscriptions buffer up to buffer
// events before lapsing. Non-positive buffer falls back to a default.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe opens a stream of insert events filtered to one thread. The
// filter is fixed for the subscription's lifetime; a view switching
// threads cancels and subscribes anew rather than widening the filter.
func (b *Broker) Subscribe(threadID string) *Subscription {
	s := &Subscription{
		ThreadID: threadID,
		ch:       make(chan Event, b.buffer),
		broker:   b,
	}
	b.mu.Lock()
	if b.subs[threadID] == nil {
		b.subs[threadID] = make(map[*Subscription]struct{})
	}
	b.subs[threadID][s] = struct{}{}
	b.mu.Unlock()
	mSubscriptions.Inc()
	logger.Debug("feed_subscribed", "thread", threadID)
	return s
}

// Publish delivers an insert event to every current subscriber of the
// message's thread. Delivery never blocks the publisher: a subscriber
// whose buffer is full lapses instead.
func (b *Broker) Publish(msg models.Message) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs[msg.Thread]))
	for s := range b.subs[msg.Thread] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	mPublished.Inc()
	ev := Event{Thread: msg.Thread, Message: msg}
	for _, s := range targets {
		delivered, open := s.deliver(ev)
		switch {
		case delivered:
			mDelivered.Inc()
		case open:
			logger.Warn("feed_subscriber_lapsed", "thread", msg.Thread)
			b.remove(s)
			if s.close(true) {
				mLapsed.Inc()
			}
		}
	}
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	if set, ok := b.subs[s.ThreadID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.ThreadID)
		}
	}
	b.mu.Unlock()
}

// DropThread lapses every subscriber of a thread. Used when a thread is
// archived so live viewers are forced off instead of streaming a dead
// thread.
func (b *Broker) DropThread(threadID string) {
	b.mu.Lock()
	set := b.subs[threadID]
	delete(b.subs, threadID)
	b.mu.Unlock()
	for s := range set {
		if s.close(true) {
			mLapsed.Inc()
		}
	}
	if len(set) > 0 {
		logger.Info("feed_thread_dropped", "thread", threadID, "subscribers", len(set))
	}
}

// SubscriberCount reports current subscribers for a thread.
func (b *Broker) SubscriberCount(threadID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[threadID])
}
