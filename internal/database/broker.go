package database

import (
	"context"
	"log/slog"
	"sync"
)

const subscriptionBuffer = 64

// Subscription receives messages inserted into one session. Ready is closed
// once the subscription is registered. Lagged is closed the first time a
// message could not be delivered, after which the feed is no longer complete.
type Subscription struct {
	sessionID string
	ch        chan *Message
	ready     chan struct{}
	lagged    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	lagOnce   sync.Once
	broker    *Broker
}

// C returns the channel of inserted messages. It is closed by Close.
func (s *Subscription) C() <-chan *Message {
	return s.ch
}

// Ready returns a channel closed when the subscription is active.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Lagged returns a channel closed once the subscription has missed a message.
func (s *Subscription) Lagged() <-chan struct{} {
	return s.lagged
}

func (s *Subscription) markLagged() {
	s.lagOnce.Do(func() { close(s.lagged) })
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.broker.remove(s)
		close(s.done)
	})
}

// Broker fans inserted messages out to the subscribers of their session.
// SQLite has no change feed, so the store publishes after every committed
// insert.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	logger *slog.Logger
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger.With("component", "message_broker"),
	}
}

// Subscribe registers a subscription for sessionID. The subscription is
// closed automatically when ctx is done.
func (b *Broker) Subscribe(ctx context.Context, sessionID string) *Subscription {
	sub := &Subscription{
		sessionID: sessionID,
		ch:        make(chan *Message, subscriptionBuffer),
		ready:     make(chan struct{}),
		lagged:    make(chan struct{}),
		done:      make(chan struct{}),
		broker:    b,
	}

	b.mu.Lock()
	set, ok := b.subs[sessionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()
	close(sub.ready)

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub
}

// Publish delivers msg to every subscriber of its session without blocking.
// A subscriber whose buffer is full misses the message and is marked lagged.
func (b *Broker) Publish(msg *Message) {
	if msg == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[msg.SessionID] {
		cp := *msg
		select {
		case sub.ch <- &cp:
		default:
			sub.markLagged()
			b.logger.Warn("Subscriber buffer full, dropping message", "session_id", msg.SessionID, "message_id", msg.ID)
		}
	}
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[sub.sessionID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.sessionID)
	}
	close(sub.ch)
}
