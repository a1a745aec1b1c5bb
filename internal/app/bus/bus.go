/*
Package bus implements the broadcast channel that fans packets out to every live connection.

Published packets go into a fixed-size ring shared by all subscriptions. Each subscription keeps
its own read cursor, so a publisher never waits for a subscriber. A subscriber that falls more
than a ring's length behind loses the oldest packets it had not read and is told how many through
a *LagError, after which it continues from the oldest packet still held.
*/
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"relaychat/internal/app/packet"
	"relaychat/internal/pkg/logx"
)

// DefaultCapacity is the ring size used when New is given a non-positive capacity.
const DefaultCapacity = 128

var (
	// ErrEmpty is returned by TryRecv when nothing new has been published.
	ErrEmpty = errors.New("bus: no packet available")

	// ErrClosed is returned once the bus is closed and drained, or the subscription was closed.
	ErrClosed = errors.New("bus: closed")
)

// LagError reports that a subscription fell behind and Skipped packets were dropped for it.
type LagError struct {
	Skipped uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("bus: subscriber lagged, %d packets skipped", e.Skipped)
}

// Bus is a multi-producer, multi-consumer broadcast of packets. It is safe for concurrent use.
type Bus struct {
	// mu guards ring, head, subs and closed.
	mu sync.RWMutex

	ring []packet.Packet

	// head is the sequence number the next published packet will get.
	head uint64

	subs   map[*Subscription]struct{}
	closed bool
	done   chan struct{}

	logger zerolog.Logger
}

// New constructs a Bus whose ring holds capacity packets.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Bus{
		ring:   make([]packet.Packet, capacity),
		subs:   make(map[*Subscription]struct{}),
		done:   make(chan struct{}),
		logger: logx.Component("bus"),
	}
}

// Capacity returns the ring size.
func (b *Bus) Capacity() int {
	return len(b.ring)
}

// Publish makes p visible to every current subscription and returns how many there are.
// It never blocks on subscribers. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(p packet.Packet) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0
	}

	b.ring[b.head%uint64(len(b.ring))] = p
	b.head++

	for sub := range b.subs {
		sub.signal()
	}

	return len(b.subs)
}

// Subscribe returns a subscription that receives every packet published after this call.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		bus:   b,
		next:  b.head,
		ready: make(chan struct{}, 1),
	}

	if b.closed {
		sub.signal()
	} else {
		b.subs[sub] = struct{}{}
	}

	b.logger.Debug().Int("subscribers", len(b.subs)).Msg("Subscription added.")
	return sub
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}

// Close stops accepting publishes and wakes every receiver. Subscribers still drain what
// was published before Close, then get ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for sub := range b.subs {
		sub.signal()
	}

	b.logger.Info().Int("subscribers", len(b.subs)).Msg("Bus closed.")
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subs, sub)
}

// Subscription is one receiver's view of the bus. A subscription must be read by a
// single goroutine at a time.
type Subscription struct {
	bus *Bus

	// next is the sequence number of the next packet to deliver. Only the owning
	// receiver touches it.
	next uint64

	// ready holds a token whenever unread packets may be available.
	ready chan struct{}

	closed atomic.Bool
}

func (s *Subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Ready returns a channel that has a value whenever TryRecv may succeed or the bus was closed.
// It is meant to sit in a select next to other event sources; after it fires call TryRecv once.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// TryRecv returns the next packet without blocking. It returns ErrEmpty if there is none,
// a *LagError if packets were dropped for this subscriber, or ErrClosed.
func (s *Subscription) TryRecv() (packet.Packet, error) {
	if s.closed.Load() {
		return packet.Packet{}, ErrClosed
	}

	b := s.bus
	b.mu.RLock()
	defer b.mu.RUnlock()

	if s.next == b.head {
		if b.closed {
			return packet.Packet{}, ErrClosed
		}
		return packet.Packet{}, ErrEmpty
	}

	capacity := uint64(len(b.ring))
	var oldest uint64
	if b.head > capacity {
		oldest = b.head - capacity
	}

	if s.next < oldest {
		skipped := oldest - s.next
		s.next = oldest
		s.signal()
		return packet.Packet{}, &LagError{Skipped: skipped}
	}

	p := b.ring[s.next%capacity]
	s.next++

	if s.next < b.head {
		s.signal()
	}

	return p, nil
}

// Recv blocks until a packet is available, ctx is done, or the bus is closed and drained.
func (s *Subscription) Recv(ctx context.Context) (packet.Packet, error) {
	for {
		p, err := s.TryRecv()
		if !errors.Is(err, ErrEmpty) {
			return p, err
		}

		select {
		case <-s.ready:
		case <-s.bus.done:
			// Loop once more so packets published before Close are still delivered.
		case <-ctx.Done():
			return packet.Packet{}, ctx.Err()
		}
	}
}

// Close detaches the subscription from the bus. It is safe to call more than once.
func (s *Subscription) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.bus.unsubscribe(s)
}
