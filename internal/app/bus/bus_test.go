package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"relaychat/internal/app/packet"
)

func recvWithin(t *testing.T, sub *Subscription, d time.Duration) (packet.Packet, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return sub.Recv(ctx)
}

func TestPublishOrderPerSubscriber(t *testing.T) {
	b := New(16)
	s1 := b.Subscribe()
	s2 := b.Subscribe()

	for i := range 10 {
		if n := b.Publish(packet.NewMessage(uint32(i), "m")); n != 2 {
			t.Fatalf("Publish() reached %d subscribers, want 2", n)
		}
	}

	for _, sub := range []*Subscription{s1, s2} {
		for i := range 10 {
			p, err := recvWithin(t, sub, time.Second)
			if err != nil {
				t.Fatalf("Recv() error = %v", err)
			}
			if p.UserID != uint32(i) {
				t.Fatalf("Recv() #%d got user %d, want %d", i, p.UserID, i)
			}
		}
		if _, err := sub.TryRecv(); !errors.Is(err, ErrEmpty) {
			t.Errorf("TryRecv() after draining error = %v, want ErrEmpty", err)
		}
	}
}

func TestLateSubscriberMissesEarlierPackets(t *testing.T) {
	b := New(8)
	b.Publish(packet.UserConnected(1, "early"))

	sub := b.Subscribe()
	if _, err := sub.TryRecv(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("TryRecv() error = %v, want ErrEmpty", err)
	}

	b.Publish(packet.UserConnected(2, "late"))
	p, err := sub.TryRecv()
	if err != nil || p.UserID != 2 {
		t.Errorf("TryRecv() = %+v, %v; want user 2", p, err)
	}
}

func TestSlowSubscriberGetsLagSignal(t *testing.T) {
	const capacity = 4
	b := New(capacity)
	slow := b.Subscribe()

	// A publisher never blocks, even though nobody reads.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range capacity + 3 {
			b.Publish(packet.NewMessage(uint32(i), "x"))
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	select {
	case <-slow.Ready():
	default:
		t.Fatal("Ready() not signalled after publishes")
	}

	_, err := slow.TryRecv()
	var lag *LagError
	if !errors.As(err, &lag) {
		t.Fatalf("TryRecv() error = %v, want *LagError", err)
	}
	if lag.Skipped != 3 {
		t.Errorf("Skipped = %d, want 3", lag.Skipped)
	}

	// The remaining packets are the newest ones, still in order.
	for want := uint32(3); want < capacity+3; want++ {
		p, err := recvWithin(t, slow, time.Second)
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		if p.UserID != want {
			t.Fatalf("Recv() user = %d, want %d", p.UserID, want)
		}
	}
}

func TestConcurrentPublishersSameOrderEverywhere(t *testing.T) {
	const perPublisher = 50
	b := New(4 * perPublisher)
	subs := []*Subscription{b.Subscribe(), b.Subscribe(), b.Subscribe()}

	var wg sync.WaitGroup
	for pub := range 4 {
		wg.Add(1)
		go func(pub int) {
			defer wg.Done()
			for i := range perPublisher {
				b.Publish(packet.NewMessage(uint32(pub*1000+i), ""))
			}
		}(pub)
	}
	wg.Wait()

	var reference []uint32
	for i, sub := range subs {
		var got []uint32
		for {
			p, err := sub.TryRecv()
			if errors.Is(err, ErrEmpty) {
				break
			}
			if err != nil {
				t.Fatalf("TryRecv() error = %v", err)
			}
			got = append(got, p.UserID)
		}
		if len(got) != 4*perPublisher {
			t.Fatalf("subscriber %d received %d packets", i, len(got))
		}

		// Each publisher's own packets arrive in the order it published them.
		last := map[uint32]int{}
		for _, id := range got {
			pub, seq := id/1000, int(id%1000)
			if prev, ok := last[pub]; ok && seq <= prev {
				t.Fatalf("subscriber %d: publisher %d out of order (%d after %d)", i, pub, seq, prev)
			}
			last[pub] = seq
		}

		if reference == nil {
			reference = got
			continue
		}
		for j := range got {
			if got[j] != reference[j] {
				t.Fatalf("subscriber %d diverges from subscriber 0 at %d", i, j)
			}
		}
	}
}

func TestRecvHonoursContext(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sub.Recv(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Recv() error = %v, want context.Canceled", err)
	}
}

func TestCloseDrainsThenReportsClosed(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	b.Publish(packet.UserDisconnected(9))

	waiting := b.Subscribe()
	errc := make(chan error, 1)
	go func() {
		_, err := waiting.Recv(context.Background())
		errc <- err
	}()

	b.Close()
	if n := b.Publish(packet.UserDisconnected(10)); n != 0 {
		t.Errorf("Publish() after Close reached %d subscribers", n)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("blocked Recv() error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake a blocked receiver")
	}

	p, err := recvWithin(t, sub, time.Second)
	if err != nil || p.UserID != 9 {
		t.Fatalf("Recv() = %+v, %v; want the packet published before Close", p, err)
	}
	if _, err := sub.TryRecv(); !errors.Is(err, ErrClosed) {
		t.Errorf("TryRecv() after drain error = %v, want ErrClosed", err)
	}
}

func TestSubscriptionClose(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	if b.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d", b.Subscribers())
	}

	sub.Close()
	sub.Close()

	if b.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d after Close", b.Subscribers())
	}
	if n := b.Publish(packet.NewMessage(1, "x")); n != 0 {
		t.Errorf("Publish() reached %d subscribers", n)
	}
	if _, err := sub.TryRecv(); !errors.Is(err, ErrClosed) {
		t.Errorf("TryRecv() error = %v, want ErrClosed", err)
	}

	late := b.Subscribe()
	select {
	case <-late.Ready():
	case <-time.After(time.Second):
		t.Fatal("a subscription taken after Close was never signalled")
	}
	if _, err := late.TryRecv(); !errors.Is(err, ErrClosed) {
		t.Errorf("late TryRecv() error = %v, want ErrClosed", err)
	}
}

func TestCloseSignalsReady(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()

	b.Close()

	select {
	case <-sub.Ready():
	case <-time.After(time.Second):
		t.Fatal("Close did not signal an idle subscription")
	}
	if _, err := sub.TryRecv(); !errors.Is(err, ErrClosed) {
		t.Errorf("TryRecv() error = %v, want ErrClosed", err)
	}
}
