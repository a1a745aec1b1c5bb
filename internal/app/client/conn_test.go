package client

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"relaychat/internal/app/bus"
	"relaychat/internal/app/chat"
	"relaychat/internal/app/directory"
	"relaychat/internal/app/packet"
	"relaychat/internal/pkg/errs"
)

// fakeServer accepts connections on loopback and hands each to serve.
func fakeServer(t *testing.T, serve func(net.Conn)) (addr string, accepted *atomic.Int32) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	accepted = new(atomic.Int32)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			go func() {
				defer conn.Close()
				serve(conn)
			}()
		}
	}()
	return ln.Addr().String(), accepted
}

func TestDialHandshake(t *testing.T) {
	names := make(chan string, 1)
	addr, _ := fakeServer(t, func(conn net.Conn) {
		enc := packet.NewEncoder(conn)
		dec := packet.NewDecoder(conn, packet.DefaultMaxFrameBytes)

		enc.Encode(packet.NewMessage(1, "noise before the id"))
		enc.Encode(packet.IDAssign(42))

		p, err := dec.Decode()
		if err != nil || p.Kind != packet.KindUsernameChange || p.UserID != 42 {
			names <- ""
			return
		}
		names <- p.Contents

		enc.Encode(packet.UserConnected(43, "bob"))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, addr, "alice")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if c.ID() != 42 {
		t.Errorf("ID() = %d, want 42", c.ID())
	}
	if got := <-names; got != "alice" {
		t.Errorf("server saw name %q, want alice", got)
	}

	st := NewState(c.ID(), "alice")
	var lines []string
	if err := c.Follow(ctx, st, func(l string) { lines = append(lines, l) }); err != nil {
		t.Fatalf("Follow() error = %v", err)
	}
	if len(lines) != 1 || lines[0] != "bob joined the chat" {
		t.Errorf("Follow emitted %q", lines)
	}
}

func TestDialRetryDoesNotRetryFailedHandshake(t *testing.T) {
	addr, accepted := fakeServer(t, func(conn net.Conn) {})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := DialRetry(ctx, addr, "alice", 3)
	if !errs.HasCode(err, errs.ErrHandshakeFailed) {
		t.Fatalf("DialRetry() error = %v, want handshake failure", err)
	}
	if n := accepted.Load(); n != 1 {
		t.Errorf("server accepted %d connections, want 1", n)
	}
}

func TestDialRetryGivesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := DialRetry(ctx, addr, "alice", 2); err == nil {
		t.Fatal("DialRetry() to a closed port succeeded")
	}
}

func TestClientsAgainstRealServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New(64)
	srv := chat.NewServer(directory.New(), b, chat.Options{
		Session: chat.SessionConfig{WriteTimeout: time.Second, MaxFrameBytes: packet.DefaultMaxFrameBytes},
	})
	ln, err := srv.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ctx, ln)
	t.Cleanup(func() {
		cancel()
		srv.Wait(2 * time.Second)
		b.Close()
	})

	dialCtx, dialCancel := context.WithTimeout(ctx, 2*time.Second)
	defer dialCancel()

	alice, err := Dial(dialCtx, ln.Addr().String(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer alice.Close()

	lines := make(chan string, 16)
	aliceState := NewState(alice.ID(), "alice")
	go alice.Follow(ctx, aliceState, func(l string) { lines <- l })

	bob, err := Dial(dialCtx, ln.Addr().String(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	defer bob.Close()

	in, err := ParseInput(bob.ID(), "hi alice")
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"bob joined the chat", "(bob) hi alice"}
	sent := false
	for _, w := range want {
		select {
		case got := <-lines:
			if got != w {
				t.Fatalf("alice saw %q, want %q", got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", w)
		}
		if !sent {
			if err := bob.Send(in.Packet); err != nil {
				t.Fatal(err)
			}
			sent = true
		}
	}
}
