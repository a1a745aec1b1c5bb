/*
Package client implements the terminal client's side of the chat protocol: dialing and the
handshake, a local mirror of the roster and message lines built purely from received packets,
and parsing of user input into outbound packets. Rendering is left to the caller.
*/
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"relaychat/internal/app/packet"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

const (
	// DefaultHandshakeTimeout bounds the wait for the server's IDAssign.
	DefaultHandshakeTimeout = 10 * time.Second

	// delay before the first reconnect attempt; later attempts back off exponentially.
	dialBackoffBase = 200 * time.Millisecond
)

// Conn is a handshaken connection to a chat server. Sends are safe for concurrent use;
// receives must come from a single goroutine.
type Conn struct {
	conn net.Conn
	dec  *packet.Decoder

	// mu serializes writers on enc.
	mu  sync.Mutex
	enc *packet.Encoder

	id     uint32
	logger zerolog.Logger
}

// Dial connects to addr and performs the handshake: it waits for the server's IDAssign and
// replies with a UsernameChange carrying name.
func Dial(ctx context.Context, addr, name string) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c, err := handshake(ctx, nc, name)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// DialRetry calls Dial up to attempts times with exponential backoff. Only connection
// failures are retried; a failed handshake is returned at once.
func DialRetry(ctx context.Context, addr, name string, attempts uint64) (*Conn, error) {
	if attempts == 0 {
		attempts = 1
	}

	var c *Conn
	backoff := retry.WithMaxRetries(attempts-1, retry.NewExponential(dialBackoffBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		c, err = Dial(ctx, addr, name)
		if err == nil {
			return nil
		}
		if errs.HasCode(err, errs.ErrHandshakeFailed) {
			return err
		}
		logx.Warn("Connect attempt failed.", "addr", addr, "error", err.Error())
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func handshake(ctx context.Context, nc net.Conn, name string) (*Conn, error) {
	deadline := time.Now().Add(DefaultHandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := nc.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		nc.SetReadDeadline(time.Now())
	})
	defer stop()

	c := &Conn{
		conn: nc,
		dec:  packet.NewDecoder(nc, packet.DefaultMaxFrameBytes),
		enc:  packet.NewEncoder(nc),
	}

	for {
		p, err := c.dec.Decode()
		if err != nil {
			return nil, fmt.Errorf("%w: waiting for id: %w", errs.NewError(errs.ErrHandshakeFailed), err)
		}
		if p.Kind == packet.KindIDAssign {
			c.id = p.UserID
			break
		}
	}

	if err := nc.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	if err := c.Send(packet.UsernameChange(c.id, name)); err != nil {
		return nil, fmt.Errorf("%w: sending name: %w", errs.NewError(errs.ErrHandshakeFailed), err)
	}

	c.logger = logx.Component("client").With().Uint32("user_id", c.id).Logger()
	c.logger.Info().Str("addr", nc.RemoteAddr().String()).Msg("Connected to chat server.")
	return c, nil
}

// ID returns the id the server assigned during the handshake.
func (c *Conn) ID() uint32 {
	return c.id
}

// Send writes one packet to the server.
func (c *Conn) Send(p packet.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.enc.Encode(p)
}

// Recv reads the next packet from the server. It returns io.EOF once the server closed the
// connection cleanly.
func (c *Conn) Recv() (packet.Packet, error) {
	return c.dec.Decode()
}

// Follow feeds every received packet into st and calls emit with each display line the packet
// produced, until the connection ends or ctx is done. A clean close returns nil.
func (c *Conn) Follow(ctx context.Context, st *State, emit func(string)) error {
	stop := context.AfterFunc(ctx, func() {
		c.conn.Close()
	})
	defer stop()

	for {
		p, err := c.Recv()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if line, ok := st.Apply(p); ok && emit != nil {
			emit(line)
		}
	}
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
