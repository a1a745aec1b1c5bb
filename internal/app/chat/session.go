/*
Package chat contains the server side of the chat: the per-connection Session state machine
and the Server that accepts sockets and spawns sessions.

This file defines Session. A session owns one socket. A reader goroutine only decodes packets and
hands them over a channel; the session goroutine selects between those inbound packets and its
event bus subscription and is the only code that ever writes to the socket.
*/
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"relaychat/internal/app/bus"
	"relaychat/internal/app/directory"
	"relaychat/internal/app/packet"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateHandshaking State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// ShouldForward is the forwarding policy: a broadcast packet goes to a connection unless it
// is about that connection's own user, except chat lines and name changes which are echoed.
func ShouldForward(p packet.Packet, self uint32) bool {
	return p.UserID != self || p.Kind.Echoed()
}

// SessionConfig holds per-connection limits. Zero timeouts disable the corresponding deadline.
type SessionConfig struct {
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	MaxFrameBytes    int
}

// inbound is one decode result handed from the reader goroutine to the session loop.
type inbound struct {
	p   packet.Packet
	err error
}

// Session is the connection handler for one accepted socket.
type Session struct {
	conn net.Conn
	dir  *directory.Directory
	bus  *bus.Bus
	cfg  SessionConfig

	enc *packet.Encoder
	dec *packet.Decoder

	id atomic.Uint32

	// name is only touched by the session goroutine.
	name string

	state atomic.Int32

	logger zerolog.Logger
}

// NewSession constructs a Session. It does not touch the socket until Run.
func NewSession(conn net.Conn, dir *directory.Directory, b *bus.Bus, cfg SessionConfig) *Session {
	s := &Session{
		conn: conn,
		dir:  dir,
		bus:  b,
		cfg:  cfg,
		enc:  packet.NewEncoder(conn),
		dec:  packet.NewDecoder(conn, cfg.MaxFrameBytes),
		logger: logx.Logger().With().
			Str("component", "session").
			Str("remote_ip", logx.AnonymizeIP(conn.RemoteAddr().String())).
			Logger(),
	}
	s.state.Store(int32(StateHandshaking))
	return s
}

// ID returns the user id, or 0 before one has been assigned.
func (s *Session) ID() uint32 {
	return s.id.Load()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Debug().Stringer("state", st).Msg("Session state changed.")
}

// Run drives the session through Handshaking, Active, Closing and Closed and returns when
// the connection is gone. A clean end of stream returns nil; anything else returns the cause.
// Cancelling ctx moves the session to Closing.
func (s *Session) Run(ctx context.Context) error {
	sub := s.bus.Subscribe()
	defer sub.Close()

	reads := make(chan inbound)
	stop := make(chan struct{})
	go s.readLoop(reads, stop)

	defer func() {
		close(stop)
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn().Err(err).Msg("Connection close error")
		}
		for range reads {
		}
		s.setState(StateClosed)
	}()

	others, err := s.handshake(ctx, reads)
	if err != nil {
		return err
	}

	s.setState(StateActive)
	runErr := s.replayAndServe(ctx, reads, sub, others)

	s.setState(StateClosing)
	s.leave()

	return runErr
}

// readLoop decodes packets until the first error, which it also delivers.
func (s *Session) readLoop(out chan<- inbound, stop <-chan struct{}) {
	defer close(out)

	for {
		p, err := s.dec.Decode()
		if err != nil && !isTransportError(err) {
			err = fmt.Errorf("%w: %w", errs.NewError(errs.ErrInvalidPacket), err)
		}

		select {
		case out <- inbound{p: p, err: err}:
		case <-stop:
			return
		}

		if err != nil {
			return
		}
	}
}

// handshake assigns an id, waits for the client's name and joins the directory.
// On success it returns the users that were already present.
func (s *Session) handshake(ctx context.Context, reads <-chan inbound) ([]user.User, error) {
	id, err := s.dir.Reserve()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to assign user id")
		return nil, err
	}
	s.id.Store(id)
	s.logger = s.logger.With().Uint32("user_id", id).Logger()

	joined := false
	defer func() {
		if !joined {
			s.dir.Release(id)
		}
	}()

	if err := s.write(packet.IDAssign(id)); err != nil {
		return nil, err
	}

	var deadline <-chan time.Time
	if s.cfg.HandshakeTimeout > 0 {
		timer := time.NewTimer(s.cfg.HandshakeTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case in, ok := <-reads:
			if !ok {
				return nil, errs.NewError(errs.ErrHandshakeFailed)
			}
			if in.err != nil {
				s.logReadError(in.err, "Connection ended during handshake")
				return nil, fmt.Errorf("handshake: %w", in.err)
			}
			if in.p.Kind != packet.KindUsernameChange {
				s.logger.Debug().Stringer("packet_type", in.p.Kind).Msg("Discarding packet received before handshake completed")
				continue
			}

			s.name = strings.TrimSpace(in.p.Contents)
			others, err := s.dir.Join(id, s.name, func() {
				s.bus.Publish(packet.UserConnected(id, s.name))
			})
			if err != nil {
				s.logger.Error().Err(err).Msg("Failed to register user")
				return nil, err
			}
			joined = true

			s.logger.Info().Str("name", s.name).Int("others", len(others)).Msg("User joined.")
			return others, nil

		case <-deadline:
			s.logger.Warn().Dur("timeout", s.cfg.HandshakeTimeout).Msg("Handshake timed out")
			return nil, errs.NewError(errs.ErrHandshakeFailed)

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// replayAndServe writes the roster replay and then runs the Active loop until the
// connection should close.
func (s *Session) replayAndServe(ctx context.Context, reads <-chan inbound, sub *bus.Subscription, others []user.User) error {
	for _, u := range others {
		if err := s.write(packet.UserList(u.ID, u.Name)); err != nil {
			return err
		}
	}

	for {
		select {
		case in, ok := <-reads:
			if !ok {
				return nil
			}
			if in.err != nil {
				if errors.Is(in.err, io.EOF) {
					s.logger.Info().Msg("Client closed the connection.")
					return nil
				}
				s.logReadError(in.err, "Closing connection after read failure")
				return in.err
			}
			s.handleInbound(in.p)

		case <-sub.Ready():
			p, err := sub.TryRecv()
			var lag *bus.LagError
			switch {
			case err == nil:
				if !ShouldForward(p, s.ID()) {
					continue
				}
				if err := s.write(p); err != nil {
					return err
				}
			case errors.As(err, &lag):
				s.logger.Warn().Uint64("skipped", lag.Skipped).Msg("Subscriber lagged behind the event bus; packets dropped.")
			case errors.Is(err, bus.ErrEmpty):
			case errors.Is(err, bus.ErrClosed):
				s.logger.Info().Msg("Event bus closed.")
				return nil
			default:
				return err
			}

		case <-ctx.Done():
			s.logger.Info().Msg("Server shutting down; closing session.")
			return nil
		}
	}
}

// handleInbound applies one client packet. It performs no socket I/O.
func (s *Session) handleInbound(p packet.Packet) {
	switch p.Kind {
	case packet.KindUsernameChange:
		name := strings.TrimSpace(p.Contents)
		previous, err := s.dir.Rename(s.ID(), name)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Rename failed; user is no longer registered")
			return
		}
		s.name = name
		s.logger.Info().Str("previous", previous).Str("name", name).Msg("User renamed.")

		s.bus.Publish(packet.UsernameChange(s.ID(), p.Contents))

	case packet.KindNewMessage:
		msgID := s.dir.AppendMessage(s.ID(), p.Contents)
		s.logger.Debug().Str("message_id", msgID).Int("bytes", len(p.Contents)).Msg("Message received.")

		s.bus.Publish(packet.NewMessage(s.ID(), p.Contents))

	default:
		s.logger.Warn().Stringer("packet_type", p.Kind).Uint32("packet_user_id", p.UserID).Msg("Client sent unsupported packet type")
	}
}

// leave removes the user and announces the departure.
func (s *Session) leave() {
	id := s.ID()
	err := s.dir.Leave(id, func() {
		s.bus.Publish(packet.UserDisconnected(id))
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("User was already removed from the directory")
		return
	}
	s.logger.Info().Str("name", s.name).Msg("User left.")
}

// write encodes one packet to the socket. Only the session goroutine calls it.
func (s *Session) write(p packet.Packet) error {
	if s.cfg.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			s.logger.Error().Err(err).Msg("Failed to set write deadline")
			return err
		}
	}

	if err := s.enc.Encode(p); err != nil {
		s.logger.Warn().Err(err).Stringer("packet_type", p.Kind).Msg("Error writing packet")
		return err
	}
	return nil
}

// isTransportError reports whether err came from the socket rather than from bad bytes.
func isTransportError(err error) bool {
	var netErr net.Error
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.As(err, &netErr)
}

func (s *Session) logReadError(err error, msg string) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		s.logger.Info().Err(err).Msg(msg)
	default:
		s.logger.Warn().Err(err).Msg(msg)
	}
}
