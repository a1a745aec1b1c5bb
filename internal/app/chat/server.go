/*
Package chat contains the server side of the chat: the per-connection Session state machine
and the Server that accepts sockets and spawns sessions.

This file defines Server, the listener loop. It owns nothing but the set of running sessions;
the directory and the event bus are injected so tests can build a fresh pair per case.
*/
package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relaychat/internal/app/bus"
	"relaychat/internal/app/directory"
	"relaychat/internal/pkg/limiter"
	"relaychat/internal/pkg/logx"
)

const (
	// first and last delays between retries after a failed Accept.
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Options configures a Server.
type Options struct {
	Session SessionConfig

	// Limiter, when set, throttles accepted sockets per remote IP.
	Limiter *limiter.IPRateLimiter
}

// Server accepts TCP connections and runs one Session per socket.
type Server struct {
	dir  *directory.Directory
	bus  *bus.Bus
	opts Options

	// mu protects sessions.
	mu       sync.Mutex
	sessions map[*Session]struct{}

	// wg tracks running session goroutines.
	wg sync.WaitGroup

	logger zerolog.Logger
}

// NewServer constructs a Server sharing dir and b between all of its sessions.
func NewServer(dir *directory.Directory, b *bus.Bus, opts Options) *Server {
	return &Server{
		dir:      dir,
		bus:      b,
		opts:     opts,
		sessions: make(map[*Session]struct{}),
		logger:   logx.Component("server"),
	}
}

// Listen binds a TCP listener on addr. A bind failure is returned to the caller, which
// treats it as fatal.
func (s *Server) Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Chat listener bound.")
	return ln, nil
}

// Serve accepts connections on ln until ctx is done, starting a Session for each.
// Transient accept failures are logged and retried with backoff. Serve closes ln when ctx is
// done and returns nil; it returns an error only if ln fails permanently while ctx is live.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	var backoff time.Duration

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info().Msg("Listener loop stopped.")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("listener closed: %w", err)
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			s.logger.Error().Err(err).Dur("retry_in", backoff).Msg("Accept failed")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			continue
		}
		backoff = 0

		remote := conn.RemoteAddr().String()
		if s.opts.Limiter != nil && !s.opts.Limiter.Allow(remote) {
			s.logger.Warn().Str("remote_ip", logx.AnonymizeIP(remote)).Msg("Connection rejected: rate limit exceeded.")
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handle(ctx, conn)
	}
}

// ServeConn runs a session for an already established connection and blocks until it ends.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	s.wg.Add(1)
	return s.handle(ctx, conn)
}

func (s *Server) handle(ctx context.Context, conn net.Conn) error {
	defer s.wg.Done()

	session := NewSession(conn, s.dir, s.bus, s.opts.Session)
	s.track(session)
	defer s.untrack(session)

	err := session.Run(ctx)

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		s.logger.Debug().Uint32("user_id", session.ID()).Msg("Session finished.")
	default:
		s.logger.Info().Err(err).Uint32("user_id", session.ID()).Msg("Session ended with error.")
	}
	return err
}

func (s *Server) track(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session] = struct{}{}
}

func (s *Server) untrack(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, session)
}

// Sessions returns the number of running sessions, including those still handshaking.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// Wait blocks until every session has finished or timeout elapses, and reports whether
// all sessions finished.
func (s *Server) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All sessions finished.")
		return true
	case <-time.After(timeout):
		s.logger.Warn().Int("sessions", s.Sessions()).Dur("timeout", timeout).Msg("Sessions still running after shutdown timeout.")
		return false
	}
}
