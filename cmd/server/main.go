/*
Package main is the entry point for the relaychat server.

It is responsible for loading configuration, initializing the global logging system, building
the shared directory and event bus, accepting chat connections, optionally serving the admin
HTTP surface, and gracefully handling operating system interrupt signals (SIGINT, SIGTERM).
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"relaychat/internal/app/bus"
	"relaychat/internal/app/chat"
	"relaychat/internal/app/directory"
	"relaychat/internal/configs"
	"relaychat/internal/handler"
	"relaychat/internal/pkg/limiter"
	"relaychat/internal/pkg/logx"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Str("addr", cfg.Addr()).
		Int("admin_port", cfg.AdminPort).
		Int("bus_capacity", cfg.BusCapacity).
		Dur("handshake_timeout", cfg.HandshakeTimeout).
		Float64("accept_rate", cfg.AcceptRate).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir := directory.New()
	events := bus.New(cfg.BusCapacity)

	opts := chat.Options{
		Session: chat.SessionConfig{
			WriteTimeout:     cfg.WriteTimeout,
			HandshakeTimeout: cfg.HandshakeTimeout,
			MaxFrameBytes:    cfg.MaxFrameBytes,
		},
	}
	if cfg.AcceptThrottled() {
		opts.Limiter = limiter.NewIPRateLimiter(ctx, rate.Limit(cfg.AcceptRate), cfg.AcceptBurst)
	}
	server := chat.NewServer(dir, events, opts)

	ln, err := server.Listen(cfg.Addr())
	if err != nil {
		logx.Fatal(err, "Chat listener failed to start")
	}

	var admin *http.Server
	if cfg.AdminPort != 0 {
		admin = &http.Server{
			Addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.AdminPort)),
			Handler: handler.Router(ctx, &handler.AppDeps{
				Directory: dir,
				Bus:       events,
				Server:    server,
				Config:    cfg,
			}),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	serveDone := make(chan struct{})
	g.Go(func() error {
		defer close(serveDone)
		logx.Info(fmt.Sprintf("relaychat listening on %s", ln.Addr()))
		if err := server.Serve(gctx, ln); err != nil {
			return fmt.Errorf("chat listener: %w", err)
		}
		return nil
	})

	if admin != nil {
		g.Go(func() error {
			logx.Info(fmt.Sprintf("Admin HTTP starting on http://%s", admin.Addr))
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin http: %w", err)
			}
			return nil
		})
	}

	// Wait for an interrupt signal, or for either listener to fail, then shut down gracefully.
	g.Go(func() error {
		<-gctx.Done()
		logx.Info("Received shutdown signal. Starting graceful shutdown...")

		<-serveDone
		if !server.Wait(shutdownTimeout) {
			logx.Warn("Sessions still running after shutdown timeout.", "sessions", server.Sessions())
		}

		// Closing the bus disconnects event feed watchers.
		events.Close()

		if admin == nil {
			return nil
		}
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()

		return admin.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logx.Error(err, "Server stopped with error")
	}

	logx.Info("Server gracefully stopped.")
}
