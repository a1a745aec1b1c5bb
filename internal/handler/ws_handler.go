/*
Package handler provides the admin HTTP surface of the chat server.

This file contains HandleEventFeed, which upgrades a request to WebSocket and streams every packet
published on the event bus to the watcher as a JSON text frame. Watchers are read-only: anything they
send is discarded, and the read loop exists only to process pongs and notice the close.
*/
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"relaychat/internal/app/bus"
	"relaychat/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed to wait for a Pong message from the watcher.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the watcher.
	maxMessageSize = 512
)

// watcher is one admin WebSocket connection following the event bus.
type watcher struct {
	conn   *websocket.Conn
	sub    *bus.Subscription
	logger zerolog.Logger
}

// HandleEventFeed creates an HTTP HandlerFunc that serves the live event feed.
func HandleEventFeed(upgrader websocket.Upgrader, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		wt := &watcher{
			conn: conn,
			sub:  deps.Bus.Subscribe(),
			logger: logx.Component("event_feed").With().
				Str("remote_ip", logx.AnonymizeIP(r.RemoteAddr)).
				Logger(),
		}

		wt.logger.Info().Msg("Event feed watcher connected.")

		done := make(chan struct{})
		go func() {
			defer close(done)
			wt.readPump()
		}()

		wt.writePump(done)
		<-done

		wt.logger.Info().Msg("Event feed watcher disconnected.")
	}
}

// readPump discards inbound frames until the connection fails or closes.
func (wt *watcher) readPump() {
	wt.conn.SetReadLimit(maxMessageSize)

	if err := wt.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		wt.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	wt.conn.SetPongHandler(func(string) error {
		return wt.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := wt.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wt.logger.Info().Err(err).Msg("Error reading frame (watcher close/going away)")
			}
			return
		}
	}
}

// writePump is the only writer on the connection. It forwards bus packets and sends pings
// until the reader stops or the bus closes, then closes the connection.
func (wt *watcher) writePump(readerDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wt.sub.Close()
		if err := wt.conn.Close(); err != nil {
			wt.logger.Debug().Err(err).Msg("Watcher connection close error")
		}
	}()

	for {
		select {
		case <-readerDone:
			return

		case <-wt.sub.Ready():
			p, err := wt.sub.TryRecv()
			var lag *bus.LagError
			switch {
			case err == nil:
				if err := wt.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
					return
				}
				if err := wt.conn.WriteJSON(p); err != nil {
					wt.logger.Warn().Err(err).Msg("Failed to write packet to watcher")
					return
				}
			case errors.As(err, &lag):
				wt.logger.Warn().Uint64("skipped", lag.Skipped).Msg("Watcher lagged behind the event bus; packets dropped.")
			case errors.Is(err, bus.ErrEmpty):
			default:
				wt.sendClose(websocket.CloseGoingAway, "server shutting down")
				return
			}

		case <-ticker.C:
			if err := wt.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				wt.logger.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

func (wt *watcher) sendClose(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := wt.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		wt.logger.Debug().Err(err).Msg("Failed to send close frame")
	}
}
