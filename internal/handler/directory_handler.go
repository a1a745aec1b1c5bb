/*
Package handler provides the admin HTTP surface of the chat server.

This file contains the read-only views over the shared directory: the roster and the message log.
*/
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/resp"
)

// MaxMessagesPage caps how many messages one request returns.
const MaxMessagesPage = 500

// HandleListUsers returns every connected user in join order.
func HandleListUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, deps.Directory.Users())
	}
}

// HandleGetUser returns one connected user by id.
func HandleGetUser(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
		if err != nil || id == 0 {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		u, ok := deps.Directory.User(uint32(id))
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrUserNotFound, id))
			return
		}
		resp.RespondSuccess(w, r, u)
	}
}

// HandleListMessages returns the newest messages, oldest first. The optional "limit"
// query parameter defaults to and is capped at MaxMessagesPage.
func HandleListMessages(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := MaxMessagesPage
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
			limit = min(n, MaxMessagesPage)
		}

		msgs := deps.Directory.Messages()
		total := len(msgs)
		if len(msgs) > limit {
			msgs = msgs[len(msgs)-limit:]
		}

		resp.RespondSuccess(w, r, map[string]any{
			"total":    total,
			"messages": msgs,
		})
	}
}
