/*
Package resp writes the JSON envelope every admin HTTP endpoint answers with.

An envelope carries an application code (0 on success, an errs code otherwise), a readable
message, the request id assigned by the router, and an optional payload.
*/
package resp

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

// JSONResponse is the envelope returned by the admin API.
type JSONResponse struct {
	// Code is 0 for success, otherwise one of the errs codes.
	Code int `json:"code"`

	Message string `json:"message"`

	// RequestID echoes the X-Request-Id the router assigned, for matching against logs.
	RequestID string `json:"requestId,omitempty"`

	Data any `json:"data,omitempty"`
}

// RespondJSON marshals payload and writes it with httpStatus.
func RespondJSON(w http.ResponseWriter, r *http.Request, httpStatus int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		logx.Error(err, "Error encoding JSON response",
			"http_status", httpStatus,
			"path", r.URL.Path,
		)
		http.Error(w, "Error encoding JSON response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(httpStatus)

	if _, err := w.Write(body); err != nil {
		logx.Logger().Debug().Err(err).Str("path", r.URL.Path).Msg("Client went away before the response was written")
	}
}

// RespondSuccess writes data with HTTP 200.
func RespondSuccess(w http.ResponseWriter, r *http.Request, data any) {
	RespondJSON(w, r, http.StatusOK, JSONResponse{
		Code:      0,
		Message:   "success",
		RequestID: middleware.GetReqID(r.Context()),
		Data:      data,
	})
}

// RespondError writes customErr with its own HTTP status. A nil error is reported as ErrUnknown.
func RespondError(w http.ResponseWriter, r *http.Request, customErr *errs.CustomError) {
	if customErr == nil {
		customErr = errs.NewError(errs.ErrUnknown)
	}

	RespondJSON(w, r, customErr.Status, JSONResponse{
		Code:      customErr.Code,
		Message:   customErr.Message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}
