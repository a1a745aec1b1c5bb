package resp

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

func TestMain(m *testing.M) {
	logx.InitWriter(io.Discard, zerolog.Disabled)
	os.Exit(m.Run())
}

func serve(h http.HandlerFunc) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	middleware.RequestID(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	return rec
}

func TestRespondSuccess(t *testing.T) {
	rec := serve(func(w http.ResponseWriter, r *http.Request) {
		RespondSuccess(w, r, map[string]int{"users": 2})
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body struct {
		Code      int            `json:"code"`
		RequestID string         `json:"requestId"`
		Data      map[string]int `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Code != 0 || body.Data["users"] != 2 || body.RequestID == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		name   string
		err    *errs.CustomError
		status int
		code   int
	}{
		{"coded", errs.NewError(errs.ErrRateLimitExceeded), http.StatusTooManyRequests, errs.ErrRateLimitExceeded},
		{"nil", nil, http.StatusInternalServerError, errs.ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(func(w http.ResponseWriter, r *http.Request) {
				RespondError(w, r, tt.err)
			})
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}

			var body JSONResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Code != tt.code || body.Data != nil {
				t.Errorf("body = %+v, want code %d and no data", body, tt.code)
			}
		})
	}
}

func TestRespondJSONUnencodable(t *testing.T) {
	rec := serve(func(w http.ResponseWriter, r *http.Request) {
		RespondJSON(w, r, http.StatusOK, map[string]any{"bad": make(chan int)})
	})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
