package errs

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"relaychat/internal/pkg/logx"
)

func TestMain(m *testing.M) {
	logx.InitWriter(io.Discard, zerolog.Disabled)
	os.Exit(m.Run())
}

func TestNewError(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		details []any
		want    CustomError
	}{
		{
			name:    "formatted detail",
			code:    ErrUserNotFound,
			details: []any{42},
			want:    CustomError{Code: ErrUserNotFound, Message: "User 42 is not connected.", Status: http.StatusNotFound},
		},
		{
			name: "default status",
			code: ErrInvalidPacket,
			want: CustomError{Code: ErrInvalidPacket, Message: "Malformed packet.", Status: http.StatusOK},
		},
		{
			name: "unknown code",
			code: 999999,
			want: *NewError(ErrUnknown),
		},
		{
			name:    "detail without placeholder ignored",
			code:    ErrInvalidParams,
			details: []any{"extra"},
			want:    CustomError{Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewError(tt.code, tt.details...); *got != tt.want {
				t.Errorf("NewError() = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestNewErrorDoesNotMutateTemplate(t *testing.T) {
	NewError(ErrUserNotFound, 1)
	if got := NewError(ErrUserNotFound, 2).Message; got != "User 2 is not connected." {
		t.Errorf("second NewError message = %q", got)
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("rename: %w", NewError(ErrUserNotFound, 7))

	if !errors.Is(err, NewError(ErrUserNotFound)) {
		t.Error("errors.Is should match a pointer target with the same code")
	}
	if !errors.Is(err, CustomError{Code: ErrUserNotFound}) {
		t.Error("errors.Is should match a value target with the same code")
	}
	if errors.Is(err, CustomError{Code: ErrUserAlreadyExists}) {
		t.Error("errors.Is matched a different code")
	}
	if !HasCode(err, ErrUserNotFound) || HasCode(err, ErrUnknown) {
		t.Error("HasCode did not follow the wrapped code")
	}
	if HasCode(errors.New("plain"), ErrUserNotFound) {
		t.Error("HasCode matched a plain error")
	}
}
