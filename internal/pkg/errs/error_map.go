/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
admin API responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the CustomError template for every application error code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:     {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded: {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Directory Errors
	ErrUserNotFound:      {Code: ErrUserNotFound, Message: "User %d is not connected.", Status: http.StatusNotFound},
	ErrUserAlreadyExists: {Code: ErrUserAlreadyExists, Message: "User %d is already registered.", Status: http.StatusConflict},
	ErrIDSpaceExhausted:  {Code: ErrIDSpaceExhausted, Message: "No free user id is available.", Status: http.StatusServiceUnavailable},

	// 3xxx: Wire Protocol Errors
	ErrInvalidPacket:   {Code: ErrInvalidPacket, Message: "Malformed packet."},
	ErrHandshakeFailed: {Code: ErrHandshakeFailed, Message: "Handshake did not complete."},

	// 5xxx: Internal System Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
