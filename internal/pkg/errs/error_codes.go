/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific chat or system errors inside the server and
in admin API responses.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrRateLimitExceeded indicates that the connection or request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Directory Errors
const (
	// ErrUserNotFound indicates that no registered user has the given id.
	ErrUserNotFound = 2101

	// ErrUserAlreadyExists indicates that the id is already registered.
	ErrUserAlreadyExists = 2102

	// ErrIDSpaceExhausted indicates that no free user id could be drawn.
	ErrIDSpaceExhausted = 2103
)

// 3xxx: Wire Protocol Errors
const (
	// ErrInvalidPacket indicates that a peer sent bytes that do not decode to a packet.
	ErrInvalidPacket = 3001

	// ErrHandshakeFailed indicates that the peer closed or stalled before naming itself.
	ErrHandshakeFailed = 3002
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000
)
