/*
Package user contains the data structures describing chat participants and their messages.

They are shared by the server-side directory, the admin HTTP surface and the client mirror.
*/
package user

// User represents one connected participant.
// Fields use JSON tags for the admin API.
type User struct {

	// ID is assigned by the server when the connection is accepted and is unique
	// among live connections for the lifetime of the process.
	ID uint32 `json:"id"`

	// Name is the display name, initialized by the handshake and changed by UsernameChange.
	Name string `json:"name"`
}

// Message is one chat line in the append-only history.
type Message struct {
	// ID is a random UUID v4 string.
	ID string `json:"id"`

	// SenderID is the id of the User that authored the line.
	SenderID uint32 `json:"senderId"`

	// Text is the trimmed content.
	Text string `json:"text"`
}
