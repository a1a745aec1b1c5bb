/*
Package packet defines the single wire envelope exchanged between chat clients and the server.

A Packet carries a Kind, the id of the user it is about, and free text whose meaning depends on the kind.
On the wire each packet is one JSON object terminated by a newline (see codec.go).
*/
package packet

import (
	"errors"
	"fmt"
)

// Kind identifies what a Packet means. The zero value KindNone is never acted upon.
type Kind uint8

const (
	KindNone Kind = iota
	KindIDAssign
	KindUserConnected
	KindUserDisconnected
	KindUserList
	KindUsernameChange
	KindNewMessage
)

// ErrUnknownKind is returned when a packet_type name is not part of the protocol.
var ErrUnknownKind = errors.New("unknown packet type")

var kindNames = [...]string{
	KindNone:             "None",
	KindIDAssign:         "IDAssign",
	KindUserConnected:    "UserConnected",
	KindUserDisconnected: "UserDisconnected",
	KindUserList:         "UserList",
	KindUsernameChange:   "UsernameChange",
	KindNewMessage:       "NewMessage",
}

// kindAliases holds accepted spellings that are never emitted.
var kindAliases = map[string]Kind{
	"IdAssign": KindIDAssign,
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k is one of the actionable kinds.
func (k Kind) Valid() bool {
	return k > KindNone && int(k) < len(kindNames)
}

// MarshalText encodes the kind by its wire name.
func (k Kind) MarshalText() ([]byte, error) {
	if int(k) >= len(kindNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText decodes a wire name. Unrecognized names are an error rather than KindNone,
// so a peer speaking another dialect fails loudly.
func (k *Kind) UnmarshalText(text []byte) error {
	name := string(text)
	for i, n := range kindNames {
		if n == name {
			*k = Kind(i)
			return nil
		}
	}
	if alias, ok := kindAliases[name]; ok {
		*k = alias
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Packet is the only message type crossing the wire in either direction.
type Packet struct {
	Kind     Kind   `json:"packet_type"`
	UserID   uint32 `json:"user_id"`
	Contents string `json:"contents"`
}

// IDAssign tells a freshly connected client which id it was given.
func IDAssign(id uint32) Packet {
	return Packet{Kind: KindIDAssign, UserID: id}
}

// UserConnected announces a user that finished the handshake.
func UserConnected(id uint32, name string) Packet {
	return Packet{Kind: KindUserConnected, UserID: id, Contents: name}
}

// UserDisconnected announces that a user's connection is gone.
func UserDisconnected(id uint32) Packet {
	return Packet{Kind: KindUserDisconnected, UserID: id}
}

// UserList replays one already connected user to a newcomer.
func UserList(id uint32, name string) Packet {
	return Packet{Kind: KindUserList, UserID: id, Contents: name}
}

// UsernameChange asks for (client to server) or announces (server to client) a new display name.
func UsernameChange(id uint32, name string) Packet {
	return Packet{Kind: KindUsernameChange, UserID: id, Contents: name}
}

// NewMessage carries one chat line.
func NewMessage(id uint32, text string) Packet {
	return Packet{Kind: KindNewMessage, UserID: id, Contents: text}
}

// Echoed reports whether a packet of this kind is written back to the connection that originated it.
// Chat lines and name changes are echoed so the sender's client renders them from the same
// code path as everyone else's; roster events are not.
func (k Kind) Echoed() bool {
	return k == KindNewMessage || k == KindUsernameChange
}
