package client

import (
	"errors"
	"fmt"
	"strings"

	"relaychat/internal/app/packet"
)

// ErrUnknownCommand is returned by ParseInput for a slash command it does not know.
var ErrUnknownCommand = errors.New("unknown command")

// Action says what a line of user input asks for.
type Action int

const (
	// ActionNone means the line is blank and nothing should be sent.
	ActionNone Action = iota
	ActionSend
	ActionQuit
)

// Input is one parsed line of user input.
type Input struct {
	Action Action

	// Packet is set when Action is ActionSend. Its UserID is the local id; the server
	// stamps its own view of the sender regardless.
	Packet packet.Packet
}

// ParseInput turns a line typed by the user into an Input. Lines starting with "/" are
// commands: "/name <new name>" and "/quit". Anything else is a chat message.
func ParseInput(self uint32, line string) (Input, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Input{}, nil
	}

	if !strings.HasPrefix(line, "/") {
		return Input{Action: ActionSend, Packet: packet.NewMessage(self, line)}, nil
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/name":
		if arg == "" {
			return Input{}, errors.New("usage: /name <new name>")
		}
		return Input{Action: ActionSend, Packet: packet.UsernameChange(self, arg)}, nil
	case "/quit":
		return Input{Action: ActionQuit}, nil
	default:
		return Input{}, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
}
