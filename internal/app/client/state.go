package client

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"

	"relaychat/internal/app/packet"
	"relaychat/internal/app/user"
)

// State mirrors the roster and the chat log as seen by one client.
type State struct {
	mu    sync.Mutex
	self  uint32
	users map[uint32]string
	lines []string
}

// NewState returns a mirror seeded with the local user, whom the server never announces back.
func NewState(self uint32, name string) *State {
	return &State{
		self:  self,
		users: map[uint32]string{self: name},
	}
}

// Apply folds p into the mirror. It returns the display line p produced, if any.
// Packets about ids the mirror has never seen are applied without failing.
func (s *State) Apply(p packet.Packet) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var line string
	switch p.Kind {
	case packet.KindUserList:
		s.users[p.UserID] = p.Contents
		return "", false

	case packet.KindUserConnected:
		s.users[p.UserID] = p.Contents
		line = fmt.Sprintf("%s joined the chat", p.Contents)

	case packet.KindUserDisconnected:
		line = fmt.Sprintf("%s left the chat", s.nameLocked(p.UserID))
		delete(s.users, p.UserID)

	case packet.KindUsernameChange:
		old := s.nameLocked(p.UserID)
		s.users[p.UserID] = p.Contents
		line = fmt.Sprintf("%s changed their name to %s", old, p.Contents)

	case packet.KindNewMessage:
		line = fmt.Sprintf("(%s) %s", s.nameLocked(p.UserID), strings.TrimSpace(p.Contents))

	default:
		return "", false
	}

	s.lines = append(s.lines, line)
	return line, true
}

func (s *State) nameLocked(id uint32) string {
	if name, ok := s.users[id]; ok {
		return name
	}
	return fmt.Sprintf("User#%d", id)
}

// Name returns the display name of the local user.
func (s *State) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.users[s.self]
}

// Users returns the roster sorted by name, then id.
func (s *State) Users() []user.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]user.User, 0, len(s.users))
	for id, name := range s.users {
		users = append(users, user.User{ID: id, Name: name})
	}
	slices.SortFunc(users, func(a, b user.User) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return users
}

// Lines returns a copy of every display line so far.
func (s *State) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.lines)
}
