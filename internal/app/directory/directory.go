/*
Package directory holds the in-memory table of connected users and the chat message log.

Every operation runs under one mutex covering the whole directory. Callbacks passed to Join
and Leave run while that mutex is held, so they must not perform I/O; publishing to the event
bus is the intended use because it never blocks.
*/
package directory

import (
	"cmp"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/randx"
)

// maxIDAttempts bounds how many random draws Reserve makes before giving up.
const maxIDAttempts = 64

var (
	// ErrNotFound matches errors returned for ids that are not registered.
	ErrNotFound = errs.CustomError{Code: errs.ErrUserNotFound}

	// ErrDuplicate matches errors returned when registering an id twice.
	ErrDuplicate = errs.CustomError{Code: errs.ErrUserAlreadyExists}
)

// IDSource draws candidate user ids.
type IDSource func() (uint32, error)

type entry struct {
	user user.User

	// seq orders entries by registration time.
	seq uint64
}

// Directory is the shared table of users and messages. The zero value is not usable; call New.
type Directory struct {
	// mu guards every field below.
	mu sync.Mutex

	users    map[uint32]*entry
	reserved map[uint32]struct{}
	messages []user.Message
	nextSeq  uint64

	newID  IDSource
	logger zerolog.Logger
}

// Option configures a Directory.
type Option func(*Directory)

// WithIDSource replaces the crypto/rand id source, mainly so tests can force collisions.
func WithIDSource(src IDSource) Option {
	return func(d *Directory) {
		if src != nil {
			d.newID = src
		}
	}
}

// New constructs an empty Directory.
func New(opts ...Option) *Directory {
	d := &Directory{
		users:    make(map[uint32]*entry),
		reserved: make(map[uint32]struct{}),
		newID:    randx.UserID,
		logger:   logx.Component("directory"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Reserve draws a fresh id that is neither registered nor reserved and holds it until
// Register, Join or Release. Allocation under the directory lock rules out two live
// connections sharing an id.
func (d *Directory) Reserve() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for range maxIDAttempts {
		id, err := d.newID()
		if err != nil {
			return 0, err
		}
		if id == 0 {
			continue
		}
		if _, taken := d.users[id]; taken {
			continue
		}
		if _, taken := d.reserved[id]; taken {
			continue
		}
		d.reserved[id] = struct{}{}
		return id, nil
	}

	d.logger.Error().Int("attempts", maxIDAttempts).Msg("Could not draw a free user id.")
	return 0, errs.NewError(errs.ErrIDSpaceExhausted)
}

// Release returns a reserved id that never got registered.
func (d *Directory) Release(id uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.reserved, id)
}

// Register inserts a user. Registering an id that is already present is an invariant
// violation and is reported as ErrDuplicate. Id 0 is rejected.
func (d *Directory) Register(id uint32, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.registerLocked(id, name)
}

func (d *Directory) registerLocked(id uint32, name string) error {
	if id == 0 {
		return errs.NewError(errs.ErrInvalidParams)
	}
	if _, ok := d.users[id]; ok {
		d.logger.Error().Uint32("user_id", id).Msg("Attempted to register an id that is already present.")
		return errs.NewError(errs.ErrUserAlreadyExists, id)
	}

	delete(d.reserved, id)
	d.nextSeq++
	d.users[id] = &entry{user: user.User{ID: id, Name: name}, seq: d.nextSeq}
	return nil
}

// Join registers the user, runs announce and takes the roster snapshot excluding the
// newcomer, all under a single lock acquisition. announce is skipped if registration fails.
func (d *Directory) Join(id uint32, name string, announce func()) ([]user.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.registerLocked(id, name); err != nil {
		return nil, err
	}

	if announce != nil {
		announce()
	}

	return d.snapshotLocked(id), nil
}

// Rename atomically replaces the stored name and returns the previous one.
func (d *Directory) Rename(id uint32, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.users[id]
	if !ok {
		return "", errs.NewError(errs.ErrUserNotFound, id)
	}

	previous := e.user.Name
	e.user.Name = name
	return previous, nil
}

// Remove deletes the user entry.
func (d *Directory) Remove(id uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.removeLocked(id)
}

func (d *Directory) removeLocked(id uint32) error {
	if _, ok := d.users[id]; !ok {
		return errs.NewError(errs.ErrUserNotFound, id)
	}
	delete(d.users, id)
	return nil
}

// Leave removes the user and runs announce under the same lock acquisition.
// announce is skipped if the user was not registered.
func (d *Directory) Leave(id uint32, announce func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.removeLocked(id); err != nil {
		return err
	}

	if announce != nil {
		announce()
	}
	return nil
}

// Snapshot returns every registered user except exclude, in registration order.
func (d *Directory) Snapshot(exclude uint32) []user.User {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.snapshotLocked(exclude)
}

// Users returns every registered user in registration order. Id 0 is never registered.
func (d *Directory) Users() []user.User {
	return d.Snapshot(0)
}

func (d *Directory) snapshotLocked(exclude uint32) []user.User {
	entries := make([]*entry, 0, len(d.users))
	for id, e := range d.users {
		if id == exclude {
			continue
		}
		entries = append(entries, e)
	}

	slices.SortFunc(entries, func(a, b *entry) int {
		return cmp.Compare(a.seq, b.seq)
	})

	out := make([]user.User, len(entries))
	for i, e := range entries {
		out[i] = e.user
	}
	return out
}

// User looks up a single registered user.
func (d *Directory) User(id uint32) (user.User, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.users[id]
	if !ok {
		return user.User{}, false
	}
	return e.user, true
}

// Len returns the number of registered users.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.users)
}

// AppendMessage trims text, appends it to the log and returns the new message id.
// The log is never truncated.
func (d *Directory) AppendMessage(senderID uint32, text string) string {
	msg := user.Message{
		ID:       randx.MessageID(),
		SenderID: senderID,
		Text:     strings.TrimSpace(text),
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.messages = append(d.messages, msg)
	return msg.ID
}

// Messages returns a copy of the message log in append order.
func (d *Directory) Messages() []user.Message {
	d.mu.Lock()
	defer d.mu.Unlock()

	return slices.Clone(d.messages)
}
