package client

import (
	"io"
	"os"
	"slices"
	"testing"

	"github.com/rs/zerolog"

	"relaychat/internal/app/packet"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/logx"
)

func TestMain(m *testing.M) {
	logx.InitWriter(io.Discard, zerolog.Disabled)
	os.Exit(m.Run())
}

func TestStateApply(t *testing.T) {
	st := NewState(1, "alice")

	feed := []struct {
		p    packet.Packet
		line string
	}{
		{packet.UserList(2, "bob"), ""},
		{packet.UserConnected(3, "carol"), "carol joined the chat"},
		{packet.NewMessage(2, "  hi there \n"), "(bob) hi there"},
		{packet.NewMessage(1, "hello"), "(alice) hello"},
		{packet.UsernameChange(1, "alicia"), "alice changed their name to alicia"},
		{packet.UserDisconnected(3), "carol left the chat"},
		{packet.IDAssign(9), ""},
		{packet.Packet{}, ""},
	}

	var want []string
	for _, f := range feed {
		line, ok := st.Apply(f.p)
		if ok != (f.line != "") || line != f.line {
			t.Errorf("Apply(%+v) = %q, %v; want %q", f.p, line, ok, f.line)
		}
		if f.line != "" {
			want = append(want, f.line)
		}
	}

	if got := st.Lines(); !slices.Equal(got, want) {
		t.Errorf("Lines() = %q, want %q", got, want)
	}
	if got := st.Name(); got != "alicia" {
		t.Errorf("Name() = %q, want alicia", got)
	}

	wantUsers := []user.User{{ID: 1, Name: "alicia"}, {ID: 2, Name: "bob"}}
	if got := st.Users(); !slices.Equal(got, wantUsers) {
		t.Errorf("Users() = %+v, want %+v", got, wantUsers)
	}
}

func TestStateToleratesUnknownIDs(t *testing.T) {
	st := NewState(1, "alice")

	tests := []struct {
		p    packet.Packet
		line string
	}{
		{packet.NewMessage(50, "who am i"), "(User#50) who am i"},
		{packet.UserDisconnected(51), "User#51 left the chat"},
		{packet.UsernameChange(52, "zed"), "User#52 changed their name to zed"},
	}
	for _, tt := range tests {
		if line, _ := st.Apply(tt.p); line != tt.line {
			t.Errorf("Apply(%+v) = %q, want %q", tt.p, line, tt.line)
		}
	}

	if n := len(st.Users()); n != 2 {
		t.Errorf("roster has %d users, want alice and the renamed stranger", n)
	}
}
