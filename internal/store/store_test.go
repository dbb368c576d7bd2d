package store

import (
	"testing"

	"github.com/musicatri/console/internal/session"
	"github.com/musicatri/console/internal/socket"
)

func TestSocketStateFollowsBus(t *testing.T) {
	t.Parallel()

	s := New()
	m := socket.NewMachine(socket.Options{Endpoint: "ws://unused"})
	s.WatchMachine("user", m)

	if got := s.SocketState("user"); got != "uninitialized" {
		t.Fatalf("initial state = %q", got)
	}

	m.Bus().Publish(socket.TopicStateChange, "connected")
	if got := s.SocketState("user"); got != "connected" {
		t.Fatalf("state = %q, want connected", got)
	}
	if got := s.SocketState("admin"); got != "uninitialized" {
		t.Fatalf("unrelated namespace = %q", got)
	}
}

func TestSessionExpiryClearsUser(t *testing.T) {
	t.Parallel()

	s := New()
	c := session.NewCoordinator(session.Options{APIBase: "http://127.0.0.1:1"})
	s.WatchSession(c)

	s.SetUser(&session.User{ID: "1", Name: "tester"})
	if s.SessionExpired() || s.CurrentUser() == nil {
		t.Fatal("snapshot not recorded")
	}

	c.Bus().Publish(session.TopicSessionExpired, nil)
	if !s.SessionExpired() {
		t.Fatal("expiry not observed")
	}
	if s.CurrentUser() != nil {
		t.Fatal("user survived expiry")
	}
}
