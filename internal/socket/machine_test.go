package socket_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/musicatri/console/internal/result"
	"github.com/musicatri/console/internal/session"
	"github.com/musicatri/console/internal/socket"
	"github.com/musicatri/console/internal/stubserver"
	"github.com/musicatri/console/internal/transport"
)

func newBackend(t *testing.T) (*stubserver.Server, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	stub := stubserver.New()
	srv := httptest.NewServer(stub.Engine())
	t.Cleanup(srv.Close)
	return stub, srv
}

func wsURL(srv *httptest.Server, namespace string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket/" + namespace
}

func bearerHeader(token string) socket.HeaderFunc {
	return func() http.Header {
		h := http.Header{}
		h.Set("Authorization", "Bearer "+token)
		return h
	}
}

func newUserMachine(stub *stubserver.Server, srv *httptest.Server, connectTimeout time.Duration) *socket.Machine {
	token := stub.IssueToken(session.User{ID: "1", Name: "tester", Roles: []string{"user"}})
	return socket.NewMachine(socket.Options{
		Endpoint:       wsURL(srv, "user"),
		ConnectTimeout: connectTimeout,
		Header:         bearerHeader(token),
	})
}

func TestConnectAcceptAndIdempotence(t *testing.T) {
	t.Parallel()
	stub, srv := newBackend(t)
	m := newUserMachine(stub, srv, 2*time.Second)

	res := m.Connect()
	if !res.IsSuccess() {
		t.Fatalf("Connect = %s", res)
	}
	if got := m.State(); got != socket.StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}

	res = m.Connect()
	if !res.IsSuccess() || res.Message != "already connected" {
		t.Fatalf("second Connect = %s", res)
	}

	res = m.Request(socket.EventUserFetch, nil, 2*time.Second)
	if !res.IsSuccess() {
		t.Fatalf("Request = %s", res)
	}
	if !strings.Contains(string(res.Data), "tester") {
		t.Fatalf("fetch payload = %s", res.Data)
	}

	res = m.Disconnect()
	if !res.IsSuccess() {
		t.Fatalf("Disconnect = %s", res)
	}
	if got := m.State(); got != socket.StateDisconnected {
		t.Fatalf("state = %s, want disconnected", got)
	}

	res = m.Disconnect()
	if !res.IsSuccess() || res.Message != "already disconnected" {
		t.Fatalf("second Disconnect = %s", res)
	}
}

func TestConnectRejectedWithoutToken(t *testing.T) {
	t.Parallel()
	_, srv := newBackend(t)
	m := socket.NewMachine(socket.Options{
		Endpoint:       wsURL(srv, "user"),
		ConnectTimeout: 2 * time.Second,
	})

	res := m.Connect()
	if res.Code != result.CodeUnauthorized {
		t.Fatalf("Connect = %s, want 401", res)
	}
	if got := m.State(); got != socket.StateDisconnected {
		t.Fatalf("state = %s, want disconnected", got)
	}
}

func TestAdminNamespaceRequiresRole(t *testing.T) {
	t.Parallel()
	stub, srv := newBackend(t)
	token := stub.IssueToken(session.User{ID: "1", Name: "plain", Roles: []string{"user"}})
	m := socket.NewMachine(socket.Options{
		Endpoint:       wsURL(srv, "admin"),
		ConnectTimeout: 2 * time.Second,
		Header:         bearerHeader(token),
	})

	res := m.Connect()
	if res.Code != result.CodeForbidden {
		t.Fatalf("Connect = %s, want 403", res)
	}
	if got := m.State(); got != socket.StateDisconnected {
		t.Fatalf("state = %s, want disconnected", got)
	}
}

func TestConnectTimeout(t *testing.T) {
	t.Parallel()
	stub, srv := newBackend(t)
	stub.SilentHandshake = true
	m := newUserMachine(stub, srv, 150*time.Millisecond)

	start := time.Now()
	res := m.Connect()
	if res.Code != result.CodeTimeout {
		t.Fatalf("Connect = %s, want 601", res)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("resolved before the timeout: %s", elapsed)
	}
	if got := m.State(); got != socket.StateDisconnected {
		t.Fatalf("state = %s, want disconnected", got)
	}
}

func TestLateAcceptHasNoEffect(t *testing.T) {
	t.Parallel()
	stub, srv := newBackend(t)
	stub.HandshakeDelay = 400 * time.Millisecond
	m := newUserMachine(stub, srv, 100*time.Millisecond)

	res := m.Connect()
	if res.Code != result.CodeTimeout {
		t.Fatalf("Connect = %s, want 601", res)
	}

	// The accept frame arrives well after the timeout; it must not
	// resurrect the machine.
	time.Sleep(600 * time.Millisecond)
	if got := m.State(); got != socket.StateDisconnected {
		t.Fatalf("state after late accept = %s, want disconnected", got)
	}
}

func TestDialFailure(t *testing.T) {
	t.Parallel()
	m := socket.NewMachine(socket.Options{
		Endpoint:       "ws://127.0.0.1:1/socket/user",
		ConnectTimeout: 2 * time.Second,
	})

	res := m.Connect()
	if res.Code != result.CodeConnectionError {
		t.Fatalf("Connect = %s, want 602", res)
	}
	if got := m.State(); got != socket.StateDisconnected {
		t.Fatalf("state = %s, want disconnected", got)
	}
}

func TestForcedDisconnect(t *testing.T) {
	t.Parallel()
	stub, srv := newBackend(t)
	m := newUserMachine(stub, srv, 2*time.Second)

	forced := make(chan any, 1)
	m.Bus().Subscribe(socket.TopicDisconnectForce, func(payload any) {
		forced <- payload
	})

	if res := m.Connect(); !res.IsSuccess() {
		t.Fatalf("Connect = %s", res)
	}

	stub.CloseConnections()

	select {
	case <-forced:
	case <-time.After(2 * time.Second):
		t.Fatal("forced disconnect was not published")
	}
	if got := m.State(); got != socket.StateDisconnected {
		t.Fatalf("state = %s, want disconnected", got)
	}
}

func TestOverlappingConnectRejected(t *testing.T) {
	t.Parallel()
	stub, srv := newBackend(t)
	stub.HandshakeDelay = 300 * time.Millisecond
	m := newUserMachine(stub, srv, 2*time.Second)

	first := make(chan result.Result, 1)
	go func() { first <- m.Connect() }()

	// Wait until the machine reports connecting, then overlap.
	deadline := time.Now().Add(time.Second)
	for m.State() != socket.StateConnecting {
		if time.Now().After(deadline) {
			t.Fatal("machine never entered connecting")
		}
		time.Sleep(5 * time.Millisecond)
	}

	res := m.Connect()
	if res.Code != result.CodeBadRequest {
		t.Fatalf("overlapping Connect = %s, want 400", res)
	}
	if res = m.Disconnect(); res.Code != result.CodeBadRequest {
		t.Fatalf("overlapping Disconnect = %s, want 400", res)
	}

	if res = <-first; !res.IsSuccess() {
		t.Fatalf("first Connect = %s", res)
	}
}

// A server that accepts the handshake but swallows close frames: the
// graceful close can never confirm, so the machine must report 601 and
// revert to connected.
func TestDisconnectTimeoutRevertsToConnected(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.SetCloseHandler(func(int, string) error { return nil })
		_ = conn.WriteJSON(transport.Message{
			Event: socket.EventConnectAccept,
			Data:  []byte(`{"code":200,"message":"connected"}`),
		})
		for {
			if _, _, err = conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	m := socket.NewMachine(socket.Options{
		Endpoint:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		ConnectTimeout:    2 * time.Second,
		DisconnectTimeout: 150 * time.Millisecond,
	})

	if res := m.Connect(); !res.IsSuccess() {
		t.Fatalf("Connect = %s", res)
	}

	res := m.Disconnect()
	if res.Code != result.CodeTimeout {
		t.Fatalf("Disconnect = %s, want 601", res)
	}
	if got := m.State(); got != socket.StateConnected {
		t.Fatalf("state = %s, want connected after stalled close", got)
	}
}

func TestStateChangePublications(t *testing.T) {
	t.Parallel()
	stub, srv := newBackend(t)
	m := newUserMachine(stub, srv, 2*time.Second)

	var mu sync.Mutex
	var states []string
	m.Bus().Subscribe(socket.TopicStateChange, func(payload any) {
		state, ok := payload.(string)
		if !ok {
			return
		}
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
	})

	if res := m.Connect(); !res.IsSuccess() {
		t.Fatalf("Connect = %s", res)
	}
	if res := m.Disconnect(); !res.IsSuccess() {
		t.Fatalf("Disconnect = %s", res)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"connecting", "connected", "disconnecting", "disconnected"}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}
