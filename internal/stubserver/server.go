// Package stubserver implements a development stand-in for the
// musicatri backend: the auth and system HTTP surface plus the /user
// and /admin socket namespaces with the accept/reject handshake. The
// console tests and the CLI's -stub mode run against it.
package stubserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/musicatri/console/internal/buildinfo"
	"github.com/musicatri/console/internal/result"
	"github.com/musicatri/console/internal/session"
	"github.com/musicatri/console/internal/socket"
	"github.com/musicatri/console/internal/transport"
)

// Codes accepted by the authorize endpoint.
const (
	CodeUser  = "stub-user-code"
	CodeAdmin = "stub-admin-code"
)

const tokenTTL = time.Hour

// Server is an in-memory backend stub.
type Server struct {
	// HandshakeDelay postpones the accept/reject frame after the
	// upgrade. Useful for exercising connect timeouts.
	HandshakeDelay time.Duration
	// SilentHandshake suppresses the handshake frame entirely so
	// clients run into their connect timeout.
	SilentHandshake bool
	// AuthorizeURL is returned by the authorize-url endpoint.
	AuthorizeURL string

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]session.User // token -> user

	connMu sync.Mutex
	conns  []*websocket.Conn
}

// New builds a stub server with no active sessions.
func New() *Server {
	return &Server{
		AuthorizeURL: "https://discord.example/oauth2/authorize?client_id=stub",
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]session.User),
	}
}

// Engine builds the gin router serving the full backend surface.
func (s *Server) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	api := engine.Group("/api/v1")
	auth := api.Group("/auth")
	auth.GET("/authorize-url", s.handleAuthorizeURL)
	auth.POST("/authorize", s.handleAuthorize)
	auth.GET("/status", s.handleStatus)
	auth.GET("/role/:role", s.handleRole)
	auth.DELETE("/logout", s.handleLogout)

	system := api.Group("/system")
	system.GET("/health", s.handleHealth)
	system.GET("/info", s.handleInfo)

	engine.GET("/socket/user", s.handleSocket(false))
	engine.GET("/socket/admin", s.handleSocket(true))
	return engine
}

// IssueToken registers a session directly, bypassing the code exchange.
// Tests use it to obtain a valid token without the OAuth dance.
func (s *Server) IssueToken(user session.User) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.sessions[token] = user
	s.mu.Unlock()
	return token
}

// RevokeAll drops every session, so the next status poll fails.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	s.sessions = make(map[string]session.User)
	s.mu.Unlock()
}

// CloseConnections force-closes every live socket connection, which
// clients observe as a forced disconnect.
func (s *Server) CloseConnections() {
	s.connMu.Lock()
	conns := s.conns
	s.conns = nil
	s.connMu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (s *Server) handleAuthorizeURL(c *gin.Context) {
	respond(c, http.StatusOK, "ok", gin.H{"url": s.AuthorizeURL})
}

func (s *Server) handleAuthorize(c *gin.Context) {
	var body struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respond(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	var user session.User
	switch body.Code {
	case CodeUser:
		user = session.User{ID: "10001", Name: "stub-user", Roles: []string{"user"}}
	case CodeAdmin:
		user = session.User{ID: "10000", Name: "stub-admin", Roles: []string{"user", "admin"}}
	default:
		respond(c, http.StatusBadRequest, "invalid authorization code", nil)
		return
	}

	token := s.IssueToken(user)
	respond(c, http.StatusOK, "authorized", gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   time.Now().Add(tokenTTL).Unix(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	user, ok := s.authenticate(c.GetHeader("Authorization"))
	if !ok {
		respond(c, http.StatusUnauthorized, "unauthenticated", nil)
		return
	}
	respond(c, http.StatusOK, "ok", user)
}

func (s *Server) handleRole(c *gin.Context) {
	user, ok := s.authenticate(c.GetHeader("Authorization"))
	if !ok {
		respond(c, http.StatusUnauthorized, "unauthenticated", nil)
		return
	}
	role := c.Param("role")
	for _, r := range user.Roles {
		if r == role {
			respond(c, http.StatusOK, "ok", nil)
			return
		}
	}
	respond(c, http.StatusForbidden, "forbidden", nil)
}

func (s *Server) handleLogout(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token != "" {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
	}
	respond(c, http.StatusOK, "logged out", nil)
}

func (s *Server) handleHealth(c *gin.Context) {
	respond(c, http.StatusOK, "healthy", nil)
}

func (s *Server) handleInfo(c *gin.Context) {
	respond(c, http.StatusOK, "ok", gin.H{
		"version":    buildinfo.Version,
		"commit":     buildinfo.Commit,
		"build_date": buildinfo.BuildDate,
	})
}

// handleSocket upgrades the connection and performs the application
// handshake: one accept or reject frame, then the event loop.
func (s *Server) handleSocket(requireAdmin bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warnf("stubserver: upgrade failed: %v", err)
			return
		}

		s.connMu.Lock()
		s.conns = append(s.conns, conn)
		s.connMu.Unlock()

		go s.runSocket(conn, c.Request.Header.Get("Authorization"), requireAdmin)
	}
}

func (s *Server) runSocket(conn *websocket.Conn, authorization string, requireAdmin bool) {
	defer func() { _ = conn.Close() }()

	if s.HandshakeDelay > 0 {
		time.Sleep(s.HandshakeDelay)
	}
	if s.SilentHandshake {
		// Keep the connection open without a handshake; the peer's
		// timeout policy decides what happens next.
		s.pump(conn, nil)
		return
	}

	user, ok := s.authenticate(authorization)
	if !ok {
		s.sendResult(conn, socket.EventConnectReject, result.New(result.CodeUnauthorized, "unauthenticated"))
		return
	}
	if requireAdmin && !hasRole(user, "admin") {
		s.sendResult(conn, socket.EventConnectReject, result.New(result.CodeForbidden, "forbidden"))
		return
	}

	s.sendResult(conn, socket.EventConnectAccept, result.Ok("connected"))
	s.pump(conn, &user)
}

// pump answers client events until the connection closes.
func (s *Server) pump(conn *websocket.Conn, user *session.User) {
	for {
		var msg transport.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Event {
		case socket.EventUserFetch:
			if user == nil {
				s.sendResult(conn, msg.Event, result.New(result.CodeUnauthorized, "unauthenticated"))
				continue
			}
			raw, _ := json.Marshal(user)
			s.sendResult(conn, msg.Event, result.Ok("ok").WithData(raw))
		default:
			s.sendResult(conn, msg.Event, result.New(result.CodeNotFound, "unknown event"))
		}
	}
}

func (s *Server) sendResult(conn *websocket.Conn, event string, res result.Result) {
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err = conn.WriteJSON(transport.Message{Event: event, Data: raw}); err != nil {
		log.Debugf("stubserver: write %s: %v", event, err)
	}
}

func (s *Server) authenticate(authorization string) (session.User, bool) {
	token := bearerToken(authorization)
	if token == "" {
		return session.User{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.sessions[token]
	return user, ok
}

func bearerToken(authorization string) string {
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasRole(user session.User, role string) bool {
	for _, r := range user.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func respond(c *gin.Context, code int, message string, data any) {
	body := gin.H{"code": code, "message": message}
	if data != nil {
		body["data"] = data
	}
	c.JSON(code, body)
}
