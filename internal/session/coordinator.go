// Package session owns the HTTP authentication lifecycle: the OAuth
// code exchange, the persisted token, strict and non-strict login/role
// checks, and the health-check loop that tears realtime connections
// down when the session goes stale.
package session

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/musicatri/console/internal/eventbus"
	"github.com/musicatri/console/internal/result"
	"github.com/musicatri/console/internal/settings"
)

// TopicSessionExpired is published on the coordinator bus exactly once
// per expiry detection, never once per poll tick.
const TopicSessionExpired = "session:expired"

// User is the cached account snapshot used by the non-strict checks.
type User struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// Disconnector is the slice of the socket machine the coordinator needs
// when a stale session forces connections down.
type Disconnector interface {
	Disconnect() result.Result
}

// Options configures a Coordinator.
type Options struct {
	// APIBase is the HTTP API root, e.g. http://host/api/v1.
	APIBase string
	// AuthPrefix defaults to "/auth".
	AuthPrefix string
	// SystemPrefix defaults to "/system".
	SystemPrefix string
	// RequestTimeout bounds each HTTP round trip.
	RequestTimeout time.Duration
	// Settings persists the token fields and locale.
	Settings *settings.Store
	// Bus receives session notifications. A private bus is created when
	// nil.
	Bus *eventbus.Bus
}

// Coordinator performs the OAuth handshake against the backend and
// supervises session liveness. It owns the Session; socket machines
// only ever read the derived authorization header through Header.
type Coordinator struct {
	client       *Client
	settings     *settings.Store
	bus          *eventbus.Bus
	authPrefix   string
	systemPrefix string

	mu    sync.RWMutex
	token *oauth2.Token
	user  *User

	health  HealthCheck
	guardMu sync.Mutex
	guarded []Disconnector
}

// NewCoordinator builds a coordinator, restoring any persisted token.
func NewCoordinator(opts Options) *Coordinator {
	if opts.AuthPrefix == "" {
		opts.AuthPrefix = "/auth"
	}
	if opts.SystemPrefix == "" {
		opts.SystemPrefix = "/system"
	}
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.New()
	}
	c := &Coordinator{
		settings:     opts.Settings,
		bus:          bus,
		authPrefix:   opts.AuthPrefix,
		systemPrefix: opts.SystemPrefix,
	}
	c.client = NewClient(opts.APIBase, opts.RequestTimeout, c.Header, c.clearUser)
	c.restoreToken()
	return c
}

// Bus returns the bus this coordinator publishes on.
func (c *Coordinator) Bus() *eventbus.Bus { return c.bus }

// Header builds the per-request headers: localization always,
// authorization only while the session is valid.
func (c *Coordinator) Header() http.Header {
	h := http.Header{}
	if c.settings != nil {
		if locale := c.settings.GetString(settings.KeyLocale); locale != "" {
			h.Set("Accept-Language", locale)
		}
	}
	if auth := c.AuthorizationHeader(); auth != "" {
		h.Set("Authorization", auth)
	}
	return h
}

// AuthorizationHeader derives the bearer header from the session. It is
// empty whenever any token field is absent or the token has expired.
func (c *Coordinator) AuthorizationHeader() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t := c.token
	if t == nil || t.AccessToken == "" || t.TokenType == "" || t.Expiry.IsZero() {
		return ""
	}
	if time.Now().After(t.Expiry) {
		return ""
	}
	return t.TokenType + " " + t.AccessToken
}

// AuthorizeURL fetches the external OAuth authorize URL from the
// backend.
func (c *Coordinator) AuthorizeURL(ctx context.Context) result.Result {
	return c.client.Get(ctx, c.authPrefix+"/authorize-url")
}

// Authorize exchanges a one-time code for a session token. On failure
// the current session is left untouched.
func (c *Coordinator) Authorize(ctx context.Context, code string) result.Result {
	res := c.client.Post(ctx, c.authPrefix+"/authorize", map[string]string{"code": code})
	if !res.IsSuccess() {
		return res
	}

	access := gjson.GetBytes(res.Data, "access_token").String()
	tokenType := gjson.GetBytes(res.Data, "token_type").String()
	expiresAt := gjson.GetBytes(res.Data, "expires_at").Int()
	if access == "" || tokenType == "" {
		return result.New(result.CodeServerError, "authorize response missing token fields")
	}
	if expiresAt == 0 {
		expiresAt = jwtExpiry(access)
	}

	token := &oauth2.Token{
		AccessToken: access,
		TokenType:   tokenType,
	}
	if expiresAt > 0 {
		token.Expiry = time.Unix(expiresAt, 0)
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	c.persistToken(token)
	return res
}

// VerifyLogin is the strict login check: a server round trip that
// refreshes the cached user snapshot on success.
func (c *Coordinator) VerifyLogin(ctx context.Context) result.Result {
	res := c.client.Get(ctx, c.authPrefix+"/status")
	if res.IsSuccess() && len(res.Data) > 0 {
		var user User
		if err := decodeUser(res.Data, &user); err == nil {
			c.mu.Lock()
			c.user = &user
			c.mu.Unlock()
		}
	}
	return res
}

// VerifyRole is the strict role check.
func (c *Coordinator) VerifyRole(ctx context.Context, role string) result.Result {
	return c.client.Get(ctx, c.authPrefix+"/role/"+role)
}

// CheckLogin is the non-strict login check: a local read of the token
// validity. It can be stale; use VerifyLogin before privileged actions.
func (c *Coordinator) CheckLogin() bool {
	return c.AuthorizationHeader() != ""
}

// CheckRole is the non-strict role check against the cached user
// snapshot.
func (c *Coordinator) CheckRole(role string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user != nil && slices.Contains(c.user.Roles, role)
}

// CurrentUser returns the cached user snapshot, or nil.
func (c *Coordinator) CurrentUser() *User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// Logout revokes the session server-side and clears the local session
// regardless of the outcome: a failed revocation must not leave a token
// behind.
func (c *Coordinator) Logout(ctx context.Context) result.Result {
	res := c.client.Delete(ctx, c.authPrefix+"/logout")
	c.clearSession()
	return res
}

// Health queries the backend health endpoint.
func (c *Coordinator) Health(ctx context.Context) result.Result {
	return c.client.Get(ctx, c.systemPrefix+"/health")
}

// Info queries the backend info endpoint.
func (c *Coordinator) Info(ctx context.Context) result.Result {
	return c.client.Get(ctx, c.systemPrefix+"/info")
}

// Guard registers machines to be forcibly disconnected when the health
// loop detects an invalid session.
func (c *Coordinator) Guard(machines ...Disconnector) {
	c.guardMu.Lock()
	c.guarded = append(c.guarded, machines...)
	c.guardMu.Unlock()
}

// BeginHealthCheck starts the fixed-interval login poll. Calling it
// again replaces the previous loop. On the first failed poll the loop
// stops itself, disconnects every guarded machine, and publishes
// TopicSessionExpired once.
func (c *Coordinator) BeginHealthCheck(interval time.Duration) {
	c.health.Begin(interval, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		return c.VerifyLogin(ctx).IsSuccess()
	}, c.onSessionInvalid)
}

// StopHealthCheck stops the poll loop. Safe to call when idle.
func (c *Coordinator) StopHealthCheck() {
	c.health.Stop()
}

func (c *Coordinator) onSessionInvalid() {
	log.Warn("session: login status check failed, forcing disconnect")
	c.guardMu.Lock()
	guarded := slices.Clone(c.guarded)
	c.guardMu.Unlock()
	for _, m := range guarded {
		if res := m.Disconnect(); !res.IsSuccess() {
			log.Warnf("session: forced disconnect: %s", res)
		}
	}
	c.bus.Publish(TopicSessionExpired, result.New(result.CodeUnauthorized, "session expired"))
}

func (c *Coordinator) clearUser() {
	c.mu.Lock()
	c.user = nil
	c.mu.Unlock()
}

func (c *Coordinator) clearSession() {
	c.mu.Lock()
	c.token = nil
	c.user = nil
	c.mu.Unlock()
	if c.settings != nil {
		if err := c.settings.Delete(settings.KeyAccessToken, settings.KeyTokenType, settings.KeyExpiresAt); err != nil {
			log.Warnf("session: clear persisted token: %v", err)
		}
	}
}

func (c *Coordinator) restoreToken() {
	if c.settings == nil {
		return
	}
	access := c.settings.GetString(settings.KeyAccessToken)
	tokenType := c.settings.GetString(settings.KeyTokenType)
	expiresAt := c.settings.GetInt(settings.KeyExpiresAt)
	if access == "" || tokenType == "" || expiresAt == 0 {
		return
	}
	c.token = &oauth2.Token{
		AccessToken: access,
		TokenType:   tokenType,
		Expiry:      time.Unix(expiresAt, 0),
	}
}

func (c *Coordinator) persistToken(token *oauth2.Token) {
	if c.settings == nil {
		return
	}
	if err := c.settings.Set(settings.KeyAccessToken, token.AccessToken); err != nil {
		log.Warnf("session: persist token: %v", err)
		return
	}
	_ = c.settings.Set(settings.KeyTokenType, token.TokenType)
	_ = c.settings.Set(settings.KeyExpiresAt, token.Expiry.Unix())
}

func decodeUser(raw []byte, user *User) error {
	return json.Unmarshal(raw, user)
}

// jwtExpiry extracts the exp claim from an access token when the
// backend response omits expires_at. The token is not verified here;
// expiry is advisory only and the server remains authoritative.
func jwtExpiry(access string) int64 {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return 0
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	return exp.Unix()
}
