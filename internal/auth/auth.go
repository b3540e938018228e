// Package auth derives and refreshes everything an authenticated GraphQL or
// spade call needs: session id, client version, device id, access token,
// and user id. The actual login flow (credentials, device code, browser) is
// an external collaborator — this package only knows how to ask for one.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/klaro-drops/drops-miner/internal/minerlog"
	"github.com/klaro-drops/drops-miner/internal/minerrors"
	"github.com/klaro-drops/drops-miner/internal/model"
	"github.com/klaro-drops/drops-miner/internal/transport"
)

const sessionIDLength = 16 // hex chars

// landingURL and oauthValidateURL are vars, not consts, so tests can point
// them at a local httptest server.
var (
	landingURL       = "https://www.twitch.tv/"
	oauthValidateURL = "https://id.twitch.tv/oauth2/validate"
)

var twilightBuildRe = regexp.MustCompile(`twilightBuildID="([-a-z0-9]+)"`)

// Login is the external collaborator: given the current state, obtain a
// fresh access token however the host wants — device-code flow, browser
// automation, stored credentials. Only the token is returned; Provider
// resolves the user id separately by validating it.
type Login func(ctx context.Context) (accessToken string, err error)

// Provider owns AuthState and the mutex-serialized validate() that refreshes
// it on demand.
type Provider struct {
	transport *transport.Transport
	login     Login
	clientID  string
	userAgent string
	logger    minerlog.Logger

	mu    sync.Mutex
	state model.AuthState
}

// New builds a Provider. clientID/userAgent are fixed per-session values;
// login is called whenever the access token is missing or rejected.
func New(tr *transport.Transport, login Login, clientID, userAgent string, logger minerlog.Logger) *Provider {
	return &Provider{
		transport: tr,
		login:     login,
		clientID:  clientID,
		userAgent: userAgent,
		logger:    logger,
	}
}

// State returns a copy of the current auth state without validating it.
func (p *Provider) State() model.AuthState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SeedAccessToken pre-populates the access token from a previously
// persisted session, sparing Validate a login round-trip when one is
// already on hand (mirroring the teacher's loadCookies-before-device-flow
// check).
func (p *Provider) SeedAccessToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if token != "" {
		p.state.AccessToken = token
	}
}

// Validate ensures every AuthState attribute is populated, deriving any
// that are missing. Concurrent callers are serialized so only one refresh
// happens at a time; callers that arrive mid-refresh simply wait and see
// the result.
func (p *Provider) Validate(ctx context.Context) (model.AuthState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.SessionID == "" {
		p.state.SessionID = newSessionID()
	}

	if p.state.ClientVersion == "" || p.state.DeviceID == "" {
		version, deviceID, err := p.scrapeLanding(ctx)
		if err != nil {
			return model.AuthState{}, fmt.Errorf("scrape landing page for client version/device id: %w", err)
		}
		p.state.ClientVersion = version
		p.state.DeviceID = deviceID
	}

	if p.state.AccessToken == "" {
		if err := p.refreshAccessTokenLocked(ctx); err != nil {
			return model.AuthState{}, err
		}
	}

	if p.state.UserID == 0 {
		userID, err := p.validateToken(ctx, p.state.AccessToken)
		if err != nil {
			if err := p.handleValidateFailureLocked(ctx, err); err != nil {
				return model.AuthState{}, err
			}
			userID, err = p.validateToken(ctx, p.state.AccessToken)
			if err != nil {
				return model.AuthState{}, fmt.Errorf("%w: %v", minerrors.ErrLogin, err)
			}
		}
		p.state.UserID = userID
	}

	return p.state, nil
}

// handleValidateFailureLocked clears the auth cookie and retries login once;
// a second failure escalates to ErrLogin. Caller holds p.mu.
func (p *Provider) handleValidateFailureLocked(ctx context.Context, cause error) error {
	p.logger.Errorf("oauth validate failed, clearing cookie and retrying login: %v", cause)
	p.clearCookiesLocked()
	p.state.AccessToken = ""
	if err := p.refreshAccessTokenLocked(ctx); err != nil {
		return fmt.Errorf("%w: %v", minerrors.ErrLogin, err)
	}
	return nil
}

func (p *Provider) refreshAccessTokenLocked(ctx context.Context) error {
	token, err := p.login(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", minerrors.ErrLogin, err)
	}
	if token == "" {
		return minerrors.ErrLogin
	}
	p.state.AccessToken = token
	return nil
}

func (p *Provider) clearCookiesLocked() {
	jar := p.transport.Jar()
	if jar == nil {
		return
	}
	for _, host := range []string{"twitch.tv", "id.twitch.tv"} {
		u := &url.URL{Scheme: "https", Host: host}
		var expired []*http.Cookie
		for _, c := range jar.Cookies(u) {
			expired = append(expired, &http.Cookie{Name: c.Name, Path: "/", MaxAge: -1})
		}
		jar.SetCookies(u, expired)
	}
}

// Headers returns the standard request headers, adding the OAuth
// authorization header for gql calls.
func (p *Provider) Headers(gql bool) http.Header {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	h := http.Header{}
	h.Set("Client-Id", p.clientID)
	h.Set("Client-Session-Id", state.SessionID)
	h.Set("Client-Version", state.ClientVersion)
	h.Set("User-Agent", p.userAgent)
	h.Set("X-Device-Id", state.DeviceID)
	if gql {
		h.Set("Authorization", "OAuth "+state.AccessToken)
		h.Set("Content-Type", "application/json")
	}
	return h
}

// Invalidate drops the in-memory token so the next Validate call refreshes
// it. auth clears the access token and user id; integrity additionally
// clears the client version/device id pair.
func (p *Provider) Invalidate(auth, integrity bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if auth {
		p.state.AccessToken = ""
		p.state.UserID = 0
	}
	if integrity {
		p.state.ClientVersion = ""
		p.state.DeviceID = ""
	}
}

func (p *Provider) scrapeLanding(ctx context.Context) (version, deviceID string, err error) {
	resp, err := p.transport.Request(ctx, http.MethodGet, landingURL, nil, nil, time.Time{})
	if err != nil {
		return "", "", err
	}
	m := twilightBuildRe.FindSubmatch(resp.Body)
	if len(m) < 2 {
		return "", "", fmt.Errorf("twilight build id not found on landing page")
	}
	version = string(m[1])

	deviceID = uniqueIDCookie(resp.Header)
	if deviceID == "" {
		deviceID, err = randomHex(16)
		if err != nil {
			return "", "", err
		}
	}
	return version, deviceID, nil
}

func uniqueIDCookie(header http.Header) string {
	for _, sc := range header.Values("Set-Cookie") {
		c := (&http.Response{Header: http.Header{"Set-Cookie": {sc}}}).Cookies()
		for _, parsed := range c {
			if parsed.Name == "unique_id" {
				return parsed.Value
			}
		}
	}
	return ""
}

func (p *Provider) validateToken(ctx context.Context, token string) (int, error) {
	req := oauthValidateURL
	h := http.Header{}
	h.Set("Authorization", "OAuth "+token)
	resp, err := p.transport.Request(ctx, http.MethodGet, req, h, nil, time.Time{})
	if err != nil {
		return 0, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return 0, fmt.Errorf("401 from oauth validate")
	}
	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return 0, err
	}
	if payload.UserID == "" {
		return 0, fmt.Errorf("oauth validate returned no user_id")
	}
	var id int
	if _, err := fmt.Sscanf(payload.UserID, "%d", &id); err != nil {
		return 0, fmt.Errorf("parse user_id %q: %w", payload.UserID, err)
	}
	return id, nil
}

// newSessionID derives a 16-hex-char session id from a fresh UUIDv4: the
// platform's own session id format isn't a full UUID, so the hyphens are
// stripped and the result truncated to match.
func newSessionID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return raw[:sessionIDLength]
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
