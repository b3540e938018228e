package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaro-drops/drops-miner/internal/minerlog"
	"github.com/klaro-drops/drops-miner/internal/transport"
)

func TestValidatePopulatesEveryAttribute(t *testing.T) {
	landing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<script>window.__twilightDeviceID="xyz";twilightBuildID="abc123-def456";</script>`))
	}))
	defer landing.Close()

	validate := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"user_id":"42"}`))
	}))
	defer validate.Close()

	origLanding, origValidate := landingURL, oauthValidateURL
	landingURL = landing.URL + "/"
	oauthValidateURL = validate.URL
	defer func() {
		landingURL, oauthValidateURL = origLanding, origValidate
	}()

	tr, err := transport.New(transport.Options{})
	require.NoError(t, err)

	called := false
	login := func(ctx context.Context) (string, error) {
		called = true
		return "tok-123", nil
	}

	p := New(tr, login, "client-id", "test-agent", minerlog.NewDiscard())
	state, err := p.Validate(context.Background())
	require.NoError(t, err)
	assert.Len(t, state.SessionID, 16)
	assert.Equal(t, "abc123-def456", state.ClientVersion)
	assert.Equal(t, 42, state.UserID)
	assert.True(t, called)
	assert.Equal(t, "tok-123", state.AccessToken)
}

func TestValidateEscalatesToLoginOnOAuthFailure(t *testing.T) {
	landing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`twilightBuildID="abc123-def456"`))
	}))
	defer landing.Close()

	attempt := 0
	validate := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		if attempt == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"user_id":"7"}`))
	}))
	defer validate.Close()

	origLanding, origValidate := landingURL, oauthValidateURL
	landingURL = landing.URL + "/"
	oauthValidateURL = validate.URL
	defer func() {
		landingURL, oauthValidateURL = origLanding, origValidate
	}()

	tr, err := transport.New(transport.Options{})
	require.NoError(t, err)

	logins := 0
	login := func(ctx context.Context) (string, error) {
		logins++
		return "tok", nil
	}

	p := New(tr, login, "client-id", "test-agent", minerlog.NewDiscard())
	state, err := p.Validate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, state.UserID)
	assert.Equal(t, 2, logins)
}

func TestValidateFailsHardWhenLandingScrapeMisses(t *testing.T) {
	landing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>no build id here</html>`))
	}))
	defer landing.Close()

	origLanding := landingURL
	landingURL = landing.URL + "/"
	defer func() { landingURL = origLanding }()

	tr, err := transport.New(transport.Options{})
	require.NoError(t, err)

	login := func(ctx context.Context) (string, error) {
		t.Fatal("login should not be reached when the landing scrape fails")
		return "", nil
	}

	p := New(tr, login, "client-id", "test-agent", minerlog.NewDiscard())
	_, err = p.Validate(context.Background())
	assert.Error(t, err)
}

func TestInvalidateClearsAuthAndIntegrity(t *testing.T) {
	p := New(nil, nil, "client-id", "test-agent", minerlog.NewDiscard())
	p.state.AccessToken = "tok"
	p.state.UserID = 1
	p.state.ClientVersion = "v"
	p.state.DeviceID = "d"

	p.Invalidate(true, false)
	assert.Empty(t, p.state.AccessToken)
	assert.Zero(t, p.state.UserID)
	assert.Equal(t, "v", p.state.ClientVersion)

	p.Invalidate(false, true)
	assert.Empty(t, p.state.ClientVersion)
	assert.Empty(t, p.state.DeviceID)
}

func TestHeadersIncludesAuthorizationOnlyForGQL(t *testing.T) {
	p := New(nil, nil, "client-id", "test-agent", minerlog.NewDiscard())
	p.state.AccessToken = "tok"

	h := p.Headers(false)
	assert.Empty(t, h.Get("Authorization"))

	h = p.Headers(true)
	assert.Equal(t, "OAuth tok", h.Get("Authorization"))
}
