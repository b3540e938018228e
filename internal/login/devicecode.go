// Package login implements the external collaborator auth.Provider calls
// when it has no access token on hand: Twitch's device-code OAuth flow,
// adapted from the teacher's TwitchLogin.runDeviceFlow (the only client id
// Twitch grants device-code access to is the Android TV one, which is why
// this path sends its own headers instead of auth.Provider's normal ones).
package login

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/klaro-drops/drops-miner/internal/constants"
	"github.com/klaro-drops/drops-miner/internal/minerlog"
	"github.com/klaro-drops/drops-miner/internal/transport"
)

// deviceEndpoint and tokenEndpoint are vars, not consts, so tests can point
// them at a local server.
var (
	deviceEndpoint = "https://id.twitch.tv/oauth2/device"
	tokenEndpoint  = "https://id.twitch.tv/oauth2/token"
)

const deviceScopes = "channel_read chat:read user_blocks_edit user_blocks_read user_follows_edit user_read"

// Prompter shows the user the activation URL and code; implemented by
// host.UI in practice (Print), kept narrow here so this package doesn't
// depend on the whole UI surface.
type Prompter interface {
	Print(line string)
}

// DeviceCodeLogin drives the device-code flow against tr. Do is an
// auth.Login value.
type DeviceCodeLogin struct {
	tr       *transport.Transport
	prompter Prompter
	logger   minerlog.Logger
	deviceID string
}

// New builds a DeviceCodeLogin. Its own X-Device-Id is independent of
// auth.Provider's (the device flow runs under a different client id), so
// it generates one locally instead of threading the caller's through.
func New(tr *transport.Transport, prompter Prompter, logger minerlog.Logger) *DeviceCodeLogin {
	return &DeviceCodeLogin{tr: tr, prompter: prompter, logger: logger, deviceID: randomHex(16)}
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = io.ReadFull(rand.Reader, buf)
	return hex.EncodeToString(buf)
}

func (d *DeviceCodeLogin) headers() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	h.Set("Client-Id", constants.ClientID)
	h.Set("User-Agent", constants.AndroidTVUserAgent)
	h.Set("Origin", "https://android.tv.twitch.tv")
	h.Set("Referer", "https://android.tv.twitch.tv/")
	h.Set("X-Device-Id", d.deviceID)
	return h
}

type devicePayload struct {
	DeviceCode string `json:"device_code"`
	UserCode   string `json:"user_code"`
	Interval   int    `json:"interval"`
	ExpiresIn  int    `json:"expires_in"`
}

// Do requests a device code, prints the activation instructions, then
// polls for the user to authorize it. It satisfies auth.Login.
func (d *DeviceCodeLogin) Do(ctx context.Context) (string, error) {
	postData := url.Values{
		"client_id": {constants.ClientID},
		"scopes":    {deviceScopes},
	}
	resp, err := d.tr.Request(ctx, http.MethodPost, deviceEndpoint, d.headers(), []byte(postData.Encode()), time.Time{})
	if err != nil {
		return "", fmt.Errorf("start device flow: %w", err)
	}
	var payload devicePayload
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return "", fmt.Errorf("decode device flow response: %w", err)
	}
	if payload.DeviceCode == "" {
		return "", fmt.Errorf("device flow did not return a device code: %s", resp.Body)
	}

	d.prompter.Print(fmt.Sprintf("open https://www.twitch.tv/activate and enter code: %s (expires in %d minutes)", payload.UserCode, payload.ExpiresIn/60))

	tokenData := url.Values{
		"client_id":   {constants.ClientID},
		"device_code": {payload.DeviceCode},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
	}
	interval := time.Duration(payload.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)

	for time.Now().Before(deadline) {
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}

		resp, err := d.tr.Request(ctx, http.MethodPost, tokenEndpoint, d.headers(), []byte(tokenData.Encode()), time.Time{})
		if err != nil {
			d.logger.Debugf("login: device token poll failed, retrying: %v", err)
			continue
		}
		var tok struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal(resp.Body, &tok); err != nil {
			continue
		}
		if tok.AccessToken != "" {
			return tok.AccessToken, nil
		}
	}
	return "", fmt.Errorf("device code expired before authorization")
}
