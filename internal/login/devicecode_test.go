package login

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaro-drops/drops-miner/internal/minerlog"
	"github.com/klaro-drops/drops-miner/internal/transport"
)

type capturePrompter struct {
	mu    sync.Mutex
	lines []string
}

func (c *capturePrompter) Print(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func TestDoPromptsThenReturnsTokenOnFirstPoll(t *testing.T) {
	var polls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/device":
			w.Write([]byte(`{"device_code":"dc","user_code":"ABCD-EFGH","interval":1,"expires_in":120}`))
		case "/oauth2/token":
			polls++
			w.Write([]byte(`{"access_token":"tok-xyz"}`))
		}
	}))
	defer srv.Close()

	origDevice, origToken := deviceEndpoint, tokenEndpoint
	deviceEndpoint = srv.URL + "/oauth2/device"
	tokenEndpoint = srv.URL + "/oauth2/token"
	defer func() { deviceEndpoint, tokenEndpoint = origDevice, origToken }()

	tr, err := transport.New(transport.Options{})
	require.NoError(t, err)

	prompter := &capturePrompter{}
	d := New(tr, prompter, minerlog.NewDiscard())
	token, err := d.Do(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-xyz", token)
	assert.Equal(t, 1, polls)

	prompter.mu.Lock()
	defer prompter.mu.Unlock()
	require.Len(t, prompter.lines, 1)
	assert.Contains(t, prompter.lines[0], "ABCD-EFGH")
}
