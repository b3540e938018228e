package gql

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/klaro-drops/drops-miner/internal/minerrors"
	"github.com/klaro-drops/drops-miner/internal/transport"
)

type fakeHeaders struct{}

func (fakeHeaders) Headers(gql bool) http.Header { return http.Header{} }

func newTestClient(t *testing.T) *Client {
	t.Helper()
	tr, err := transport.New(transport.Options{})
	require.NoError(t, err)
	return &Client{
		transport: tr,
		headers:   fakeHeaders{},
		limiter:   rate.NewLimiter(rate.Inf, 1),
	}
}

func TestDoDecodesSuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"foo":"bar"}}` + "\n  "))
	}))
	defer srv.Close()

	origURL := URL
	URL = srv.URL
	defer func() { URL = origURL }()

	c := newTestClient(t)
	resp, err := c.Do(context.Background(), Operations.Inventory)
	require.NoError(t, err)
	assert.JSONEq(t, `{"foo":"bar"}`, string(resp.Data))
}

func TestDoRetriesOnServiceTimeout(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Write([]byte(`{"errors":[{"message":"service timeout"}]}`))
			return
		}
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	origURL := URL
	URL = srv.URL
	defer func() { URL = origURL }()

	origDelay := serviceTimeoutRetryDelay
	serviceTimeoutRetryDelay = time.Millisecond
	defer func() { serviceTimeoutRetryDelay = origDelay }()

	c := newTestClient(t)
	resp, err := c.Do(context.Background(), Operations.Inventory)
	require.NoError(t, err)
	assert.NotNil(t, resp)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDoReturnsMinerErrorOnOtherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"unauthorized"}]}`))
	}))
	defer srv.Close()

	origURL := URL
	URL = srv.URL
	defer func() { URL = origURL }()

	c := newTestClient(t)
	_, err := c.Do(context.Background(), Operations.Inventory)
	require.Error(t, err)
	var minerErr *minerrors.MinerError
	assert.ErrorAs(t, err, &minerErr)
}

func TestBatchPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	origURL := URL
	URL = srv.URL
	defer func() { URL = origURL }()

	c := newTestClient(t)
	resps, err := c.Batch(context.Background(), []Operation{Operations.Inventory, Operations.Campaigns})
	require.NoError(t, err)
	assert.Len(t, resps, 2)
}
