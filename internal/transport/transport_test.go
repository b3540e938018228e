package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaro-drops/drops-miner/internal/minerrors"
)

func TestRequestSucceedsOnFirstTry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tr, err := New(Options{})
	require.NoError(t, err)

	resp, err := tr.Request(context.Background(), http.MethodGet, srv.URL, nil, nil, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(resp.Body))
}

func TestRequestRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr, err := New(Options{})
	require.NoError(t, err)

	resp, err := tr.Request(context.Background(), http.MethodGet, srv.URL, nil, nil, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestRequestReturns4xxWithoutRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tr, err := New(Options{})
	require.NoError(t, err)

	resp, err := tr.Request(context.Background(), http.MethodGet, srv.URL, nil, nil, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRequestPastDeadlineFailsFast(t *testing.T) {
	tr, err := New(Options{})
	require.NoError(t, err)

	deadline := time.Now().Add(-time.Hour)
	_, err = tr.Request(context.Background(), http.MethodGet, "http://example.invalid", nil, nil, deadline)
	assert.ErrorIs(t, err, minerrors.ErrRequestInvalid)
}

func TestRequestCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr, err := New(Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Request(ctx, http.MethodGet, srv.URL, nil, nil, time.Time{})
	assert.Error(t, err)
}
