// Package transport implements the single HTTP request operation every
// other component issues calls through: a shared cookie jar, an optional
// proxy, a bounded timeout, and an exponential-backoff retry sequence for
// transient failures.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/klaro-drops/drops-miner/internal/minerrors"
)

const (
	requestTimeout = 10 * time.Second
	backoffBase    = 2.0
	backoffJitter  = 0.2
	backoffShift   = 200 * time.Millisecond
	backoffCap     = 3 * time.Minute
	maxAttempts    = 6
)

// Response is the decoded result of a request: status, headers, and body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport issues HTTP requests with a shared cookie jar and retry policy.
type Transport struct {
	client *http.Client
}

// Options configures a Transport at construction time.
type Options struct {
	ProxyURL         string
	DisableTLSVerify bool
	Jar              http.CookieJar
	// RequestTimeout overrides the default per-request timeout when
	// nonzero, letting a deployment trade latency for tolerance of a slow
	// link (internal/config's DROPS_REQUEST_TIMEOUT).
	RequestTimeout time.Duration
}

// New builds a Transport. If opts.Jar is nil, a fresh in-memory jar is
// created (the caller is expected to persist/restore it across restarts via
// the cookie store, mirroring the teacher's cookie persistence).
func New(opts Options) (*Transport, error) {
	jar := opts.Jar
	if jar == nil {
		var err error
		jar, err = cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("new cookie jar: %w", err)
		}
	}

	transport := &http.Transport{}
	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	if opts.DisableTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	timeout := requestTimeout
	if opts.RequestTimeout > 0 {
		timeout = opts.RequestTimeout
	}

	client := &http.Client{
		Jar:       jar,
		Timeout:   timeout,
		Transport: transport,
	}
	return &Transport{client: client}, nil
}

// Jar exposes the underlying cookie jar so callers (auth) can inspect and
// clear per-domain cookies.
func (t *Transport) Jar() http.CookieJar {
	return t.client.Jar
}

// jitteredBackoff builds the shift · base^n · U(1-v,1+v) sequence, capped at
// backoffCap, via cenkalti/backoff's ExponentialBackOff: backoffShift is the
// starting interval that base^n scales, not a term added to each interval.
func jitteredBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoffShift
	b.Multiplier = backoffBase
	b.RandomizationFactor = backoffJitter
	b.MaxInterval = backoffCap
	b.MaxElapsedTime = 0 // bounded externally by maxAttempts, not elapsed time
	return b
}

// Request issues method to rawURL with headers and an optional body,
// retrying transport errors and 5xx responses with exponential backoff. If
// deadline is non-zero and now exceeds deadline-timeout, the call fails
// immediately with ErrRequestInvalid so the caller can refresh its
// integrity/auth state instead of racing a request that will be rejected
// anyway.
func (t *Transport) Request(ctx context.Context, method, rawURL string, headers http.Header, body []byte, deadline time.Time) (*Response, error) {
	if !deadline.IsZero() && time.Now().After(deadline.Add(-requestTimeout)) {
		return nil, minerrors.ErrRequestInvalid
	}

	var resp *Response
	attempt := 0
	operation := func() error {
		attempt++
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		for k, vs := range headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		httpResp, err := t.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if attempt >= maxAttempts {
				return backoff.Permanent(err)
			}
			return err
		}
		defer httpResp.Body.Close()

		data, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return err
		}

		if httpResp.StatusCode >= 500 {
			if attempt >= maxAttempts {
				return backoff.Permanent(fmt.Errorf("server error %d after %d attempts", httpResp.StatusCode, attempt))
			}
			return fmt.Errorf("server error %d", httpResp.StatusCode)
		}

		resp = &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			Body:       data,
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(jitteredBackoff(), ctx))
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, rawURL, err)
	}
	return resp, nil
}
