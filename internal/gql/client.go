package gql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/klaro-drops/drops-miner/internal/minerrors"
	"github.com/klaro-drops/drops-miner/internal/transport"
)

const serviceTimeoutMessage = "service timeout"

// serviceTimeoutRetryDelay is a var, not a const, so tests can shrink it.
var serviceTimeoutRetryDelay = time.Second

// HeaderSource supplies the per-request auth/identity headers; implemented
// by auth.Provider.
type HeaderSource interface {
	Headers(gql bool) http.Header
}

// Response is a single decoded GraphQL response: raw data plus whatever
// top-level errors (if any) the platform returned.
type Response struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

type gqlError struct {
	Message string `json:"message"`
}

// Client issues single or batched persisted-query requests.
type Client struct {
	transport *transport.Transport
	headers   HeaderSource
	limiter   *rate.Limiter
}

// New builds a Client rate-limited to ratePerSecond requests/sec with the
// given burst allowance.
func New(tr *transport.Transport, headers HeaderSource, ratePerSecond float64, burst int) *Client {
	return &Client{
		transport: tr,
		headers:   headers,
		limiter:   rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Do issues a single persisted-query operation and returns its decoded
// response. It retries indefinitely (with a 1s delay) on the well-known
// "service timeout" top-level error; any other top-level error is returned
// as a *minerrors.MinerError.
func (c *Client) Do(ctx context.Context, op Operation) (*Response, error) {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := json.Marshal(op)
		if err != nil {
			return nil, fmt.Errorf("marshal operation %s: %w", op.OperationName, err)
		}

		httpResp, err := c.transport.Request(ctx, http.MethodPost, URL, c.headers.Headers(true), body, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("gql %s: %w", op.OperationName, err)
		}

		resp, err := decodeLenient(httpResp.Body)
		if err != nil {
			return nil, fmt.Errorf("decode gql %s response: %w", op.OperationName, err)
		}

		if len(resp.Errors) == 0 {
			return resp, nil
		}
		if resp.Errors[0].Message == serviceTimeoutMessage {
			select {
			case <-time.After(serviceTimeoutRetryDelay):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return nil, minerrors.NewMinerError(op.OperationName, resp.Errors[0].Message)
	}
}

// Batch issues every operation in ops, each through Do, and returns the
// responses in the same order. The platform's batch endpoint accepts an
// array body, but since each of our operations can independently hit the
// "service timeout" retry loop, Batch dispatches each through the same
// single-operation path rather than a combined array request.
func (c *Client) Batch(ctx context.Context, ops []Operation) ([]*Response, error) {
	out := make([]*Response, len(ops))
	for i, op := range ops {
		resp, err := c.Do(ctx, op)
		if err != nil {
			return nil, fmt.Errorf("batch item %d (%s): %w", i, op.OperationName, err)
		}
		out[i] = resp
	}
	return out, nil
}

// decodeLenient tolerates trailing whitespace/newlines after the JSON
// object, which the platform's GQL endpoint is known to emit.
func decodeLenient(body []byte) (*Response, error) {
	trimmed := bytes.TrimRight(body, " \t\r\n")
	var resp Response
	dec := json.NewDecoder(strings.NewReader(string(trimmed)))
	if err := dec.Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
