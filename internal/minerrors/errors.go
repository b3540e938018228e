// Package minerrors defines the typed error taxonomy shared across the
// mining core, mirroring original_source/exceptions.py.
package minerrors

import "errors"

// ErrExitRequest is raised by cancellation paths; the controller unwinds
// without retrying anything.
var ErrExitRequest = errors.New("exit requested")

// ErrRequestInvalid signals the integrity/auth window closed mid-request;
// the caller must refresh auth and retry.
var ErrRequestInvalid = errors.New("request invalid: integrity window closed")

// ErrCaptchaRequired is fatal: login flow hit a captcha challenge the core
// cannot solve on its own.
var ErrCaptchaRequired = errors.New("captcha required")

// ErrLogin is fatal: auth validation failed and login could not recover.
var ErrLogin = errors.New("login failed")

// ErrStreamerOffline marks a stream-info lookup that found no live stream.
var ErrStreamerOffline = errors.New("channel offline")

// ErrTopicLimit is fatal to the caller's add_topics call: the pool has no
// room for every topic in the batch.
var ErrTopicLimit = errors.New("topic limit")

// MinerError wraps a GraphQL top-level error that is not the well-known
// "service timeout" retry case.
type MinerError struct {
	Op      string
	Message string
}

func (e *MinerError) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return e.Op + ": " + e.Message
}

func NewMinerError(op, message string) *MinerError {
	return &MinerError{Op: op, Message: message}
}
