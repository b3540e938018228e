// Package watch drives the single heartbeat loop: POST minute-watched to
// the watched channel's spade URL every WatchInterval, correlating each
// beat with the progress engine's authoritative update and falling back to
// GraphQL (then local estimation) when none arrives in time.
package watch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/klaro-drops/drops-miner/internal/gql"
	"github.com/klaro-drops/drops-miner/internal/minerlog"
	"github.com/klaro-drops/drops-miner/internal/model"
	"github.com/klaro-drops/drops-miner/internal/transport"
)

const (
	WatchInterval   = 59 * time.Second
	progressTimeout = 10 * time.Second
	failureSleep    = 60 * time.Second
)

type minuteWatchedEvent struct {
	Event      string                 `json:"event"`
	Properties minuteWatchedProperties `json:"properties"`
}

type minuteWatchedProperties struct {
	ChannelID   int    `json:"channel_id"`
	BroadcastID int    `json:"broadcast_id"`
	Player      string `json:"player"`
	UserID      int    `json:"user_id"`
}

// ProgressEngine is the subset of progress.Engine the watch loop drives.
type ProgressEngine interface {
	AwaitUpdate(ctx context.Context, timeout time.Duration) (handled bool, timedOut bool)
	Drop(id string) (*model.Drop, bool)
}

// Target supplies the currently-watched channel, or ok=false if nothing is
// being watched right now.
type Target func() (*model.Channel, bool)

// Loop owns the single in-flight heartbeat. stop_watching/retarget are
// expressed by the Target function changing what it returns; Restart wakes
// the loop immediately instead of waiting out the current inter-beat sleep.
type Loop struct {
	transport  *transport.Transport
	gqlClient  *gql.Client
	progress   ProgressEngine
	logger     minerlog.Logger
	userID     int
	target     Target
	activeDrop func(channel *model.Channel) (*model.Drop, bool)

	restartCh chan struct{}

	mu        sync.Mutex
	lastWatch time.Time
}

// New builds a Loop. activeDrop resolves the drop the channel set/progress
// engine consider "currently active" for channel, used as the last-resort
// fallback when neither the websocket nor GraphQL confirm a beat.
func New(tr *transport.Transport, gqlClient *gql.Client, progress ProgressEngine, logger minerlog.Logger, userID int, target Target, activeDrop func(channel *model.Channel) (*model.Drop, bool)) *Loop {
	return &Loop{
		transport:  tr,
		gqlClient:  gqlClient,
		progress:   progress,
		logger:     logger,
		userID:     userID,
		target:     target,
		activeDrop: activeDrop,
		restartCh:  make(chan struct{}, 1),
	}
}

// Restart interrupts the current inter-beat sleep so a freshly chosen
// channel starts being watched immediately. It does not touch a drop update
// wait already in progress; that wait runs on to its own timeout.
func (l *Loop) Restart() {
	select {
	case l.restartCh <- struct{}{}:
	default:
	}
}

// Run drives the loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		channel, ok := l.target()
		if !ok || channel == nil {
			if !l.sleep(ctx, 500*time.Millisecond) {
				return
			}
			continue
		}

		ok, err := l.sendHeartbeat(ctx, channel)
		if err != nil {
			l.logger.Errorf("watch: heartbeat error on %s: %v", channel.Login, err)
		}
		if !ok {
			// likely the campaign expired mid-mine; the maintenance task
			// should switch the channel shortly
			if !l.sleep(ctx, failureSleep) {
				return
			}
			continue
		}

		l.mu.Lock()
		l.lastWatch = time.Now()
		last := l.lastWatch
		l.mu.Unlock()

		l.accountForBeat(ctx, channel)

		remaining := time.Until(last.Add(WatchInterval))
		if remaining > 0 {
			if !l.sleep(ctx, remaining) {
				return
			}
		}
	}
}

// sleep waits for delay, an early Restart signal, or context cancellation.
// Returns false if ctx was cancelled.
func (l *Loop) sleep(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-l.restartCh:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Loop) sendHeartbeat(ctx context.Context, channel *model.Channel) (bool, error) {
	if channel.Stream == nil {
		return false, nil
	}
	payload := []minuteWatchedEvent{{
		Event: "minute-watched",
		Properties: minuteWatchedProperties{
			ChannelID:   channel.ID,
			BroadcastID: channel.Stream.BroadcastID,
			Player:      "site",
			UserID:      l.userID,
		},
	}}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode minute-watched payload: %w", err)
	}
	body := "data=" + url.QueryEscape(base64.StdEncoding.EncodeToString(encoded))

	headers := http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}}
	resp, err := l.transport.Request(ctx, http.MethodPost, channel.SpadeURL, headers, []byte(body), time.Time{})
	if err != nil {
		return false, err
	}
	return resp.StatusCode == http.StatusNoContent, nil
}

// accountForBeat waits up to progressTimeout for the progress engine to
// confirm the beat via websocket; falls back to GraphQL, then to bumping
// the locally-estimated extra minutes of whatever drop is active.
func (l *Loop) accountForBeat(ctx context.Context, channel *model.Channel) {
	handled, _ := l.progress.AwaitUpdate(ctx, progressTimeout)
	if handled {
		return
	}

	if l.applyFromCurrentDrop(ctx, channel) {
		return
	}
	l.bumpActiveDrop(channel)
}

// applyFromCurrentDrop re-reads progress via GraphQL. It returns true if it
// successfully applied an authoritative update, false if the caller should
// fall back to the locally-estimated active drop.
func (l *Loop) applyFromCurrentDrop(ctx context.Context, channel *model.Channel) bool {
	resp, err := l.gqlClient.Do(ctx, gql.Operations.CurrentDrop)
	if err != nil {
		l.logger.Errorf("watch: CurrentDrop fallback failed: %v", err)
		return false
	}
	var parsed struct {
		Data struct {
			CurrentUser struct {
				DropCurrentSession *struct {
					DropID                string `json:"dropID"`
					CurrentMinutesWatched int    `json:"currentMinutesWatched"`
				} `json:"dropCurrentSession"`
			} `json:"currentUser"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		l.logger.Errorf("watch: decode CurrentDrop fallback: %v", err)
		return false
	}
	session := parsed.Data.CurrentUser.DropCurrentSession
	if session == nil {
		return false
	}
	drop, ok := l.progress.Drop(session.DropID)
	if !ok || !drop.CanEarn() {
		return false
	}
	drop.ApplyRealMinutes(session.CurrentMinutesWatched)
	return true
}

func (l *Loop) bumpActiveDrop(channel *model.Channel) {
	if l.activeDrop == nil {
		return
	}
	drop, ok := l.activeDrop(channel)
	if !ok || drop == nil {
		return
	}
	drop.BumpExtraMinute()
}
