// Package progress merges websocket drop-progress/drop-claim events with
// authoritative GraphQL reads into the per-drop minute accounting the watch
// loop and state machine depend on.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/klaro-drops/drops-miner/internal/gql"
	"github.com/klaro-drops/drops-miner/internal/minerlog"
	"github.com/klaro-drops/drops-miner/internal/model"
)

const (
	claimSettleDelay  = 4 * time.Second
	claimPollInterval = 2 * time.Second
	claimPollAttempts = 8
)

// ActiveDrop resolves the drop currently eligible to be credited on the
// watched channel, or ok=false if nothing is watchable right now.
type ActiveDropFunc func() (drop *model.Drop, ok bool)

// CampaignLookup resolves a drop id to its owning campaign, for claim text
// and claimed-drop bookkeeping.
type CampaignLookup func(dropID string) (*model.Campaign, bool)

// Events the engine emits back to the controller.
type OnClaimed func(drop *model.Drop, campaign *model.Campaign)
type OnDropsExhausted func(campaign *model.Campaign)
type OnRestartWatching func()

// Engine owns the aggregated drop map and the single pending "update
// expected" slot the watch loop blocks on.
type Engine struct {
	client  *gql.Client
	logger  minerlog.Logger
	userID  int

	activeDrop    ActiveDropFunc
	campaignOf    CampaignLookup
	onClaimed     OnClaimed
	onExhausted   OnDropsExhausted
	onRestart     OnRestartWatching

	mu    sync.Mutex
	drops map[string]*model.Drop

	pendingMu sync.Mutex
	pending   chan bool
}

// New builds an Engine. The callback set wires it into the channel set and
// state machine without either package importing the other.
func New(client *gql.Client, logger minerlog.Logger, userID int, activeDrop ActiveDropFunc, campaignOf CampaignLookup, onClaimed OnClaimed, onExhausted OnDropsExhausted, onRestart OnRestartWatching) *Engine {
	return &Engine{
		client:      client,
		logger:      logger,
		userID:      userID,
		activeDrop:  activeDrop,
		campaignOf:  campaignOf,
		onClaimed:   onClaimed,
		onExhausted: onExhausted,
		onRestart:   onRestart,
		drops:       make(map[string]*model.Drop),
	}
}

// SetDrops replaces the aggregated drop map, called after every inventory
// fetch.
func (e *Engine) SetDrops(drops map[string]*model.Drop) {
	e.mu.Lock()
	e.drops = drops
	e.mu.Unlock()
}

// Drop looks up a tracked drop by id.
func (e *Engine) Drop(id string) (*model.Drop, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.drops[id]
	return d, ok
}

// AwaitUpdate opens the single pending-update slot the watch loop uses to
// learn whether its heartbeat was accounted for by an authoritative event.
// Only one slot may be open at a time; opening a new one replaces (and
// abandons) any previous one.
func (e *Engine) AwaitUpdate(ctx context.Context, timeout time.Duration) (handled bool, timedOut bool) {
	ch := make(chan bool, 1)
	e.pendingMu.Lock()
	e.pending = ch
	e.pendingMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v, false
	case <-timer.C:
		e.clearPendingIfSame(ch)
		return false, true
	case <-ctx.Done():
		e.clearPendingIfSame(ch)
		return false, false
	}
}

func (e *Engine) clearPendingIfSame(ch chan bool) {
	e.pendingMu.Lock()
	if e.pending == ch {
		e.pending = nil
	}
	e.pendingMu.Unlock()
}

func (e *Engine) resolvePending(v bool) bool {
	e.pendingMu.Lock()
	ch := e.pending
	e.pending = nil
	e.pendingMu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case ch <- v:
	default:
	}
	return true
}

type dropProgressPayload struct {
	DropID             string `json:"drop_id"`
	CurrentProgressMin int    `json:"current_progress_min"`
	RequiredProgressMin int   `json:"required_progress_min"`
}

type dropClaimPayload struct {
	DropID         string `json:"drop_id"`
	DropInstanceID string `json:"drop_instance_id"`
}

// HandleDropProgress processes a websocket "drop-progress" message. If an
// update is awaited and the event matches the currently active drop, its
// real minutes are set and the watch loop is signalled "handled". Otherwise
// it signals "unhandled" so the watch loop falls back to GraphQL.
func (e *Engine) HandleDropProgress(raw []byte) {
	var payload dropProgressPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		e.logger.Errorf("progress: malformed drop-progress payload: %v", err)
		return
	}

	e.pendingMu.Lock()
	awaiting := e.pending != nil
	e.pendingMu.Unlock()
	if !awaiting {
		e.logger.Debugf("progress: drop-progress for %s arrived with no pending update", payload.DropID)
		return
	}

	active, ok := e.activeDrop()
	if ok && active != nil && active.ID == payload.DropID {
		active.ApplyRealMinutes(payload.CurrentProgressMin)
		e.resolvePending(true)
		return
	}
	e.resolvePending(false)
}

// HandleDropClaim processes a websocket "drop-claim" message: records the
// claim id, attempts the claim (reporting it via onClaimed on success), then
// runs the settle-and-poll sequence whatever the claim's outcome before
// asking the controller to restart watching or move on to the next
// inventory fetch.
func (e *Engine) HandleDropClaim(ctx context.Context, raw []byte) {
	var payload dropClaimPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		e.logger.Errorf("progress: malformed drop-claim payload: %v", err)
		return
	}

	drop, ok := e.Drop(payload.DropID)
	if !ok {
		e.logger.Errorf("progress: drop claim for unknown drop %s (instance %s)", payload.DropID, payload.DropInstanceID)
		return
	}
	drop.ClaimID = payload.DropInstanceID

	campaign, _ := e.campaignOf(payload.DropID)
	mined, err := e.Claim(ctx, drop)
	if err != nil {
		e.logger.Errorf("progress: claim failed for drop %s: %v", drop.ID, err)
	}
	if mined && e.onClaimed != nil {
		e.onClaimed(drop, campaign)
	}

	e.settleAndPoll(ctx, drop, campaign)
}

// settleAndPoll waits claimSettleDelay, then polls CurrentDrop up to
// claimPollAttempts times at claimPollInterval until the platform reports a
// different drop id (or none), before telling the controller whether to
// restart watching or move to the next inventory fetch.
func (e *Engine) settleAndPoll(ctx context.Context, drop *model.Drop, campaign *model.Campaign) {
	select {
	case <-time.After(claimSettleDelay):
	case <-ctx.Done():
		return
	}

	for attempt := 0; attempt < claimPollAttempts; attempt++ {
		resp, err := e.client.Do(ctx, gql.Operations.CurrentDrop)
		if err != nil {
			break
		}
		var parsed struct {
			Data struct {
				CurrentUser struct {
					DropCurrentSession *struct {
						DropID string `json:"dropID"`
					} `json:"dropCurrentSession"`
				} `json:"currentUser"`
			} `json:"data"`
		}
		if err := json.Unmarshal(resp.Data, &parsed); err != nil {
			break
		}
		session := parsed.Data.CurrentUser.DropCurrentSession
		if session == nil || session.DropID != drop.ID {
			break
		}
		select {
		case <-time.After(claimPollInterval):
		case <-ctx.Done():
			return
		}
	}

	if campaign != nil && campaign.ClaimedDrops() < len(campaign.Drops) {
		if e.onRestart != nil {
			e.onRestart()
		}
		return
	}
	if e.onExhausted != nil {
		e.onExhausted(campaign)
	}
}

// Claim posts ClaimDrop for drop.ClaimID. Success is any response whose
// claimDropRewards.status is ELIGIBLE_FOR_ALL or
// DROP_INSTANCE_ALREADY_CLAIMED; anything else, including a transport
// error, is a failure with no retry here (the next inventory fetch or the
// next drop-claim event will try again).
func (e *Engine) Claim(ctx context.Context, drop *model.Drop) (bool, error) {
	if drop.IsClaimed {
		return true, nil
	}
	if !e.canClaim(drop) {
		return false, nil
	}

	resp, err := e.client.Do(ctx, gql.Operations.ClaimDrop.WithVariables(gql.ClaimDropVars(drop.ClaimID)))
	if err != nil {
		return false, fmt.Errorf("claim drop %s: %w", drop.ID, err)
	}

	var parsed struct {
		ClaimDropRewards *struct {
			Status string `json:"status"`
		} `json:"claimDropRewards"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return false, fmt.Errorf("decode claim response for drop %s: %w", drop.ID, err)
	}
	if parsed.ClaimDropRewards == nil {
		return false, nil
	}
	switch parsed.ClaimDropRewards.Status {
	case "ELIGIBLE_FOR_ALL", "DROP_INSTANCE_ALREADY_CLAIMED":
		drop.MarkClaimed(drop.ClaimID)
		return true, nil
	default:
		return false, nil
	}
}

func (e *Engine) canClaim(drop *model.Drop) bool {
	if drop.ClaimID == "" || drop.IsClaimed {
		return false
	}
	campaign, ok := e.campaignOf(drop.ID)
	if !ok {
		return true
	}
	return time.Now().Before(campaign.EndsAt.Add(24 * time.Hour))
}

// SynthesizeClaimID builds the fallback claim id used when a catch-up
// claim is attempted without ever having received a websocket drop-claim
// event for it.
func SynthesizeClaimID(userID int, campaignID, dropID string) string {
	return fmt.Sprintf("%d#%s#%s", userID, campaignID, dropID)
}
