package miner

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/klaro-drops/drops-miner/internal/gql"
)

const (
	maintenanceClaimPeriod = 30 * time.Minute
	maintenanceMaxPeriod   = time.Hour
)

// restartMaintenance cancels any running maintenance task and starts a
// fresh one, called after every successful inventory fetch so the hour
// budget resets alongside the campaign boundary triggers.
func (c *Controller) restartMaintenance(ctx context.Context) {
	c.cancelMaintenance()
	mctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.maintCancel = cancel
	c.maintDone = done
	c.mu.Unlock()
	go func() {
		defer close(done)
		c.runMaintenance(mctx)
	}()
}

func (c *Controller) cancelMaintenance() {
	c.mu.Lock()
	cancel := c.maintCancel
	done := c.maintDone
	c.maintCancel = nil
	c.maintDone = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// popTriggerBefore removes and returns the earliest pending maintenance
// trigger at or before deadline, if any.
func (c *Controller) popTriggerBefore(deadline time.Time) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.mntTriggers) == 0 || c.mntTriggers[0].After(deadline) {
		return time.Time{}, false
	}
	t := c.mntTriggers[0]
	c.mntTriggers = c.mntTriggers[1:]
	return t, true
}

// runMaintenance mirrors original_source/twitch.py's _maintenance_task:
// every claim period (or sooner, at the next campaign-boundary trigger)
// it re-checks whether to force a channel switch and claims any pending
// community-points bonus on the watched channel, until an hour elapses,
// at which point it forces a fresh inventory fetch.
func (c *Controller) runMaintenance(ctx context.Context) {
	now := time.Now()
	nextPeriod := now.Add(maintenanceMaxPeriod)

	for {
		now = time.Now()
		if !now.Before(nextPeriod) {
			break
		}
		nextTrigger := nextPeriod
		if d := now.Add(maintenanceClaimPeriod); d.Before(nextTrigger) {
			nextTrigger = d
		}
		triggerSwitch := false
		for {
			trigger, ok := c.popTriggerBefore(nextTrigger)
			if !ok {
				break
			}
			triggerSwitch = true
			nextTrigger = trigger
		}

		timer := time.NewTimer(time.Until(nextTrigger))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}

		now = time.Now()
		if !now.Before(nextPeriod) {
			break
		}
		if triggerSwitch {
			c.setState(StateChannelSwitch)
		}
		if watching, ok := c.Watching(); ok {
			if claimID, ok := c.takePendingClaim(watching.ID); ok {
				if err := c.claimCommunityPoints(ctx, watching.ID, claimID); err != nil {
					c.logger.Debugf("miner: maintenance bonus claim for channel %d failed: %v", watching.ID, err)
				}
			}
		}
	}
	c.setState(StateInventoryFetch)
}

type pointsMessage struct {
	Type string `json:"type"`
	Data struct {
		ChannelID string `json:"channel_id"`
		Claim     struct {
			ID        string `json:"id"`
			ChannelID string `json:"channel_id"`
			PointGain struct {
				TotalPoints int `json:"total_points"`
			} `json:"point_gain"`
		} `json:"claim"`
	} `json:"data"`
}

// handlePointsTopic processes a User/CommunityPoints message: points-earned
// is logged, claim-available is claimed immediately and cached so the
// maintenance sweep can retry it if the immediate attempt fails.
func (c *Controller) handlePointsTopic(raw []byte) {
	var msg pointsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Errorf("miner: malformed community points message: %v", err)
		return
	}
	switch msg.Type {
	case "points-earned":
		c.logger.Debugf("miner: earned community points on channel %s", msg.Data.ChannelID)
	case "claim-available":
		channelID, err := strconv.Atoi(msg.Data.Claim.ChannelID)
		if err != nil {
			return
		}
		c.setPendingClaim(channelID, msg.Data.Claim.ID)
		if err := c.claimCommunityPoints(context.Background(), channelID, msg.Data.Claim.ID); err != nil {
			c.logger.Debugf("miner: immediate bonus claim for channel %d failed: %v", channelID, err)
			return
		}
		c.ui.Print("claimed community points bonus")
	default:
		c.logger.Debugf("miner: unhandled community points message type %q", msg.Type)
	}
}

func (c *Controller) setPendingClaim(channelID int, claimID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingClaims == nil {
		c.pendingClaims = make(map[int]string)
	}
	c.pendingClaims[channelID] = claimID
}

func (c *Controller) takePendingClaim(channelID int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	claimID, ok := c.pendingClaims[channelID]
	if ok {
		delete(c.pendingClaims, channelID)
	}
	return claimID, ok
}

func (c *Controller) claimCommunityPoints(ctx context.Context, channelID int, claimID string) error {
	_, err := c.gqlClient.Do(ctx, gql.Operations.ClaimCommunityPoints.WithVariables(gql.ClaimCommunityPointsVars(strconv.Itoa(channelID), claimID)))
	if err == nil {
		c.mu.Lock()
		delete(c.pendingClaims, channelID)
		c.mu.Unlock()
	}
	return err
}
