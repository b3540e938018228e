// Package miner implements the cooperative state machine that drives
// inventory discovery, channel selection, and watching, wiring together the
// gql, wspool, progress, channels, and watch packages into one controller.
package miner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/klaro-drops/drops-miner/internal/channels"
	"github.com/klaro-drops/drops-miner/internal/gql"
	"github.com/klaro-drops/drops-miner/internal/host"
	"github.com/klaro-drops/drops-miner/internal/minerlog"
	"github.com/klaro-drops/drops-miner/internal/model"
	"github.com/klaro-drops/drops-miner/internal/progress"
	"github.com/klaro-drops/drops-miner/internal/transport"
	"github.com/klaro-drops/drops-miner/internal/watch"
	"github.com/klaro-drops/drops-miner/internal/wspool"
)

// State is one node of the controller's state machine, mirroring
// original_source/twitch.py's State enum.
type State int

const (
	StateIdle State = iota
	StateInventoryFetch
	StateGamesUpdate
	StateChannelsCleanup
	StateChannelsFetch
	StateChannelSwitch
	StateExit
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateInventoryFetch:
		return "INVENTORY_FETCH"
	case StateGamesUpdate:
		return "GAMES_UPDATE"
	case StateChannelsCleanup:
		return "CHANNELS_CLEANUP"
	case StateChannelsFetch:
		return "CHANNELS_FETCH"
	case StateChannelSwitch:
		return "CHANNEL_SWITCH"
	case StateExit:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}

const (
	inventoryRetryDelay  = 10 * time.Second
	campaignDetailsBatch = 20
)

// Controller owns the inventory, wanted-games table, and watch target, and
// drives every state transition. All mutable state is guarded by mu; only
// one goroutine (Run) ever executes the state machine itself, but external
// events (websocket handlers, maintenance) push state changes into it.
type Controller struct {
	gqlClient *gql.Client
	tr        *transport.Transport
	pool      *wspool.Pool
	progress  *progress.Engine
	chanSet   *channels.Set
	chanHdlr  *channels.Handler
	watchLoop *watch.Loop
	ui        host.UI
	settings  host.Settings
	logger    minerlog.Logger
	userID    int

	mu          sync.Mutex
	campaigns   map[string]*model.Campaign
	dropOwner   map[string]string // drop id -> campaign id
	wantedGames map[int]int
	watching    *model.Channel
	fullCleanup bool
	mntTriggers   []time.Time
	poolStarted   bool
	pendingClaims map[int]string // channel id -> community points claim id
	channelLogins map[int]string // channel id -> login, gleaned from allowed-channel lists

	stateMu sync.Mutex
	state   State
	stateCh chan struct{}

	maintCancel context.CancelFunc
	maintDone   chan struct{}
}

// New builds a Controller. pool should not yet be started; Controller
// starts it on the first INVENTORY_FETCH.
func New(gqlClient *gql.Client, tr *transport.Transport, pool *wspool.Pool, ui host.UI, settings host.Settings, logger minerlog.Logger, userID int) *Controller {
	c := &Controller{
		gqlClient:   gqlClient,
		tr:          tr,
		pool:        pool,
		ui:          ui,
		settings:    settings,
		logger:      logger,
		userID:      userID,
		campaigns:     make(map[string]*model.Campaign),
		dropOwner:     make(map[string]string),
		wantedGames:   make(map[int]int),
		pendingClaims: make(map[int]string),
		stateCh:       make(chan struct{}, 1),
	}
	c.chanSet = channels.New(c.canEarnOnGame)
	c.progress = progress.New(c.gqlClient, c.logger, c.userID, c.activeDropForWatching, c.campaignOf, c.onDropClaimed, c.onDropsExhausted, c.onSettleRestart)
	c.chanHdlr = channels.NewHandler(c.chanSet, c.logger, c.Watching, c.onChannelOnline, c.onChannelOffline)
	c.watchLoop = watch.New(c.tr, c.gqlClient, c.progress, c.logger, c.userID, c.Watching, c.activeDropFor)
	return c
}

// Progress exposes the progress engine so the websocket pool's topic
// handlers can be wired to it (HandleDropProgress/HandleDropClaim).
func (c *Controller) Progress() *progress.Engine { return c.progress }

// ChannelHandler exposes the channel-set event handler so the websocket
// pool's topic handlers can dispatch Channel/StreamState messages to it.
func (c *Controller) ChannelHandler() *channels.Handler { return c.chanHdlr }

// Watching returns the currently-watched channel, if any.
func (c *Controller) Watching() (*model.Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watching, c.watching != nil
}

func (c *Controller) setWatching(ch *model.Channel) {
	c.mu.Lock()
	c.watching = ch
	c.mu.Unlock()
	if ch == nil {
		c.ui.ClearWatching()
		return
	}
	c.ui.SetWatching(ch.ID)
}

func (c *Controller) currentState() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// setState records the next state and wakes up whatever is parked in
// waitForSignal, mirroring change_state's event-set side effect.
func (c *Controller) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
	select {
	case c.stateCh <- struct{}{}:
	default:
	}
}

func (c *Controller) waitForSignal(ctx context.Context) bool {
	select {
	case <-c.stateCh:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run drives the state machine until ctx is cancelled or EXIT is reached.
func (c *Controller) Run(ctx context.Context) {
	go c.watchLoop.Run(ctx)
	c.setState(StateInventoryFetch)
	for {
		if ctx.Err() != nil {
			c.runExit()
			return
		}
		switch c.currentState() {
		case StateIdle:
			c.ui.StatusUpdate("idle")
			c.setWatching(nil)
			if !c.waitForSignal(ctx) {
				c.runExit()
				return
			}
		case StateInventoryFetch:
			if err := c.runInventoryFetch(ctx); err != nil {
				c.logger.Errorf("miner: inventory fetch failed: %v", err)
				timer := time.NewTimer(inventoryRetryDelay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					c.runExit()
					return
				}
				continue
			}
			c.setState(StateGamesUpdate)
		case StateGamesUpdate:
			c.runGamesUpdate()
			c.setState(StateChannelsCleanup)
		case StateChannelsCleanup:
			c.setState(c.runChannelsCleanup())
		case StateChannelsFetch:
			c.runChannelsFetch(ctx)
			c.setState(StateChannelSwitch)
		case StateChannelSwitch:
			if c.runChannelSwitch() {
				if !c.waitForSignal(ctx) {
					c.runExit()
					return
				}
			}
		case StateExit:
			c.runExit()
			return
		}
	}
}

// RequestExit asks the controller to stop, per spec's ExitRequest.
func (c *Controller) RequestExit() {
	c.setState(StateExit)
}

func (c *Controller) runExit() {
	c.ui.StatusUpdate("exiting")
	c.setWatching(nil)
	c.pool.Stop()
	c.cancelMaintenance()
	c.ui.Save(true)
}

// canEarnOnGame is channels.CanEarnOnGame: true if some active campaign for
// game can still progress on this channel.
func (c *Controller) canEarnOnGame(game model.Game, channel *model.Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for _, campaign := range c.campaigns {
		if campaign.Game.Key() != game.Key() || !campaign.Active(now) {
			continue
		}
		if !campaign.Eligible(c.settings.EnableBadgesEmotes()) {
			continue
		}
		if len(campaign.AllowedChannelIDs) > 0 && !containsInt(campaign.AllowedChannelIDs, channel.ID) {
			continue
		}
		for _, drop := range campaign.Drops {
			if drop.CanEarn() && drop.PreconditionsMet(campaign.DropClaimed) {
				return true
			}
		}
	}
	return false
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// campaignOf is progress.CampaignLookup.
func (c *Controller) campaignOf(dropID string) (*model.Campaign, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	campaignID, ok := c.dropOwner[dropID]
	if !ok {
		return nil, false
	}
	campaign, ok := c.campaigns[campaignID]
	return campaign, ok
}

// activeDropFor resolves the drop the controller considers "currently
// active" on channel: the lowest-id, earliest-earnable, unclaimed drop of
// whatever active campaign matches the channel's game. Deterministic
// ordering keeps behavior predictable and testable.
func (c *Controller) activeDropFor(channel *model.Channel) (*model.Drop, bool) {
	if channel == nil || channel.Stream == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	game := channel.Game()
	now := time.Now()

	var campaignIDs []string
	for id, campaign := range c.campaigns {
		if campaign.Game.Key() == game.Key() && campaign.Active(now) {
			campaignIDs = append(campaignIDs, id)
		}
	}
	sort.Strings(campaignIDs)

	for _, id := range campaignIDs {
		campaign := c.campaigns[id]
		var dropIDs []string
		for dropID := range campaign.Drops {
			dropIDs = append(dropIDs, dropID)
		}
		sort.Strings(dropIDs)
		for _, dropID := range dropIDs {
			drop := campaign.Drops[dropID]
			if !drop.IsClaimed && drop.CanEarn() && drop.PreconditionsMet(campaign.DropClaimed) {
				return drop, true
			}
		}
	}
	return nil, false
}

func (c *Controller) activeDropForWatching() (*model.Drop, bool) {
	ch, ok := c.Watching()
	if !ok {
		return nil, false
	}
	return c.activeDropFor(ch)
}

// onDropClaimed is progress.OnClaimed.
func (c *Controller) onDropClaimed(drop *model.Drop, campaign *model.Campaign) {
	name := "Drop"
	if campaign != nil {
		name = campaign.Name
	}
	c.ui.ClearDrop()
	c.ui.Notify("Drop claimed", name)
	c.ui.Print("claimed: " + name)
}

// onDropsExhausted is progress.OnDropsExhausted: every drop in the
// campaign is claimed, so there's nothing left to watch it for — move on
// to the next inventory fetch.
func (c *Controller) onDropsExhausted(campaign *model.Campaign) {
	c.setState(StateInventoryFetch)
}

// onSettleRestart is progress.OnRestartWatching.
func (c *Controller) onSettleRestart() {
	c.watchLoop.Restart()
}

// onChannelOnline is channels.OnOnline: pre-empt the current watch target.
func (c *Controller) onChannelOnline(ch *model.Channel) {
	c.setWatching(ch)
	c.watchLoop.Restart()
}

// onChannelOffline is channels.OnOffline: the watched channel went down.
func (c *Controller) onChannelOffline(ch *model.Channel) {
	c.setState(StateChannelSwitch)
}
