package miner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/klaro-drops/drops-miner/internal/channels"
	"github.com/klaro-drops/drops-miner/internal/gql"
	"github.com/klaro-drops/drops-miner/internal/host"
	"github.com/klaro-drops/drops-miner/internal/model"
	"github.com/klaro-drops/drops-miner/internal/wspool"
)

// trackedChannelMargin reserves two topic slots in the pool's capacity for
// the per-user drops/points topics (UserDropsTopic/UserCommunityPointsTopic),
// which ride alongside the per-channel stream-state topics on the same pool.
const trackedChannelMargin = 2

// maxTrackedChannels returns how many channels can be subscribed at once,
// derived from the live pool's own capacity (DROPS_WS_POOL_CAP *
// DROPS_WS_TOPICS_PER_CONN) rather than Twitch's hardcoded 8x50 default.
func (c *Controller) maxTrackedChannels() int {
	n := c.pool.Capacity() - trackedChannelMargin
	if n < 1 {
		n = 1
	}
	return n
}

// runGamesUpdate implements the GAMES_UPDATE state: rebuild wanted_games
// from the current campaign table and settings, then mark a full cleanup
// and wake the watch loop from its inter-beat sleep.
func (c *Controller) runGamesUpdate() {
	exclude := c.settings.Exclude()
	priority := c.settings.Priority()
	priorityOnly := c.settings.PriorityOnly()
	now := time.Now()

	wanted := make(map[int]int)
	c.mu.Lock()
	for _, campaign := range c.campaigns {
		game := campaign.Game
		if _, already := wanted[game.Key()]; already {
			continue
		}
		if exclude[game.Name] {
			continue
		}
		if priorityOnly && !containsString(priority, game.Name) {
			continue
		}
		if !campaign.CanEarnWithinHour(now, time.Hour) {
			continue
		}
		wanted[game.Key()] = host.PriorityIndex(priority, game.Name)
	}
	c.wantedGames = wanted
	c.fullCleanup = true
	c.mu.Unlock()

	c.chanSet.SetWantedGames(wanted)
	c.watchLoop.Restart()
}

func containsString(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// runChannelsCleanup implements CHANNELS_CLEANUP: drop channels that no
// longer qualify, unsubscribe their topics, and decide the next state.
func (c *Controller) runChannelsCleanup() State {
	c.ui.StatusUpdate("cleanup")

	c.mu.Lock()
	wanted := c.wantedGames
	full := c.fullCleanup
	c.fullCleanup = false
	c.mu.Unlock()

	var toRemove []*model.Channel
	if len(wanted) == 0 || full {
		toRemove = c.chanSet.All()
	} else {
		for _, ch := range c.chanSet.All() {
			if ch.ACLBased {
				continue
			}
			game := ch.Game()
			_, stillWanted := wanted[game.Key()]
			if !ch.Online() || !stillWanted {
				toRemove = append(toRemove, ch)
			}
		}
	}

	if len(toRemove) > 0 {
		names := make([]string, 0, len(toRemove))
		for _, ch := range toRemove {
			names = append(names, wspool.ChannelStreamStateTopic(ch.ID, nil).Name)
		}
		c.pool.RemoveTopics(names)
		for _, ch := range toRemove {
			c.chanSet.Remove(ch.ID)
		}
	}

	if len(wanted) > 0 {
		return StateChannelsFetch
	}
	c.ui.Print("no campaign currently earnable")
	return StateIdle
}

type gameDirectoryResponse struct {
	Data struct {
		Game *struct {
			Streams struct {
				Edges []struct {
					Node struct {
						ID          string `json:"id"`
						Broadcaster struct {
							ID    string `json:"id"`
							Login string `json:"login"`
						} `json:"broadcaster"`
						ViewersCount int `json:"viewersCount"`
						Tags         []struct {
							ID string `json:"id"`
						} `json:"tags"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"streams"`
		} `json:"game"`
	} `json:"data"`
}

// runChannelsFetch implements CHANNELS_FETCH: gather ACL channels from
// eligible campaigns plus live directory streams for ACL-free games,
// order the union by priority, trim to the pool's capacity, and
// (re)subscribe.
func (c *Controller) runChannelsFetch(ctx context.Context) {
	c.ui.StatusUpdate("gathering")

	c.mu.Lock()
	wanted := make(map[int]int, len(c.wantedGames))
	for k, v := range c.wantedGames {
		wanted[k] = v
	}
	campaigns := c.campaigns
	logins := c.channelLogins
	c.mu.Unlock()

	now := time.Now()
	aclChannelIDs := make(map[int]bool)
	noACLGames := make(map[int]model.Game)
	for _, campaign := range campaigns {
		if _, ok := wanted[campaign.Game.Key()]; !ok {
			continue
		}
		if !campaign.CanEarnWithinHour(now, time.Hour) {
			continue
		}
		if !campaign.Eligible(c.settings.EnableBadgesEmotes()) {
			continue
		}
		if len(campaign.AllowedChannelIDs) > 0 {
			for _, id := range campaign.AllowedChannelIDs {
				aclChannelIDs[id] = true
			}
		} else {
			noACLGames[campaign.Game.Key()] = campaign.Game
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for id := range aclChannelIDs {
		if _, ok := c.chanSet.Get(id); ok {
			continue
		}
		id, login := id, logins[id]
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := &model.Channel{ID: id, Login: login, ACLBased: true}
			if login != "" {
				if spadeURL, err := resolveSpadeURL(ctx, c.httpGet, fmt.Sprintf("https://www.twitch.tv/%s", login)); err == nil {
					ch.SpadeURL = spadeURL
				}
				if stream, online, err := c.fetchStreamInfo(ctx, login); err == nil && online {
					ch.Stream = stream
				}
			}
			mu.Lock()
			c.chanSet.Add(ch)
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, game := range noACLGames {
		for _, ch := range c.directoryChannels(ctx, game) {
			if _, ok := c.chanSet.Get(ch.ID); !ok {
				c.chanSet.Add(ch)
			}
		}
	}

	ordered := c.chanSet.All()
	sort.SliceStable(ordered, func(i, j int) bool {
		return c.chanSet.PriorityOf(ordered[i]).Higher(c.chanSet.PriorityOf(ordered[j]))
	})

	var toRemove []*model.Channel
	if limit := c.maxTrackedChannels(); len(ordered) > limit {
		toRemove = ordered[limit:]
		ordered = ordered[:limit]
	}
	if len(toRemove) > 0 {
		names := make([]string, 0, len(toRemove))
		for _, ch := range toRemove {
			names = append(names, wspool.ChannelStreamStateTopic(ch.ID, nil).Name)
			c.chanSet.Remove(ch.ID)
		}
		c.pool.RemoveTopics(names)
	}

	c.ui.SetChannels(ordered)
	topics := make([]wspool.Topic, 0, len(ordered))
	for _, ch := range ordered {
		id := ch.ID
		topics = append(topics, wspool.ChannelStreamStateTopic(id, func(payload []byte) {
			c.handleChannelStreamState(id, payload)
		}))
	}
	if len(topics) > 0 {
		if err := c.pool.AddTopics(ctx, topics); err != nil {
			c.logger.Errorf("miner: subscribe channel topics: %v", err)
		}
	}

	if watching, ok := c.Watching(); ok {
		if refreshed, stillTracked := c.chanSet.Get(watching.ID); stillTracked && c.chanSet.CanWatch(refreshed) {
			c.setWatching(refreshed)
		} else {
			c.setWatching(nil)
		}
	}

	for _, ch := range ordered {
		if !c.chanSet.CanWatch(ch) {
			continue
		}
		if drop, ok := c.activeDropFor(ch); ok {
			c.ui.DisplayDrop(drop, false, true)
		}
		break
	}
}

// directoryChannels fetches the first page of live, drops-enabled streams
// for game and resolves each candidate's spade url before it can be
// watched.
func (c *Controller) directoryChannels(ctx context.Context, game model.Game) []*model.Channel {
	resp, err := c.gqlClient.Do(ctx, gql.Operations.GameDirectory.WithVariables(gql.GameDirectoryVars(game.Name, 30, dropsEnabledTag)))
	if err != nil {
		c.logger.Errorf("miner: game directory for %s failed: %v", game.Name, err)
		return nil
	}
	var parsed gameDirectoryResponse
	if err := json.Unmarshal(resp.Data, &parsed); err != nil || parsed.Data.Game == nil {
		c.logger.Errorf("miner: decode game directory for %s failed: %v", game.Name, err)
		return nil
	}

	var mu sync.Mutex
	var out []*model.Channel
	var wg sync.WaitGroup
	for _, edge := range parsed.Data.Game.Streams.Edges {
		edge := edge
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := strconv.Atoi(edge.Node.Broadcaster.ID)
			if err != nil {
				return
			}
			spadeURL, err := resolveSpadeURL(ctx, c.httpGet, fmt.Sprintf("https://www.twitch.tv/%s", edge.Node.Broadcaster.Login))
			if err != nil {
				c.logger.Errorf("miner: resolve spade url for %s: %v", edge.Node.Broadcaster.Login, err)
				return
			}
			ch := &model.Channel{
				ID:       id,
				Login:    edge.Node.Broadcaster.Login,
				SpadeURL: spadeURL,
				Stream: &model.Stream{
					ViewerCount:        edge.Node.ViewersCount,
					DropsEnabled:       true,
					Game:               game,
					StartedObservingAt: time.Now(),
				},
			}
			mu.Lock()
			out = append(out, ch)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

// runChannelSwitch implements CHANNEL_SWITCH. Returns true if the
// controller should park and wait for the next external signal (a target
// was kept or chosen); false means it already moved to IDLE.
func (c *Controller) runChannelSwitch() bool {
	c.ui.StatusUpdate("switching")

	if selectedID, ok := c.ui.ChannelSelected(); ok {
		if selected, ok := c.chanSet.Get(selectedID); ok && c.chanSet.CanWatch(selected) {
			c.setWatching(selected)
			return true
		}
	}

	watching, hasWatching := c.Watching()
	priorityOf := c.chanSet.PriorityOf
	if best, ok := c.chanSet.HighestPriority(func(ch *model.Channel) bool {
		return c.chanSet.CanWatch(ch) && channels.ShouldSwitch(ch, watching, priorityOf)
	}); ok {
		c.setWatching(best)
		return true
	}

	if hasWatching {
		return true
	}

	c.ui.Print("no channel to watch")
	c.setState(StateIdle)
	return false
}
