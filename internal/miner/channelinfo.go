package miner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/klaro-drops/drops-miner/internal/gql"
	"github.com/klaro-drops/drops-miner/internal/model"
)

// dropsEnabledTag is the platform's fixed tag id marking a stream as
// drops-eligible, used both to filter GameDirectory results and to decide
// whether a freshly-seen stream qualifies.
const dropsEnabledTag = "c2542d6d-cd10-4532-919b-3d19f30a768b"

var (
	settingsBundleRe = regexp.MustCompile(`src="(https://static\.[a-z0-9.-]+\.net/config/settings\.[0-9a-f]{32}\.js)"`)
	spadeURLRe       = regexp.MustCompile(`"spade_url":"(https://video-edge-[.\w\-/]+\.ts)"`)
)

// resolveSpadeURL scrapes a channel's page for its settings bundle, then
// the bundle for the spade_url beacon endpoint, per spec's external
// interfaces section and grounded on the teacher's GetSpadeURL.
func resolveSpadeURL(ctx context.Context, doGet func(ctx context.Context, url string) ([]byte, error), channelURL string) (string, error) {
	page, err := doGet(ctx, channelURL)
	if err != nil {
		return "", err
	}
	bundleMatch := settingsBundleRe.FindSubmatch(page)
	if len(bundleMatch) < 2 {
		return "", errors.New("settings bundle url not found")
	}
	bundle, err := doGet(ctx, string(bundleMatch[1]))
	if err != nil {
		return "", err
	}
	spadeMatch := spadeURLRe.FindSubmatch(bundle)
	if len(spadeMatch) < 2 {
		return "", errors.New("spade url not found")
	}
	return string(spadeMatch[1]), nil
}

func (c *Controller) httpGet(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.tr.Request(ctx, http.MethodGet, url, nil, nil, time.Time{})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

type streamInfoResponse struct {
	Data struct {
		User struct {
			Stream *struct {
				ID           string   `json:"id"`
				ViewersCount int      `json:"viewersCount"`
				Game         gameJSON `json:"game"`
				Tags         []struct {
					ID string `json:"id"`
				} `json:"tags"`
			} `json:"stream"`
		} `json:"user"`
	} `json:"data"`
}

// fetchStreamInfo looks up a channel's live stream via GetStreamInfo,
// returning ok=false if the channel is currently offline.
func (c *Controller) fetchStreamInfo(ctx context.Context, channelLogin string) (*model.Stream, bool, error) {
	resp, err := c.gqlClient.Do(ctx, gql.Operations.GetStreamInfo.WithVariables(gql.GetStreamInfoVars(channelLogin)))
	if err != nil {
		return nil, false, err
	}
	var parsed streamInfoResponse
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, false, err
	}
	s := parsed.Data.User.Stream
	if s == nil {
		return nil, false, nil
	}
	broadcastID, _ := strconv.Atoi(s.ID)
	dropsEnabled := false
	for _, tag := range s.Tags {
		if tag.ID == dropsEnabledTag {
			dropsEnabled = true
			break
		}
	}
	return &model.Stream{
		BroadcastID:        broadcastID,
		ViewerCount:        s.ViewersCount,
		DropsEnabled:       dropsEnabled,
		Game:               parseGame(s.Game),
		StartedObservingAt: time.Now(),
	}, true, nil
}

type wsMessageEnvelope struct {
	Type string `json:"type"`
}

// handleDropsTopic dispatches a User/Drops message to the progress engine
// by its inner type, peeked before decoding the rest of the payload.
func (c *Controller) handleDropsTopic(raw []byte) {
	var env wsMessageEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Errorf("miner: malformed drops topic message: %v", err)
		return
	}
	switch env.Type {
	case "drop-progress":
		c.progress.HandleDropProgress(raw)
	case "drop-claim":
		c.progress.HandleDropClaim(context.Background(), raw)
	default:
		c.logger.Debugf("miner: unhandled drops topic message type %q", env.Type)
	}
}

// handleChannelStreamState dispatches a Channel/StreamState message to the
// channel handler, resolving a fresh stream snapshot via GraphQL when a
// channel transitions online (the websocket payload alone doesn't carry
// enough to populate model.Stream).
func (c *Controller) handleChannelStreamState(channelID int, raw []byte) {
	var env wsMessageEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Errorf("miner: malformed stream state message: %v", err)
		return
	}
	if env.Type != "stream-up" {
		c.chanHdlr.Handle(channelID, env.Type, raw, nil)
		return
	}

	ch, ok := c.chanSet.Get(channelID)
	if !ok {
		return
	}
	stream, online, err := c.fetchStreamInfo(context.Background(), ch.Login)
	if err != nil {
		c.logger.Errorf("miner: stream info for %s failed: %v", ch.Login, err)
		return
	}
	if !online {
		return
	}
	c.chanHdlr.Handle(channelID, env.Type, raw, stream)
}
