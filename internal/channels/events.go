package channels

import (
	"encoding/json"

	"github.com/klaro-drops/drops-miner/internal/minerlog"
	"github.com/klaro-drops/drops-miner/internal/model"
)

type streamStatePayload struct {
	Viewers int `json:"viewers"`
}

// OnOnline is invoked when a channel transitions to online and it's already
// a watch candidate; used to pre-empt a lower-priority watch target.
type OnOnline func(ch *model.Channel)

// OnOffline is invoked when the currently-watched channel goes offline.
type OnOffline func(ch *model.Channel)

// Handler dispatches websocket Channel/StreamState/<id> messages against a
// Set, driving online/viewer-count bookkeeping and the pre-emption/offline
// callbacks the state machine reacts to.
type Handler struct {
	set        *Set
	logger     minerlog.Logger
	watching   func() (*model.Channel, bool)
	onOnline   OnOnline
	onOffline  OnOffline
}

// NewHandler builds a Handler. watching resolves the currently-watched
// channel, if any.
func NewHandler(set *Set, logger minerlog.Logger, watching func() (*model.Channel, bool), onOnline OnOnline, onOffline OnOffline) *Handler {
	return &Handler{set: set, logger: logger, watching: watching, onOnline: onOnline, onOffline: onOffline}
}

// Handle processes one stream-state message for channelID. stream, if
// non-nil, is used to populate a freshly-online channel's stream snapshot
// (the websocket payload alone doesn't carry enough to build model.Stream,
// so stream-up relies on a GraphQL-backed snapshot the caller already has).
func (h *Handler) Handle(channelID int, msgType string, raw []byte, stream *model.Stream) {
	ch, ok := h.set.Get(channelID)
	if !ok {
		h.logger.Errorf("channels: stream state for untracked channel %d", channelID)
		return
	}

	switch msgType {
	case "viewcount":
		if !ch.Online() {
			h.setOnline(ch, stream)
			return
		}
		var payload streamStatePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			h.logger.Errorf("channels: malformed viewcount payload: %v", err)
			return
		}
		ch.Stream.ViewerCount = payload.Viewers
	case "stream-down":
		ch.Stream = nil
		watching, ok := h.watching()
		if ok && watching != nil && watching.ID == ch.ID && h.onOffline != nil {
			h.onOffline(ch)
		}
	case "stream-up":
		h.setOnline(ch, stream)
	case "commercial":
		// ignored per the watch-loop contract: commercials don't affect
		// online/offline state or viewer counts
	default:
		h.logger.Debugf("channels: unknown stream state %q for channel %d", msgType, channelID)
	}
}

func (h *Handler) setOnline(ch *model.Channel, stream *model.Stream) {
	if stream != nil {
		ch.Stream = stream
	}
	if !ch.Online() {
		return
	}
	if h.onOnline == nil {
		return
	}
	watching, _ := h.watching()
	if h.set.CanWatch(ch) && ShouldSwitch(ch, watching, h.set.PriorityOf) {
		h.onOnline(ch)
	}
}
