// Package cliui implements host.UI and host.Settings for headless
// operation, adapted from original_source/headless.py's HeadlessGUIManager:
// every surface the core pushes updates to just becomes a log line, and
// there's no interactive channel selection.
package cliui

import (
	"sync"

	"github.com/klaro-drops/drops-miner/internal/minerlog"
	"github.com/klaro-drops/drops-miner/internal/model"
)

// Console is a non-interactive host.UI: every call logs, nothing blocks on
// operator input, and CloseRequested is driven externally (by main, on
// SIGINT/SIGTERM) via RequestClose.
type Console struct {
	logger minerlog.Logger

	mu       sync.Mutex
	watching int
	hasDrop  bool

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewConsole builds a Console logging through logger.
func NewConsole(logger minerlog.Logger) *Console {
	return &Console{logger: logger, closeCh: make(chan struct{})}
}

func (c *Console) StatusUpdate(text string) { c.logger.Printf("status: %s", text) }

func (c *Console) Print(line string) { c.logger.Printf("%s", line) }

func (c *Console) Notify(title, message string) { c.logger.Printf("[%s] %s", title, message) }

func (c *Console) SetChannels(channels []*model.Channel) {
	c.logger.Debugf("tracking %d channel(s)", len(channels))
}

func (c *Console) SetWatching(channelID int) {
	c.mu.Lock()
	c.watching = channelID
	c.mu.Unlock()
	c.logger.EmojiPrintf(":green_circle:", "now watching channel %d", channelID)
}

func (c *Console) ClearWatching() {
	c.mu.Lock()
	c.watching = 0
	c.mu.Unlock()
	c.logger.Printf("no longer watching any channel")
}

// ChannelSelected always reports no explicit operator selection: headless
// mode has no channel list to pick from.
func (c *Console) ChannelSelected() (int, bool) { return 0, false }

func (c *Console) DisplayDrop(drop *model.Drop, countdown, subOne bool) {
	c.mu.Lock()
	c.hasDrop = drop != nil
	c.mu.Unlock()
	if drop == nil {
		c.logger.Printf("no active drop")
		return
	}
	names := make([]string, 0, len(drop.Benefits))
	for _, b := range drop.Benefits {
		names = append(names, b.Name)
	}
	c.logger.EmojiPrintf(":gift:", "current drop: %v - %.0f%%", names, drop.Progress()*100)
}

func (c *Console) ClearDrop() {
	c.mu.Lock()
	c.hasDrop = false
	c.mu.Unlock()
	c.logger.Printf("no longer tracking any drop")
}

func (c *Console) SetGames(games []model.Game) {
	if len(games) == 0 {
		c.logger.Printf("no games are currently being targeted for drops")
		return
	}
	names := make([]string, 0, len(games))
	for _, g := range games {
		names = append(names, g.Name)
	}
	c.logger.Printf("targeting the following games: %v", names)
}

// Save is a no-op in headless mode: there's no on-disk presentation state
// to persist (original_source/cache.py's image cache is out of scope).
func (c *Console) Save(force bool) {}

// RequestClose unblocks WaitUntilClosed and marks CloseRequested true. Safe
// to call more than once or concurrently.
func (c *Console) RequestClose() {
	c.closeOnce.Do(func() { close(c.closeCh) })
}

func (c *Console) WaitUntilClosed() { <-c.closeCh }

func (c *Console) CloseRequested() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}
