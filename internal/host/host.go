// Package host declares the narrow capability interfaces the core needs
// from whatever is driving it — a CLI, a web UI, a headless daemon — without
// depending on any particular one. Mirrors original_source/base_ui.py's
// split into small per-concern abstract classes (BaseStatusBar,
// BaseConsoleOutput, BaseTrayIcon, BaseChannelList, BaseCampaignProgress,
// BaseSettingsPanel), collapsed here into two Go interfaces grouped by who
// calls them (the core, for UI; the core, read-only, for Settings).
package host

import "github.com/klaro-drops/drops-miner/internal/model"

// UI is every observable/controllable surface the core pushes updates to
// or reads operator intent from.
type UI interface {
	StatusUpdate(text string)
	Print(line string)
	Notify(title, message string)

	SetChannels(channels []*model.Channel)
	SetWatching(channelID int)
	ClearWatching()
	ChannelSelected() (channelID int, ok bool)

	DisplayDrop(drop *model.Drop, countdown, subOne bool)
	ClearDrop()
	SetGames(games []model.Game)

	Save(force bool)
	WaitUntilClosed()
	CloseRequested() bool
}

// Settings is the host-owned configuration surface: everything the core
// reads but never writes.
type Settings interface {
	Priority() []string
	Exclude() map[string]bool
	PriorityOnly() bool
	Proxy() (url string, ok bool)
	EnableBadgesEmotes() bool
}

// PriorityIndex returns the priority weight of game: len(priority) for the
// first entry down to 1 for the last (higher is more preferred, absent
// games get 0), matching
// original_source/twitch.py's `priorities.get(game.name, 0)` lookup used
// while building wanted_games.
func PriorityIndex(priority []string, game string) int {
	for i, name := range priority {
		if name == game {
			return len(priority) - i
		}
	}
	return 0
}
