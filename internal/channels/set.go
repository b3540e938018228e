// Package channels owns the insertion-ordered candidate channel set, its
// priority ordering, and the watch/switch predicates the state machine and
// watch loop consult.
package channels

import (
	"github.com/klaro-drops/drops-miner/internal/model"
)

// CanEarnOnGame reports whether channel can progress any campaign for a
// given game.
type CanEarnOnGame func(game model.Game, channel *model.Channel) bool

// Set is an insertion-ordered mapping channel_id -> *model.Channel.
type Set struct {
	order      []int
	channels   map[int]*model.Channel
	wantedGame map[int]int // game.Key() -> priority weight

	canEarn CanEarnOnGame
}

// New builds an empty Set. canEarn is consulted by CanWatch to determine
// whether any campaign for the channel's game can still be progressed.
func New(canEarn CanEarnOnGame) *Set {
	return &Set{
		channels:   make(map[int]*model.Channel),
		wantedGame: make(map[int]int),
		canEarn:    canEarn,
	}
}

// SetWantedGames replaces the wanted-games priority table, rebuilt by the
// GAMES_UPDATE state on every inventory cycle.
func (s *Set) SetWantedGames(wanted map[int]int) {
	s.wantedGame = wanted
}

// WantedGames reports whether any game is currently wanted.
func (s *Set) WantedGames() bool {
	return len(s.wantedGame) > 0
}

// Add inserts a channel if it isn't already tracked, preserving insertion
// order.
func (s *Set) Add(ch *model.Channel) {
	if _, ok := s.channels[ch.ID]; ok {
		return
	}
	s.order = append(s.order, ch.ID)
	s.channels[ch.ID] = ch
}

// Remove drops a channel from the set.
func (s *Set) Remove(id int) {
	if _, ok := s.channels[id]; !ok {
		return
	}
	delete(s.channels, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Get resolves a channel by id.
func (s *Set) Get(id int) (*model.Channel, bool) {
	ch, ok := s.channels[id]
	return ch, ok
}

// All returns every tracked channel in insertion order.
func (s *Set) All() []*model.Channel {
	out := make([]*model.Channel, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.channels[id])
	}
	return out
}

// Len reports how many channels are tracked.
func (s *Set) Len() int {
	return len(s.channels)
}

// Priority ranks a channel: game priority from wanted_games (or -1 if
// offline/gameless, 0 if the game isn't wanted), ACL-based tiebreaker, and
// viewer count tiebreaker, encoded as a single comparable tuple via Higher.
type Priority struct {
	GamePriority int
	ACLBased     bool
	Viewers      int
}

// PriorityOf computes ch's priority tuple.
func (s *Set) PriorityOf(ch *model.Channel) Priority {
	if !ch.Online() || ch.Stream == nil {
		return Priority{GamePriority: -1}
	}
	weight, wanted := s.wantedGame[ch.Game().Key()]
	if !wanted {
		weight = 0
	}
	return Priority{GamePriority: weight, ACLBased: ch.ACLBased, Viewers: ch.Stream.ViewerCount}
}

// Higher reports whether a outranks b, per the three-tier priority order:
// game priority first, then ACL tiebreaker, then viewer count.
func (a Priority) Higher(b Priority) bool {
	if a.GamePriority != b.GamePriority {
		return a.GamePriority > b.GamePriority
	}
	if a.ACLBased != b.ACLBased {
		return a.ACLBased
	}
	return a.Viewers > b.Viewers
}

// CanWatch reports whether channel qualifies as a watch candidate: online,
// drops-enabled, playing a wanted game, with some campaign for that game
// still earnable on it.
func (s *Set) CanWatch(ch *model.Channel) bool {
	if !s.WantedGames() {
		return false
	}
	if !ch.Online() || ch.Stream == nil || !ch.Stream.DropsEnabled {
		return false
	}
	game := ch.Game()
	if _, wanted := s.wantedGame[game.Key()]; !wanted {
		return false
	}
	if s.canEarn == nil {
		return true
	}
	return s.canEarn(game, ch)
}

// ShouldSwitch reports whether candidate should replace watching (which may
// be nil, meaning nothing is currently watched).
func ShouldSwitch(candidate, watching *model.Channel, priorityOf func(*model.Channel) Priority) bool {
	if watching == nil {
		return true
	}
	cp, wp := priorityOf(candidate), priorityOf(watching)
	if cp.GamePriority != wp.GamePriority {
		return cp.GamePriority > wp.GamePriority
	}
	return candidate.ACLBased && !watching.ACLBased
}

// HighestPriority returns the tracked channel satisfying pred with the
// greatest priority, scanning channels in insertion order and keeping the
// first one no later channel outranks via Higher; ok is false if no channel
// satisfies pred.
func (s *Set) HighestPriority(pred func(*model.Channel) bool) (*model.Channel, bool) {
	var best *model.Channel
	var bestPriority Priority
	for _, ch := range s.All() {
		if !pred(ch) {
			continue
		}
		p := s.PriorityOf(ch)
		if best == nil || p.Higher(bestPriority) {
			best = ch
			bestPriority = p
		}
	}
	return best, best != nil
}
