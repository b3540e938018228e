package channels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaro-drops/drops-miner/internal/minerlog"
	"github.com/klaro-drops/drops-miner/internal/model"
)

func gameChannel(id int, game model.Game, online, aclBased bool, viewers int, dropsEnabled bool) *model.Channel {
	ch := &model.Channel{ID: id, Login: "login", ACLBased: aclBased}
	if online {
		ch.Stream = &model.Stream{Game: game, ViewerCount: viewers, DropsEnabled: dropsEnabled}
	}
	return ch
}

func TestSetAddPreservesInsertionOrder(t *testing.T) {
	s := New(nil)
	s.Add(gameChannel(3, model.Game{ID: 1}, false, false, 0, false))
	s.Add(gameChannel(1, model.Game{ID: 1}, false, false, 0, false))
	s.Add(gameChannel(2, model.Game{ID: 1}, false, false, 0, false))

	ids := []int{}
	for _, ch := range s.All() {
		ids = append(ids, ch.ID)
	}
	assert.Equal(t, []int{3, 1, 2}, ids)
}

func TestPriorityOfOfflineIsLowest(t *testing.T) {
	s := New(nil)
	game := model.Game{ID: 1}
	s.SetWantedGames(map[int]int{game.Key(): 5})

	offline := gameChannel(1, game, false, false, 0, false)
	assert.Equal(t, -1, s.PriorityOf(offline).GamePriority)
}

func TestPriorityOfUnwantedGameIsZero(t *testing.T) {
	s := New(nil)
	wanted := model.Game{ID: 1}
	unwanted := model.Game{ID: 2}
	s.SetWantedGames(map[int]int{wanted.Key(): 5})

	ch := gameChannel(1, unwanted, true, false, 100, true)
	assert.Equal(t, 0, s.PriorityOf(ch).GamePriority)
}

func TestPriorityHigherOrdersGameThenACLThenViewers(t *testing.T) {
	high := Priority{GamePriority: 5}
	low := Priority{GamePriority: 1}
	assert.True(t, high.Higher(low))

	aclTied := Priority{GamePriority: 2, ACLBased: true, Viewers: 10}
	nonACLTied := Priority{GamePriority: 2, ACLBased: false, Viewers: 1000}
	assert.True(t, aclTied.Higher(nonACLTied))

	viewersTied := Priority{GamePriority: 2, ACLBased: false, Viewers: 500}
	viewersLower := Priority{GamePriority: 2, ACLBased: false, Viewers: 10}
	assert.True(t, viewersTied.Higher(viewersLower))
}

func TestCanWatchRequiresWantedGameOnlineAndDropsEnabled(t *testing.T) {
	game := model.Game{ID: 1}
	s := New(func(g model.Game, ch *model.Channel) bool { return true })
	s.SetWantedGames(map[int]int{game.Key(): 1})

	online := gameChannel(1, game, true, false, 10, true)
	assert.True(t, s.CanWatch(online))

	noDrops := gameChannel(2, game, true, false, 10, false)
	assert.False(t, s.CanWatch(noDrops))

	offline := gameChannel(3, game, false, false, 0, false)
	assert.False(t, s.CanWatch(offline))
}

func TestCanWatchFalseWhenNothingWanted(t *testing.T) {
	s := New(func(g model.Game, ch *model.Channel) bool { return true })
	ch := gameChannel(1, model.Game{ID: 1}, true, false, 10, true)
	assert.False(t, s.CanWatch(ch))
}

func TestShouldSwitchNoCurrentWatchAlwaysTrue(t *testing.T) {
	priorityOf := func(ch *model.Channel) Priority { return Priority{} }
	candidate := gameChannel(1, model.Game{}, true, false, 0, true)
	assert.True(t, ShouldSwitch(candidate, nil, priorityOf))
}

func TestShouldSwitchHigherPriorityWins(t *testing.T) {
	priorityOf := func(ch *model.Channel) Priority {
		if ch.ID == 1 {
			return Priority{GamePriority: 5}
		}
		return Priority{GamePriority: 1}
	}
	candidate := gameChannel(1, model.Game{}, true, false, 0, true)
	watching := gameChannel(2, model.Game{}, true, false, 0, true)
	assert.True(t, ShouldSwitch(candidate, watching, priorityOf))
}

func TestShouldSwitchEqualPriorityACLTiebreaker(t *testing.T) {
	priorityOf := func(ch *model.Channel) Priority { return Priority{GamePriority: 3} }
	candidate := gameChannel(1, model.Game{}, true, true, 0, true)
	watching := gameChannel(2, model.Game{}, true, false, 0, true)
	assert.True(t, ShouldSwitch(candidate, watching, priorityOf))

	watchingACL := gameChannel(3, model.Game{}, true, true, 0, true)
	assert.False(t, ShouldSwitch(candidate, watchingACL, priorityOf))
}

func TestHighestPriorityPicksTopRankedMatch(t *testing.T) {
	game := model.Game{ID: 1}
	s := New(nil)
	s.SetWantedGames(map[int]int{game.Key(): 1})
	low := gameChannel(1, game, true, false, 10, true)
	high := gameChannel(2, game, true, true, 5, true)
	s.Add(low)
	s.Add(high)

	best, ok := s.HighestPriority(func(ch *model.Channel) bool { return true })
	require.True(t, ok)
	assert.Equal(t, 2, best.ID)
}

func TestHandlerViewcountUpdatesViewers(t *testing.T) {
	game := model.Game{ID: 1}
	s := New(nil)
	ch := gameChannel(7, game, true, false, 10, true)
	s.Add(ch)

	h := NewHandler(s, minerlog.NewDiscard(), func() (*model.Channel, bool) { return nil, false }, nil, nil)
	h.Handle(7, "viewcount", []byte(`{"viewers":250}`), nil)
	assert.Equal(t, 250, ch.Stream.ViewerCount)
}

func TestHandlerStreamDownTriggersOfflineCallbackOnlyWhenWatched(t *testing.T) {
	game := model.Game{ID: 1}
	s := New(nil)
	ch := gameChannel(7, game, true, false, 10, true)
	s.Add(ch)

	offlineCalled := false
	h := NewHandler(s, minerlog.NewDiscard(), func() (*model.Channel, bool) { return ch, true }, nil, func(*model.Channel) { offlineCalled = true })
	h.Handle(7, "stream-down", nil, nil)
	assert.True(t, offlineCalled)
	assert.False(t, ch.Online())
}

func TestHandlerStreamUpPreemptsWhenHigherPriority(t *testing.T) {
	game := model.Game{ID: 1}
	s := New(func(g model.Game, ch *model.Channel) bool { return true })
	s.SetWantedGames(map[int]int{game.Key(): 5})
	watched := gameChannel(1, game, true, false, 10, true)
	candidate := gameChannel(2, game, false, true, 0, true)
	s.Add(watched)
	s.Add(candidate)

	onlineCalled := false
	h := NewHandler(s, minerlog.NewDiscard(), func() (*model.Channel, bool) { return watched, true }, func(*model.Channel) { onlineCalled = true }, nil)
	h.Handle(2, "stream-up", nil, &model.Stream{Game: game, DropsEnabled: true, ViewerCount: 999})
	assert.True(t, onlineCalled)
}
