package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityIndexRanksEarlierEntriesHigher(t *testing.T) {
	priority := []string{"Game A", "Game B", "Game C"}
	assert.Equal(t, 3, PriorityIndex(priority, "Game A"))
	assert.Equal(t, 2, PriorityIndex(priority, "Game B"))
	assert.Equal(t, 1, PriorityIndex(priority, "Game C"))
}

func TestPriorityIndexUnlistedGameIsZero(t *testing.T) {
	priority := []string{"Game A"}
	assert.Equal(t, 0, PriorityIndex(priority, "Game Z"))
}
