package cliui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/klaro-drops/drops-miner/internal/minerlog"
	"github.com/klaro-drops/drops-miner/internal/model"
)

func TestCloseRequestedReflectsRequestClose(t *testing.T) {
	c := NewConsole(minerlog.NewDiscard())
	assert.False(t, c.CloseRequested())
	c.RequestClose()
	assert.True(t, c.CloseRequested())
}

func TestWaitUntilClosedUnblocksOnRequestClose(t *testing.T) {
	c := NewConsole(minerlog.NewDiscard())
	done := make(chan struct{})
	go func() {
		c.WaitUntilClosed()
		close(done)
	}()
	c.RequestClose()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitUntilClosed did not unblock")
	}
}

func TestRequestCloseIsIdempotent(t *testing.T) {
	c := NewConsole(minerlog.NewDiscard())
	assert.NotPanics(t, func() {
		c.RequestClose()
		c.RequestClose()
	})
}

func TestChannelSelectedAlwaysReportsNone(t *testing.T) {
	c := NewConsole(minerlog.NewDiscard())
	_, ok := c.ChannelSelected()
	assert.False(t, ok)
}

func TestDisplayDropNilClearsHasDrop(t *testing.T) {
	c := NewConsole(minerlog.NewDiscard())
	c.DisplayDrop(&model.Drop{Benefits: []model.Benefit{{Name: "Loot Box"}}}, false, false)
	assert.True(t, c.hasDrop)
	c.DisplayDrop(nil, false, false)
	assert.False(t, c.hasDrop)
}
