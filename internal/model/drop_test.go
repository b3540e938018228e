package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDropCurrentMinutesClamps(t *testing.T) {
	d := &Drop{RequiredMinutes: 60, RealCurrentMinutes: 55, ExtraCurrentMinutes: 10}
	assert.Equal(t, 60, d.CurrentMinutes())
	assert.Equal(t, 0, d.RemainingMinutes())
	assert.InDelta(t, 1.0, d.Progress(), 1e-9)
}

func TestDropProgressZeroRequired(t *testing.T) {
	d := &Drop{RequiredMinutes: 0}
	assert.Equal(t, 1.0, d.Progress())
}

func TestDropCanEarn(t *testing.T) {
	d := &Drop{RequiredMinutes: 30, ExtraCurrentMinutes: MaxExtraMinutes - 1}
	require.True(t, d.CanEarn())
	d.ExtraCurrentMinutes = MaxExtraMinutes
	require.False(t, d.CanEarn())

	d.ExtraCurrentMinutes = 0
	d.IsClaimed = true
	require.False(t, d.CanEarn())
}

func TestDropApplyRealMinutesResetsExtra(t *testing.T) {
	d := &Drop{RequiredMinutes: 60, ExtraCurrentMinutes: 3}
	d.ApplyRealMinutes(20)
	assert.Equal(t, 20, d.RealCurrentMinutes)
	assert.Equal(t, 0, d.ExtraCurrentMinutes)
}

func TestDropMarkClaimedSnapsToRequired(t *testing.T) {
	d := &Drop{RequiredMinutes: 60, RealCurrentMinutes: 40, ExtraCurrentMinutes: 4}
	d.MarkClaimed("claim-1")
	assert.True(t, d.IsClaimed)
	assert.Equal(t, "claim-1", d.ClaimID)
	assert.Equal(t, 60, d.RealCurrentMinutes)
	assert.Equal(t, 0, d.ExtraCurrentMinutes)
}

func TestDropTotalRequiredMinutesRecursesThroughPreconditions(t *testing.T) {
	root := &Drop{ID: "root", RequiredMinutes: 30, PreconditionDropIDs: []string{"mid"}}
	mid := &Drop{ID: "mid", RequiredMinutes: 20, PreconditionDropIDs: []string{"leaf"}}
	leaf := &Drop{ID: "leaf", RequiredMinutes: 10}

	drops := map[string]*Drop{"root": root, "mid": mid, "leaf": leaf}
	lookup := func(id string) (*Drop, bool) {
		d, ok := drops[id]
		return d, ok
	}

	assert.Equal(t, 60, root.TotalRequiredMinutes(lookup))
	assert.Equal(t, 30, mid.TotalRequiredMinutes(lookup))
	assert.Equal(t, 10, leaf.TotalRequiredMinutes(lookup))
}

func TestDropPreconditionsMet(t *testing.T) {
	claimed := map[string]bool{"a": true, "b": false}
	isClaimed := func(id string) (bool, bool) {
		v, ok := claimed[id]
		return v, ok
	}

	d := &Drop{PreconditionDropIDs: []string{"a"}}
	assert.True(t, d.PreconditionsMet(isClaimed))

	d.PreconditionDropIDs = []string{"a", "b"}
	assert.False(t, d.PreconditionsMet(isClaimed))

	d.PreconditionDropIDs = []string{"missing"}
	assert.False(t, d.PreconditionsMet(isClaimed))
}

func TestCampaignActiveUpcomingExpired(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	c := &Campaign{
		Status:   CampaignValid,
		StartsAt: now.Add(-time.Hour),
		EndsAt:   now.Add(time.Hour),
	}
	assert.True(t, c.Active(now))
	assert.False(t, c.Upcoming(now))
	assert.False(t, c.Expired(now))

	c.StartsAt = now.Add(time.Hour)
	assert.False(t, c.Active(now))
	assert.True(t, c.Upcoming(now))

	c.Status = CampaignExpired
	assert.True(t, c.Expired(now))
}

func TestCampaignEligible(t *testing.T) {
	c := &Campaign{AccountLinked: false, HasBadgeOrEmote: true}
	assert.False(t, c.Eligible(false))
	assert.True(t, c.Eligible(true))

	c.AccountLinked = true
	assert.True(t, c.Eligible(false))
}

func TestCampaignProgressAndClaimedDrops(t *testing.T) {
	c := &Campaign{Drops: map[string]*Drop{
		"a": {RequiredMinutes: 10, RealCurrentMinutes: 10, IsClaimed: true},
		"b": {RequiredMinutes: 10, RealCurrentMinutes: 0},
	}}
	assert.InDelta(t, 0.5, c.Progress(), 1e-9)
	assert.Equal(t, 1, c.ClaimedDrops())
}
