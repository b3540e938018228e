package cliui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSettingsBuildsExcludeSet(t *testing.T) {
	s := NewSettings([]string{"Game A", "Game B"}, []string{"Game C"}, true, "", false)
	assert.Equal(t, []string{"Game A", "Game B"}, s.Priority())
	assert.True(t, s.Exclude()["Game C"])
	assert.False(t, s.Exclude()["Game A"])
	assert.True(t, s.PriorityOnly())
}

func TestProxyReportsOkOnlyWhenSet(t *testing.T) {
	s := NewSettings(nil, nil, false, "", false)
	_, ok := s.Proxy()
	assert.False(t, ok)

	s = NewSettings(nil, nil, false, "http://proxy.local:8080", false)
	proxyURL, ok := s.Proxy()
	assert.True(t, ok)
	assert.Equal(t, "http://proxy.local:8080", proxyURL)
}
