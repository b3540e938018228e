package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRejectsBadPoolCap(t *testing.T) {
	c := &Config{WebsocketPoolCap: 0, WSTopicsPerConn: 50, GQLRatePerSecond: 5, LogLevel: "info"}
	assert.Error(t, c.Validate())
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	c := &Config{WebsocketPoolCap: 8, WSTopicsPerConn: 50, GQLRatePerSecond: 5, LogLevel: "verbose"}
	assert.Error(t, c.Validate())
}

func TestValidateAcceptsDefaults(t *testing.T) {
	c := &Config{WebsocketPoolCap: 8, WSTopicsPerConn: 50, GQLRatePerSecond: 5, LogLevel: "info"}
	assert.NoError(t, c.Validate())
}
