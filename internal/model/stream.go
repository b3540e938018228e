package model

import "time"

// Stream is the live-broadcast state of a channel, as last observed via
// GraphQL stream-info lookups or websocket stream-state events.
type Stream struct {
	BroadcastID         int
	ViewerCount         int
	DropsEnabled        bool
	Game                Game
	Title               string
	StartedObservingAt  time.Time
}
