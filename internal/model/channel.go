package model

// Channel is a broadcaster the miner can watch for drop progress.
type Channel struct {
	ID       int
	Login    string
	Stream   *Stream
	SpadeURL string
	ACLBased bool
}

// Online reports whether the channel currently has a live stream attached.
func (c *Channel) Online() bool {
	return c.Stream != nil
}

// Game returns the channel's current game, or the zero Game if offline.
func (c *Channel) Game() Game {
	if c.Stream == nil {
		return Game{}
	}
	return c.Stream.Game
}

// Key is the channel's identity, for use as a map key or dedup set element.
func (c *Channel) Key() int { return c.ID }
