package model

// Game identifies a title a campaign or stream belongs to. Equality and
// hashing are by ID, matching the platform's own identity model.
type Game struct {
	ID   int
	Name string
}

// Key returns the comparable identity of the game, suitable for use as a
// map key wherever a Game itself can't be (it can — structs with only
// comparable fields are fine as map keys — but Key documents intent at
// call sites that only care about identity).
func (g Game) Key() int { return g.ID }
