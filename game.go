package main

type GameState string

const (
	GameWaiting GameState = "waiting"
	GamePlaying GameState = "playing"
	GameEnding  GameState = "ending"
)

// GameSession is a room's active (or most recently finished) round.
// A room with no session so far simply has a nil pointer; the session
// is created by the first startGame and then reused, dropping back to
// GameWaiting after each round settles.
//
// All mutation happens on the coordinator goroutine.
type GameSession struct {
	State        GameState
	Cards        []*Card
	CurrentTurn  string
	FlippedCards []*Card

	// version identifies the current run of play. Delayed continuations
	// capture it when scheduled and no-op once it no longer matches,
	// which covers sessions that were replaced, resolved early, or had
	// their turn forcibly reassigned while the timer was pending.
	version uint64
}

func newGameSession(cards []*Card, firstPlayer string) *GameSession {
	return &GameSession{
		State:        GamePlaying,
		Cards:        cards,
		CurrentTurn:  firstPlayer,
		FlippedCards: []*Card{},
	}
}

type flipResult int

const (
	flipRejected flipResult = iota
	flipFirst    // one card now pending, same player flips again
	flipMatched  // pair matched, same player keeps the turn
	flipWon      // pair matched and the board is complete
	flipMismatch // two unequal cards pending, flip-back is due
)

// flip applies the flip guard and, on acceptance, turns the card face
// up and resolves the pair if this was the second pending card.
// flipRejected means nothing changed and nothing should be broadcast.
func (g *GameSession) flip(cardID int, playerName string) flipResult {
	if g.State != GamePlaying || playerName != g.CurrentTurn || len(g.FlippedCards) >= 2 {
		return flipRejected
	}

	card := g.cardByID(cardID)
	if card == nil || card.IsFlipped || card.IsMatched {
		return flipRejected
	}

	card.IsFlipped = true
	g.FlippedCards = append(g.FlippedCards, card)

	if len(g.FlippedCards) < 2 {
		return flipFirst
	}

	first, second := g.FlippedCards[0], g.FlippedCards[1]
	if first.Face != second.Face {
		return flipMismatch
	}

	first.IsMatched = true
	second.IsMatched = true
	g.FlippedCards = g.FlippedCards[:0]

	if g.allMatched() {
		g.State = GameEnding
		return flipWon
	}

	return flipMatched
}

func (g *GameSession) cardByID(id int) *Card {
	for _, card := range g.Cards {
		if card.ID == id {
			return card
		}
	}
	return nil
}

func (g *GameSession) allMatched() bool {
	for _, card := range g.Cards {
		if !card.IsMatched {
			return false
		}
	}
	return true
}

// resolveMismatch turns the pending pair back face down. Cards that
// were matched in the meantime stay up.
func (g *GameSession) resolveMismatch() {
	for _, card := range g.FlippedCards {
		if !card.IsMatched {
			card.IsFlipped = false
		}
	}
	g.FlippedCards = g.FlippedCards[:0]
}

// settle ends the post-win pause, leaving the matched board in place
// for replay.
func (g *GameSession) settle() {
	g.State = GameWaiting
}

// dropPending clears the pending pair when the turn holder leaves
// mid-resolution, so no unmatched card is stranded face up.
func (g *GameSession) dropPending() {
	g.resolveMismatch()
}

// gameSnapshot is the wire shape of a session. Broadcasts marshal on
// the write pumps, concurrently with further mutation, so the
// coordinator hands them value copies instead of the live session.
type gameSnapshot struct {
	GameState    GameState `json:"gameState"`
	Cards        []Card    `json:"cards,omitempty"`
	CurrentTurn  string    `json:"currentTurn,omitempty"`
	FlippedCards []Card    `json:"flippedCards,omitempty"`
}

func (g *GameSession) snapshot() gameSnapshot {
	snap := gameSnapshot{
		GameState:   g.State,
		CurrentTurn: g.CurrentTurn,
	}

	snap.Cards = make([]Card, len(g.Cards))
	for i, card := range g.Cards {
		snap.Cards[i] = *card
	}

	if len(g.FlippedCards) > 0 {
		snap.FlippedCards = make([]Card, len(g.FlippedCards))
		for i, card := range g.FlippedCards {
			snap.FlippedCards[i] = *card
		}
	}

	return snap
}
