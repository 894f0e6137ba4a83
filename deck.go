package main

import (
	"math/rand/v2"
)

// A Card is one tile of the memory grid. IDs are assigned before the
// shuffle, so they identify a card across broadcasts regardless of
// where it ends up in the deal order.
type Card struct {
	ID        int    `json:"id"`
	Face      string `json:"face"`
	IsFlipped bool   `json:"isFlipped"`
	IsMatched bool   `json:"isMatched"`
}

// cardFaces is the deck catalog; each face appears on exactly two cards.
var cardFaces = []string{"🐶", "🐱", "🐰", "🦊"}

// newDeck deals a full deck, face down, in uniformly shuffled order.
// rand.Shuffle is a Fisher-Yates shuffle; sorting with a random
// comparator is not an acceptable substitute here since it skews the
// permutation distribution.
func newDeck(rng *rand.Rand) []*Card {
	cards := make([]*Card, 0, 2*len(cardFaces))

	for i := range 2 * len(cardFaces) {
		cards = append(cards, &Card{
			ID:   i + 1,
			Face: cardFaces[i%len(cardFaces)],
		})
	}

	rng.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})

	return cards
}
