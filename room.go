package main

import (
	"crypto/rand"
)

// Player is one roster entry. The client pointer ties the entry to its
// live connection and never goes over the wire.
type Player struct {
	Name   string `json:"playerName"`
	IsHost bool   `json:"isHost"`

	client *client
}

// Room is an isolated game instance: a join-ordered roster plus an
// optional session. The id doubles as the invite-link token, so it has
// to be unguessable.
type Room struct {
	ID      string
	Players []*Player
	Game    *GameSession
}

func (r *Room) playerByName(name string) *Player {
	for _, p := range r.Players {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (r *Room) indexOf(name string) int {
	for i, p := range r.Players {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func (r *Room) host() *Player {
	for _, p := range r.Players {
		if p.IsHost {
			return p
		}
	}
	return nil
}

// nextAfter returns the player following name in join order, wrapping
// to the front of the roster.
func (r *Room) nextAfter(name string) *Player {
	idx := r.indexOf(name)
	if idx == -1 {
		return r.Players[0]
	}
	return r.Players[(idx+1)%len(r.Players)]
}

// playerAt returns the player now occupying formerIndex, wrapping.
// After a removal this is the player who would have been next after
// the removed seat, which is the turn-reassignment rule for both the
// kick and the disconnect path.
func (r *Room) playerAt(formerIndex int) *Player {
	return r.Players[formerIndex%len(r.Players)]
}

// playersSnapshot copies the roster for marshaling off-goroutine.
func (r *Room) playersSnapshot() []Player {
	players := make([]Player, len(r.Players))
	for i, p := range r.Players {
		players[i] = *p
	}
	return players
}

// roomTable is the process-wide room registry. It is owned by the
// coordinator goroutine and never locked; tests construct their own
// isolated instance.
type roomTable struct {
	rooms map[string]*Room
}

func newRoomTable() *roomTable {
	return &roomTable{
		rooms: make(map[string]*Room),
	}
}

func (t *roomTable) lookup(id string) *Room {
	return t.rooms[id]
}

// create makes a fresh room whose single occupant is the host.
func (t *roomTable) create(hostName string, c *client) *Room {
	room := &Room{
		ID: t.newRoomID(),
		Players: []*Player{{
			Name:   hostName,
			IsHost: true,
			client: c,
		}},
	}
	t.rooms[room.ID] = room

	return room
}

// removePlayer takes name out of room's roster, promoting the oldest
// remaining member if the host left and dropping the room from the
// table once it empties. Reports the removed player and the roster
// index it held.
func (t *roomTable) removePlayer(room *Room, name string) (*Player, int, bool) {
	idx := room.indexOf(name)
	if idx == -1 {
		return nil, 0, false
	}

	removed := room.Players[idx]
	room.Players = append(room.Players[:idx], room.Players[idx+1:]...)

	if len(room.Players) == 0 {
		delete(t.rooms, room.ID)
		return removed, idx, true
	}

	if removed.IsHost {
		room.Players[0].IsHost = true
	}

	return removed, idx, true
}

// removeByConnection finds whichever room holds the given connection
// and removes that player, with the same invariant upkeep as
// removePlayer. Used on disconnect.
func (t *roomTable) removeByConnection(connID string) (*Room, *Player, int) {
	for _, room := range t.rooms {
		for _, p := range room.Players {
			if p.client != nil && p.client.id == connID {
				removed, idx, _ := t.removePlayer(room, p.Name)
				return room, removed, idx
			}
		}
	}
	return nil, nil, 0
}

// newRoomID generates a crypto-random room id and ensures it doesn't
// collide with a live room.
func (t *roomTable) newRoomID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		if _, exists := t.rooms[id]; !exists {
			return id
		}
	}
}
