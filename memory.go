// Pairbox Memory Game
//
// Players gather in a room and take turns flipping cards on a shared
// grid of face-down pairs. Flipping two cards with the same face
// matches them; a match grants another flip, a mismatch flips both
// cards back after a short pause and passes the turn. The round is won
// when every pair is matched.
//
// Features:
// - Single WebSocket endpoint: /path/ws, rooms addressed inside messages
// - First player creates a room and becomes host
// - Host can start (or restart) rounds and kick players
// - Host succession: oldest remaining member inherits the room
// - Turn order follows join order, wrapping
// - Late joiners to a running round privately receive the board state
// - Random 8-char room IDs via crypto/rand, with server-side collision check
// - Mismatch flip-back and end-of-round reset run on a settle delay
// - In-browser QR button to share a room invite, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	mathrand "math/rand/v2"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type clientMessage struct {
	Type       string `json:"type"` // "createRoom", "joinRoom", "requestRoom", "requestGame", "kickPlayer", "startGame", "flipCard"
	RoomID     string `json:"roomId,omitempty"`
	PlayerName string `json:"playerName,omitempty"`
	CardID     int    `json:"cardId,omitempty"`
}

// Messages sent to clients
type roomCreatedMessage struct {
	Type   string `json:"type"` // "roomCreated"
	RoomID string `json:"roomId"`
}

type updatePlayersMessage struct {
	Type    string   `json:"type"` // "updatePlayers"
	Players []Player `json:"players"`
}

// Sent only to the player a host just removed
type kickedMessage struct {
	Type       string `json:"type"` // "kicked"
	PlayerName string `json:"playerName"`
}

// noticeMessage is for bare signals ("gameStarted", "endGame")
type noticeMessage struct {
	Type string `json:"type"`
}

type updateGameMessage struct {
	Type string       `json:"type"` // "updateGame"
	Game gameSnapshot `json:"game"`
}

type turnUpdateMessage struct {
	Type       string `json:"type"` // "turnUpdate"
	PlayerName string `json:"playerName"`
}

const sendBufferSize = 32

type client struct {
	conn *websocket.Conn
	send chan any
	id   string

	// closed is owned by the coordinator goroutine
	closed bool
}

type clientRequest struct {
	client *client
	msg    clientMessage
}

type timerKind int

const (
	timerMismatch timerKind = iota // flip the pending pair back, pass the turn
	timerSettle                    // drop a won round back to waiting
)

// timerEvent is a delayed continuation. It re-enters the coordinator
// loop carrying the session version it was scheduled against, so a
// room or session that has moved on in the meantime makes it a no-op.
type timerEvent struct {
	kind    timerKind
	roomID  string
	version uint64
	player  string // turn holder at scheduling time (mismatch only)
}

// coordinator owns the room table. Every inbound request, disconnect
// and timer continuation funnels through its run loop, so no two
// mutations of the same room ever interleave and broadcasts go out in
// commit order. Nothing else may touch the table.
type coordinator struct {
	cfg   *Config
	table *roomTable
	rng   *mathrand.Rand
	seq   uint64

	requests    chan clientRequest
	disconnects chan *client
	timers      chan timerEvent
	done        chan struct{}
}

func newCoordinator(cfg *Config) *coordinator {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}

	return &coordinator{
		cfg:         cfg,
		table:       newRoomTable(),
		rng:         mathrand.New(mathrand.NewChaCha8(seed)),
		requests:    make(chan clientRequest),
		disconnects: make(chan *client),
		timers:      make(chan timerEvent, 64),
		done:        make(chan struct{}),
	}
}

func (co *coordinator) run(ctx context.Context) {
	defer close(co.done)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-co.requests:
			co.handleRequest(req)
		case c := <-co.disconnects:
			co.handleDisconnect(c)
		case ev := <-co.timers:
			co.handleTimer(ev)
		}
	}
}

func (co *coordinator) dispatch(c *client, msg clientMessage) {
	select {
	case co.requests <- clientRequest{client: c, msg: msg}:
	case <-co.done:
	}
}

func (co *coordinator) disconnect(c *client) {
	select {
	case co.disconnects <- c:
	case <-co.done:
	}
}

func (co *coordinator) schedule(d time.Duration, ev timerEvent) {
	time.AfterFunc(d, func() {
		select {
		case co.timers <- ev:
		case <-co.done:
		}
	})
}

// bumpGame stamps the session with a fresh version, invalidating any
// continuation scheduled against the old one. The sequence is
// coordinator-wide so a replaced session can never echo a stale value.
func (co *coordinator) bumpGame(g *GameSession) {
	co.seq++
	g.version = co.seq
}

func (co *coordinator) closeClient(c *client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (co *coordinator) trySend(c *client, msg any) {
	if c == nil || c.closed {
		return
	}

	select {
	case c.send <- msg:
	default:
		co.closeClient(c)
	}
}

func (co *coordinator) broadcast(room *Room, msg any) {
	for _, p := range room.Players {
		co.trySend(p.client, msg)
	}
}

func (co *coordinator) handleRequest(req clientRequest) {
	c, msg := req.client, req.msg

	switch msg.Type {
	case "createRoom":
		co.createRoom(c, msg)
	case "joinRoom":
		co.joinRoom(c, msg)
	case "requestRoom":
		co.requestRoom(msg)
	case "requestGame":
		co.requestGame(msg)
	case "kickPlayer":
		co.kickPlayer(c, msg)
	case "startGame":
		co.startGame(c, msg)
	case "flipCard":
		co.flipCard(msg)
	default:
		// ignore unknown types
	}
}

func (co *coordinator) createRoom(c *client, msg clientMessage) {
	if msg.PlayerName == "" {
		return
	}

	room := co.table.create(msg.PlayerName, c)

	co.broadcast(room, roomCreatedMessage{Type: "roomCreated", RoomID: room.ID})
	co.broadcast(room, updatePlayersMessage{Type: "updatePlayers", Players: room.playersSnapshot()})

	logf(co.cfg, "GAMES: %q created room %s", msg.PlayerName, room.ID)
}

func (co *coordinator) joinRoom(c *client, msg clientMessage) {
	room := co.table.lookup(msg.RoomID)
	if room == nil || msg.PlayerName == "" {
		return
	}

	// Names are the identity key within a room
	if room.playerByName(msg.PlayerName) != nil {
		return
	}

	room.Players = append(room.Players, &Player{
		Name:   msg.PlayerName,
		client: c,
	})

	co.broadcast(room, updatePlayersMessage{Type: "updatePlayers", Players: room.playersSnapshot()})

	// Late joiners to a running round get the board privately
	if g := room.Game; g != nil && g.State == GamePlaying {
		co.trySend(c, noticeMessage{Type: "gameStarted"})
		co.trySend(c, updateGameMessage{Type: "updateGame", Game: g.snapshot()})
	}

	logf(co.cfg, "GAMES: %q joined room %s", msg.PlayerName, room.ID)
}

func (co *coordinator) requestRoom(msg clientMessage) {
	room := co.table.lookup(msg.RoomID)
	if room == nil {
		return
	}

	co.broadcast(room, updatePlayersMessage{Type: "updatePlayers", Players: room.playersSnapshot()})
}

func (co *coordinator) requestGame(msg clientMessage) {
	room := co.table.lookup(msg.RoomID)
	if room == nil || room.Game == nil {
		return
	}

	co.broadcast(room, updateGameMessage{Type: "updateGame", Game: room.Game.snapshot()})
}

func (co *coordinator) kickPlayer(c *client, msg clientMessage) {
	room := co.table.lookup(msg.RoomID)
	if room == nil {
		return
	}

	host := room.host()
	if host == nil || host.client != c || msg.PlayerName == host.Name {
		return
	}

	removed, formerIndex, ok := co.table.removePlayer(room, msg.PlayerName)
	if !ok {
		return
	}

	co.broadcast(room, updatePlayersMessage{Type: "updatePlayers", Players: room.playersSnapshot()})

	if g := room.Game; g != nil && g.CurrentTurn == removed.Name {
		co.reassignTurn(room, formerIndex)
	}

	co.trySend(removed.client, kickedMessage{Type: "kicked", PlayerName: removed.Name})

	logf(co.cfg, "GAMES: %q was kicked from room %s", removed.Name, room.ID)
}

func (co *coordinator) startGame(c *client, msg clientMessage) {
	room := co.table.lookup(msg.RoomID)
	if room == nil {
		return
	}

	host := room.host()
	if host == nil || host.client != c {
		return
	}

	g := newGameSession(newDeck(co.rng), room.Players[0].Name)
	co.bumpGame(g)
	room.Game = g

	co.broadcast(room, updateGameMessage{Type: "updateGame", Game: g.snapshot()})
	co.broadcast(room, noticeMessage{Type: "gameStarted"})
	co.broadcast(room, turnUpdateMessage{Type: "turnUpdate", PlayerName: g.CurrentTurn})

	logf(co.cfg, "GAMES: %q started a round in room %s", host.Name, room.ID)
}

func (co *coordinator) flipCard(msg clientMessage) {
	room := co.table.lookup(msg.RoomID)
	if room == nil || room.Game == nil {
		return
	}

	g := room.Game

	switch g.flip(msg.CardID, msg.PlayerName) {
	case flipRejected:
		return

	case flipFirst, flipMatched:
		co.broadcast(room, updateGameMessage{Type: "updateGame", Game: g.snapshot()})

	case flipMismatch:
		co.broadcast(room, updateGameMessage{Type: "updateGame", Game: g.snapshot()})
		co.schedule(co.cfg.settleDelay, timerEvent{
			kind:    timerMismatch,
			roomID:  room.ID,
			version: g.version,
			player:  msg.PlayerName,
		})

	case flipWon:
		co.broadcast(room, noticeMessage{Type: "endGame"})
		co.broadcast(room, updateGameMessage{Type: "updateGame", Game: g.snapshot()})
		co.schedule(co.cfg.settleDelay, timerEvent{
			kind:    timerSettle,
			roomID:  room.ID,
			version: g.version,
		})

		logf(co.cfg, "GAMES: Round won by %q in room %s", msg.PlayerName, room.ID)
	}
}

func (co *coordinator) handleTimer(ev timerEvent) {
	room := co.table.lookup(ev.roomID)
	if room == nil {
		return
	}

	g := room.Game
	if g == nil || g.version != ev.version {
		return
	}

	switch ev.kind {
	case timerMismatch:
		g.resolveMismatch()
		next := room.nextAfter(ev.player)
		g.CurrentTurn = next.Name
		co.bumpGame(g)

		co.broadcast(room, updateGameMessage{Type: "updateGame", Game: g.snapshot()})
		co.broadcast(room, turnUpdateMessage{Type: "turnUpdate", PlayerName: next.Name})

	case timerSettle:
		g.settle()
		co.bumpGame(g)

		co.broadcast(room, updateGameMessage{Type: "updateGame", Game: g.snapshot()})
	}
}

func (co *coordinator) handleDisconnect(c *client) {
	co.closeClient(c)

	room, removed, formerIndex := co.table.removeByConnection(c.id)
	if removed == nil {
		return
	}

	logf(co.cfg, "GAMES: %q disconnected from room %s", removed.Name, room.ID)

	if co.table.lookup(room.ID) == nil {
		logf(co.cfg, "GAMES: Room %s is now empty, deleting", room.ID)
		return
	}

	if removed.IsHost {
		logf(co.cfg, "GAMES: New host of room %s is %q", room.ID, room.Players[0].Name)
	}

	co.broadcast(room, updatePlayersMessage{Type: "updatePlayers", Players: room.playersSnapshot()})

	if g := room.Game; g != nil && g.CurrentTurn == removed.Name {
		co.reassignTurn(room, formerIndex)
	}
}

// reassignTurn hands the turn to the player who would have been next
// after the removed seat, so the turn holder always names a present
// player. Only a running round does more than move the pointer: an
// ending or settled board has no pending pair to drop, no live turn to
// announce, and a settle timer that must stay valid, so the version
// bump (which strands mismatch timers) is confined to GamePlaying.
func (co *coordinator) reassignTurn(room *Room, formerIndex int) {
	g := room.Game

	next := room.playerAt(formerIndex)
	g.CurrentTurn = next.Name

	if g.State != GamePlaying {
		return
	}

	g.dropPending()
	co.bumpGame(g)

	co.broadcast(room, updateGameMessage{Type: "updateGame", Game: g.snapshot()})
	co.broadcast(room, turnUpdateMessage{Type: "turnUpdate", PlayerName: next.Name})
}

func (c *client) readPump(co *coordinator) {
	defer func() {
		co.disconnect(c)
		_ = c.conn.Close()
	}()

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		co.dispatch(c, msg)
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func newConnectionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	return hex.EncodeToString(buf)
}

func newUpgrader(cfg *Config) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || cfg.allowedOrigin == "*" {
				return true
			}
			return origin == cfg.allowedOrigin
		},
	}
}

func serveWS(cfg *Config, co *coordinator) httprouter.Handle {
	upgrader := newUpgrader(cfg)

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		c := &client{
			conn: conn,
			send: make(chan any, sendBufferSize),
			id:   newConnectionID(),
		}

		logf(cfg, "GAMES: Connection %s opened by %s", c.id, realIP(r))

		go c.writePump()
		c.readPump(co)
	}
}

// QR handler: generates a PNG QR code for a room's invite URL using go-qrcode.
func serveQR(cfg *Config, path string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + cfg.prefix + path + "/" + roomID

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// registerMemoryGame sets up routes so that:
//   - $path/ws              → WebSocket carrying all room and game traffic
//   - $path/qr/:roomid      → PNG QR code for a room's invite URL
func registerMemoryGame(ctx context.Context, cfg *Config, path string, mux *httprouter.Router) {
	co := newCoordinator(cfg)
	go co.run(ctx)

	mux.GET(cfg.prefix+path+"/ws", serveWS(cfg, co))

	mux.GET(cfg.prefix+path+"/qr/:roomid", serveQR(cfg, path))
}
