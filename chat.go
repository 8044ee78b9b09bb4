package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxMessageRunes = 2000

// ChatMessage is both the inbound frame and the stored message shape.
type ChatMessage struct {
	ID         int64     `json:"id,omitempty"` // DB message id
	Type       string    `json:"type"`         // "message" | "group" | "typing"
	ChatID     int       `json:"chat_id,omitempty"`
	ActivityID int       `json:"activity_id,omitempty"`
	From       int       `json:"from,omitempty"`
	To         int       `json:"to,omitempty"`
	Body       string    `json:"body,omitempty"`
	Ts         time.Time `json:"ts"` // created_at
}

// ServerEvent represents a server-sent event
type ServerEvent struct {
	Type string `json:"type"` // "message" | "group" | "typing" | "info" | "error"
	From int    `json:"from,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	id     string
	userID int
	conn   *websocket.Conn
	send   chan ServerEvent
	db     *sql.DB
}

// Hub manages WebSocket client connections
type Hub struct {
	clientsByUser map[int]map[*Client]bool
	mu            sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clientsByUser: make(map[int]map[*Client]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clientsByUser[c.userID] == nil {
		h.clientsByUser[c.userID] = make(map[*Client]bool)
	}
	h.clientsByUser[c.userID][c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.clientsByUser[c.userID]; ok {
		delete(peers, c)
		if len(peers) == 0 {
			delete(h.clientsByUser, c.userID)
		}
	}
}

func (h *Hub) sendToUser(userID int, evt ServerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clientsByUser[userID] {
		select {
		case c.send <- evt:
		default:
			// Drop message if user's buffer is full
		}
	}
}

func (h *Hub) isConnected(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clientsByUser[userID]) > 0
}

// minLimiterSweep is the map size at which idle limiters are first swept.
const minLimiterSweep = 1024

// messageLimiter throttles chat frames per user across all their sockets.
// Limiters whose bucket has refilled carry no state and are dropped once the
// map outgrows sweepAt.
type messageLimiter struct {
	mu       sync.Mutex
	limiters map[int]*rate.Limiter
	every    rate.Limit
	burst    int
	sweepAt  int
}

func newMessageLimiter(perSecond float64, burst int) *messageLimiter {
	return &messageLimiter{
		limiters: make(map[int]*rate.Limiter),
		every:    rate.Limit(perSecond),
		burst:    burst,
		sweepAt:  minLimiterSweep,
	}
}

func (l *messageLimiter) allow(userID int) bool {
	l.mu.Lock()
	lim, ok := l.limiters[userID]
	if !ok {
		if len(l.limiters) >= l.sweepAt {
			l.sweepLocked(time.Now())
			l.sweepAt = max(2*len(l.limiters), minLimiterSweep)
		}
		lim = rate.NewLimiter(l.every, l.burst)
		l.limiters[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// sweep drops limiters with a full bucket; a fresh one behaves the same.
func (l *messageLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(now)
}

func (l *messageLimiter) sweepLocked(now time.Time) {
	for id, lim := range l.limiters {
		if lim.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, id)
		}
	}
}

func (l *messageLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The socket authenticates with the token, not the origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

var (
	chatHub     = newHub()
	chatLimiter = newMessageLimiter(5, 10)
)

// GET /ws/chat?token=...
func wsChatHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := getUserIDFromRequest(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("WS upgrade failed", zap.Int("user_id", userID), zap.Error(err))
			return
		}

		client := &Client{
			id:     uuid.NewString(),
			userID: userID,
			conn:   conn,
			send:   make(chan ServerEvent, 16),
			db:     db,
		}
		chatHub.register(client)
		touchPresence(r.Context(), userID)
		logger.Debug("WS connected", zap.Int("user_id", userID), zap.String("session", client.id))

		client.send <- ServerEvent{Type: "info", Data: "connected"}

		go clientWriter(client)
		clientReader(client)
	}
}

func clientReader(c *Client) {
	defer func() {
		chatHub.unregister(c)
		c.conn.Close()
		logger.Debug("WS disconnected", zap.Int("user_id", c.userID), zap.String("session", c.id))
	}()

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		touchPresence(context.Background(), c.userID)
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ChatMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.reply("invalid message format")
			continue
		}
		if !chatLimiter.allow(c.userID) {
			c.reply("rate limited")
			continue
		}
		handleFrame(context.Background(), c, msg)
	}
}

// reply sends an error event to this socket only.
func (c *Client) reply(reason string) {
	select {
	case c.send <- ServerEvent{Type: "error", Data: reason}:
	default:
	}
}

func handleFrame(ctx context.Context, c *Client, msg ChatMessage) {
	switch msg.Type {
	case "message":
		body, ok := cleanBody(msg.Body)
		if !ok {
			c.reply("invalid message body")
			return
		}
		out, err := saveDirectMessage(ctx, c.db, c.userID, msg.To, body)
		if errors.Is(err, errNotFriends) {
			c.reply("cannot send message")
			return
		}
		if err != nil {
			logger.Error("Save message", zap.Int("from", c.userID), zap.Int("to", msg.To), zap.Error(err))
			c.reply("cannot send message")
			return
		}
		evt := ServerEvent{Type: "message", From: c.userID, Data: out}
		chatHub.sendToUser(msg.To, evt)
		// echo so the sender's other tabs update too
		chatHub.sendToUser(c.userID, evt)

	case "group":
		body, ok := cleanBody(msg.Body)
		if !ok {
			c.reply("invalid message body")
			return
		}
		out, members, err := saveGroupMessage(ctx, c.db, msg.ActivityID, c.userID, body)
		if errors.Is(err, errNotMember) {
			c.reply("not an activity member")
			return
		}
		if err != nil {
			logger.Error("Save group message", zap.Int("from", c.userID), zap.Int("activity_id", msg.ActivityID), zap.Error(err))
			c.reply("cannot send message")
			return
		}
		evt := ServerEvent{Type: "group", From: c.userID, Data: out}
		for _, id := range members {
			chatHub.sendToUser(id, evt)
		}

	case "typing":
		if msg.ActivityID > 0 {
			members, err := activityMemberIDs(ctx, c.db, msg.ActivityID)
			if err != nil || !slices.Contains(members, c.userID) {
				return
			}
			for _, id := range members {
				if id != c.userID {
					chatHub.sendToUser(id, ServerEvent{Type: "typing", From: c.userID, Data: map[string]int{"activity_id": msg.ActivityID}})
				}
			}
			return
		}
		if msg.To <= 0 {
			return
		}
		friends, err := areFriends(ctx, c.db, c.userID, msg.To)
		if err != nil || !friends {
			return
		}
		chatHub.sendToUser(msg.To, ServerEvent{Type: "typing", From: c.userID})

	default:
		c.reply("unknown message type")
	}
}

func cleanBody(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > maxMessageRunes {
		return "", false
	}
	return s, true
}

func clientWriter(c *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// saveDirectMessage stores a message between friends, creating the chat row
// on first use.
func saveDirectMessage(ctx context.Context, db *sql.DB, from, to int, body string) (ChatMessage, error) {
	out := ChatMessage{Type: "message", From: from, To: to, Body: body}
	if from == to || to <= 0 {
		return out, errNotFriends
	}
	ok, err := areFriends(ctx, db, from, to)
	if err != nil {
		return out, err
	}
	if !ok {
		return out, errNotFriends
	}

	err = withTx(ctx, db, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO chats (user1_id, user2_id)
			VALUES (LEAST($1::int, $2::int), GREATEST($1::int, $2::int))
			ON CONFLICT (user1_id, user2_id) DO UPDATE SET user1_id = EXCLUDED.user1_id
			RETURNING id
		`, from, to).Scan(&out.ChatID); err != nil {
			return errors.Wrap(err, "resolve chat")
		}

		if err := tx.QueryRowContext(ctx, `
			INSERT INTO messages (chat_id, sender_id, content)
			VALUES ($1, $2, $3)
			RETURNING id, created_at
		`, out.ChatID, from, body).Scan(&out.ID, &out.Ts); err != nil {
			return errors.Wrap(err, "insert message")
		}

		// Update last_message_at and unread to the peer
		_, err := tx.ExecContext(ctx, `
			UPDATE chats c
			SET last_message_at = $3,
				unread_for_user1 = CASE WHEN $2 = c.user2_id THEN TRUE ELSE unread_for_user1 END,
				unread_for_user2 = CASE WHEN $2 = c.user1_id THEN TRUE ELSE unread_for_user2 END
			WHERE c.id = $1
		`, out.ChatID, from, out.Ts)
		return errors.Wrap(err, "touch chat")
	})
	return out, err
}

// saveGroupMessage stores a message on an activity's board and returns the
// members to relay it to.
func saveGroupMessage(ctx context.Context, db *sql.DB, activityID, from int, body string) (ChatMessage, []int, error) {
	out := ChatMessage{Type: "group", ActivityID: activityID, From: from, Body: body}
	member, err := isActivityMember(ctx, db, activityID, from)
	if err != nil {
		return out, nil, err
	}
	if !member {
		return out, nil, errNotMember
	}

	if err := db.QueryRowContext(ctx, `
		INSERT INTO activity_messages (activity_id, sender_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, activityID, from, body).Scan(&out.ID, &out.Ts); err != nil {
		return out, nil, errors.Wrap(err, "insert group message")
	}

	members, err := activityMemberIDs(ctx, db, activityID)
	return out, members, err
}
