package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialChat(t *testing.T, srv *httptest.Server, u TestUser) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?token=" + u.Token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	evt := readEvent(t, conn)
	require.Equal(t, "info", evt.Type)
	require.Equal(t, "connected", evt.Data)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) ServerEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var evt ServerEvent
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

// waitConnected blocks until the hub has registered userID.
func waitConnected(t *testing.T, userID int) {
	t.Helper()
	require.Eventually(t, func() bool { return chatHub.isConnected(userID) }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketRequiresToken(t *testing.T) {
	srv := httptest.NewServer(newRouter(db, testConfig))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketDirectMessage(t *testing.T) {
	requireDB(t)
	srv := httptest.NewServer(newRouter(db, testConfig))
	defer srv.Close()

	alice := createTestUser(t, "ws_alice")
	bob := createTestUser(t, "ws_bob")
	stranger := createTestUser(t, "ws_stranger")
	makeFriends(t, alice, bob)

	bobConn := dialChat(t, srv, bob)
	aliceConn := dialChat(t, srv, alice)
	strangerConn := dialChat(t, srv, stranger)
	waitConnected(t, bob.ID)
	waitConnected(t, stranger.ID)

	t.Run("Relayed to the peer and echoed", func(t *testing.T) {
		require.NoError(t, aliceConn.WriteJSON(ChatMessage{Type: "message", To: bob.ID, Body: "  hey bob "}))

		got := readEvent(t, bobConn)
		assert.Equal(t, "message", got.Type)
		assert.Equal(t, alice.ID, got.From)
		data, ok := got.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "hey bob", data["body"])

		echo := readEvent(t, aliceConn)
		assert.Equal(t, "message", echo.Type)
	})

	t.Run("Typing indicator", func(t *testing.T) {
		require.NoError(t, aliceConn.WriteJSON(ChatMessage{Type: "typing", To: bob.ID}))
		got := readEvent(t, bobConn)
		assert.Equal(t, "typing", got.Type)
		assert.Equal(t, alice.ID, got.From)
	})

	t.Run("Typing is not relayed to non-friends", func(t *testing.T) {
		require.NoError(t, aliceConn.WriteJSON(ChatMessage{Type: "typing", To: stranger.ID}))
		require.NoError(t, strangerConn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
		var evt ServerEvent
		assert.Error(t, strangerConn.ReadJSON(&evt), "stranger got %+v", evt)
	})

	t.Run("Non-friends are refused", func(t *testing.T) {
		require.NoError(t, aliceConn.WriteJSON(ChatMessage{Type: "message", To: stranger.ID, Body: "hi"}))
		got := readEvent(t, aliceConn)
		assert.Equal(t, "error", got.Type)
		assert.Equal(t, "cannot send message", got.Data)
	})

	t.Run("Empty body", func(t *testing.T) {
		require.NoError(t, aliceConn.WriteJSON(ChatMessage{Type: "message", To: bob.ID, Body: "   "}))
		got := readEvent(t, aliceConn)
		assert.Equal(t, "invalid message body", got.Data)
	})

	t.Run("Unknown frame type", func(t *testing.T) {
		require.NoError(t, aliceConn.WriteJSON(ChatMessage{Type: "dance"}))
		got := readEvent(t, aliceConn)
		assert.Equal(t, "unknown message type", got.Data)
	})

	t.Run("Malformed frame", func(t *testing.T) {
		require.NoError(t, aliceConn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		got := readEvent(t, aliceConn)
		assert.Equal(t, "invalid message format", got.Data)
	})

	t.Run("Stored in history", func(t *testing.T) {
		msgs, err := getChatMessages(t.Context(), db, bob.ID, alice.ID, 10, nil)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "hey bob", msgs[0].Body)
	})
}

func TestWebSocketRateLimit(t *testing.T) {
	requireDB(t)
	prev := chatLimiter
	chatLimiter = newMessageLimiter(0.001, 1)
	t.Cleanup(func() { chatLimiter = prev })

	srv := httptest.NewServer(newRouter(db, testConfig))
	defer srv.Close()

	u := createTestUser(t, "ws_spammer")
	conn := dialChat(t, srv, u)

	// Typing to nobody produces no reply, so the only event is the refusal
	require.NoError(t, conn.WriteJSON(ChatMessage{Type: "typing"}))
	require.NoError(t, conn.WriteJSON(ChatMessage{Type: "typing"}))
	got := readEvent(t, conn)
	assert.Equal(t, "error", got.Type)
	assert.Equal(t, "rate limited", got.Data)
}

func TestWebSocketGroupMessage(t *testing.T) {
	requireDB(t)
	srv := httptest.NewServer(newRouter(db, testConfig))
	defer srv.Close()

	host := createTestUser(t, "wsg_host")
	member := createTestUser(t, "wsg_member")
	id := createActivity(t, host, "Jam", "music", "", nil, 0, nil)
	joinActivity(t, id, member)

	hostConn := dialChat(t, srv, host)
	memberConn := dialChat(t, srv, member)
	waitConnected(t, host.ID)

	require.NoError(t, memberConn.WriteJSON(ChatMessage{Type: "group", ActivityID: id, Body: "see you there"}))

	for _, conn := range []*websocket.Conn{hostConn, memberConn} {
		got := readEvent(t, conn)
		assert.Equal(t, "group", got.Type)
		assert.Equal(t, member.ID, got.From)
	}
}
