package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wellness_hub/server/hub/domain"
)

type wireFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
	Code      string          `json:"code"`
	Error     string          `json:"error"`
}

func dialWS(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if token != "" {
		url += "?access_token=" + token
	}
	return websocket.DefaultDialer.Dial(url, nil)
}

func send(t *testing.T, ws *websocket.Conn, kind, requestID string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(map[string]any{"type": kind, "request_id": requestID, "payload": json.RawMessage(raw)}))
}

// readUntil reads frames until one matches, failing after a timeout.
func readUntil(t *testing.T, ws *websocket.Conn, match func(wireFrame) bool) wireFrame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f wireFrame
		require.NoError(t, ws.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func replyTo(requestID string) func(wireFrame) bool {
	return func(f wireFrame) bool { return f.RequestID == requestID }
}

func waitOnline(t *testing.T, env *testEnv, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return env.hub.Presence().Online() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketRejectsMissingOrInvalidToken(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	_, resp, err := dialWS(t, srv, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = dialWS(t, srv, "not-a-jwt")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, env.hub.Presence().Online())
}

func TestWebSocketMessageRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	alice, _, err := dialWS(t, srv, env.token(t, "alice"))
	require.NoError(t, err)
	defer alice.Close()
	bob, _, err := dialWS(t, srv, env.token(t, "bob"))
	require.NoError(t, err)
	defer bob.Close()
	waitOnline(t, env, 2)

	send(t, alice, "ping", "p1", map[string]any{})
	pong := readUntil(t, alice, replyTo("p1"))
	assert.Equal(t, domain.EventPong, pong.Type)

	send(t, alice, "send_message", "r1", map[string]string{"sender_id": "alice", "receiver_id": "bob", "content": "hi"})
	ack := readUntil(t, alice, replyTo("r1"))
	require.Equal(t, "ack", ack.Type, ack.Error)
	var sent domain.Message
	require.NoError(t, json.Unmarshal(ack.Payload, &sent))
	assert.Equal(t, domain.MessageStatusDelivered, sent.Status)

	ev := readUntil(t, bob, func(f wireFrame) bool { return f.Type == domain.EventMessageReceived })
	var got domain.Message
	require.NoError(t, json.Unmarshal(ev.Payload, &got))
	assert.Equal(t, "hi", got.Content)
	assert.Equal(t, "alice", got.SenderID)

	send(t, bob, "delete_message", "r2", map[string]int64{"message_id": sent.ID})
	rejected := readUntil(t, bob, replyTo("r2"))
	assert.Equal(t, "error", rejected.Type)
	assert.Equal(t, domain.CodeAuthorization, rejected.Code)

	send(t, bob, "launch_rockets", "r3", map[string]any{})
	unknown := readUntil(t, bob, replyTo("r3"))
	assert.Equal(t, domain.CodeValidation, unknown.Code)
}

func TestWebSocketDisconnectTearsDownSession(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	alice, _, err := dialWS(t, srv, env.token(t, "alice"))
	require.NoError(t, err)
	waitOnline(t, env, 1)

	send(t, alice, "join_room", "j1", map[string]string{"user_id": "alice", "friend_id": "bob"})
	joined := readUntil(t, alice, replyTo("j1"))
	require.Equal(t, "ack", joined.Type)
	assert.Len(t, env.hub.Groups().Members(domain.PairRoom("bob", "alice")), 1)

	require.NoError(t, alice.Close())
	waitOnline(t, env, 0)
	require.Eventually(t, func() bool {
		return len(env.hub.Groups().Members(domain.ForumRoom)) == 0 &&
			len(env.hub.Groups().Members(domain.PairRoom("alice", "bob"))) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
