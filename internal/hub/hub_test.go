package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// newTestServer starts an httptest server upgrading every request into the
// Hub's single connection slot, returning the server and a dialed client
// connection the test can write inbound frames on.
func newTestServer(t *testing.T, h *Hub) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		h.Attach(ctx, conn)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return srv, client
}

func TestQueue_PushAndRecv(t *testing.T) {
	q := newQueue()
	ok := q.push(json.RawMessage(`"hello"`))
	assert.True(t, ok)

	data, err := q.Recv(context.Background(), time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `"hello"`, string(data))
}

func TestQueue_RecvTimesOut(t *testing.T) {
	q := newQueue()
	_, err := q.Recv(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueTimeout)
}

func TestQueue_RecvReturnsDisconnectAfterSignal(t *testing.T) {
	q := newQueue()
	q.signalDisconnect()

	_, err := q.Recv(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestQueue_RecvDrainsBeforeDisconnect(t *testing.T) {
	q := newQueue()
	q.push(json.RawMessage(`"queued before disconnect"`))
	q.signalDisconnect()

	data, err := q.Recv(context.Background(), time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `"queued before disconnect"`, string(data))
}

func TestQueue_PushFailsWhenFull(t *testing.T) {
	q := newQueue()
	for i := 0; i < queueCapacity; i++ {
		require.True(t, q.push(json.RawMessage(`"x"`)))
	}
	assert.False(t, q.push(json.RawMessage(`"overflow"`)))
}

func TestHub_IsConnectedReflectsAttachedState(t *testing.T) {
	h := New()
	assert.False(t, h.IsConnected())

	newTestServer(t, h)

	assert.Eventually(t, func() bool { return h.IsConnected() }, time.Second, 10*time.Millisecond)
}

func TestHub_SendWithoutConnectionErrors(t *testing.T) {
	h := New()
	err := h.Send(map[string]string{"hello": "world"})
	assert.Error(t, err)
}

func TestHub_RegisterAndUnregisterQueue(t *testing.T) {
	h := New()
	q := h.RegisterQueue("req-1")
	require.NotNil(t, q)

	h.tableMu.RLock()
	_, ok := h.table["req-1"]
	h.tableMu.RUnlock()
	assert.True(t, ok)

	h.UnregisterQueue("req-1")

	h.tableMu.RLock()
	_, ok = h.table["req-1"]
	h.tableMu.RUnlock()
	assert.False(t, ok)
}

func TestHub_DispatchRoutesFrameToRegisteredQueue(t *testing.T) {
	h := New()
	_, client := newTestServer(t, h)

	assert.Eventually(t, func() bool { return h.IsConnected() }, time.Second, 10*time.Millisecond)

	q := h.RegisterQueue("req-42")
	defer h.UnregisterQueue("req-42")

	frame := map[string]any{"request_id": "req-42", "data": "a0:\"hi\""}
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, raw))

	data, err := q.Recv(context.Background(), time.Second)
	require.NoError(t, err)
	var s string
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, `a0:"hi"`, s)
}

func TestHub_DispatchDropsFrameForUnknownRequest(t *testing.T) {
	h := New()
	_, client := newTestServer(t, h)
	assert.Eventually(t, func() bool { return h.IsConnected() }, time.Second, 10*time.Millisecond)

	frame := map[string]any{"request_id": "no-such-request", "data": "x"}
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	// Just confirms no panic / no delivery; nothing further to assert since
	// the frame is silently dropped.
	require.NoError(t, client.WriteMessage(websocket.TextMessage, raw))
	time.Sleep(20 * time.Millisecond)
}

func TestHub_DisconnectSignalsAllQueues(t *testing.T) {
	h := New()
	_, client := newTestServer(t, h)
	assert.Eventually(t, func() bool { return h.IsConnected() }, time.Second, 10*time.Millisecond)

	q := h.RegisterQueue("req-1")
	client.Close()

	_, err := q.Recv(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.Eventually(t, func() bool { return !h.IsConnected() }, time.Second, 10*time.Millisecond)
}
