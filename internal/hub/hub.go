// Package hub implements the bridge's multiplexer: it owns the single
// browser duplex socket and fans inbound chunks out to per-request queues
// keyed by request ID.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/gorilla/websocket"

	"github.com/arenabridge/chat-bridge/internal/config"
	"github.com/arenabridge/chat-bridge/internal/metrics"
	"github.com/arenabridge/chat-bridge/internal/wsproto"
)

// ErrDisconnected is delivered to every in-flight request's queue when the
// browser connection is replaced or lost.
var ErrDisconnected = errors.New("browser disconnected")

// ErrQueueTimeout is returned by Queue.Recv when no frame arrives within
// the requested timeout.
var ErrQueueTimeout = errors.New("queue recv timeout")

// queueCapacity bounds the per-request inbound FIFO (Request
// channel table: "a bounded FIFO of inbound chunks").
const queueCapacity = 256

// Queue is the bounded FIFO of inbound frames for one request ID. Exactly
// one writer (the Hub's read loop) and one reader (the stream parser) are
// allowed.
type Queue struct {
	ch        chan json.RawMessage
	closed    chan struct{}
	closeOnce sync.Once
}

func newQueue() *Queue {
	return &Queue{
		ch:     make(chan json.RawMessage, queueCapacity),
		closed: make(chan struct{}),
	}
}

// push enqueues data without blocking. It reports false if the queue is
// full, in which case the caller should log and drop the frame rather than
// stall the shared reader loop.
func (q *Queue) push(data json.RawMessage) bool {
	select {
	case q.ch <- data:
		return true
	default:
		return false
	}
}

func (q *Queue) signalDisconnect() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Recv blocks for the next frame, for a disconnect signal, for ctx
// cancellation, or for timeout to elapse, whichever comes first.
func (q *Queue) Recv(ctx context.Context, timeout time.Duration) (json.RawMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-q.ch:
		return data, nil
	case <-q.closed:
		// Drain anything already queued before the disconnect so callers
		// observe frames that arrived before the browser went away.
		select {
		case data := <-q.ch:
			return data, nil
		default:
		}
		return nil, ErrDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrQueueTimeout
	}
}

// Hub owns the single browser connection slot and the request channel
// table.
type Hub struct {
	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex // serializes writes so concurrent callers never interleave frames

	tableMu sync.RWMutex
	table   map[string]*Queue
}

// New constructs an empty Hub with no browser connection attached.
func New() *Hub {
	return &Hub{table: make(map[string]*Queue)}
}

// IsConnected reports whether a browser socket currently occupies the
// single connection slot.
func (h *Hub) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// Attach installs conn as the current browser connection, replacing and
// disconnecting any previous one first (replacement
// invariant), then runs the read loop until the connection errs or ctx is
// done.
func (h *Hub) Attach(ctx context.Context, conn *websocket.Conn) {
	h.mu.Lock()
	previous := h.conn
	if previous != nil {
		config.Logger.Warn("replacing existing browser connection")
	}
	h.conn = conn
	h.mu.Unlock()
	metrics.BrowserConnected.Set(1)

	if previous != nil {
		h.handleDisconnect(previous)
	}

	h.readLoop(ctx, conn)
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			config.Logger.Info("browser connection closed", zap.Error(err))
			h.handleDisconnect(conn)
			return
		}

		var msg wsproto.InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			config.Logger.Warn("malformed inbound frame from browser", zap.Error(err))
			continue
		}
		h.dispatch(msg)
	}
}

func (h *Hub) dispatch(msg wsproto.InboundMessage) {
	h.tableMu.RLock()
	q, ok := h.table[msg.RequestID]
	h.tableMu.RUnlock()

	if !ok {
		// Straggler after cancellation or completion; expected, not fatal.
		config.Logger.Warn("dropping frame for unknown request", zap.String("request_id", msg.RequestID))
		return
	}
	if !q.push(msg.Data) {
		config.Logger.Warn("request queue full, dropping frame", zap.String("request_id", msg.RequestID))
	}
}

// handleDisconnect clears the connection slot if it still points at conn,
// then broadcasts the disconnect sentinel to every table entry and empties
// the table.
func (h *Hub) handleDisconnect(conn *websocket.Conn) {
	h.mu.Lock()
	if h.conn == conn {
		h.conn = nil
		metrics.BrowserConnected.Set(0)
	}
	h.mu.Unlock()

	h.tableMu.Lock()
	queues := h.table
	h.table = make(map[string]*Queue)
	h.tableMu.Unlock()
	metrics.InFlightRequests.Set(0)

	for _, q := range queues {
		q.signalDisconnect()
	}
}

// RegisterQueue creates and installs a queue for requestID. The caller
// (the orchestrator) owns the returned Queue for the duration of the call.
func (h *Hub) RegisterQueue(requestID string) *Queue {
	q := newQueue()
	h.tableMu.Lock()
	h.table[requestID] = q
	n := len(h.table)
	h.tableMu.Unlock()
	metrics.InFlightRequests.Set(float64(n))
	return q
}

// UnregisterQueue removes requestID's entry. Safe to call even if the
// entry is already gone (e.g. removed by a disconnect broadcast).
func (h *Hub) UnregisterQueue(requestID string) {
	h.tableMu.Lock()
	delete(h.table, requestID)
	n := len(h.table)
	h.tableMu.Unlock()
	metrics.InFlightRequests.Set(float64(n))
}

// Send serializes msg to JSON and writes it to the browser connection.
// Concurrent callers are safe: writes are mutex-serialized so frames never
// interleave on the wire.
func (h *Hub) Send(msg any) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return errors.New("no browser connection")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal outbound message")
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "write to browser connection")
	}
	return nil
}
