package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/elifesciences/pubflow/internal/logging"
)

// WebsocketBroadcaster maintains a single outbound connection to an
// optional monitoring dashboard, reconnecting with backoff on failure.
// It is adapted from this codebase's coordinator reconnect/ping-loop idiom,
// trimmed of the inbound pause/resume/cancel control-message handling that
// idiom also carries: this sink only ever sends.
type WebsocketBroadcaster struct {
	url    string
	logger *logging.ContextLogger

	mu       sync.Mutex
	conn     *websocket.Conn
	sendChan chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	pingInterval       = 20 * time.Second
	sendBufferSize     = 256
)

// NewWebsocketBroadcaster starts the connection loop in the background and
// returns immediately; Broadcast is non-blocking and safe before the first
// connection completes (messages queue in sendChan).
func NewWebsocketBroadcaster(url string, logger *logging.ContextLogger) *WebsocketBroadcaster {
	ctx, cancel := context.WithCancel(context.Background())
	b := &WebsocketBroadcaster{
		url:      url,
		logger:   logger,
		sendChan: make(chan []byte, sendBufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	b.wg.Add(1)
	go b.connectionLoop()
	return b
}

// Broadcast enqueues payload for delivery; it never blocks the caller —
// a full buffer drops this new payload with a log line rather than
// stalling the emitting activity.
func (b *WebsocketBroadcaster) Broadcast(payload []byte) {
	select {
	case b.sendChan <- payload:
	default:
		b.logger.Warn("monitor: websocket send buffer full, dropping event")
	}
}

// Close stops the connection loop and closes the underlying connection.
func (b *WebsocketBroadcaster) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *WebsocketBroadcaster) connectionLoop() {
	defer b.wg.Done()
	delay := reconnectBaseDelay
	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(b.ctx, b.url, nil)
		if err != nil {
			b.logger.WithError(err).Warnf("monitor: websocket connect failed, retrying in %s", delay)
			select {
			case <-time.After(delay):
			case <-b.ctx.Done():
				return
			}
			delay = minDuration(delay*2, reconnectMaxDelay)
			continue
		}

		delay = reconnectBaseDelay
		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		b.runConnection(conn)
	}
}

func (b *WebsocketBroadcaster) runConnection(conn *websocket.Conn) {
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case payload := <-b.sendChan:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

var _ Broadcaster = (*WebsocketBroadcaster)(nil)
