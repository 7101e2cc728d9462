package events

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
	"github.com/CoinDrip-finance/protocol-v2/internal/observability"
)

// BroadcasterConfig configures websocket feed behavior.
type BroadcasterConfig struct {
	// WriteTimeout is timeout for writing a frame to a subscriber.
	WriteTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// SendBuffer is the per-subscriber outbound queue; a subscriber that
	// falls this far behind is dropped.
	SendBuffer int
}

// DefaultBroadcasterConfig returns default feed configuration.
func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		SendBuffer:   256,
	}
}

// wireEvent is the JSON frame pushed to subscribers.
type wireEvent struct {
	Type      string `json:"type"`
	StreamID  int64  `json:"stream_id"`
	Caller    string `json:"caller"`
	Amount    string `json:"amount,omitempty"`
	Finalized bool   `json:"finalized,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster pushes protocol events to connected websocket subscribers.
// It implements Sink; ServeHTTP is the /ws upgrade endpoint.
type Broadcaster struct {
	config   BroadcasterConfig
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(config *BroadcasterConfig, logger *log.Logger) *Broadcaster {
	cfg := DefaultBroadcasterConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Broadcaster{
		config: cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// Compile-time interface check.
var _ Sink = (*Broadcaster)(nil)

// Emit pushes the event to all connected subscribers. Slow subscribers are
// dropped rather than blocking the emitting operation.
func (b *Broadcaster) Emit(ctx context.Context, rec *domain.EventRecord) error {
	frame := wireEvent{
		Type:      rec.Type,
		StreamID:  rec.StreamID,
		Caller:    rec.Caller.String(),
		Finalized: rec.Finalized,
		Timestamp: rec.Timestamp,
	}
	if rec.Amount != nil {
		frame.Amount = rec.Amount.String()
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.send <- payload:
		default:
			b.logger.Printf("dropping slow websocket subscriber")
			b.removeLocked(sub)
		}
	}
	return nil
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Printf("websocket upgrade failed: %v", err)
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, b.config.SendBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	observability.DefaultMetrics.WebsocketSubscribers.Set(float64(len(b.subs)))
	b.mu.Unlock()

	go b.writeLoop(sub)
	b.readLoop(sub)
}

// SubscriberCount returns the number of connected subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close disconnects all subscribers.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		b.removeLocked(sub)
	}
}

// removeLocked drops a subscriber; the caller holds b.mu.
func (b *Broadcaster) removeLocked(sub *subscriber) {
	delete(b.subs, sub)
	observability.DefaultMetrics.WebsocketSubscribers.Set(float64(len(b.subs)))
	sub.once.Do(func() { close(sub.done) })
}

func (b *Broadcaster) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		b.removeLocked(sub)
	}
}

// writeLoop pushes queued frames and pings to one subscriber.
func (b *Broadcaster) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(b.config.PingInterval)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case payload := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(b.config.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				b.remove(sub)
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(b.config.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				b.remove(sub)
				return
			}
		case <-sub.done:
			sub.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readLoop drains client frames so pongs and close frames are processed.
func (b *Broadcaster) readLoop(sub *subscriber) {
	defer b.remove(sub)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}
