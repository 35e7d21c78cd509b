package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rili-live/therr-app-sub008/config"
	"github.com/rili-live/therr-app-sub008/metrics"
)

const writeRetryDelay = 200 * time.Millisecond

// Client is one live transport-level link. Inbound actions are consumed
// from a single channel per connection, preserving receipt order, while
// outbound events flow through a buffered send channel serviced by the
// write pump. A connection is owned exclusively by the instance that
// accepted it.
type Client struct {
	ID     string
	token  string
	locale string
	ip     string

	conn *websocket.Conn
	cfg  *config.WebSocketConfig
	log  *zap.Logger

	send    chan json.RawMessage
	actions chan Envelope

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newClient(id string, conn *websocket.Conn, token, locale, ip string, cfg *config.WebSocketConfig, log *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:      id,
		token:   token,
		locale:  locale,
		ip:      ip,
		conn:    conn,
		cfg:     cfg,
		log:     log.With(zap.String("connectionId", id)),
		send:    make(chan json.RawMessage, cfg.SendBufferSize),
		actions: make(chan Envelope, cfg.SendBufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Emit encodes and queues one server->client envelope.
func (c *Client) Emit(t ActionType, data interface{}) {
	raw, err := encodeEnvelope(t, data)
	if err != nil {
		c.log.Error("failed to encode envelope", zap.String("type", string(t)), zap.Error(err))
		return
	}
	c.EmitRaw(raw)
}

// EmitRaw queues an already-encoded envelope. A client that cannot drain
// its buffer is closed rather than allowed to block delivery to others.
func (c *Client) EmitRaw(raw json.RawMessage) {
	select {
	case <-c.ctx.Done():
	case c.send <- raw:
	default:
		c.log.Warn("send buffer full, closing slow client")
		c.Close(websocket.ClosePolicyViolation, "Send buffer overflow")
	}
}

// writePump services the send channel and the ping ticker. One per
// connection; the only goroutine that writes to the socket.
func (c *Client) writePump() {
	pingTicker := time.NewTicker(time.Duration(c.cfg.PingInterval) * time.Second)
	defer pingTicker.Stop()

	writeTimeout := time.Duration(c.cfg.WriteTimeout) * time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		case raw := <-c.send:
			if err := c.safeWrite(raw, writeTimeout); err != nil {
				c.log.Warn("write failed", zap.Error(err))
				c.Close(websocket.CloseInternalServerErr, "Failed to send message")
				return
			}
			metrics.EventsSent.Inc()
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
				c.log.Warn("ping failed", zap.Error(err))
				c.Close(websocket.CloseInternalServerErr, "Ping failure")
				return
			}
		}
	}
}

// safeWrite writes one frame with bounded retry on transient errors.
func (c *Client) safeWrite(raw json.RawMessage, timeout time.Duration) error {
	operation := func() error {
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
		return c.conn.WriteMessage(websocket.TextMessage, raw)
	}

	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(writeRetryDelay), 2),
		c.ctx,
	)

	return backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		c.log.Debug("retrying WebSocket write", zap.Duration("nextAttemptIn", d), zap.Error(err))
	})
}

// refreshDeadline extends the inactivity window.
func (c *Client) refreshDeadline() {
	c.conn.SetReadDeadline(time.Now().Add(time.Duration(c.cfg.ActivityTimeout) * time.Second))
}

func (c *Client) pongHandler() func(string) error {
	return func(string) error {
		if c.cfg.KeepAlive {
			c.refreshDeadline()
		}
		return nil
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close(code int, text string) {
	c.closeOnce.Do(func() {
		c.cancel()

		deadline := time.Now().Add(time.Duration(c.cfg.WriteTimeout) * time.Second)
		if err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline); err != nil {
			c.log.Debug("error sending close message", zap.Error(err))
		}
		c.conn.Close()
	})
}
