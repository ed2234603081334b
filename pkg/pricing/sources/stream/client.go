// Package stream provides a reconnecting websocket client used by sources
// that keep a live price feed open in the background.
package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client is a websocket client with automatic reconnection.
type Client struct {
	url           string
	conn          *websocket.Conn
	connMu        sync.RWMutex
	reconnectWait time.Duration
	maxRetries    int
	pingInterval  time.Duration
	pongWait      time.Duration
	writeWait     time.Duration
	logger        zerolog.Logger
	headers       http.Header

	send chan []byte
	done chan struct{}

	onMessage    func([]byte)
	onConnect    func()
	onDisconnect func(error)

	connected bool
	stateMu   sync.RWMutex
	closed    bool
	closeMu   sync.Mutex
}

// Config holds websocket client configuration.
type Config struct {
	URL           string
	ReconnectWait time.Duration
	MaxRetries    int
	PingInterval  time.Duration
	PongWait      time.Duration
	WriteWait     time.Duration
	Logger        zerolog.Logger
	Headers       http.Header
}

// NewClient creates a new websocket client.
func NewClient(cfg Config) *Client {
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 5 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = -1 // Infinite retries
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongWait == 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.WriteWait == 0 {
		cfg.WriteWait = 10 * time.Second
	}

	return &Client{
		url:           cfg.URL,
		reconnectWait: cfg.ReconnectWait,
		maxRetries:    cfg.MaxRetries,
		pingInterval:  cfg.PingInterval,
		pongWait:      cfg.PongWait,
		writeWait:     cfg.WriteWait,
		logger:        cfg.Logger,
		headers:       cfg.Headers,
		send:          make(chan []byte, 256),
		done:          make(chan struct{}),
	}
}

// SetHandlers sets the event handlers.
func (c *Client) SetHandlers(onMessage func([]byte), onConnect func(), onDisconnect func(error)) {
	c.onMessage = onMessage
	c.onConnect = onConnect
	c.onDisconnect = onDisconnect
}

// Connect establishes the websocket connection.
func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.setConnected(true)

	if c.onConnect != nil {
		c.onConnect()
	}

	c.logger.Info().Str("url", c.url).Msg("websocket connected")

	// Each connection gets its own stop channel so a reconnect's fresh pumps
	// never coexist with the previous connection's.
	stop := make(chan struct{})
	go c.readPump(conn, stop)
	go c.writePump(conn, stop)
	go c.pingPump(conn, stop)

	return nil
}

// ConnectWithRetry connects with automatic retry and exponential backoff.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	retries := 0
	for {
		err := c.Connect(ctx)
		if err == nil {
			return nil
		}

		retries++
		if c.maxRetries > 0 && retries >= c.maxRetries {
			return ErrMaxRetriesExceeded
		}

		c.logger.Warn().
			Err(err).
			Int("retry", retries).
			Dur("wait", c.reconnectWait).
			Msg("websocket connection failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectWait):
			c.reconnectWait = c.reconnectWait * 2
			if c.reconnectWait > 60*time.Second {
				c.reconnectWait = 60 * time.Second
			}
		}
	}
}

// Send queues a message for delivery.
func (c *Client) Send(data []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	select {
	case c.send <- data:
		return nil
	case <-time.After(c.writeWait):
		return ErrSendTimeout
	}
}

// SendJSON writes a JSON message directly. Holds the connection lock to
// prevent concurrent writes.
func (c *Client) SendJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteJSON(v)
}

// Close closes the websocket connection.
func (c *Client) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	c.setConnected(false)
	close(c.done)

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
		return err
	}

	return nil
}

// IsConnected returns the connection status.
func (c *Client) IsConnected() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.connected
}

func (c *Client) setConnected(connected bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.connected = connected
}

// readPump reads messages from the websocket. When the read loop ends it
// closes stop, taking the connection's write and ping pumps down with it,
// then hands off to reconnect.
func (c *Client) readPump(conn *websocket.Conn, stop chan struct{}) {
	defer func() {
		close(stop)
		c.reconnect()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Msg("websocket read error")
			}
			return
		}

		if c.onMessage != nil {
			c.onMessage(message)
		}
	}
}

// writePump writes queued messages to the websocket. Writes hold connMu so
// they serialize with SendJSON and pings.
func (c *Client) writePump(conn *websocket.Conn, stop chan struct{}) {
	for {
		select {
		case <-c.done:
			return
		case <-stop:
			return
		case message := <-c.send:
			c.connMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			err := conn.WriteMessage(websocket.TextMessage, message)
			c.connMu.Unlock()

			if err != nil {
				c.logger.Error().Err(err).Msg("websocket write error")
				return
			}
		}
	}
}

// pingPump sends periodic ping messages.
func (c *Client) pingPump(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-stop:
			return
		case <-ticker.C:
			c.connMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.connMu.Unlock()

			if err != nil {
				c.logger.Warn().Err(err).Msg("websocket ping failed")
				return
			}
		}
	}
}

// reconnect attempts to reconnect after disconnection.
func (c *Client) reconnect() {
	select {
	case <-c.done:
		c.logger.Info().Msg("websocket client shutting down, skipping reconnection")
		return
	default:
	}

	c.setConnected(false)

	if c.onDisconnect != nil {
		c.onDisconnect(ErrConnectionLost)
	}

	c.logger.Warn().Msg("websocket disconnected, attempting to reconnect")

	ctx := context.Background()
	if err := c.ConnectWithRetry(ctx); err != nil {
		c.logger.Error().Err(err).Msg("websocket reconnection failed")
	}
}
