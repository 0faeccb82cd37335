package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client is a websocket connection to the local engine process.
type Client struct {
	url       string
	userpass  string
	conn      *websocket.Conn
	mu        sync.Mutex
	connected bool
	handlers  map[string]Handler
	logger    *logrus.Logger
}

func NewClient(url, userpass string, logger *logrus.Logger) *Client {
	return &Client{
		url:      url,
		userpass: userpass,
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to engine: %w", err)
	}

	c.conn = conn
	c.connected = true

	// The engine expects the RPC password before any other traffic.
	if c.userpass != "" {
		auth, err := json.Marshal(map[string]string{"userpass": c.userpass})
		if err == nil {
			err = conn.WriteJSON(Envelope{Channel: "auth", Payload: auth})
		}
		if err != nil {
			c.connected = false
			conn.Close()
			return fmt.Errorf("failed to authenticate with engine: %w", err)
		}
	}

	go c.readLoop(ctx)
	go c.keepAlive(ctx)

	return nil
}

// Send marshals the payload into an envelope and writes it. Local IPC is
// assumed reliable; a write error is returned but never retried.
func (c *Client) Send(channel string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return fmt.Errorf("engine channel not connected")
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload for %s: %w", channel, err)
		}
		raw = data
	}

	return c.conn.WriteJSON(Envelope{Channel: channel, Payload: raw})
}

func (c *Client) RegisterHandler(channel string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[channel] = handler
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			var env Envelope
			err := c.conn.ReadJSON(&env)
			if err != nil {
				c.logger.WithError(err).Error("Failed to read engine message")
				c.handleDisconnect()
				return
			}

			c.mu.Lock()
			handler, ok := c.handlers[env.Channel]
			c.mu.Unlock()

			if !ok {
				c.logger.WithField("channel", env.Channel).Debug("No handler for channel")
				continue
			}

			if err := handler(env.Payload); err != nil {
				c.logger.WithError(err).WithField("channel", env.Channel).Error("Handler error")
			}
		}
	}
}

func (c *Client) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			var pingErr error
			if c.connected {
				pingErr = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.mu.Unlock()

			if pingErr != nil {
				c.logger.WithError(pingErr).Error("Failed to send ping")
				c.handleDisconnect()
			}
		}
	}
}

func (c *Client) handleDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Client) Close() {
	c.handleDisconnect()
}
