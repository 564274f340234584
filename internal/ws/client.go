package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/auth"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

const (
	writeTimeout     = 10 * time.Second
	wsReadLimit      = 4096
	clientSendBuffer = 256

	// maxConnLifetime bounds session clients, which are never re-validated.
	maxConnLifetime = 4 * time.Hour

	tokenRefreshInterval = 15 * time.Minute
	tokenRefreshTimeout  = 10 * time.Second

	pingInterval   = 30 * time.Second
	pingTimeout    = 10 * time.Second
	maxMissedPongs = 2
)

// TokenValidator re-checks a bearer token. *auth.Authenticator satisfies it.
type TokenValidator interface {
	AuthenticateToken(ctx context.Context, raw string) (auth.Principal, error)
}

// Client is one WebSocket connection. It is bound to the organization it
// authenticated as for its whole life.
type Client struct {
	OrganizationID string
	UserID         string

	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	log       *logrus.Entry

	token     string
	validator TokenValidator
	deadline  time.Time
}

// NewClient creates a Client for a connection authenticated as id. token is
// the bearer token the connection was opened with, or empty for a session;
// only token clients are re-validated while connected.
func NewClient(hub *Hub, conn *websocket.Conn, id tenant.Identity, validator TokenValidator, token string) *Client {
	return &Client{
		OrganizationID: id.OrganizationID,
		UserID:         id.UserID,
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, clientSendBuffer),
		log: hub.log.WithFields(logrus.Fields{
			"organization_id": id.OrganizationID,
			"user_id":         id.UserID,
		}),
		token:     token,
		validator: validator,
		deadline:  time.Now().Add(maxConnLifetime),
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// trySend queues msg unless the send queue is full.
func (c *Client) trySend(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// ReadPump reads client frames until the connection closes, then
// unregisters the client.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.CloseNow() //nolint:errcheck // teardown
	}()

	c.conn.SetReadLimit(wsReadLimit)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				c.log.WithField("status", status).Debug("client disconnected")
			}

			return
		}

		var f controlFrame
		if json.Unmarshal(data, &f) != nil {
			continue
		}

		if f.Type == frameSubscribe && !c.hub.ReplayEvents(c, f.LastEventID) {
			c.trySend(resetFrame)
		}
	}
}

// WritePump delivers queued messages and keeps the connection healthy:
// it pings, re-validates bearer tokens and enforces the lifetime limit.
func (c *Client) WritePump(ctx context.Context) {
	defer c.conn.CloseNow() //nolint:errcheck // teardown

	lifetime := time.NewTimer(time.Until(c.deadline))
	defer lifetime.Stop()

	refresh := time.NewTicker(tokenRefreshInterval)
	defer refresh.Stop()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	missed := 0

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			if err := c.write(ctx, msg); err != nil {
				c.log.WithError(err).Debug("write failed")
				return
			}

		case <-ping.C:
			if c.ping(ctx) {
				missed = 0
				continue
			}

			if missed++; missed >= maxMissedPongs {
				c.log.Debug("closing WebSocket: missed pongs")
				return
			}

		case <-refresh.C:
			if !c.stillAuthorized(ctx) {
				c.log.Info("closing WebSocket: token no longer valid")
				c.conn.Close(websocket.StatusPolicyViolation, "authentication expired") //nolint:errcheck // best-effort

				return
			}

		case <-lifetime.C:
			c.log.Info("closing WebSocket: max connection lifetime exceeded")
			c.conn.Close(websocket.StatusNormalClosure, "max connection lifetime exceeded") //nolint:errcheck // best-effort

			return
		}
	}
}

func (c *Client) write(ctx context.Context, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return c.conn.Write(ctx, websocket.MessageText, msg)
}

func (c *Client) ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	return c.conn.Ping(ctx) == nil
}

// stillAuthorized re-validates the bearer token. A token that now resolves
// to a different organization counts as invalid.
func (c *Client) stillAuthorized(ctx context.Context) bool {
	if c.validator == nil || c.token == "" {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, tokenRefreshTimeout)
	defer cancel()

	p, err := c.validator.AuthenticateToken(ctx, c.token)

	return err == nil && p.Identity.OrganizationID == c.OrganizationID
}
