package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/dbpool"
)

// EventChannel is the Postgres channel task events travel on between the
// worker processes and the API servers holding websocket clients.
const EventChannel = "rhesis_task_events"

// pg_notify payloads are limited to 8000 bytes.
const maxPayload = 7900

// Broadcaster sends events to connected clients of one organization.
type Broadcaster interface {
	BroadcastEvent(eventType, organizationID string, data json.RawMessage)
}

type eventEnvelope struct {
	OrganizationID string          `json:"organization_id"`
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// NotifyPublisher publishes events with pg_notify. It satisfies the same
// Broadcaster interface as the websocket hub, so a worker without clients
// of its own can hand events to every API server.
type NotifyPublisher struct {
	pool *dbpool.Pool
	log  *logrus.Logger
}

// NewNotifyPublisher creates a NotifyPublisher.
func NewNotifyPublisher(pool *dbpool.Pool, log *logrus.Logger) *NotifyPublisher {
	return &NotifyPublisher{pool: pool, log: log}
}

// BroadcastEvent sends the event best-effort; failures are logged.
func (p *NotifyPublisher) BroadcastEvent(eventType, organizationID string, data json.RawMessage) {
	payload, err := json.Marshal(eventEnvelope{OrganizationID: organizationID, Type: eventType, Data: data})
	if err != nil {
		p.log.WithError(err).Warn("encoding event")
		return
	}

	if len(payload) > maxPayload {
		payload, _ = json.Marshal(eventEnvelope{OrganizationID: organizationID, Type: eventType}) //nolint:errcheck // static shape.
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", EventChannel, string(payload)); err != nil {
		p.log.WithError(err).WithField("type", eventType).Warn("failed to send event notification")
	}
}

// NotifyBridge subscribes to EventChannel and forwards each payload to the
// websocket hub.
type NotifyBridge struct {
	log  *logrus.Logger
	pool *dbpool.Pool
	hub  Broadcaster
}

// NewNotifyBridge creates a NotifyBridge wired to the given pool and hub.
func NewNotifyBridge(log *logrus.Logger, pool *dbpool.Pool, hub Broadcaster) *NotifyBridge {
	return &NotifyBridge{
		log:  log,
		pool: pool,
		hub:  hub,
	}
}

// Start launches the LISTEN loop in a background goroutine. It verifies the
// database is reachable before returning; later failures reconnect.
func (b *NotifyBridge) Start(ctx context.Context) error {
	if err := b.pool.Ping(ctx); err != nil {
		return fmt.Errorf("notify bridge: database not reachable: %w", err)
	}

	go b.listen(ctx)

	return nil
}

func (b *NotifyBridge) listen(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.RandomizationFactor = 0.25

	for {
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		err := b.subscribeAndForward(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		if time.Since(started) > time.Minute {
			bo.Reset()
		}

		wait := bo.NextBackOff()
		b.log.WithError(err).WithField("retry_in", wait).
			Warn("notify bridge connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (b *NotifyBridge) subscribeAndForward(ctx context.Context) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{EventChannel}.Sanitize()); err != nil {
		return fmt.Errorf("executing LISTEN: %w", err)
	}

	// The connection goes back to the pool afterwards; stop listening first.
	defer func() {
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn.Exec(uctx, "UNLISTEN *") //nolint:errcheck // a broken conn is discarded by the pool anyway.
	}()

	b.log.WithField("channel", EventChannel).Info("notify bridge listening")

	for {
		// Periodic deadline so a dead TCP peer is noticed.
		if err := conn.Conn().PgConn().Conn().SetReadDeadline(time.Now().Add(2 * time.Minute)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}

		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			return fmt.Errorf("waiting for notification: %w", err)
		}

		b.handleNotification(notification)
	}
}

func (b *NotifyBridge) handleNotification(n *pgconn.Notification) {
	var env eventEnvelope
	if err := json.Unmarshal([]byte(n.Payload), &env); err != nil || env.OrganizationID == "" || env.Type == "" {
		b.log.WithField("pid", n.PID).Warn("dropping event without organization_id or type")
		return
	}

	b.hub.BroadcastEvent(env.Type, env.OrganizationID, env.Data)
}
