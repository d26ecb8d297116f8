// Package eventclient implements the notifier socket client: one
// persistent TCP connection per pipeline, draining a bounded queue of
// JSON event strings with reconnect-and-replay on send failure.
package eventclient

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// dialTimeout bounds each individual connect attempt rather than an
// unbounded blocking connect.
const dialTimeout = 10 * time.Second

// reconnectFloor is the minimum wait between connect attempts.
const reconnectFloor = 1 * time.Second

// Client owns one persistent stream socket to the notifier, with a
// one-slot replay buffer for at-least-once, non-exactly-once delivery.
type Client struct {
	log  *slog.Logger
	addr string

	queue     chan string
	conn      net.Conn
	replay    string
	hasReplay bool
}

// New creates a Client targeting addr ("host:port"). Call Run to start the
// connect-and-drain loop.
func New(addr string, queueDepth int) *Client {
	return &Client{
		log:   slog.With("component", "event-client", "addr", addr),
		addr:  addr,
		queue: make(chan string, queueDepth),
	}
}

// Send enqueues an already-encoded JSON event. Non-blocking: on a full
// queue the event is dropped and logged.
func (c *Client) Send(payload string) {
	select {
	case c.queue <- payload:
	default:
		c.log.Warn("event queue full, dropping event")
	}
}

// Run drains the queue until ctx is cancelled, maintaining the persistent
// connection and replaying the one buffered message after a reconnect.
// On shutdown it drains the queue up to the current tail, then exits.
func (c *Client) Run(ctx context.Context) {
	defer c.closeConn()

	for {
		if c.conn == nil {
			if !c.connectLoop(ctx) {
				return
			}
		}

		if c.hasReplay {
			if !c.sendOne(ctx, c.replay) {
				continue
			}
			c.hasReplay = false
		}

		select {
		case <-ctx.Done():
			c.drainOnShutdown()
			return
		case payload := <-c.queue:
			c.sendOne(ctx, payload)
		}
	}
}

// drainOnShutdown flushes whatever is already queued, best-effort, without
// blocking for new arrivals.
func (c *Client) drainOnShutdown() {
	for {
		select {
		case payload := <-c.queue:
			c.sendOne(context.Background(), payload)
		default:
			return
		}
	}
}

// connectLoop dials with backoff until it succeeds or ctx is cancelled.
// Returns false if ctx was cancelled first.
func (c *Client) connectLoop(ctx context.Context) bool {
	for {
		conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
		if err == nil {
			c.conn = conn
			c.log.Info("connected")
			return true
		}
		c.log.Warn("connect failed, retrying", "error", err)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(reconnectFloor):
		}
	}
}

// sendOne writes payload followed by a newline delimiter. On failure the
// message is stashed in the one-slot replay buffer (overwriting any prior
// buffered message), the connection is dropped, and the caller's next loop
// iteration reconnects and resends it before resuming the queue.
func (c *Client) sendOne(ctx context.Context, payload string) bool {
	if c.conn == nil {
		c.replay = payload
		c.hasReplay = true
		return false
	}

	_, err := fmt.Fprintf(c.conn, "%s\n", payload)
	if err != nil {
		c.log.Warn("send failed, buffering for replay", "error", err)
		c.replay = payload
		c.hasReplay = true
		c.closeConn()
		if !c.connectLoop(ctx) {
			return false
		}
		return false
	}
	return true
}

func (c *Client) closeConn() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
