package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/pkg/errors"

	"github.com/maheshalyana/letterflow/pkg/collaboration"
	"github.com/maheshalyana/letterflow/pkg/models"
	ws "github.com/maheshalyana/letterflow/pkg/models/websocket"
)

// RateLimiter implements a token bucket. It is used from the read pump only
// and needs no locking.
type RateLimiter struct {
	tokens    float64
	capacity  float64
	rate      float64
	lastCheck time.Time
}

func NewRateLimiter(rate, capacity float64) *RateLimiter {
	return &RateLimiter{
		tokens:    capacity,
		capacity:  capacity,
		rate:      rate,
		lastCheck: time.Now(),
	}
}

func (r *RateLimiter) Allow() bool {
	now := time.Now()
	elapsed := now.Sub(r.lastCheck).Seconds()
	r.lastCheck = now

	r.tokens += elapsed * r.rate
	if r.tokens > r.capacity {
		r.tokens = r.capacity
	}

	if r.tokens >= 1.0 {
		r.tokens -= 1.0
		return true
	}
	return false
}

// Connection is one client attached to a document session.
type Connection struct {
	ID            string
	ParticipantID string
	Role          models.Role
	DisplayName   string
	Color         string
	AvatarURL     string

	hub     *Server
	session *Session
	conn    *websocket.Conn
	send    chan []byte

	state    atomic.Int32
	joined   atomic.Bool
	openedAt time.Time
	limiter  *RateLimiter

	closeOnce sync.Once
	closed    chan struct{}
}

// State returns the connection lifecycle state.
func (c *Connection) State() ws.ConnectionState {
	return ws.ConnectionState(c.state.Load())
}

// SetState records a lifecycle transition.
func (c *Connection) SetState(state ws.ConnectionState) {
	c.state.Store(int32(state))
}

// SendMessage queues a message for delivery. It never blocks; a full send
// channel returns ErrChannelFull.
func (c *Connection) SendMessage(msg *ws.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return errors.New("connection closed")
	case c.send <- data:
		return nil
	default:
		return ErrChannelFull
	}
}

// SendUpdate queues a buffer update frame.
func (c *Connection) SendUpdate(update []byte) error {
	return c.SendMessage(&ws.Message{
		Type:   ws.MessageTypeUpdate,
		Update: update,
	})
}

// sendError sends an error frame, dropping it when the channel is full.
func (c *Connection) sendError(code int, message string) {
	if err := c.SendMessage(ws.NewErrorMessage(code, message)); err != nil {
		c.hub.logger.Warn("Failed to send error frame", map[string]interface{}{
			"connection_id": c.ID,
			"code":          code,
		})
		c.hub.collector.RecordMessageDropped("channel_full")
	}
}

// readPump pumps protocol frames from the websocket into the session.
func (c *Connection) readPump(ctx context.Context) {
	defer c.close(websocket.StatusNormalClosure, "")

	for {
		var msg ws.Message
		err := wsjson.Read(ctx, c.conn, &msg)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return
			}
			c.hub.logger.Debug("Read error", map[string]interface{}{
				"connection_id": c.ID,
				"error":         err.Error(),
			})
			return
		}

		if !c.limiter.Allow() {
			c.hub.collector.RecordError("rate_limit")
			c.sendError(ws.ErrCodeRateLimited, "rate limit exceeded")
			continue
		}

		c.hub.collector.RecordMessage("received", string(msg.Type))
		if done := c.handleMessage(ctx, &msg); done {
			return
		}
	}
}

// handleMessage dispatches one inbound frame. It returns true when the
// connection must stop reading.
func (c *Connection) handleMessage(ctx context.Context, msg *ws.Message) bool {
	switch msg.Type {
	case ws.MessageTypeSync:
		diff, err := c.session.buffer.ComputeUpdateSince(fromWireVector(msg.StateVector))
		if err != nil {
			c.sendError(ws.ErrCodeServerError, "failed to compute sync reply")
			return false
		}
		if err := c.SendMessage(&ws.Message{Type: ws.MessageTypeSyncReply, Update: diff}); err != nil {
			c.closeSlow()
			return true
		}
		if c.State() == ws.ConnectionStateSyncing {
			c.activate()
		}
		return false

	case ws.MessageTypeSyncReply, ws.MessageTypeUpdate:
		if len(msg.Update) == 0 {
			return false
		}
		if !c.Role.CanEdit() {
			c.hub.collector.RecordError("forbidden_edit")
			c.sendError(ws.ErrCodeForbidden, "document is read-only for this user")
			return false
		}
		if err := c.session.Apply(ctx, c, msg.Update); err != nil {
			if errors.Is(err, collaboration.ErrMalformedUpdate) {
				c.hub.collector.RecordError("protocol")
				// Written synchronously so the frame is not lost in the
				// send channel when the close lands right behind it.
				writeCtx, cancel := context.WithTimeout(ctx, c.hub.config.WriteTimeout)
				_ = wsjson.Write(writeCtx, c.conn, ws.NewErrorMessage(ws.ErrCodeProtocol, "malformed update"))
				cancel()
				c.close(websocket.StatusCode(ws.ErrCodeProtocol), "malformed update")
				return true
			}
			c.sendError(ws.ErrCodeServerError, "failed to apply update")
		}
		return false

	case ws.MessageTypeError:
		c.hub.logger.Debug("Client error frame", map[string]interface{}{
			"connection_id": c.ID,
			"error":         msg.Error,
		})
		return false

	default:
		c.hub.collector.RecordError("protocol")
		c.sendError(ws.ErrCodeProtocol, "unknown message type")
		return false
	}
}

// activate completes the sync handshake: the client learns its role and
// joins the presence roster.
func (c *Connection) activate() {
	c.SetState(ws.ConnectionStateActive)
	if err := c.SendMessage(&ws.Message{Type: ws.MessageTypePermission, Role: c.Role}); err != nil {
		c.closeSlow()
		return
	}
	c.joined.Store(true)
	c.session.presence.join(c)
	c.session.broadcastPresence()

	c.hub.logger.Info("Connection active", map[string]interface{}{
		"connection_id":  c.ID,
		"document_id":    c.session.documentID,
		"participant_id": c.ParticipantID,
		"role":           string(c.Role),
	})
}

// writePump drains the send channel onto the websocket and keeps the
// connection alive with pings.
func (c *Connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-c.closed:
			return

		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, c.hub.config.WriteTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.hub.logger.Debug("Write error", map[string]interface{}{
					"connection_id": c.ID,
					"error":         err.Error(),
				})
				return
			}
			c.hub.collector.RecordMessage("sent", "frame")

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.hub.config.WriteTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.hub.logger.Debug("Ping error", map[string]interface{}{
					"connection_id": c.ID,
					"error":         err.Error(),
				})
				return
			}
		}
	}
}

// closeSlow tears down a connection that cannot keep up with fan-out. The
// client is expected to reconnect and resync.
func (c *Connection) closeSlow() {
	c.close(websocket.StatusPolicyViolation, "connection too slow to keep up with updates")
}

// close tears the connection down exactly once: websocket close, presence
// leave, session release, server deregistration.
func (c *Connection) close(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.SetState(ws.ConnectionStateClosing)
		close(c.closed)

		if err := c.conn.Close(status, reason); err != nil {
			c.hub.logger.Debug("Error closing websocket", map[string]interface{}{
				"connection_id": c.ID,
				"error":         err.Error(),
			})
		}

		if c.joined.Load() {
			c.session.presence.leave(c)
		}
		c.session.release(c)
		if c.joined.Load() {
			c.session.broadcastPresence()
		}

		c.hub.removeConnection(c)
		c.hub.collector.RecordDisconnection(time.Since(c.openedAt))
		c.SetState(ws.ConnectionStateClosed)

		c.hub.logger.Info("Connection closed", map[string]interface{}{
			"connection_id": c.ID,
			"document_id":   c.session.documentID,
			"status":        int(status),
		})
	})
}
