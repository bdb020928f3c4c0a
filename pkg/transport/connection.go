package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var (
	ErrClosed      = errors.New("transport: connection closed")
	ErrSendTimeout = errors.New("transport: send timed out")
)

// State is the lifecycle position of a connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// callback executed when a message is received. A returned error is a
// protocol violation and closes the connection.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte) error

type OnCloseHandler func(connID uuid.UUID, code websocket.StatusCode, reason string)

type ConnectionConfig struct {
	// ReadTimeout bounds the wait for the next inbound message. Zero disables it.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendBuffer   int
	ReadLimit    int64
}

const defaultSendBuffer = 256

// Connection represents a single, thread-safe WebSocket connection.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte
	state  atomic.Int32

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, conn *websocket.Conn, config ConnectionConfig, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaultSendBuffer
	}

	return &Connection{
		id:     id,
		conn:   conn,
		config: config,
		send:   make(chan []byte, config.SendBuffer),
		done:   make(chan struct{}),
		ctx:    connCtx,
		cancel: cancel,
		logger: logger.With(slog.String("connID", id.String())),
	}
}

// Run starts the pumps. The connection is torn down through Close, which
// every pump calls on exit; Done reports when that has finished.
func (c *Connection) Run() {
	if c.config.ReadLimit > 0 {
		c.conn.SetReadLimit(c.config.ReadLimit)
	}
	go c.readPump()
	go c.writePump()
	if c.config.PingInterval > 0 {
		go c.pingPump()
	}
	c.logger.Debug("Connection pumps started")
}

// readPump pumps messages from the WebSocket connection to the message handler.
func (c *Connection) readPump() {
	code, reason := websocket.StatusNormalClosure, ""
	defer func() {
		c.Close(code, reason)
	}()

	for {
		readCtx, cancelRead := c.readContext()
		_, msg, err := c.conn.Read(readCtx)
		cancelRead()
		if err != nil {
			code, reason = closeReasonFor(err)
			if c.ctx.Err() == nil {
				c.logger.Debug("Connection read ended", slog.Any("error", err))
			}
			return
		}
		if hCode, hErr := c.dispatch(msg); hErr != nil {
			c.logger.Warn("Inbound message rejected", slog.Any("error", hErr))
			code, reason = hCode, hErr.Error()
			return
		}
	}
}

// dispatch hands one message to the handler; a panic in the handler is
// contained here and closes only this connection.
func (c *Connection) dispatch(msg []byte) (code websocket.StatusCode, err error) {
	defer func() {
		if r := recover(); r != nil {
			code, err = websocket.StatusInternalError, fmt.Errorf("message handler panicked: %v", r)
		}
	}()
	if c.onMessage == nil {
		return 0, nil
	}
	if err := c.onMessage(c.ctx, c.id, msg); err != nil {
		return websocket.StatusUnsupportedData, err
	}
	return 0, nil
}

// writePump pumps messages from the send channel to the WebSocket connection.
func (c *Connection) writePump() {
	for {
		select {
		case message := <-c.send:
			writeCtx, cancel := c.writeContext()
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.logger.Debug("Connection write failed", slog.Any("error", err))
				c.Close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) pingPump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, c.config.PingInterval)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if c.ctx.Err() == nil {
					c.logger.Debug("Ping failed", slog.Any("error", err))
					c.Close(websocket.StatusGoingAway, "ping timeout")
				}
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues a message for the client. It is safe for concurrent use and
// fails once the connection is closing or when ctx ends first. A peer that
// lets its buffer stay full past the deadline is disconnected.
func (c *Connection) Send(ctx context.Context, message []byte) error {
	if c.State() >= StateClosing {
		return ErrClosed
	}
	select {
	case c.send <- message:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.logger.Warn("Send buffer full past deadline, dropping slow connection")
			go c.Close(websocket.StatusTryAgainLater, "send buffer full")
		}
		return fmt.Errorf("%w: %w", ErrSendTimeout, ctx.Err())
	}
}

// Close shuts the connection down once; later calls are no-ops.
func (c *Connection) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.SetState(StateClosing)
		c.logger.Debug("Transport connection closing",
			slog.String("status", code.String()),
			slog.String("reason", reason),
		)

		if c.onClose != nil {
			c.onClose(c.id, code, reason)
		}
		// The close frame goes out before the pumps' context is cancelled;
		// cancelling a pending Read first makes the library close with its
		// own status.
		if c.conn != nil {
			c.conn.Close(code, reason)
		}
		c.cancel()
		c.SetState(StateClosed)
		close(c.done)
	})
}

func (c *Connection) readContext() (context.Context, context.CancelFunc) {
	if c.config.ReadTimeout > 0 {
		return context.WithTimeout(c.ctx, c.config.ReadTimeout)
	}
	return context.WithCancel(c.ctx)
}

func (c *Connection) writeContext() (context.Context, context.CancelFunc) {
	if c.config.WriteTimeout > 0 {
		return context.WithTimeout(c.ctx, c.config.WriteTimeout)
	}
	return context.WithCancel(c.ctx)
}

// closeReasonFor maps a read error to the status we answer with.
func closeReasonFor(err error) (websocket.StatusCode, string) {
	switch status := websocket.CloseStatus(err); status {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return status, ""
	case -1:
		if errors.Is(err, context.DeadlineExceeded) {
			return websocket.StatusPolicyViolation, "read timeout"
		}
		return websocket.StatusInternalError, "read failed"
	default:
		return websocket.StatusNormalClosure, ""
	}
}

// returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) SetState(s State) {
	c.state.Store(int32(s))
}

// Activate moves an authenticating connection to ACTIVE. It fails when the
// connection started closing in the meantime.
func (c *Connection) Activate() bool {
	return c.state.CompareAndSwap(int32(StateAuthenticating), int32(StateActive))
}

func (c *Connection) Logger() *slog.Logger {
	return c.logger
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
