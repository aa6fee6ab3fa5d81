package wsapi

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chat-platform/internal/config"

	"github.com/gorilla/websocket"
)

var (
	ErrBackpressure = errors.New("ws: send buffer full")
	ErrClosed       = errors.New("ws: connection closed")
)

type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingPeriod   time.Duration
	ReadLimit    int64
}

func OptionsFromConfig(cfg config.WSConfig) Options {
	return Options{
		SendBuffer:   cfg.SendBuffer,
		WriteTimeout: cfg.WriteTimeout,
		PingPeriod:   cfg.PingPeriod,
		ReadLimit:    cfg.ReadLimit,
	}
}

func (o Options) withDefaults() Options {
	out := o
	if out.SendBuffer <= 0 {
		out.SendBuffer = 64
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 5 * time.Second
	}
	if out.PingPeriod <= 0 {
		out.PingPeriod = 30 * time.Second
	}
	if out.ReadLimit <= 0 {
		out.ReadLimit = 64 << 10
	}
	return out
}

// pongWait is how long a silent peer is tolerated.
func (o Options) pongWait() time.Duration {
	return 2 * o.PingPeriod
}

// Conn is a websocket client handle. Frames are queued on a bounded buffer
// drained by writePump, so Send never blocks the caller.
type Conn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	opts Options

	closeOnce sync.Once
	closed    atomic.Bool
}

func newConn(ws *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		ws:   ws,
		send: make(chan []byte, opts.SendBuffer),
		done: make(chan struct{}),
		opts: opts,
	}
}

func (c *Conn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close stops the write pump, which flushes queued frames, sends a close
// frame and releases the socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	return nil
}

func (c *Conn) writePump(log *slog.Logger) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.flush()
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				log.Debug("ws write failed", "err", err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				log.Debug("ws ping failed", "err", err)
				_ = c.Close()
				return
			}
		}
	}
}

func (c *Conn) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}
