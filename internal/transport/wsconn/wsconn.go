// Package wsconn is a websocket client that receives telemetry frames and
// sends recommendations back over the same connection.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/mohammed-shakir/stream-optimizer/internal/transport"
)

type Config struct {
	URL          string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxRetries bounds dial attempts per connect; 0 retries until ctx ends.
	MaxRetries int
	ReadLimit  int64
	Buffer     int
}

// Client owns at most one live connection. A dropped connection is redialed
// on the next Receive or Send.
type Client struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	sess   *session
	closed atomic.Bool
}

type session struct {
	conn   *websocket.Conn
	frames chan []byte
	done   chan struct{}
	quit   chan struct{}
	err    error // set before done is closed
	wmu    sync.Mutex
}

func New(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	return &Client{cfg: cfg, log: log.With("component", "wsconn", "url", cfg.URL)}
}

// Connected reports whether a live connection is held. It does not wait for
// an in-progress dial.
func (c *Client) Connected() bool {
	if !c.mu.TryLock() {
		return false
	}
	defer c.mu.Unlock()
	if c.sess == nil {
		return false
	}
	select {
	case <-c.sess.done:
		return false
	default:
		return true
	}
}

// Connect dials eagerly so startup can fail fast when the server is
// unreachable. Receive and Send dial on demand otherwise.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.current(ctx)
	return err
}

func (c *Client) current(ctx context.Context) (*session, error) {
	if c.closed.Load() {
		return nil, transport.ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		select {
		case <-c.sess.done:
			c.sess = nil
		default:
			return c.sess, nil
		}
	}
	s, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.sess = s
	return s, nil
}

func (c *Client) dial(ctx context.Context) (*session, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	var conn *websocket.Conn
	op := func() error {
		dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
		cn, _, err := dialer.DialContext(dctx, c.cfg.URL, nil)
		if err != nil {
			c.log.Warn("websocket dial failed", "err", err)
			return err
		}
		conn = cn
		return nil
	}

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = 250 * time.Millisecond
	ebo.MaxInterval = 5 * time.Second
	ebo.MaxElapsedTime = 0
	var b backoff.BackOff = ebo
	if c.cfg.MaxRetries > 0 {
		b = backoff.WithMaxRetries(ebo, uint64(c.cfg.MaxRetries))
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", c.cfg.URL, err)
	}

	conn.SetReadLimit(c.cfg.ReadLimit)
	s := &session{conn: conn, frames: make(chan []byte, c.cfg.Buffer), done: make(chan struct{}), quit: make(chan struct{})}
	go c.read(s)
	c.log.Info("websocket connected")
	return s, nil
}

// read hands frames off to Receive. gorilla connections do not survive a
// read deadline, so the timeout lives in Receive instead.
func (c *Client) read(s *session) {
	defer close(s.done)
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("websocket read error", "err", err)
			}
			s.err = err
			return
		}
		select {
		case s.frames <- msg:
		case <-s.quit:
			return
		}
	}
}

// Receive returns the next frame, dialing first if needed. A dropped
// connection is a transient error and the next call redials; after Close it
// returns transport.ErrClosed.
func (c *Client) Receive(ctx context.Context) ([]byte, error) {
	s, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	select {
	case msg := <-s.frames:
		return msg, nil
	case <-s.done:
		// drain anything read before the connection dropped
		select {
		case msg := <-s.frames:
			return msg, nil
		default:
		}
		if c.closed.Load() {
			return nil, transport.ErrClosed
		}
		return nil, fmt.Errorf("websocket connection lost: %w", s.err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send writes the envelope payload as one text frame.
func (c *Client) Send(ctx context.Context, env transport.Envelope) error {
	s, err := c.current(ctx)
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, env.Payload); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	close(s.quit)
	s.wmu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.wmu.Unlock()
	if err := s.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("websocket close: %w", err)
	}
	return nil
}
