package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("relay connection closed")

const writeWait = 10 * time.Second

// DialOption configures Dial
type DialOption func(*dialOptions)

type dialOptions struct {
	attempts   int
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     zerolog.Logger
}

// WithAttempts sets how many times Dial tries before giving up
func WithAttempts(n int) DialOption {
	return func(o *dialOptions) { o.attempts = n }
}

// WithBackoff sets the delay bounds between dial attempts
func WithBackoff(min, max time.Duration) DialOption {
	return func(o *dialOptions) {
		o.minBackoff = min
		o.maxBackoff = max
	}
}

// WithLogger sets the connection logger
func WithLogger(l zerolog.Logger) DialOption {
	return func(o *dialOptions) { o.logger = l }
}

// Conn is a client connection to a relay server. Messages for each topic are
// delivered to the handler registered with Subscribe, on the read goroutine.
type Conn struct {
	ws     *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]func(payload string)

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay at url, retrying with backoff
func Dial(ctx context.Context, url string, opts ...DialOption) (*Conn, error) {
	o := dialOptions{
		attempts:   3,
		minBackoff: 200 * time.Millisecond,
		maxBackoff: 2 * time.Second,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	b := &backoff.Backoff{
		Min:    o.minBackoff,
		Max:    o.maxBackoff,
		Factor: 2,
		Jitter: true,
	}

	for {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			return newConn(ws, o.logger), nil
		}

		// b.Attempt() starts from zero
		n := int(b.Attempt()) + 1
		if n >= o.attempts {
			return nil, fmt.Errorf("exhausted %d attempts dialing relay %s: %w", o.attempts, url, err)
		}

		wait := b.Duration()
		o.logger.Warn().Err(err).Int("attempt", n).Dur("retry_in", wait).Str("url", url).Msg("relay dial failed")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("dial relay %s: %w", url, ctx.Err())
		case <-t.C:
		}
	}
}

func newConn(ws *websocket.Conn, logger zerolog.Logger) *Conn {
	c := &Conn{
		ws:       ws,
		logger:   logger,
		handlers: make(map[string]func(string)),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Subscribe routes messages on topic to fn and asks the relay for them,
// including any it queued before the subscription.
func (c *Conn) Subscribe(topic string, fn func(payload string)) error {
	c.mu.Lock()
	c.handlers[topic] = fn
	c.mu.Unlock()
	return c.write(Frame{Type: FrameSubscribe, Topic: topic})
}

// Unsubscribe stops delivery for topic
func (c *Conn) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.handlers, topic)
	c.mu.Unlock()
	return c.write(Frame{Type: FrameUnsubscribe, Topic: topic})
}

// Publish sends payload to every other subscriber of topic
func (c *Conn) Publish(topic, payload string) error {
	return c.write(Frame{Type: FramePublish, Topic: topic, Payload: payload})
}

// Done is closed when the connection ends
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close terminates the connection. Safe to call more than once and from a
// message handler.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.ws.Close()
		close(c.done)
	})
	return err
}

func (c *Conn) write(f Frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(f)
}

func (c *Conn) readLoop() {
	defer func() { _ = c.Close() }()

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-c.done:
				default:
					c.logger.Debug().Err(err).Msg("relay read ended")
				}
			}
			return
		}

		switch f.Type {
		case FrameMessage:
			c.mu.Lock()
			fn := c.handlers[f.Topic]
			c.mu.Unlock()
			if fn != nil {
				fn(f.Payload)
			}
		case FrameError:
			c.logger.Warn().Str("topic", f.Topic).Str("error", f.Error).Msg("relay reported error")
		}
	}
}
