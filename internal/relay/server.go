package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	defaultQueueLimit = 64
	defaultQueueTTL   = 5 * time.Minute
	sendBuffer        = 64
)

type queued struct {
	payload string
	at      time.Time
}

// Hub routes sealed payloads between subscribers of a topic. Payloads
// published to a topic nobody is subscribed to are held until someone
// subscribes or they expire.
type Hub struct {
	logger     zerolog.Logger
	queueLimit int
	queueTTL   time.Duration
	now        func() time.Time

	mu     sync.Mutex
	topics map[string]map[*client]struct{}
	queues map[string][]queued
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithQueue sets the per-topic store-and-forward bounds
func WithQueue(limit int, ttl time.Duration) HubOption {
	return func(h *Hub) {
		h.queueLimit = limit
		h.queueTTL = ttl
	}
}

// NewHub creates a relay hub
func NewHub(logger zerolog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		logger:     logger.With().Str("component", "relay").Logger(),
		queueLimit: defaultQueueLimit,
		queueTTL:   defaultQueueTTL,
		now:        time.Now,
		topics:     make(map[string]map[*client]struct{}),
		queues:     make(map[string][]queued),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetupRouter returns the relay's HTTP surface
func SetupRouter(h *Hub) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "topics": h.TopicCount()})
	})
	router.GET("/relay", h.Serve)

	return router
}

// Serve upgrades the request and pumps frames until the client leaves
func (h *Hub) Serve(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("upgrade failed")
		return
	}

	cl := &client{
		ws:     ws,
		send:   make(chan Frame, sendBuffer),
		topics: make(map[string]struct{}),
	}
	go cl.writeLoop()

	defer func() {
		h.drop(cl)
		close(cl.send)
	}()

	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		h.dispatch(cl, f)
	}
}

// TopicCount returns the number of topics with live subscribers
func (h *Hub) TopicCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics)
}

func (h *Hub) dispatch(cl *client, f Frame) {
	if f.Topic == "" {
		cl.trySend(Frame{Type: FrameError, Error: "missing topic"})
		return
	}

	switch f.Type {
	case FrameSubscribe:
		h.subscribe(cl, f.Topic)
	case FrameUnsubscribe:
		h.unsubscribe(cl, f.Topic)
	case FramePublish:
		h.publish(cl, f.Topic, f.Payload)
	default:
		cl.trySend(Frame{Type: FrameError, Topic: f.Topic, Error: "unknown frame type " + f.Type})
	}
}

func (h *Hub) subscribe(cl *client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[*client]struct{})
		h.topics[topic] = subs
	}
	subs[cl] = struct{}{}
	cl.topics[topic] = struct{}{}

	cutoff := h.now().Add(-h.queueTTL)
	for _, q := range h.queues[topic] {
		if q.at.After(cutoff) {
			cl.trySend(Frame{Type: FrameMessage, Topic: topic, Payload: q.payload})
		}
	}
	delete(h.queues, topic)
}

func (h *Hub) unsubscribe(cl *client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(cl, topic)
}

func (h *Hub) publish(from *client, topic, payload string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := false
	for cl := range h.topics[topic] {
		if cl == from {
			continue
		}
		cl.trySend(Frame{Type: FrameMessage, Topic: topic, Payload: payload})
		delivered = true
	}
	if delivered {
		return
	}

	now := h.now()
	h.expireLocked(now)

	q := append(h.queues[topic], queued{payload: payload, at: now})
	if len(q) > h.queueLimit {
		q = q[len(q)-h.queueLimit:]
	}
	h.queues[topic] = q
}

// expireLocked drops queued payloads older than the TTL, along with topics
// left with nothing queued. Queues are in publish order.
func (h *Hub) expireLocked(now time.Time) {
	cutoff := now.Add(-h.queueTTL)
	for topic, q := range h.queues {
		i := 0
		for i < len(q) && !q[i].at.After(cutoff) {
			i++
		}
		switch {
		case i == len(q):
			delete(h.queues, topic)
		case i > 0:
			h.queues[topic] = q[i:]
		}
	}
}

func (h *Hub) drop(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic := range cl.topics {
		h.removeLocked(cl, topic)
	}
}

func (h *Hub) removeLocked(cl *client, topic string) {
	delete(cl.topics, topic)
	subs := h.topics[topic]
	if subs == nil {
		return
	}
	delete(subs, cl)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

type client struct {
	ws     *websocket.Conn
	send   chan Frame
	topics map[string]struct{} // guarded by Hub.mu
}

// trySend never blocks the hub; a client that cannot keep up is cut off
func (cl *client) trySend(f Frame) {
	select {
	case cl.send <- f:
	default:
		_ = cl.ws.Close()
	}
}

func (cl *client) writeLoop() {
	for f := range cl.send {
		_ = cl.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := cl.ws.WriteJSON(f); err != nil {
			_ = cl.ws.Close()
			return
		}
	}
	_ = cl.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = cl.ws.Close()
}
