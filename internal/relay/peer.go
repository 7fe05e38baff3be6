package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/yolodolo42/walletgate/internal/provider"
)

// Session methods exchanged between dapp and wallet
const (
	MethodSessionPropose = "session_propose"
	MethodSessionEvent   = "session_event"
	MethodSessionDelete  = "session_delete"
)

const codeInternal = -32603

// Message is a JSON-RPC message carried inside a sealed envelope. Requests
// carry an ID and Method, notifications only a Method, responses only an ID.
type Message struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      uint64             `json:"id,omitempty"`
	Method  string             `json:"method,omitempty"`
	Params  json.RawMessage    `json:"params,omitempty"`
	Result  json.RawMessage    `json:"result,omitempty"`
	Error   *provider.RPCError `json:"error,omitempty"`
}

// IsRequest reports whether m expects a reply
func (m Message) IsRequest() bool { return m.Method != "" && m.ID != 0 }

// peer speaks encrypted JSON-RPC with the other side of a pairing topic
type peer struct {
	conn   *Conn
	topic  string
	key    []byte
	logger zerolog.Logger

	// handler receives requests and notifications. Requests are dispatched
	// on their own goroutine, notifications in arrival order.
	handler func(Message)

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan Message
	closed  bool
}

func newPeer(conn *Conn, uri URI, handler func(Message), logger zerolog.Logger) (*peer, error) {
	p := &peer{
		conn:    conn,
		topic:   uri.Topic,
		key:     uri.SymKey,
		logger:  logger,
		handler: handler,
		pending: make(map[uint64]chan Message),
	}
	if err := conn.Subscribe(uri.Topic, p.receive); err != nil {
		return nil, fmt.Errorf("subscribe to pairing topic: %w", err)
	}
	return p, nil
}

func (p *peer) send(m Message) error {
	m.JSONRPC = "2.0"
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	payload, err := seal(p.key, raw)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.topic, payload)
}

// call sends a request and waits for its response
func (p *peer) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.nextID++
	id := p.nextID
	ch := make(chan Message, 1)
	p.pending[id] = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if err := p.send(Message{ID: id, Method: method, Params: raw}); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.conn.Done():
		return nil, ErrClosed
	}
}

func (p *peer) notify(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return p.send(Message{Method: method, Params: raw})
}

func (p *peer) reply(id uint64, result any, callErr error) error {
	if callErr != nil {
		var rpcErr *provider.RPCError
		if !errors.As(callErr, &rpcErr) {
			rpcErr = &provider.RPCError{Code: codeInternal, Message: callErr.Error()}
		}
		return p.send(Message{ID: id, Error: rpcErr})
	}

	raw, ok := result.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(result); err != nil {
			return err
		}
	}
	return p.send(Message{ID: id, Result: raw})
}

func (p *peer) receive(payload string) {
	plaintext, err := open(p.key, payload)
	if err != nil {
		p.logger.Warn().Err(err).Str("topic", p.topic).Msg("dropping undecryptable message")
		return
	}
	var m Message
	if err := json.Unmarshal(plaintext, &m); err != nil {
		p.logger.Warn().Err(err).Str("topic", p.topic).Msg("dropping malformed message")
		return
	}

	if m.Method == "" {
		p.mu.Lock()
		if ch := p.pending[m.ID]; ch != nil {
			select {
			case ch <- m:
			default:
			}
		}
		p.mu.Unlock()
		return
	}

	if m.IsRequest() {
		go p.handler(m)
		return
	}
	p.handler(m)
}

func (p *peer) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
	p.mu.Unlock()

	_ = p.conn.Unsubscribe(p.topic)
}
