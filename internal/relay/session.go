package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/yolodolo42/walletgate/internal/provider"
	"github.com/yolodolo42/walletgate/internal/walleterr"
)

// Metadata identifies the dapp to the wallet during a proposal
type Metadata struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Settlement is the wallet's answer to an approved proposal
type Settlement struct {
	Accounts []string `json:"accounts"`
	ChainID  string   `json:"chainId"`
}

type sessionEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Session is the dapp side of a pairing. Once settled it behaves as an
// injected provider whose requests are answered by the remote wallet.
type Session struct {
	uri  URI
	conn *Conn
	peer *peer

	mu         sync.Mutex
	listeners  map[string]map[int]func(json.RawMessage)
	nextID     int
	settlement *Settlement
	closed     bool
}

// Pair opens a pairing on conn. The returned session is not usable until
// Propose succeeds.
func Pair(conn *Conn, relayURL string, logger zerolog.Logger) (*Session, error) {
	uri, err := NewURI(relayURL)
	if err != nil {
		return nil, err
	}
	s := &Session{
		uri:       uri,
		conn:      conn,
		listeners: make(map[string]map[int]func(json.RawMessage)),
	}
	s.peer, err = newPeer(conn, uri, s.handle, logger.With().Str("topic", uri.Topic[:8]).Logger())
	if err != nil {
		return nil, err
	}
	go s.watch()
	return s, nil
}

// URI returns the pairing uri to hand to the wallet
func (s *Session) URI() URI { return s.uri }

// Propose asks the wallet to approve the session and waits for its answer.
// The proposal is queued by the relay until the wallet joins the topic.
func (s *Session) Propose(ctx context.Context, meta Metadata) (*Settlement, error) {
	raw, err := s.peer.call(ctx, MethodSessionPropose, meta)
	if err != nil {
		return nil, err
	}
	var settled Settlement
	if err := json.Unmarshal(raw, &settled); err != nil {
		return nil, fmt.Errorf("decode settlement: %w", err)
	}
	if len(settled.Accounts) == 0 {
		return nil, walleterr.New(walleterr.KindProviderUnavailable, "connect", "wallet settled without accounts")
	}

	s.mu.Lock()
	s.settlement = &settled
	s.mu.Unlock()
	return &settled, nil
}

// Request forwards an RPC request to the wallet
func (s *Session) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	s.mu.Lock()
	settled := s.settlement != nil
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil, &provider.RPCError{Code: walleterr.CodeDisconnected, Message: "session closed"}
	}
	if !settled {
		return nil, &provider.RPCError{Code: walleterr.CodeUnauthorized, Message: "session not settled"}
	}
	if params == nil {
		params = []any{}
	}
	return s.peer.call(ctx, method, params)
}

// On registers an event listener
func (s *Session) On(event string, fn func(json.RawMessage)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	if s.listeners[event] == nil {
		s.listeners[event] = make(map[int]func(json.RawMessage))
	}
	s.listeners[event][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners[event], id)
		})
	}
}

// Flags implements provider.InjectedProvider. Relay sessions advertise none.
func (s *Session) Flags() map[string]bool { return map[string]bool{} }

// Close deletes the session on the wallet and drops the relay connection
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.peer.notify(MethodSessionDelete, struct{}{})
	s.peer.close()
	return s.conn.Close()
}

func (s *Session) handle(m Message) {
	switch m.Method {
	case MethodSessionEvent:
		var ev sessionEvent
		if err := json.Unmarshal(m.Params, &ev); err != nil {
			return
		}
		s.emit(ev.Event, ev.Data)
	case MethodSessionDelete:
		s.remoteClosed()
	default:
		if m.IsRequest() {
			_ = s.peer.reply(m.ID, nil, &provider.RPCError{Code: walleterr.CodeUnsupportedMethod, Message: "dapp accepts no requests"})
		}
	}
}

// watch reports a dropped relay connection as a disconnect
func (s *Session) watch() {
	<-s.conn.Done()
	s.remoteClosed()
}

func (s *Session) remoteClosed() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	raw, _ := json.Marshal(provider.RPCError{Code: walleterr.CodeDisconnected, Message: "wallet ended the session"})
	s.emit(provider.EventDisconnect, raw)
	s.peer.close()
	_ = s.conn.Close()
}

func (s *Session) emit(event string, data json.RawMessage) {
	s.mu.Lock()
	fns := make([]func(json.RawMessage), 0, len(s.listeners[event]))
	for _, fn := range s.listeners[event] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(data)
	}
}
