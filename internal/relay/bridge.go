package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/yolodolo42/walletgate/internal/provider"
	"github.com/yolodolo42/walletgate/internal/walleterr"
)

// Methods a dapp may invoke on the wallet through a bridge
var bridgedMethods = map[string]bool{
	"eth_requestAccounts":        true,
	"eth_accounts":               true,
	"eth_chainId":                true,
	"personal_sign":              true,
	"wallet_switchEthereumChain": true,
}

// Bridge is the wallet side of a pairing. It answers the dapp's proposal and
// requests from a local provider and forwards the provider's events.
type Bridge struct {
	conn     *Conn
	peer     *peer
	provider provider.InjectedProvider
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	unsubs    []func()
	done      chan struct{}
	closeOnce sync.Once
}

// Answer joins the pairing described by uri on conn and serves p to the dapp
// until either side ends the session or ctx is done.
func Answer(ctx context.Context, conn *Conn, uri URI, p provider.InjectedProvider, logger zerolog.Logger) (*Bridge, error) {
	bctx, cancel := context.WithCancel(ctx)
	b := &Bridge{
		conn:     conn,
		provider: p,
		logger:   logger.With().Str("topic", uri.Topic[:8]).Logger(),
		ctx:      bctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	var err error
	b.peer, err = newPeer(conn, uri, b.handle, b.logger)
	if err != nil {
		cancel()
		return nil, err
	}

	for _, event := range []string{provider.EventAccountsChanged, provider.EventChainChanged, provider.EventDisconnect} {
		event := event
		unsub := p.On(event, func(data json.RawMessage) {
			if err := b.peer.notify(MethodSessionEvent, sessionEvent{Event: event, Data: data}); err != nil {
				b.logger.Warn().Err(err).Str("event", event).Msg("failed to forward wallet event")
			}
		})
		b.mu.Lock()
		b.unsubs = append(b.unsubs, unsub)
		b.mu.Unlock()
	}

	go func() {
		select {
		case <-bctx.Done():
		case <-conn.Done():
		}
		b.shutdown()
	}()
	return b, nil
}

// Done is closed when the session ends
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Close ends the session and tells the dapp
func (b *Bridge) Close() {
	if b.peer != nil {
		_ = b.peer.notify(MethodSessionDelete, struct{}{})
	}
	b.shutdown()
}

func (b *Bridge) shutdown() {
	b.closeOnce.Do(func() {
		b.cancel()
		b.mu.Lock()
		unsubs := b.unsubs
		b.unsubs = nil
		b.mu.Unlock()
		for _, unsub := range unsubs {
			unsub()
		}
		if b.peer != nil {
			b.peer.close()
		}
		close(b.done)
	})
}

func (b *Bridge) handle(m Message) {
	switch {
	case m.Method == MethodSessionDelete:
		b.logger.Info().Msg("dapp ended the session")
		b.shutdown()
	case m.Method == MethodSessionPropose:
		b.propose(m)
	case !m.IsRequest():
	case bridgedMethods[m.Method]:
		var params []any
		if len(m.Params) > 0 {
			if err := json.Unmarshal(m.Params, &params); err != nil {
				_ = b.peer.reply(m.ID, nil, &provider.RPCError{Code: -32602, Message: "params must be an array"})
				return
			}
		}
		result, err := b.provider.Request(b.ctx, m.Method, params...)
		if err := b.peer.reply(m.ID, result, err); err != nil {
			b.logger.Warn().Err(err).Str("method", m.Method).Msg("failed to send reply")
		}
	default:
		_ = b.peer.reply(m.ID, nil, &provider.RPCError{Code: walleterr.CodeUnsupportedMethod, Message: "method " + m.Method + " not supported"})
	}
}

func (b *Bridge) propose(m Message) {
	var meta Metadata
	_ = json.Unmarshal(m.Params, &meta)
	b.logger.Info().Str("dapp", meta.Name).Str("url", meta.URL).Msg("session proposed")

	raw, err := b.provider.Request(b.ctx, "eth_requestAccounts")
	if err != nil {
		_ = b.peer.reply(m.ID, nil, err)
		return
	}
	var settled Settlement
	if err := json.Unmarshal(raw, &settled.Accounts); err != nil {
		_ = b.peer.reply(m.ID, nil, err)
		return
	}
	raw, err = b.provider.Request(b.ctx, "eth_chainId")
	if err != nil {
		_ = b.peer.reply(m.ID, nil, err)
		return
	}
	if err := json.Unmarshal(raw, &settled.ChainID); err != nil {
		_ = b.peer.reply(m.ID, nil, err)
		return
	}

	if err := b.peer.reply(m.ID, settled, nil); err != nil {
		b.logger.Warn().Err(err).Msg("failed to settle session")
	}
}
