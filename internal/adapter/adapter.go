// Package adapter turns a provider descriptor into a live wallet handle,
// hiding whether the wallet is injected, deep-linked or reached over a relay.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yolodolo42/walletgate/internal/provider"
	"github.com/yolodolo42/walletgate/internal/walleterr"
)

// Subscription is a registered event listener. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	once sync.Once
	fn   func()
}

func newSubscription(fn func()) Subscription {
	return &subscription{fn: fn}
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.fn)
}

// Handle is a connected wallet. Its event subscriptions must be released by
// the holder before the handle is dropped.
type Handle interface {
	// Address is the connected account, checksummed
	Address() string

	// ChainID is the chain the wallet reported at connect time
	ChainID() uint64

	// Sign asks the wallet to personal_sign message and returns the hex signature
	Sign(ctx context.Context, message string) (string, error)

	OnAccountsChanged(fn func(accounts []string)) Subscription
	OnChainChanged(fn func(chainID uint64)) Subscription
	OnDisconnect(fn func(err error)) Subscription

	// Disconnect releases the wallet session on a best-effort basis
	Disconnect(ctx context.Context) error
}

// Hooks lets a connect flow surface intermediate artifacts to the caller
type Hooks struct {
	// PairingURI is called with the relay pairing uri once it exists
	PairingURI func(uri string)
}

func (h Hooks) pairingURI(uri string) {
	if h.PairingURI != nil {
		h.PairingURI(uri)
	}
}

// Adapter connects to one kind of wallet
type Adapter interface {
	Descriptor() provider.Descriptor

	// Connect obtains an account from the wallet. The returned handle is the
	// caller's to release.
	Connect(ctx context.Context, hooks Hooks) (Handle, error)
}

// Prober is implemented by adapters that can report an already-authorized
// account without prompting the user.
type Prober interface {
	Probe(ctx context.Context) (address string, ok bool)
}

// classify maps provider failures onto the error taxonomy. Already
// classified errors pass through unchanged.
func classify(op string, err error, fallback walleterr.Kind) error {
	if err == nil {
		return nil
	}

	var we *walleterr.Error
	if errors.As(err, &we) {
		return we
	}

	var rpcErr *provider.RPCError
	if errors.As(err, &rpcErr) {
		kind := walleterr.FromCode(rpcErr.Code)
		if kind == walleterr.KindUnknown {
			kind = fallback
		}
		return &walleterr.Error{Kind: kind, Op: op, Msg: rpcErr.Message, Err: err}
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	return walleterr.As(err, op, fallback)
}

func unavailable(op string, format string, args ...any) error {
	return walleterr.New(walleterr.KindProviderUnavailable, op, fmt.Sprintf(format, args...))
}
