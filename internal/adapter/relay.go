package adapter

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/yolodolo42/walletgate/internal/provider"
	"github.com/yolodolo42/walletgate/internal/relay"
	"github.com/yolodolo42/walletgate/internal/walleterr"
)

// Dialer opens a relay connection
type Dialer func(ctx context.Context) (*relay.Conn, error)

// Relay pairs with a remote wallet through a relay server. The pairing uri is
// surfaced through Hooks for the user to scan or paste into their wallet.
type Relay struct {
	desc     provider.Descriptor
	dial     Dialer
	relayURL string
	meta     relay.Metadata
	logger   zerolog.Logger
}

// NewRelay creates a relay-bridge adapter
func NewRelay(desc provider.Descriptor, relayURL string, dial Dialer, meta relay.Metadata, logger zerolog.Logger) *Relay {
	return &Relay{
		desc:     desc,
		dial:     dial,
		relayURL: relayURL,
		meta:     meta,
		logger:   logger,
	}
}

func (a *Relay) Descriptor() provider.Descriptor { return a.desc }

func (a *Relay) Connect(ctx context.Context, hooks Hooks) (Handle, error) {
	conn, err := a.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, walleterr.Wrap(walleterr.KindProviderUnavailable, "connect", err)
	}

	sess, err := relay.Pair(conn, a.relayURL, a.logger)
	if err != nil {
		_ = conn.Close()
		return nil, walleterr.Wrap(walleterr.KindProviderUnavailable, "connect", err)
	}
	hooks.pairingURI(sess.URI().String())

	if _, err := sess.Propose(ctx, a.meta); err != nil {
		_ = sess.Close()
		return nil, classify("connect", err, walleterr.KindProviderUnavailable)
	}

	h, err := connectInjected(ctx, sess, sess.Close)
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	a.logger.Info().Str("address", h.Address()).Msg("relay session settled")
	return h, nil
}
