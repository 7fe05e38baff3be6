package adapter

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/yolodolo42/walletgate/internal/provider"
	"github.com/yolodolo42/walletgate/internal/walleterr"
)

// DeepLink opens a wallet app through its URI scheme and waits for it to
// inject a provider. When the wallet never appears the fallback adapter, if
// any, takes over.
type DeepLink struct {
	desc     provider.Descriptor
	env      provider.Environment
	interval time.Duration
	timeout  time.Duration
	fallback Adapter
	logger   zerolog.Logger
}

// NewDeepLink creates a deep-link adapter
func NewDeepLink(desc provider.Descriptor, env provider.Environment, interval, timeout time.Duration, fallback Adapter, logger zerolog.Logger) *DeepLink {
	return &DeepLink{
		desc:     desc,
		env:      env,
		interval: interval,
		timeout:  timeout,
		fallback: fallback,
		logger:   logger,
	}
}

func (a *DeepLink) Descriptor() provider.Descriptor { return a.desc }

func (a *DeepLink) Connect(ctx context.Context, hooks Hooks) (Handle, error) {
	// Already inside the wallet's in-app browser
	if p, ok := provider.FindInjected(a.env, a.desc.Flag); ok {
		return connectInjected(ctx, p, nil)
	}

	link := a.desc.DeepLinkURL(a.env.AppURL())
	a.logger.Info().Str("provider", string(a.desc.ID)).Str("link", link).Msg("opening wallet")

	var injected provider.InjectedProvider
	err := a.env.OpenURL(link)
	if err == nil {
		err = WaitFor(ctx, a.interval, a.timeout, func() bool {
			p, ok := provider.FindInjected(a.env, a.desc.Flag)
			injected = p
			return ok
		})
	} else {
		err = walleterr.Wrap(walleterr.KindProviderUnavailable, "connect", err)
	}

	if err == nil {
		return connectInjected(ctx, injected, nil)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if a.fallback == nil {
		return nil, err
	}

	a.logger.Info().Err(err).
		Str("provider", string(a.desc.ID)).
		Str("fallback", string(a.fallback.Descriptor().ID)).
		Msg("wallet did not respond to deep link, falling back")
	return a.fallback.Connect(ctx, hooks)
}

// Probe reports an authorized account when the wallet is already injected
func (a *DeepLink) Probe(ctx context.Context) (string, bool) {
	p, ok := provider.FindInjected(a.env, a.desc.Flag)
	if !ok {
		return "", false
	}
	return probe(ctx, p)
}
