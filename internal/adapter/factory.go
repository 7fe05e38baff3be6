package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yolodolo42/walletgate/internal/provider"
	"github.com/yolodolo42/walletgate/internal/relay"
)

// Config holds what adapters need beyond a descriptor
type Config struct {
	Env          provider.Environment
	RelayURL     string
	AppName      string
	PollInterval time.Duration
	PollTimeout  time.Duration
	Logger       zerolog.Logger

	// Dial overrides how relay connections are opened
	Dial Dialer
}

// Factory builds adapters by transport
type Factory struct {
	cfg Config
}

// NewFactory creates a factory. Zero poll settings take their defaults.
func NewFactory(cfg Config) *Factory {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.Dial == nil {
		url, logger := cfg.RelayURL, cfg.Logger
		cfg.Dial = func(ctx context.Context) (*relay.Conn, error) {
			return relay.Dial(ctx, url, relay.WithLogger(logger))
		}
	}
	return &Factory{cfg: cfg}
}

// New returns the adapter for desc
func (f *Factory) New(desc provider.Descriptor) (Adapter, error) {
	switch desc.Transport {
	case provider.TransportInjected:
		return NewInjected(desc, f.cfg.Env), nil
	case provider.TransportDeepLink:
		var fallback Adapter
		if f.cfg.RelayURL != "" {
			fallback = f.relay(provider.Descriptor{ID: provider.WalletConnect, DisplayName: "WalletConnect", Transport: provider.TransportRelayBridge})
		}
		return NewDeepLink(desc, f.cfg.Env, f.cfg.PollInterval, f.cfg.PollTimeout, fallback, f.logger(desc)), nil
	case provider.TransportRelayBridge:
		if f.cfg.RelayURL == "" {
			return nil, unavailable("connect", "no relay configured for %s", desc.DisplayName)
		}
		return f.relay(desc), nil
	default:
		return nil, fmt.Errorf("unsupported transport %s", desc.Transport)
	}
}

func (f *Factory) relay(desc provider.Descriptor) *Relay {
	meta := relay.Metadata{Name: f.cfg.AppName, URL: f.cfg.Env.AppURL()}
	return NewRelay(desc, f.cfg.RelayURL, f.cfg.Dial, meta, f.logger(desc))
}

func (f *Factory) logger(desc provider.Descriptor) zerolog.Logger {
	return f.cfg.Logger.With().Str("component", "adapter").Str("provider", string(desc.ID)).Logger()
}
