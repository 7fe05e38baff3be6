package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/browser"
	"github.com/redis/go-redis/v9"

	"github.com/yolodolo42/walletgate/internal/adapter"
	"github.com/yolodolo42/walletgate/internal/backend"
	"github.com/yolodolo42/walletgate/internal/chain"
	"github.com/yolodolo42/walletgate/internal/challenge"
	"github.com/yolodolo42/walletgate/internal/config"
	"github.com/yolodolo42/walletgate/internal/events"
	"github.com/yolodolo42/walletgate/internal/orchestrator"
	"github.com/yolodolo42/walletgate/internal/provider"
	"github.com/yolodolo42/walletgate/internal/session"
	"github.com/yolodolo42/walletgate/internal/wallet"
)

// app holds the collaborators a command needs, built from cfg
type app struct {
	env      *provider.StaticEnvironment
	registry *provider.Registry
	store    session.Store
	bus      *events.Bus
	orch     *orchestrator.Orchestrator

	redis   *redis.Client
	signers []*wallet.KeySigner
}

// newRedis connects to the configured redis server
func newRedis(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func newStore(client *redis.Client) (session.Store, error) {
	if cfg.StoreDriver == config.StoreRedis {
		return session.NewRedisStore(client, cfg.StoreNamespace, cfg.StoreTTL), nil
	}
	return session.NewFileStore(cfg.DataDir)
}

func newBus(client *redis.Client) (*events.Bus, error) {
	if cfg.EventsDriver == config.EventsRedis {
		return events.NewRedisBus(client, logger)
	}
	return events.NewMemoryBus(logger), nil
}

// newApp wires the orchestrator. withWallet unlocks the configured local
// keystore account and exposes it as an injected wallet.
func newApp(ctx context.Context, withWallet bool) (*app, error) {
	a := &app{}

	if cfg.NeedsRedis() {
		client, err := newRedis(ctx)
		if err != nil {
			return nil, err
		}
		a.redis = client
	}

	var err error
	if a.store, err = newStore(a.redis); err != nil {
		a.close()
		return nil, err
	}
	if a.bus, err = newBus(a.redis); err != nil {
		a.close()
		return nil, err
	}

	a.env = provider.NewStaticEnvironment(cfg.Mobile, cfg.AppURL)
	a.env.SetOpener(browser.OpenURL)
	if withWallet && cfg.WalletAddress != "" {
		p, err := a.localWallet()
		if err != nil {
			a.close()
			return nil, err
		}
		a.env.Inject(p)
	}

	if a.registry, err = provider.NewRegistry(provider.DefaultDescriptors()); err != nil {
		a.close()
		return nil, err
	}

	a.orch, err = orchestrator.New(orchestrator.Config{
		Registry: a.registry,
		Env:      a.env,
		Adapters: adapter.NewFactory(adapter.Config{
			Env:          a.env,
			RelayURL:     cfg.RelayURL,
			AppName:      cfg.AppName,
			PollInterval: cfg.PollInterval,
			PollTimeout:  cfg.PollTimeout,
			Logger:       logger,
		}),
		Signer: challenge.NewSigner(challenge.Config{
			AppName: cfg.AppName,
			Timeout: cfg.SignerTimeout,
			Logger:  logger,
		}),
		Backend: backend.NewClient(cfg.BackendURL, backend.WithLogger(logger)),
		Store:   a.store,
		Events:  a.bus,
		Logger:  logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// localWallet unlocks the configured keystore account. Unlocking is the
// holder's consent, so the wallet approves requests without asking again.
func (a *app) localWallet() (*wallet.Provider, error) {
	if !common.IsHexAddress(cfg.WalletAddress) {
		return nil, fmt.Errorf("wallet.address %q is not an address", cfg.WalletAddress)
	}
	chainID, err := chain.Resolve(cfg.WalletChain)
	if err != nil {
		return nil, err
	}

	signer, err := unlock(common.HexToAddress(cfg.WalletAddress))
	if err != nil {
		return nil, err
	}
	a.signers = append(a.signers, signer)

	logger.Debug().Str("address", signer.Address().Hex()).Str("chain", chain.Label(chainID)).Msg("local wallet unlocked")
	return wallet.NewProvider(signer, chainID, wallet.AutoApprove, cfg.WalletFlags...), nil
}

// unlock asks for the keystore password of address
func unlock(address common.Address) (*wallet.KeySigner, error) {
	km, err := wallet.NewKeystoreManager(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keystore: %w", err)
	}

	password, err := readPassword(fmt.Sprintf("Password for %s: ", address.Hex()))
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}

	signer, err := km.GetSigner(address, password)
	if errors.Is(err, wallet.ErrAccountNotFound) {
		return nil, fmt.Errorf("no keystore account %s; use 'walletgate wallet list'", address.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unlock wallet: %w", err)
	}
	return signer, nil
}

func (a *app) close() {
	for _, s := range a.signers {
		s.Lock()
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
