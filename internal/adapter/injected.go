package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/yolodolo42/walletgate/internal/provider"
	"github.com/yolodolo42/walletgate/internal/walleterr"
)

// Injected connects to a provider present in the environment
type Injected struct {
	desc provider.Descriptor
	env  provider.Environment
}

// NewInjected creates an adapter for an injected wallet
func NewInjected(desc provider.Descriptor, env provider.Environment) *Injected {
	return &Injected{desc: desc, env: env}
}

func (a *Injected) Descriptor() provider.Descriptor { return a.desc }

// target picks the provider advertising the descriptor's flag. Without a
// flag match the first provider is used, whichever wallet that is.
func (a *Injected) target() (provider.InjectedProvider, bool) {
	if a.desc.Flag != "" {
		if p, ok := provider.FindInjected(a.env, a.desc.Flag); ok {
			return p, true
		}
	}
	ps := a.env.InjectedProviders()
	if len(ps) == 0 {
		return nil, false
	}
	return ps[0], true
}

func (a *Injected) Connect(ctx context.Context, _ Hooks) (Handle, error) {
	p, ok := a.target()
	if !ok {
		return nil, unavailable("connect", "%s is not installed", a.desc.DisplayName)
	}
	return connectInjected(ctx, p, nil)
}

// Probe returns the authorized account without prompting
func (a *Injected) Probe(ctx context.Context) (string, bool) {
	p, ok := a.target()
	if !ok {
		return "", false
	}
	return probe(ctx, p)
}

func probe(ctx context.Context, p provider.InjectedProvider) (string, bool) {
	raw, err := p.Request(ctx, "eth_accounts")
	if err != nil {
		return "", false
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil || len(accounts) == 0 {
		return "", false
	}
	return common.HexToAddress(accounts[0]).Hex(), true
}

// connectInjected requests accounts and the active chain from p. closer, if
// set, runs on Disconnect after the wallet permission is released.
func connectInjected(ctx context.Context, p provider.InjectedProvider, closer func() error) (Handle, error) {
	raw, err := p.Request(ctx, "eth_requestAccounts")
	if err != nil {
		return nil, classify("connect", err, walleterr.KindProviderUnavailable)
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, walleterr.Wrap(walleterr.KindProviderUnavailable, "connect", err)
	}
	if len(accounts) == 0 || !common.IsHexAddress(accounts[0]) {
		return nil, unavailable("connect", "wallet returned no account")
	}

	raw, err = p.Request(ctx, "eth_chainId")
	if err != nil {
		return nil, classify("connect", err, walleterr.KindProviderUnavailable)
	}
	chainID, err := decodeChainID(raw)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindProviderUnavailable, "connect", err)
	}

	return &injectedHandle{
		p:       p,
		address: common.HexToAddress(accounts[0]).Hex(),
		chainID: chainID,
		closer:  closer,
	}, nil
}

func decodeChainID(raw json.RawMessage) (uint64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return hexutil.DecodeUint64(s)
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, errors.New("chain id is neither hex string nor number")
	}
	return n, nil
}

type injectedHandle struct {
	p       provider.InjectedProvider
	address string
	chainID uint64
	closer  func() error
}

func (h *injectedHandle) Address() string { return h.address }
func (h *injectedHandle) ChainID() uint64 { return h.chainID }

func (h *injectedHandle) Sign(ctx context.Context, message string) (string, error) {
	raw, err := h.p.Request(ctx, "personal_sign", hexutil.Encode([]byte(message)), h.address)
	if err != nil {
		return "", classify("sign", err, walleterr.KindProviderUnavailable)
	}
	var sig string
	if err := json.Unmarshal(raw, &sig); err != nil {
		return "", walleterr.Wrap(walleterr.KindProviderUnavailable, "sign", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) < 4 {
		return "", unavailable("sign", "wallet returned an empty signature")
	}
	return sig, nil
}

func (h *injectedHandle) OnAccountsChanged(fn func(accounts []string)) Subscription {
	return newSubscription(h.p.On(provider.EventAccountsChanged, func(data json.RawMessage) {
		var accounts []string
		_ = json.Unmarshal(data, &accounts)
		fn(accounts)
	}))
}

func (h *injectedHandle) OnChainChanged(fn func(chainID uint64)) Subscription {
	return newSubscription(h.p.On(provider.EventChainChanged, func(data json.RawMessage) {
		chainID, err := decodeChainID(data)
		if err != nil {
			return
		}
		fn(chainID)
	}))
}

func (h *injectedHandle) OnDisconnect(fn func(err error)) Subscription {
	return newSubscription(h.p.On(provider.EventDisconnect, func(data json.RawMessage) {
		rpcErr := &provider.RPCError{Code: walleterr.CodeDisconnected, Message: "wallet disconnected"}
		_ = json.Unmarshal(data, rpcErr)
		fn(classify("disconnect", rpcErr, walleterr.KindProviderUnavailable))
	}))
}

// Disconnect asks the wallet to drop the site permission. Wallets without
// wallet_revokePermissions keep it; that is not an error.
func (h *injectedHandle) Disconnect(ctx context.Context) error {
	_, _ = h.p.Request(ctx, "wallet_revokePermissions", map[string]any{"eth_accounts": map[string]any{}})
	if h.closer != nil {
		return h.closer()
	}
	return nil
}
