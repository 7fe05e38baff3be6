package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/yolodolo42/walletgate/internal/provider"
	"github.com/yolodolo42/walletgate/internal/walleterr"
)

// ApprovalKind is the kind of request awaiting the account holder
type ApprovalKind string

const (
	ApproveConnect ApprovalKind = "connect"
	ApproveSign    ApprovalKind = "sign"
)

// ApprovalRequest is shown to the account holder before the wallet acts
type ApprovalRequest struct {
	Kind    ApprovalKind
	Address common.Address
	ChainID uint64
	Message string
}

// Approver decides whether a request may proceed. It may block until the
// account holder answers or ctx ends.
type Approver func(ctx context.Context, req ApprovalRequest) (bool, error)

// AutoApprove approves every request
func AutoApprove(context.Context, ApprovalRequest) (bool, error) { return true, nil }

// Provider exposes a Signer as an EIP-1193 provider. It backs the local
// keystore wallet and the wallet side of a relay pairing.
type Provider struct {
	signer  Signer
	approve Approver
	flags   map[string]bool

	mu         sync.Mutex
	chainID    uint64
	authorized bool
	prompting  bool
	listeners  map[string]map[int]func(json.RawMessage)
	nextID     int
}

// NewProvider creates a provider for signer on chainID advertising flags
func NewProvider(signer Signer, chainID uint64, approve Approver, flags ...string) *Provider {
	if approve == nil {
		approve = AutoApprove
	}
	p := &Provider{
		signer:    signer,
		approve:   approve,
		flags:     make(map[string]bool, len(flags)),
		chainID:   chainID,
		listeners: make(map[string]map[int]func(json.RawMessage)),
	}
	for _, f := range flags {
		p.flags[f] = true
	}
	return p
}

// Flags returns the advertised capability flags
func (p *Provider) Flags() map[string]bool {
	out := make(map[string]bool, len(p.flags))
	for k, v := range p.flags {
		out[k] = v
	}
	return out
}

// On registers an event listener
func (p *Provider) On(event string, fn func(data json.RawMessage)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	if p.listeners[event] == nil {
		p.listeners[event] = make(map[int]func(json.RawMessage))
	}
	p.listeners[event][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.listeners[event], id)
		})
	}
}

// ListenerCount returns the number of live listeners for event
func (p *Provider) ListenerCount(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners[event])
}

// Emit delivers an event to every listener registered for it. Listeners run
// on the caller's goroutine without the provider lock held.
func (p *Provider) Emit(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}

	p.mu.Lock()
	fns := make([]func(json.RawMessage), 0, len(p.listeners[event]))
	for _, fn := range p.listeners[event] {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(raw)
	}
}

// SwitchChain changes the active chain and announces it
func (p *Provider) SwitchChain(chainID uint64) {
	p.mu.Lock()
	changed := p.chainID != chainID
	p.chainID = chainID
	p.mu.Unlock()

	if changed {
		p.Emit(provider.EventChainChanged, hexutil.EncodeUint64(chainID))
	}
}

// Revoke drops the site authorization and announces an empty account list
func (p *Provider) Revoke() {
	p.mu.Lock()
	was := p.authorized
	p.authorized = false
	p.mu.Unlock()

	if was {
		p.Emit(provider.EventAccountsChanged, []string{})
	}
}

// Request handles the subset of EIP-1193 methods a login flow needs
func (p *Provider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	switch method {
	case "eth_requestAccounts":
		return p.requestAccounts(ctx)
	case "eth_accounts":
		p.mu.Lock()
		authorized := p.authorized
		p.mu.Unlock()
		if !authorized {
			return json.Marshal([]string{})
		}
		return json.Marshal([]string{p.signer.Address().Hex()})
	case "eth_chainId":
		p.mu.Lock()
		chainID := p.chainID
		p.mu.Unlock()
		return json.Marshal(hexutil.EncodeUint64(chainID))
	case "personal_sign":
		return p.personalSign(ctx, params)
	case "wallet_switchEthereumChain":
		chainID, err := switchChainParam(params)
		if err != nil {
			return nil, err
		}
		p.SwitchChain(chainID)
		return json.Marshal(nil)
	case "wallet_revokePermissions":
		p.Revoke()
		return json.Marshal(nil)
	default:
		return nil, &provider.RPCError{Code: walleterr.CodeUnsupportedMethod, Message: fmt.Sprintf("method %s not supported", method)}
	}
}

func (p *Provider) requestAccounts(ctx context.Context) (json.RawMessage, error) {
	accounts := []string{p.signer.Address().Hex()}

	p.mu.Lock()
	if p.authorized {
		p.mu.Unlock()
		return json.Marshal(accounts)
	}
	chainID := p.chainID
	p.mu.Unlock()

	ok, err := p.prompt(ctx, ApprovalRequest{Kind: ApproveConnect, Address: p.signer.Address(), ChainID: chainID})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &provider.RPCError{Code: walleterr.CodeUserRejected, Message: "User rejected the request."}
	}

	p.mu.Lock()
	p.authorized = true
	p.mu.Unlock()
	return json.Marshal(accounts)
}

func (p *Provider) personalSign(ctx context.Context, params []any) (json.RawMessage, error) {
	if len(params) < 2 {
		return nil, &provider.RPCError{Code: -32602, Message: "personal_sign expects message and address"}
	}
	msgHex, _ := params[0].(string)
	addr, _ := params[1].(string)

	if !strings.EqualFold(addr, p.signer.Address().Hex()) {
		return nil, &provider.RPCError{Code: walleterr.CodeUnauthorized, Message: "address is not authorized"}
	}
	p.mu.Lock()
	authorized := p.authorized
	chainID := p.chainID
	p.mu.Unlock()
	if !authorized {
		return nil, &provider.RPCError{Code: walleterr.CodeUnauthorized, Message: "account not connected"}
	}

	message, err := hexutil.Decode(msgHex)
	if err != nil {
		// Wallets accept plain text too
		message = []byte(msgHex)
	}

	ok, err := p.prompt(ctx, ApprovalRequest{Kind: ApproveSign, Address: p.signer.Address(), ChainID: chainID, Message: string(message)})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &provider.RPCError{Code: walleterr.CodeUserRejected, Message: "User denied message signature."}
	}

	sig, err := p.signer.SignMessage(message)
	if err != nil {
		return nil, err
	}
	return json.Marshal(hexutil.Encode(sig))
}

// prompt allows one outstanding approval at a time, like browser wallets do
func (p *Provider) prompt(ctx context.Context, req ApprovalRequest) (bool, error) {
	p.mu.Lock()
	if p.prompting {
		p.mu.Unlock()
		return false, &provider.RPCError{Code: walleterr.CodeResourceUnavailable, Message: "Request already pending. Please wait."}
	}
	p.prompting = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.prompting = false
		p.mu.Unlock()
	}()

	return p.approve(ctx, req)
}

func switchChainParam(params []any) (uint64, error) {
	invalid := &provider.RPCError{Code: -32602, Message: "expected [{chainId}]"}
	if len(params) == 0 {
		return 0, invalid
	}

	var raw string
	switch v := params[0].(type) {
	case map[string]string:
		raw = v["chainId"]
	case map[string]any:
		raw, _ = v["chainId"].(string)
	case string:
		raw = v
	}
	chainID, err := hexutil.DecodeUint64(raw)
	if err != nil {
		return 0, invalid
	}
	return chainID, nil
}
