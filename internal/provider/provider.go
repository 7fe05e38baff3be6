package provider

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event names emitted by injected providers
const (
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
	EventDisconnect      = "disconnect"
)

// Capability flags injected providers advertise. Several may be set at once
// when one extension impersonates another.
const (
	FlagMetaMask       = "isMetaMask"
	FlagCoinbaseWallet = "isCoinbaseWallet"
	FlagTrust          = "isTrust"
	FlagRainbow        = "isRainbow"
)

// InjectedProvider is an EIP-1193 style provider object made available to the
// client directly, e.g. by an extension or the local keystore wallet.
type InjectedProvider interface {
	// Request performs a JSON-RPC request against the provider
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)

	// On registers an event listener and returns its unsubscribe function
	On(event string, fn func(data json.RawMessage)) (unsubscribe func())

	// Flags returns the capability flags the provider advertises
	Flags() map[string]bool
}

// RPCError is an error returned by a provider request
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// Environment is what the client can see of its surroundings
type Environment interface {
	// InjectedProviders lists injected providers in the order they were announced
	InjectedProviders() []InjectedProvider

	// IsMobile reports whether deep links should be used instead of extensions
	IsMobile() bool

	// OpenURL hands a deep link to the OS
	OpenURL(uri string) error

	// AppURL is the address wallets should return to after a deep link
	AppURL() string
}

// HasFlag reports whether p advertises flag
func HasFlag(p InjectedProvider, flag string) bool {
	if p == nil {
		return false
	}
	return p.Flags()[flag]
}

// FindInjected returns the first injected provider advertising flag
func FindInjected(env Environment, flag string) (InjectedProvider, bool) {
	for _, p := range env.InjectedProviders() {
		if HasFlag(p, flag) {
			return p, true
		}
	}
	return nil, false
}
