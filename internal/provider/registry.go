package provider

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/yolodolo42/walletgate/internal/walleterr"
)

// ID is a unique wallet kind identifier
type ID string

const (
	MetaMask      ID = "metamask"
	Coinbase      ID = "coinbase"
	Injected      ID = "injected"
	Trust         ID = "trust"
	Rainbow       ID = "rainbow"
	WalletConnect ID = "walletconnect"
)

// TransportKind is how a wallet is reached
type TransportKind int

const (
	TransportInjected TransportKind = iota
	TransportDeepLink
	TransportRelayBridge
)

func (k TransportKind) String() string {
	switch k {
	case TransportInjected:
		return "injected"
	case TransportDeepLink:
		return "deep-link"
	case TransportRelayBridge:
		return "relay-bridge"
	default:
		return fmt.Sprintf("transport(%d)", int(k))
	}
}

// Descriptor describes a supported wallet kind. Descriptors are immutable once
// handed to a Registry.
type Descriptor struct {
	ID          ID
	DisplayName string
	Transport   TransportKind
	Recommended bool

	// Flag is the injected capability flag identifying this wallet, if any
	Flag string

	// DeepLink is a URI template; {url} is replaced with the escaped app URL
	DeepLink string

	// Detect reports whether the wallet is usable in env. It must not
	// initiate a connection.
	Detect func(env Environment) bool
}

// DeepLinkURL expands the descriptor's deep link for appURL
func (d Descriptor) DeepLinkURL(appURL string) string {
	return strings.ReplaceAll(d.DeepLink, "{url}", url.QueryEscape(appURL))
}

// DefaultDescriptors returns the built-in wallet catalogue in display order.
// Injected descriptors appear in detection precedence order.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			ID:          MetaMask,
			DisplayName: "MetaMask",
			Transport:   TransportInjected,
			Recommended: true,
			Flag:        FlagMetaMask,
			Detect:      flagDetector(FlagMetaMask),
		},
		{
			ID:          Coinbase,
			DisplayName: "Coinbase Wallet",
			Transport:   TransportInjected,
			Flag:        FlagCoinbaseWallet,
			Detect:      flagDetector(FlagCoinbaseWallet),
		},
		{
			// Any injected provider. Which wallet answers is not guaranteed
			// when none of the known flags match.
			ID:          Injected,
			DisplayName: "Browser Wallet",
			Transport:   TransportInjected,
			Detect: func(env Environment) bool {
				return len(env.InjectedProviders()) > 0
			},
		},
		{
			ID:          Trust,
			DisplayName: "Trust Wallet",
			Transport:   TransportDeepLink,
			Flag:        FlagTrust,
			DeepLink:    "trust://open_url?coin_id=60&url={url}",
			Detect:      deepLinkDetector(FlagTrust),
		},
		{
			ID:          Rainbow,
			DisplayName: "Rainbow",
			Transport:   TransportDeepLink,
			Flag:        FlagRainbow,
			DeepLink:    "rainbow://dapp?url={url}",
			Detect:      deepLinkDetector(FlagRainbow),
		},
		{
			ID:          WalletConnect,
			DisplayName: "WalletConnect",
			Transport:   TransportRelayBridge,
			Recommended: true,
			Detect:      func(Environment) bool { return true },
		},
	}
}

func flagDetector(flag string) func(Environment) bool {
	return func(env Environment) bool {
		_, ok := FindInjected(env, flag)
		return ok
	}
}

// Deep-linked wallets are usable when already injected (in-app browser) or
// when the platform can open their URI scheme.
func deepLinkDetector(flag string) func(Environment) bool {
	return func(env Environment) bool {
		if _, ok := FindInjected(env, flag); ok {
			return true
		}
		return env.IsMobile()
	}
}

// Registry is the catalogue of wallet kinds the client supports
type Registry struct {
	descriptors []Descriptor
	byID        map[ID]int
}

// NewRegistry creates a registry over descriptors. Duplicate ids are rejected.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	r := &Registry{
		descriptors: make([]Descriptor, 0, len(descriptors)),
		byID:        make(map[ID]int, len(descriptors)),
	}
	for _, d := range descriptors {
		if d.ID == "" {
			return nil, fmt.Errorf("descriptor %q has no id", d.DisplayName)
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate provider id: %s", d.ID)
		}
		if d.Detect == nil {
			return nil, fmt.Errorf("provider %s has no detect predicate", d.ID)
		}
		r.byID[d.ID] = len(r.descriptors)
		r.descriptors = append(r.descriptors, d)
	}
	return r, nil
}

// List returns all descriptors in catalogue order
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Get resolves a provider id
func (r *Registry) Get(id ID) (Descriptor, error) {
	i, ok := r.byID[id]
	if !ok {
		return Descriptor{}, walleterr.New(walleterr.KindProviderUnavailable, "resolve", fmt.Sprintf("unknown wallet %q", id))
	}
	return r.descriptors[i], nil
}

// DetectAvailable returns the injected wallet to use when the user did not
// choose one. Injected descriptors are evaluated in catalogue order, so a
// provider carrying several flags resolves to the earliest descriptor.
func (r *Registry) DetectAvailable(env Environment) (Descriptor, bool) {
	for _, d := range r.descriptors {
		if d.Transport != TransportInjected {
			continue
		}
		if d.Detect(env) {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Available returns every descriptor whose predicate currently holds
func (r *Registry) Available(env Environment) []Descriptor {
	var out []Descriptor
	for _, d := range r.descriptors {
		if d.Detect(env) {
			out = append(out, d)
		}
	}
	return out
}
