package orchestrator

import (
	"fmt"

	"github.com/yolodolo42/walletgate/internal/backend"
	"github.com/yolodolo42/walletgate/internal/provider"
	"github.com/yolodolo42/walletgate/internal/walleterr"
)

// Phase is the tag of the connection state
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseAwaitingSignature
	PhaseVerifying
	PhaseTracking
	PhaseConnected
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseAwaitingSignature:
		return "awaiting_signature"
	case PhaseVerifying:
		return "verifying"
	case PhaseTracking:
		return "tracking"
	case PhaseConnected:
		return "connected"
	case PhaseError:
		return "error"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// InFlight reports whether an attempt is running in this phase
func (p Phase) InFlight() bool {
	switch p {
	case PhaseConnecting, PhaseAwaitingSignature, PhaseVerifying, PhaseTracking:
		return true
	case PhaseIdle, PhaseConnected, PhaseError:
		return false
	default:
		return false
	}
}

// canTransition is the transition table. Same-phase updates such as a new
// pairing uri are not transitions and bypass it.
func canTransition(from, to Phase) bool {
	switch from {
	case PhaseIdle:
		return to == PhaseConnecting
	case PhaseConnecting:
		return to == PhaseAwaitingSignature || to == PhaseError || to == PhaseIdle
	case PhaseAwaitingSignature:
		return to == PhaseVerifying || to == PhaseError || to == PhaseIdle
	case PhaseVerifying:
		return to == PhaseTracking || to == PhaseError || to == PhaseIdle
	case PhaseTracking:
		return to == PhaseConnected || to == PhaseError || to == PhaseIdle
	case PhaseConnected:
		return to == PhaseIdle
	case PhaseError:
		return to == PhaseIdle || to == PhaseConnecting
	default:
		return false
	}
}

// Reason explains how the machine came back to Idle
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonCancelled       Reason = "cancelled"
	ReasonDisconnected    Reason = "disconnected"
	ReasonAccountsChanged Reason = "accounts_changed"
	ReasonChainChanged    Reason = "chain_changed"
	ReasonWalletClosed    Reason = "wallet_closed"
	ReasonReplaced        Reason = "replaced"
)

// State is a snapshot of the connection
type State struct {
	Phase      Phase
	AttemptID  string
	ProviderID provider.ID
	Address    string
	ChainID    uint64

	// PairingURI is set while a relay pairing waits for the wallet
	PairingURI string

	// Identity and AlreadyLinked are set once Connected
	Identity      *backend.Identity
	AlreadyLinked bool

	// Err is set in PhaseError
	Err *walleterr.Error

	// Reason is set in PhaseIdle after a teardown
	Reason Reason
}

// Retryable reports whether the UI should offer a retry
func (s State) Retryable() bool {
	return s.Phase == PhaseError && s.Err != nil && s.Err.Retryable()
}
