// Package session persists the last successful wallet connection so a
// restarted client can reconnect silently.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/yolodolo42/walletgate/internal/provider"
)

// ErrNoRecord is returned by Load when nothing is persisted
var ErrNoRecord = errors.New("no saved wallet session")

// Record is what survives a restart. Tokens are not persisted; reconnecting
// verifies again.
type Record struct {
	Address     string      `json:"address"`
	ProviderID  provider.ID `json:"provider_id"`
	ChainID     uint64      `json:"chain_id"`
	ConnectedAt time.Time   `json:"connected_at"`
}

// Store persists at most one Record
type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, rec Record) error
	Clear(ctx context.Context) error
}
