// Package chain names the EVM chains a wallet may report
package chain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Chain describes a known EVM chain
type Chain struct {
	Key            string
	Name           string
	ID             uint64
	ExplorerURL    string
	NativeCurrency string
	Testnet        bool
}

var known = []Chain{
	{Key: "ethereum", Name: "Ethereum Mainnet", ID: 1, ExplorerURL: "https://etherscan.io", NativeCurrency: "ETH"},
	{Key: "optimism", Name: "Optimism", ID: 10, ExplorerURL: "https://optimistic.etherscan.io", NativeCurrency: "ETH"},
	{Key: "bsc", Name: "BNB Smart Chain", ID: 56, ExplorerURL: "https://bscscan.com", NativeCurrency: "BNB"},
	{Key: "polygon", Name: "Polygon", ID: 137, ExplorerURL: "https://polygonscan.com", NativeCurrency: "MATIC"},
	{Key: "base", Name: "Base", ID: 8453, ExplorerURL: "https://basescan.org", NativeCurrency: "ETH"},
	{Key: "arbitrum", Name: "Arbitrum One", ID: 42161, ExplorerURL: "https://arbiscan.io", NativeCurrency: "ETH"},
	{Key: "base-sepolia", Name: "Base Sepolia Testnet", ID: 84532, ExplorerURL: "https://sepolia.basescan.org", NativeCurrency: "ETH", Testnet: true},
	{Key: "sepolia", Name: "Sepolia Testnet", ID: 11155111, ExplorerURL: "https://sepolia.etherscan.io", NativeCurrency: "ETH", Testnet: true},
}

// Known returns the built-in chains ordered by id
func Known() []Chain {
	out := make([]Chain, len(known))
	copy(out, known)
	return out
}

// ByID looks a chain up by id
func ByID(id uint64) (Chain, bool) {
	for _, c := range known {
		if c.ID == id {
			return c, true
		}
	}
	return Chain{}, false
}

// ByKey looks a chain up by its short name
func ByKey(key string) (Chain, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, c := range known {
		if c.Key == key {
			return c, true
		}
	}
	return Chain{}, false
}

// Resolve accepts a chain key, a decimal id or a 0x-prefixed hex id
func Resolve(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if c, ok := ByKey(s); ok {
		return c.ID, nil
	}
	if strings.HasPrefix(s, "0x") {
		id, err := hexutil.DecodeUint64(s)
		if err != nil {
			return 0, fmt.Errorf("invalid chain id %q: %w", s, err)
		}
		return id, nil
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("unknown chain %q", s)
	}
	return id, nil
}

// Label renders a chain id for display
func Label(id uint64) string {
	if c, ok := ByID(id); ok {
		return fmt.Sprintf("%s (%d)", c.Name, id)
	}
	return fmt.Sprintf("chain %d", id)
}
