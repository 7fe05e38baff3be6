package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnown(t *testing.T) {
	chains := Known()

	t.Run("ordered by id with unique keys", func(t *testing.T) {
		keys := map[string]bool{}
		for i, c := range chains {
			assert.False(t, keys[c.Key], "duplicate key %s", c.Key)
			keys[c.Key] = true
			if i > 0 {
				assert.Less(t, chains[i-1].ID, c.ID)
			}
		}
	})

	t.Run("all chains have explorer URL", func(t *testing.T) {
		for _, c := range chains {
			assert.NotEmpty(t, c.ExplorerURL, "chain %s has no explorer URL", c.Key)
		}
	})

	t.Run("copy is independent", func(t *testing.T) {
		chains[0].Name = "changed"
		eth, ok := ByID(1)
		require.True(t, ok)
		assert.Equal(t, "Ethereum Mainnet", eth.Name)
	})
}

func TestResolve(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "ethereum", want: 1},
		{in: " Polygon ", want: 137},
		{in: "8453", want: 8453},
		{in: "0x89", want: 137},
		{in: "0xzz", wantErr: true},
		{in: "0", wantErr: true},
		{in: "dogechain", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Resolve(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Polygon (137)", Label(137))
	assert.Equal(t, "chain 999", Label(999))

	sepolia, ok := ByKey("sepolia")
	require.True(t, ok)
	assert.True(t, sepolia.Testnet)
}
