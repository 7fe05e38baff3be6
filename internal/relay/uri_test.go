package relay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURI(t *testing.T) {
	t.Run("round trips", func(t *testing.T) {
		u, err := NewURI("wss://relay.example/relay")
		require.NoError(t, err)
		assert.Len(t, u.Topic, 64)
		assert.Len(t, u.SymKey, 32)

		s := u.String()
		assert.True(t, strings.HasPrefix(s, "wc:"+u.Topic+"@2?"))

		parsed, err := ParseURI(s)
		require.NoError(t, err)
		assert.Equal(t, u, parsed)
	})

	t.Run("fresh pairings differ", func(t *testing.T) {
		a, err := NewURI("ws://localhost")
		require.NoError(t, err)
		b, err := NewURI("ws://localhost")
		require.NoError(t, err)
		assert.NotEqual(t, a.Topic, b.Topic)
		assert.NotEqual(t, a.SymKey, b.SymKey)
	})

	tests := []struct {
		name string
		in   string
	}{
		{"wrong scheme", "http://example"},
		{"missing topic", "wc:@2?symKey=00"},
		{"wrong version", "wc:abc@1?relay-url=ws%3A%2F%2Fx&symKey=" + strings.Repeat("00", 32)},
		{"short key", "wc:abc@2?relay-url=ws%3A%2F%2Fx&symKey=0011"},
		{"missing relay", "wc:abc@2?symKey=" + strings.Repeat("00", 32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseURI(tt.in)
			assert.ErrorIs(t, err, ErrInvalidURI)
		})
	}
}

func TestEnvelope(t *testing.T) {
	u, err := NewURI("ws://localhost")
	require.NoError(t, err)

	sealed, err := seal(u.SymKey, []byte(`{"method":"personal_sign"}`))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "personal_sign")

	plain, err := open(u.SymKey, sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"method":"personal_sign"}`, string(plain))

	t.Run("wrong key fails", func(t *testing.T) {
		other, err := NewURI("ws://localhost")
		require.NoError(t, err)
		_, err = open(other.SymKey, sealed)
		assert.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("garbage fails", func(t *testing.T) {
		_, err := open(u.SymKey, "!!!")
		assert.ErrorIs(t, err, ErrDecrypt)
		_, err = open(u.SymKey, "AAAA")
		assert.ErrorIs(t, err, ErrDecrypt)
	})
}
