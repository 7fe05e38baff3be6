package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yolodolo42/walletgate/internal/provider"
	"github.com/yolodolo42/walletgate/internal/wallet"
	"github.com/yolodolo42/walletgate/internal/walleterr"
)

func injected(t *testing.T, flags ...string) *wallet.Provider {
	t.Helper()
	signer, err := wallet.GenerateSigner()
	require.NoError(t, err)
	return wallet.NewProvider(signer, 1, wallet.AutoApprove, flags...)
}

func defaultRegistry(t *testing.T) *provider.Registry {
	t.Helper()
	r, err := provider.NewRegistry(provider.DefaultDescriptors())
	require.NoError(t, err)
	return r
}

func TestNewRegistry(t *testing.T) {
	t.Run("rejects duplicate ids", func(t *testing.T) {
		d := provider.DefaultDescriptors()
		_, err := provider.NewRegistry(append(d, d[0]))
		assert.Error(t, err)
	})

	t.Run("rejects missing detect predicate", func(t *testing.T) {
		_, err := provider.NewRegistry([]provider.Descriptor{{ID: "x", DisplayName: "X"}})
		assert.Error(t, err)
	})

	t.Run("list keeps catalogue order", func(t *testing.T) {
		var ids []provider.ID
		for _, d := range defaultRegistry(t).List() {
			ids = append(ids, d.ID)
		}
		assert.Equal(t, []provider.ID{
			provider.MetaMask, provider.Coinbase, provider.Injected,
			provider.Trust, provider.Rainbow, provider.WalletConnect,
		}, ids)
	})
}

func TestRegistry_Get(t *testing.T) {
	r := defaultRegistry(t)

	d, err := r.Get(provider.Trust)
	require.NoError(t, err)
	assert.Equal(t, provider.TransportDeepLink, d.Transport)

	_, err = r.Get("phantom")
	assert.ErrorIs(t, err, walleterr.ErrProviderUnavailable)
}

func TestRegistry_DetectAvailable(t *testing.T) {
	r := defaultRegistry(t)

	tests := []struct {
		name      string
		providers [][]string
		want      provider.ID
		found     bool
	}{
		{name: "nothing injected", found: false},
		{name: "metamask", providers: [][]string{{provider.FlagMetaMask}}, want: provider.MetaMask, found: true},
		{name: "coinbase", providers: [][]string{{provider.FlagCoinbaseWallet}}, want: provider.Coinbase, found: true},
		{name: "unknown wallet falls back to generic", providers: [][]string{{"isBraveWallet"}}, want: provider.Injected, found: true},
		{
			name:      "metamask wins over coinbase regardless of announce order",
			providers: [][]string{{provider.FlagCoinbaseWallet}, {provider.FlagMetaMask}},
			want:      provider.MetaMask,
			found:     true,
		},
		{
			name:      "provider carrying several flags resolves to earliest descriptor",
			providers: [][]string{{provider.FlagCoinbaseWallet, provider.FlagMetaMask}},
			want:      provider.MetaMask,
			found:     true,
		},
		{
			name:      "deep-link wallets are never auto-detected",
			providers: [][]string{{provider.FlagTrust}},
			want:      provider.Injected,
			found:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ps []provider.InjectedProvider
			for _, flags := range tt.providers {
				ps = append(ps, injected(t, flags...))
			}
			env := provider.NewStaticEnvironment(false, "https://app.example", ps...)

			d, ok := r.DetectAvailable(env)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, d.ID)
		})
	}
}

func TestRegistry_Available(t *testing.T) {
	r := defaultRegistry(t)

	ids := func(ds []provider.Descriptor) []provider.ID {
		var out []provider.ID
		for _, d := range ds {
			out = append(out, d.ID)
		}
		return out
	}

	t.Run("desktop without extensions offers relay only", func(t *testing.T) {
		env := provider.NewStaticEnvironment(false, "https://app.example")
		assert.Equal(t, []provider.ID{provider.WalletConnect}, ids(r.Available(env)))
	})

	t.Run("mobile offers deep links", func(t *testing.T) {
		env := provider.NewStaticEnvironment(true, "https://app.example")
		assert.Equal(t, []provider.ID{provider.Trust, provider.Rainbow, provider.WalletConnect}, ids(r.Available(env)))
	})

	t.Run("in-app browser makes deep-link wallet available on desktop", func(t *testing.T) {
		env := provider.NewStaticEnvironment(false, "https://app.example", injected(t, provider.FlagRainbow))
		assert.Equal(t, []provider.ID{provider.Injected, provider.Rainbow, provider.WalletConnect}, ids(r.Available(env)))
	})
}

func TestDescriptor_DeepLinkURL(t *testing.T) {
	d, err := defaultRegistry(t).Get(provider.Trust)
	require.NoError(t, err)
	assert.Equal(t,
		"trust://open_url?coin_id=60&url=https%3A%2F%2Fapp.example%2Flogin%3Fnext%3D%2F",
		d.DeepLinkURL("https://app.example/login?next=/"))
}

func TestStaticEnvironment(t *testing.T) {
	env := provider.NewStaticEnvironment(true, "https://app.example")
	var opened string
	env.SetOpener(func(uri string) error {
		opened = uri
		return nil
	})

	require.NoError(t, env.OpenURL("rainbow://dapp"))
	assert.Equal(t, "rainbow://dapp", opened)
	assert.Equal(t, []string{"rainbow://dapp"}, env.Opened())

	assert.Empty(t, env.InjectedProviders())
	env.Inject(injected(t, provider.FlagTrust))
	_, ok := provider.FindInjected(env, provider.FlagTrust)
	assert.True(t, ok)
}
