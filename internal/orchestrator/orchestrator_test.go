package orchestrator

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yolodolo42/walletgate/internal/adapter"
	"github.com/yolodolo42/walletgate/internal/backend"
	"github.com/yolodolo42/walletgate/internal/challenge"
	"github.com/yolodolo42/walletgate/internal/devbackend"
	"github.com/yolodolo42/walletgate/internal/events"
	"github.com/yolodolo42/walletgate/internal/provider"
	"github.com/yolodolo42/walletgate/internal/relay"
	"github.com/yolodolo42/walletgate/internal/session"
	"github.com/yolodolo42/walletgate/internal/testutil"
	"github.com/yolodolo42/walletgate/internal/wallet"
	"github.com/yolodolo42/walletgate/internal/walleterr"
)

const appURL = "https://app.example"

func init() {
	gin.SetMode(gin.TestMode)
}

type options struct {
	mobile      bool
	signTimeout time.Duration
	pollTimeout time.Duration
	backend     Backend
}

type harness struct {
	o        *Orchestrator
	env      *provider.StaticEnvironment
	server   *devbackend.Server
	store    *session.FileStore
	bus      *events.Bus
	relayURL string
	cfg      Config
}

func newHarness(t *testing.T, opts options, providers ...provider.InjectedProvider) *harness {
	t.Helper()

	srv, err := devbackend.New(devbackend.Config{})
	require.NoError(t, err)
	api := httptest.NewServer(devbackend.SetupRouter(srv))
	t.Cleanup(api.Close)

	hub := httptest.NewServer(relay.SetupRouter(relay.NewHub(zerolog.Nop())))
	t.Cleanup(hub.Close)
	relayURL := "ws" + strings.TrimPrefix(hub.URL, "http") + "/relay"

	store, err := session.NewFileStore(testutil.TempDir(t))
	require.NoError(t, err)

	bus := events.NewMemoryBus(zerolog.Nop())
	t.Cleanup(func() { _ = bus.Close() })

	registry, err := provider.NewRegistry(provider.DefaultDescriptors())
	require.NoError(t, err)

	env := provider.NewStaticEnvironment(opts.mobile, appURL, providers...)

	be := opts.backend
	if be == nil {
		be = backend.NewClient(api.URL)
	}

	cfg := Config{
		Registry: registry,
		Env:      env,
		Adapters: adapter.NewFactory(adapter.Config{
			Env:          env,
			RelayURL:     relayURL,
			AppName:      "Example",
			PollInterval: 5 * time.Millisecond,
			PollTimeout:  opts.pollTimeout,
		}),
		Signer:  challenge.NewSigner(challenge.Config{AppName: "Example", Timeout: opts.signTimeout}),
		Backend: be,
		Store:   store,
		Events:  bus,
	}
	o, err := New(cfg)
	require.NoError(t, err)

	return &harness{o: o, env: env, server: srv, store: store, bus: bus, relayURL: relayURL, cfg: cfg}
}

func newWallet(t *testing.T, approve wallet.Approver, flags ...string) *wallet.Provider {
	t.Helper()
	signer, err := wallet.GenerateSigner()
	require.NoError(t, err)
	return wallet.NewProvider(signer, 1, approve, flags...)
}

func walletAddress(t *testing.T, w *wallet.Provider) string {
	t.Helper()
	raw, err := w.Request(context.Background(), "eth_requestAccounts")
	require.NoError(t, err)
	s := strings.Trim(string(raw), `[]"`)
	require.NotEmpty(t, s)
	return s
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// waitState reads states until cond holds
func waitState(t *testing.T, ch <-chan State, cond func(State) bool) State {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case st, ok := <-ch:
			require.True(t, ok, "state channel closed")
			if cond(st) {
				return st
			}
		case <-timeout:
			t.Fatal("state not reached")
		}
	}
}

func phaseIs(p Phase) func(State) bool {
	return func(st State) bool { return st.Phase == p }
}

// gate is an approver that blocks requests of one kind until released
type gate struct {
	kind     wallet.ApprovalKind
	entered  chan struct{}
	release  chan bool
	calls    atomic.Int32
	ctxAware bool
}

func newGate(kind wallet.ApprovalKind, ctxAware bool) *gate {
	return &gate{kind: kind, entered: make(chan struct{}, 8), release: make(chan bool, 8), ctxAware: ctxAware}
}

func (g *gate) approve(ctx context.Context, req wallet.ApprovalRequest) (bool, error) {
	if req.Kind != g.kind {
		return true, nil
	}
	g.calls.Add(1)
	g.entered <- struct{}{}
	if !g.ctxAware {
		return <-g.release, nil
	}
	select {
	case ok := <-g.release:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestConnect_Injected(t *testing.T) {
	ctx := testContext(t)
	w := newWallet(t, wallet.AutoApprove, provider.FlagMetaMask)
	h := newHarness(t, options{}, w)

	transitions, err := h.bus.Subscribe(ctx)
	require.NoError(t, err)

	st, err := h.o.Connect(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, PhaseConnected, st.Phase)
	assert.Equal(t, provider.MetaMask, st.ProviderID)
	assert.True(t, strings.EqualFold(walletAddress(t, w), st.Address))
	assert.Equal(t, uint64(1), st.ChainID)
	require.NotNil(t, st.Identity)
	assert.NotEmpty(t, st.Identity.AccessToken)
	assert.False(t, st.AlreadyLinked)
	assert.Nil(t, st.Err)
	assert.Equal(t, 1, h.server.Tracked())

	rec, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, st.Address, rec.Address)
	assert.Equal(t, provider.MetaMask, rec.ProviderID)

	var phases []string
	for len(phases) < 5 {
		select {
		case tr := <-transitions:
			assert.Equal(t, st.AttemptID, tr.AttemptID)
			phases = append(phases, tr.To)
		case <-ctx.Done():
			t.Fatal("transitions not published")
		}
	}
	assert.Equal(t, []string{"connecting", "awaiting_signature", "verifying", "tracking", "connected"}, phases)
}

func TestConnect_DeepLink(t *testing.T) {
	ctx := testContext(t)
	w := newWallet(t, wallet.AutoApprove, provider.FlagTrust)
	h := newHarness(t, options{mobile: true, pollTimeout: 5 * time.Second})
	h.env.SetOpener(func(string) error {
		go h.env.Inject(w)
		return nil
	})

	st, err := h.o.Connect(ctx, provider.Trust)
	require.NoError(t, err)
	assert.Equal(t, PhaseConnected, st.Phase)
	assert.Equal(t, provider.Trust, st.ProviderID)
	assert.Len(t, h.env.Opened(), 1)
}

// answer plays the mobile wallet: it waits for a pairing uri and approves it
func answer(t *testing.T, ctx context.Context, states <-chan State, w provider.InjectedProvider) *relay.Bridge {
	t.Helper()
	st := waitState(t, states, func(st State) bool { return st.PairingURI != "" })

	uri, err := relay.ParseURI(st.PairingURI)
	require.NoError(t, err)
	conn, err := relay.Dial(ctx, uri.RelayURL)
	require.NoError(t, err)
	bridge, err := relay.Answer(ctx, conn, uri, w, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(bridge.Close)
	return bridge
}

func TestConnect_Relay(t *testing.T) {
	ctx := testContext(t)
	h := newHarness(t, options{})
	w := newWallet(t, wallet.AutoApprove)

	states, stop := h.o.Subscribe()
	defer stop()

	type result struct {
		st  State
		err error
	}
	done := make(chan result, 1)
	go func() {
		st, err := h.o.Connect(ctx, provider.WalletConnect)
		done <- result{st, err}
	}()

	bridge := answer(t, ctx, states, w)

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, PhaseConnected, r.st.Phase)
	assert.Empty(t, r.st.PairingURI)
	assert.True(t, strings.EqualFold(walletAddress(t, w), r.st.Address))

	_, err := h.o.Disconnect(ctx)
	require.NoError(t, err)
	select {
	case <-bridge.Done():
	case <-ctx.Done():
		t.Fatal("wallet side still paired after disconnect")
	}
}

func TestConnect_DeepLinkTimeoutFallsBackToRelay(t *testing.T) {
	ctx := testContext(t)
	h := newHarness(t, options{mobile: true, pollTimeout: 30 * time.Millisecond})
	w := newWallet(t, wallet.AutoApprove)

	states, stop := h.o.Subscribe()
	defer stop()

	done := make(chan State, 1)
	go func() {
		st, _ := h.o.Connect(ctx, provider.Trust)
		done <- st
	}()

	pairing := waitState(t, states, func(st State) bool { return st.PairingURI != "" })
	assert.Equal(t, PhaseConnecting, pairing.Phase)
	assert.True(t, strings.HasPrefix(pairing.PairingURI, "wc:"))
	assert.Equal(t, []string{"trust://open_url?coin_id=60&url=https%3A%2F%2Fapp.example"}, h.env.Opened())

	uri, err := relay.ParseURI(pairing.PairingURI)
	require.NoError(t, err)
	conn, err := relay.Dial(ctx, uri.RelayURL)
	require.NoError(t, err)
	bridge, err := relay.Answer(ctx, conn, uri, w, zerolog.Nop())
	require.NoError(t, err)
	defer bridge.Close()

	st := <-done
	assert.Equal(t, PhaseConnected, st.Phase)
	assert.Equal(t, provider.Trust, st.ProviderID)
}

func TestConnect_AlreadyPending(t *testing.T) {
	ctx := testContext(t)
	g := newGate(wallet.ApproveConnect, true)
	w := newWallet(t, g.approve, provider.FlagMetaMask)
	h := newHarness(t, options{}, w)

	done := make(chan State, 1)
	go func() {
		st, _ := h.o.Connect(ctx, provider.MetaMask)
		done <- st
	}()
	<-g.entered

	st, err := h.o.Connect(ctx, provider.MetaMask)
	assert.ErrorIs(t, err, walleterr.ErrRequestAlreadyPending)
	assert.Equal(t, PhaseConnecting, st.Phase)

	_, err = h.o.Retry(ctx)
	assert.ErrorIs(t, err, walleterr.ErrRequestAlreadyPending)

	g.release <- true
	assert.Equal(t, PhaseConnected, (<-done).Phase)
	assert.Equal(t, int32(1), g.calls.Load())
}

func TestConnect_TrackedTwiceIsAlreadyLinked(t *testing.T) {
	ctx := testContext(t)
	w := newWallet(t, wallet.AutoApprove, provider.FlagMetaMask)
	h := newHarness(t, options{}, w)

	first, err := h.o.Connect(ctx, provider.MetaMask)
	require.NoError(t, err)
	assert.False(t, first.AlreadyLinked)

	states, stop := h.o.Subscribe()
	defer stop()

	second, err := h.o.Connect(ctx, provider.MetaMask)
	require.NoError(t, err)
	assert.Equal(t, PhaseConnected, second.Phase)
	assert.True(t, second.AlreadyLinked)
	assert.True(t, second.Identity.AlreadyLinked)
	assert.NotEqual(t, first.AttemptID, second.AttemptID)
	assert.Equal(t, 1, h.server.Tracked())

	replaced := waitState(t, states, phaseIs(PhaseIdle))
	assert.Equal(t, ReasonReplaced, replaced.Reason)
}

func TestConnect_SignatureTimeout(t *testing.T) {
	ctx := testContext(t)
	g := newGate(wallet.ApproveSign, false)
	w := newWallet(t, g.approve, provider.FlagMetaMask)
	h := newHarness(t, options{signTimeout: 50 * time.Millisecond}, w)

	st, err := h.o.Connect(ctx, provider.MetaMask)
	require.Error(t, err)
	assert.ErrorIs(t, err, walleterr.ErrTimeout)
	assert.Equal(t, PhaseError, st.Phase)
	require.NotNil(t, st.Err)
	assert.Equal(t, walleterr.KindTimeout, st.Err.Kind)
	assert.True(t, st.Retryable())

	states, stop := h.o.Subscribe()
	defer stop()

	// the wallet answers after the attempt gave up
	g.release <- true
	select {
	case late := <-states:
		t.Fatalf("unexpected transition to %s", late.Phase)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, PhaseError, h.o.State().Phase)
	assert.Equal(t, 0, h.server.Tracked())
}

func TestConnect_RejectedSignatureThenRetry(t *testing.T) {
	ctx := testContext(t)

	var signs atomic.Int32
	w := newWallet(t, func(_ context.Context, req wallet.ApprovalRequest) (bool, error) {
		if req.Kind == wallet.ApproveSign {
			return signs.Add(1) > 1, nil
		}
		return true, nil
	}, provider.FlagMetaMask)
	h := newHarness(t, options{}, w)

	st, err := h.o.Connect(ctx, provider.MetaMask)
	assert.ErrorIs(t, err, walleterr.ErrUserRejected)
	assert.Equal(t, PhaseError, st.Phase)
	assert.Equal(t, walleterr.KindUserRejected, st.Err.Kind)
	assert.False(t, st.Retryable())

	assert.Eventually(t, func() bool {
		return w.ListenerCount(provider.EventAccountsChanged) == 0
	}, time.Second, 10*time.Millisecond)

	states, stop := h.o.Subscribe()
	defer stop()

	done := make(chan State, 1)
	go func() {
		st, _ := h.o.Retry(ctx)
		done <- st
	}()

	next := <-states
	assert.Equal(t, PhaseConnecting, next.Phase)
	assert.Equal(t, provider.MetaMask, next.ProviderID)

	st = <-done
	assert.Equal(t, PhaseConnected, st.Phase)
	assert.Equal(t, int32(2), signs.Load())
}

func TestRetry_NothingAttempted(t *testing.T) {
	h := newHarness(t, options{})
	_, err := h.o.Retry(testContext(t))
	assert.ErrorIs(t, err, walleterr.ErrProviderUnavailable)
	assert.Equal(t, PhaseIdle, h.o.State().Phase)
}

func TestConnect_NoWalletDetected(t *testing.T) {
	h := newHarness(t, options{})
	st, err := h.o.Connect(testContext(t), "")
	assert.ErrorIs(t, err, walleterr.ErrProviderUnavailable)
	assert.Equal(t, PhaseError, st.Phase)
	assert.Equal(t, walleterr.KindProviderUnavailable, st.Err.Kind)
}

func TestConnect_ConnectionRejected(t *testing.T) {
	w := newWallet(t, func(context.Context, wallet.ApprovalRequest) (bool, error) { return false, nil }, provider.FlagMetaMask)
	h := newHarness(t, options{}, w)

	st, err := h.o.Connect(testContext(t), provider.MetaMask)
	assert.ErrorIs(t, err, walleterr.ErrUserRejected)
	assert.Equal(t, PhaseError, st.Phase)
}

// failingBackend fails the step named by failAt
type failingBackend struct {
	Backend
	failAt string
	err    error
}

func (b *failingBackend) Verify(ctx context.Context, req backend.VerifyRequest) (*backend.Identity, error) {
	if b.failAt == "verify" {
		return nil, b.err
	}
	return b.Backend.Verify(ctx, req)
}

func (b *failingBackend) Track(ctx context.Context, token string, req backend.TrackRequest) (backend.TrackingOutcome, error) {
	if b.failAt == "track" {
		return backend.TrackingOutcome{}, b.err
	}
	return b.Backend.Track(ctx, token, req)
}

func TestConnect_BackendFailures(t *testing.T) {
	tests := []struct {
		name   string
		failAt string
		err    error
		kind   walleterr.Kind
	}{
		{"verify rejected", "verify", walleterr.New(walleterr.KindValidationError, "verify", "Invalid signature. (HTTP 401)"), walleterr.KindValidationError},
		{"verify unreachable", "verify", walleterr.Wrap(walleterr.KindNetworkError, "verify", errors.New("connection refused")), walleterr.KindNetworkError},
		{"track server error", "track", walleterr.New(walleterr.KindNetworkError, "track", "Internal Server Error (HTTP 500)"), walleterr.KindNetworkError},
		{"unclassified", "track", errors.New("boom"), walleterr.KindProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWallet(t, wallet.AutoApprove, provider.FlagMetaMask)
			h := newHarness(t, options{}, w)
			h.o.cfg.Backend = &failingBackend{Backend: h.cfg.Backend, failAt: tt.failAt, err: tt.err}

			st, err := h.o.Connect(testContext(t), provider.MetaMask)
			require.Error(t, err)
			assert.Equal(t, PhaseError, st.Phase)
			assert.Equal(t, tt.kind, st.Err.Kind)

			_, err = h.store.Load(context.Background())
			assert.ErrorIs(t, err, session.ErrNoRecord)
		})
	}
}

func TestConnected_ProviderEvents(t *testing.T) {
	connect := func(t *testing.T) (*harness, *wallet.Provider) {
		t.Helper()
		w := newWallet(t, wallet.AutoApprove, provider.FlagMetaMask)
		h := newHarness(t, options{}, w)
		st, err := h.o.Connect(testContext(t), provider.MetaMask)
		require.NoError(t, err)
		require.Equal(t, PhaseConnected, st.Phase)
		return h, w
	}

	t.Run("empty accounts tears down and unsubscribes", func(t *testing.T) {
		h, w := connect(t)

		w.Emit(provider.EventAccountsChanged, []string{})

		st := h.o.State()
		assert.Equal(t, PhaseIdle, st.Phase)
		assert.Equal(t, ReasonAccountsChanged, st.Reason)
		assert.Equal(t, 0, w.ListenerCount(provider.EventAccountsChanged))
		assert.Equal(t, 0, w.ListenerCount(provider.EventChainChanged))
		assert.Equal(t, 0, w.ListenerCount(provider.EventDisconnect))

		assert.Eventually(t, func() bool {
			_, err := h.store.Load(context.Background())
			return errors.Is(err, session.ErrNoRecord)
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("same account is ignored", func(t *testing.T) {
		h, w := connect(t)
		w.Emit(provider.EventAccountsChanged, []string{strings.ToLower(h.o.State().Address)})
		assert.Equal(t, PhaseConnected, h.o.State().Phase)
	})

	t.Run("different account ends the session", func(t *testing.T) {
		h, w := connect(t)
		w.Emit(provider.EventAccountsChanged, []string{"0x1234567890123456789012345678901234567890"})
		assert.Equal(t, PhaseIdle, h.o.State().Phase)
		assert.Equal(t, ReasonAccountsChanged, h.o.State().Reason)
	})

	t.Run("chain change requires a new login", func(t *testing.T) {
		h, w := connect(t)
		w.SwitchChain(137)
		assert.Equal(t, PhaseIdle, h.o.State().Phase)
		assert.Equal(t, ReasonChainChanged, h.o.State().Reason)
		assert.Equal(t, 0, w.ListenerCount(provider.EventChainChanged))
	})

	t.Run("wallet disconnect", func(t *testing.T) {
		h, w := connect(t)
		w.Emit(provider.EventDisconnect, map[string]any{"code": 4900, "message": "closed"})
		assert.Equal(t, PhaseIdle, h.o.State().Phase)
		assert.Equal(t, ReasonWalletClosed, h.o.State().Reason)
	})
}

func TestInFlight_ProviderEvents(t *testing.T) {
	start := func(t *testing.T) (*harness, *wallet.Provider, *gate, chan error) {
		t.Helper()
		g := newGate(wallet.ApproveSign, true)
		w := newWallet(t, g.approve, provider.FlagMetaMask)
		h := newHarness(t, options{}, w)

		done := make(chan error, 1)
		go func() {
			_, err := h.o.Connect(testContext(t), provider.MetaMask)
			done <- err
		}()
		<-g.entered
		require.Equal(t, PhaseAwaitingSignature, h.o.State().Phase)
		return h, w, g, done
	}

	t.Run("empty accounts aborts the attempt", func(t *testing.T) {
		h, w, _, done := start(t)

		w.Emit(provider.EventAccountsChanged, []string{})

		err := <-done
		assert.ErrorIs(t, err, walleterr.ErrProviderUnavailable)
		st := h.o.State()
		assert.Equal(t, PhaseError, st.Phase)
		assert.Equal(t, walleterr.KindProviderUnavailable, st.Err.Kind)
		assert.Equal(t, 0, w.ListenerCount(provider.EventAccountsChanged))
	})

	t.Run("chain change updates the attempt", func(t *testing.T) {
		h, w, g, done := start(t)

		w.SwitchChain(10)
		assert.Equal(t, PhaseAwaitingSignature, h.o.State().Phase)
		assert.Equal(t, uint64(10), h.o.State().ChainID)

		g.release <- true
		require.NoError(t, <-done)
		assert.Equal(t, uint64(10), h.o.State().ChainID)
	})

	t.Run("disconnect aborts the attempt", func(t *testing.T) {
		h, w, _, done := start(t)
		w.Emit(provider.EventDisconnect, map[string]any{"code": 4900, "message": "closed"})
		assert.ErrorIs(t, <-done, walleterr.ErrProviderUnavailable)
		assert.Equal(t, PhaseError, h.o.State().Phase)
	})
}

func TestCancel(t *testing.T) {
	t.Run("aborts an attempt waiting for approval", func(t *testing.T) {
		ctx := testContext(t)
		g := newGate(wallet.ApproveConnect, true)
		w := newWallet(t, g.approve, provider.FlagMetaMask)
		h := newHarness(t, options{}, w)

		done := make(chan error, 1)
		go func() {
			_, err := h.o.Connect(ctx, provider.MetaMask)
			done <- err
		}()
		<-g.entered

		st := h.o.Cancel(ctx)
		assert.Equal(t, PhaseIdle, st.Phase)
		assert.Equal(t, ReasonCancelled, st.Reason)
		assert.ErrorIs(t, <-done, ErrCancelled)
		assert.Equal(t, PhaseIdle, h.o.State().Phase)

		// repeated cancel is a no-op
		assert.Equal(t, PhaseIdle, h.o.Cancel(ctx).Phase)
	})

	t.Run("caller context cancellation", func(t *testing.T) {
		g := newGate(wallet.ApproveSign, true)
		w := newWallet(t, g.approve, provider.FlagMetaMask)
		h := newHarness(t, options{}, w)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, err := h.o.Connect(ctx, provider.MetaMask)
			done <- err
		}()
		<-g.entered
		cancel()

		assert.ErrorIs(t, <-done, ErrCancelled)
		assert.Equal(t, PhaseIdle, h.o.State().Phase)
		assert.Equal(t, ReasonCancelled, h.o.State().Reason)
		assert.Eventually(t, func() bool {
			return w.ListenerCount(provider.EventAccountsChanged) == 0
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("clears an error", func(t *testing.T) {
		h := newHarness(t, options{})
		_, _ = h.o.Connect(testContext(t), "")
		require.Equal(t, PhaseError, h.o.State().Phase)

		st := h.o.Cancel(testContext(t))
		assert.Equal(t, PhaseIdle, st.Phase)
		assert.Nil(t, st.Err)
	})
}

func TestDisconnect(t *testing.T) {
	ctx := testContext(t)
	w := newWallet(t, wallet.AutoApprove, provider.FlagMetaMask)
	h := newHarness(t, options{}, w)

	_, err := h.o.Connect(ctx, provider.MetaMask)
	require.NoError(t, err)

	st, err := h.o.Disconnect(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Equal(t, ReasonDisconnected, st.Reason)
	assert.Equal(t, 0, w.ListenerCount(provider.EventAccountsChanged))

	_, err = h.store.Load(ctx)
	assert.ErrorIs(t, err, session.ErrNoRecord)

	// the site permission was revoked
	raw, err := w.Request(ctx, "eth_accounts")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestReconnect(t *testing.T) {
	t.Run("restores an authorized wallet", func(t *testing.T) {
		ctx := testContext(t)
		w := newWallet(t, wallet.AutoApprove, provider.FlagMetaMask)
		h := newHarness(t, options{}, w)

		require.NoError(t, h.store.Save(ctx, session.Record{
			Address:    walletAddress(t, w),
			ProviderID: provider.MetaMask,
			ChainID:    1,
		}))

		st, err := h.o.Reconnect(ctx)
		require.NoError(t, err)
		assert.Equal(t, PhaseConnected, st.Phase)
	})

	t.Run("asks only for the sign-in signature", func(t *testing.T) {
		ctx := testContext(t)
		var (
			mu      sync.Mutex
			prompts []wallet.ApprovalKind
		)
		w := newWallet(t, func(_ context.Context, req wallet.ApprovalRequest) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			prompts = append(prompts, req.Kind)
			return true, nil
		}, provider.FlagMetaMask)
		h := newHarness(t, options{}, w)

		addr := walletAddress(t, w)
		require.NoError(t, h.store.Save(ctx, session.Record{
			Address:    addr,
			ProviderID: provider.MetaMask,
			ChainID:    1,
		}))
		mu.Lock()
		prompts = nil
		mu.Unlock()

		st, err := h.o.Reconnect(ctx)
		require.NoError(t, err)
		assert.Equal(t, PhaseConnected, st.Phase)
		assert.True(t, strings.EqualFold(addr, st.Address))

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []wallet.ApprovalKind{wallet.ApproveSign}, prompts)
	})

	t.Run("drops a record the wallet no longer authorizes", func(t *testing.T) {
		ctx := testContext(t)
		w := newWallet(t, wallet.AutoApprove, provider.FlagMetaMask)
		h := newHarness(t, options{}, w)

		require.NoError(t, h.store.Save(ctx, session.Record{
			Address:    "0x1234567890123456789012345678901234567890",
			ProviderID: provider.MetaMask,
		}))

		st, err := h.o.Reconnect(ctx)
		require.NoError(t, err)
		assert.Equal(t, PhaseIdle, st.Phase)
		_, err = h.store.Load(ctx)
		assert.ErrorIs(t, err, session.ErrNoRecord)
	})

	t.Run("nothing saved", func(t *testing.T) {
		h := newHarness(t, options{})
		st, err := h.o.Reconnect(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, PhaseIdle, st.Phase)
	})
}

func TestSubscribe_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, options{})
	ch, stop := h.o.Subscribe()
	stop()
	stop()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestCanTransition(t *testing.T) {
	allowed := map[Phase][]Phase{
		PhaseIdle:              {PhaseConnecting},
		PhaseConnecting:        {PhaseAwaitingSignature, PhaseError, PhaseIdle},
		PhaseAwaitingSignature: {PhaseVerifying, PhaseError, PhaseIdle},
		PhaseVerifying:         {PhaseTracking, PhaseError, PhaseIdle},
		PhaseTracking:          {PhaseConnected, PhaseError, PhaseIdle},
		PhaseConnected:         {PhaseIdle},
		PhaseError:             {PhaseIdle, PhaseConnecting},
	}
	phases := []Phase{PhaseIdle, PhaseConnecting, PhaseAwaitingSignature, PhaseVerifying, PhaseTracking, PhaseConnected, PhaseError}

	for _, from := range phases {
		for _, to := range phases {
			want := false
			for _, p := range allowed[from] {
				if p == to {
					want = true
				}
			}
			assert.Equal(t, want, canTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "awaiting_signature", PhaseAwaitingSignature.String())
	assert.Equal(t, "phase(42)", Phase(42).String())
	assert.True(t, PhaseTracking.InFlight())
	assert.False(t, PhaseConnected.InFlight())
}
