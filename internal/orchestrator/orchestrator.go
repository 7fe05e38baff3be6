// Package orchestrator drives a wallet login from provider selection to a
// tracked, verified session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yolodolo42/walletgate/internal/adapter"
	"github.com/yolodolo42/walletgate/internal/backend"
	"github.com/yolodolo42/walletgate/internal/challenge"
	"github.com/yolodolo42/walletgate/internal/events"
	"github.com/yolodolo42/walletgate/internal/provider"
	"github.com/yolodolo42/walletgate/internal/session"
	"github.com/yolodolo42/walletgate/internal/walleterr"
)

var (
	// ErrCancelled is returned by Connect when the attempt was cancelled
	ErrCancelled = errors.New("connection attempt cancelled")

	errAbandoned = errors.New("attempt abandoned")
)

const (
	disconnectTimeout = 5 * time.Second
	watcherBuffer     = 32
)

// Backend verifies signed challenges and records connections
type Backend interface {
	Verify(ctx context.Context, req backend.VerifyRequest) (*backend.Identity, error)
	Track(ctx context.Context, accessToken string, req backend.TrackRequest) (backend.TrackingOutcome, error)
}

// AdapterFactory builds the adapter for a descriptor
type AdapterFactory interface {
	New(desc provider.Descriptor) (adapter.Adapter, error)
}

// Config wires the orchestrator's collaborators
type Config struct {
	Registry *provider.Registry
	Env      provider.Environment
	Adapters AdapterFactory
	Signer   *challenge.Signer
	Backend  Backend

	// Store and Events are optional
	Store  session.Store
	Events events.Publisher

	Logger zerolog.Logger
	Now    func() time.Time
}

// attempt is one run of the connect flow. It stays current after reaching
// Connected and owns the wallet handle until teardown.
type attempt struct {
	id         string
	providerID provider.ID
	startedAt  time.Time
	cancel     context.CancelFunc
	handle     adapter.Handle
	subs       []adapter.Subscription

	// err is why the attempt ended, set by whoever ended it
	err error
}

// Orchestrator is the connection state machine. At most one attempt is live.
type Orchestrator struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	state     State
	cur       *attempt
	last      provider.ID
	attempted bool
	watchers  map[int]chan State
	nextWatch int
}

// New creates an orchestrator in PhaseIdle
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("orchestrator: registry is required")
	case cfg.Env == nil:
		return nil, errors.New("orchestrator: environment is required")
	case cfg.Adapters == nil:
		return nil, errors.New("orchestrator: adapter factory is required")
	case cfg.Signer == nil:
		return nil, errors.New("orchestrator: challenge signer is required")
	case cfg.Backend == nil:
		return nil, errors.New("orchestrator: backend is required")
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Orchestrator{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "orchestrator").Logger(),
		state:    State{Phase: PhaseIdle},
		watchers: make(map[int]chan State),
	}, nil
}

// State returns a snapshot of the current state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribe returns a channel receiving every state change. Slow readers
// miss updates rather than block the machine.
func (o *Orchestrator) Subscribe() (<-chan State, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextWatch
	o.nextWatch++
	ch := make(chan State, watcherBuffer)
	o.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.watchers, id)
			close(ch)
		})
	}
}

// Connect runs a full login with the wallet id, or the detected injected
// wallet when id is empty. It blocks until the attempt ends and returns the
// state it ended in.
func (o *Orchestrator) Connect(ctx context.Context, id provider.ID) (State, error) {
	o.mu.Lock()
	if o.state.Phase.InFlight() {
		st := o.state
		o.mu.Unlock()
		return st, walleterr.New(walleterr.KindRequestAlreadyPending, "connect", "a connection attempt is already in progress")
	}

	var replaced *attempt
	if o.state.Phase == PhaseConnected {
		replaced = o.cur
		o.endLocked(replaced, ReasonReplaced)
	}

	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	att := &attempt{
		id:         uuid.NewString(),
		providerID: id,
		startedAt:  o.cfg.Now(),
		cancel:     cancel,
	}
	o.cur = att
	o.attempted = true
	if id != "" {
		o.last = id
	}
	o.transitionLocked(State{Phase: PhaseConnecting, AttemptID: att.id, ProviderID: id})
	o.mu.Unlock()

	o.release(ctx, replaced)

	if err := o.run(actx, att); err != nil {
		o.fail(ctx, att, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, att.err
}

// Retry starts a new attempt with the last wallet used
func (o *Orchestrator) Retry(ctx context.Context) (State, error) {
	o.mu.Lock()
	if o.state.Phase.InFlight() {
		st := o.state
		o.mu.Unlock()
		return st, walleterr.New(walleterr.KindRequestAlreadyPending, "retry", "a connection attempt is already in progress")
	}
	if !o.attempted {
		st := o.state
		o.mu.Unlock()
		return st, walleterr.New(walleterr.KindProviderUnavailable, "retry", "nothing to retry")
	}
	last := o.last
	o.mu.Unlock()

	return o.Connect(ctx, last)
}

// Cancel abandons whatever is in progress and returns to Idle. Safe to call
// in any phase and more than once.
func (o *Orchestrator) Cancel(ctx context.Context) State {
	o.mu.Lock()
	att := o.cur
	switch o.state.Phase {
	case PhaseIdle:
	case PhaseError:
		o.transitionLocked(State{Phase: PhaseIdle, Reason: ReasonCancelled})
	case PhaseConnected:
		o.endLocked(att, ReasonCancelled)
	case PhaseConnecting, PhaseAwaitingSignature, PhaseVerifying, PhaseTracking:
		att.err = ErrCancelled
		o.endLocked(att, ReasonCancelled)
	}
	st := o.state
	o.mu.Unlock()

	o.release(ctx, att)
	return st
}

// Disconnect ends a connected session and forgets it. In other phases it
// behaves like Cancel.
func (o *Orchestrator) Disconnect(ctx context.Context) (State, error) {
	o.mu.Lock()
	if o.state.Phase != PhaseConnected {
		o.mu.Unlock()
		return o.Cancel(ctx), nil
	}
	att := o.cur
	o.endLocked(att, ReasonDisconnected)
	st := o.state
	o.mu.Unlock()

	o.release(ctx, att)
	return st, o.clearRecord(ctx)
}

// Reconnect restores the persisted session when the wallet still exposes
// the same account without prompting. Otherwise the record is dropped and
// the machine stays Idle.
//
// The account check is silent but the login is not: the record holds no
// backend tokens, so a restored session signs a fresh challenge and the
// wallet shows its signature prompt once.
func (o *Orchestrator) Reconnect(ctx context.Context) (State, error) {
	if o.cfg.Store == nil {
		return o.State(), nil
	}

	rec, err := o.cfg.Store.Load(ctx)
	if errors.Is(err, session.ErrNoRecord) {
		return o.State(), nil
	}
	if err != nil {
		return o.State(), fmt.Errorf("load session: %w", err)
	}

	desc, err := o.cfg.Registry.Get(rec.ProviderID)
	if err != nil {
		return o.State(), o.clearRecord(ctx)
	}
	ad, err := o.cfg.Adapters.New(desc)
	if err != nil {
		return o.State(), o.clearRecord(ctx)
	}

	prober, ok := ad.(adapter.Prober)
	if !ok {
		o.logger.Info().Str("provider", string(desc.ID)).Msg("wallet cannot be probed silently, keeping saved session")
		return o.State(), nil
	}
	addr, ok := prober.Probe(ctx)
	if !ok || !strings.EqualFold(addr, rec.Address) {
		o.logger.Info().Str("provider", string(desc.ID)).Str("saved", rec.Address).Str("current", addr).Msg("saved wallet no longer authorized")
		return o.State(), o.clearRecord(ctx)
	}

	o.logger.Info().Str("provider", string(desc.ID)).Str("address", addr).Msg("restoring wallet session")
	return o.Connect(ctx, rec.ProviderID)
}

func (o *Orchestrator) run(ctx context.Context, att *attempt) error {
	desc, err := o.resolve(att.providerID)
	if err != nil {
		return err
	}
	if _, ok := o.update(att, func(s *State) {
		att.providerID = desc.ID
		o.last = desc.ID
		s.ProviderID = desc.ID
	}); !ok {
		return errAbandoned
	}

	ad, err := o.cfg.Adapters.New(desc)
	if err != nil {
		return walleterr.As(err, "connect", walleterr.KindProviderUnavailable)
	}

	h, err := ad.Connect(ctx, adapter.Hooks{
		PairingURI: func(uri string) {
			o.update(att, func(s *State) { s.PairingURI = uri })
		},
	})
	if err != nil {
		return err
	}

	st, ok := o.bind(att, h)
	if !ok {
		o.release(ctx, &attempt{handle: h})
		return errAbandoned
	}

	v, err := o.cfg.Signer.Sign(ctx, h, st.Address)
	if err != nil {
		return err
	}

	if st, ok = o.advance(att, PhaseVerifying, nil); !ok {
		return errAbandoned
	}
	identity, err := o.cfg.Backend.Verify(ctx, backend.VerifyRequest{
		Address:    v.Address,
		Signature:  v.Signature,
		Message:    v.Message,
		WalletType: string(desc.ID),
		ChainID:    st.ChainID,
	})
	if err != nil {
		return err
	}

	if st, ok = o.advance(att, PhaseTracking, func(s *State) { s.Identity = identity }); !ok {
		return errAbandoned
	}
	outcome, err := o.cfg.Backend.Track(ctx, identity.AccessToken, backend.TrackRequest{
		WalletType: string(desc.ID),
		Address:    st.Address,
		ChainID:    st.ChainID,
		Timestamp:  o.cfg.Now(),
	})
	if err != nil {
		return err
	}

	if st, ok = o.advance(att, PhaseConnected, func(s *State) {
		s.PairingURI = ""
		s.AlreadyLinked = outcome.AlreadyLinked
	}); !ok {
		return errAbandoned
	}

	o.persist(ctx, st)
	return nil
}

func (o *Orchestrator) resolve(id provider.ID) (provider.Descriptor, error) {
	if id != "" {
		return o.cfg.Registry.Get(id)
	}
	desc, ok := o.cfg.Registry.DetectAvailable(o.cfg.Env)
	if !ok {
		return provider.Descriptor{}, walleterr.New(walleterr.KindProviderUnavailable, "connect", "no wallet detected")
	}
	return desc, nil
}

// bind attaches the handle and its event subscriptions to the attempt
func (o *Orchestrator) bind(att *attempt, h adapter.Handle) (State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cur != att {
		return State{}, false
	}
	att.handle = h
	att.subs = []adapter.Subscription{
		h.OnAccountsChanged(func(accounts []string) { o.onAccountsChanged(att, accounts) }),
		h.OnChainChanged(func(chainID uint64) { o.onChainChanged(att, chainID) }),
		h.OnDisconnect(func(err error) { o.onDisconnect(att, err) }),
	}

	next := o.state
	next.Phase = PhaseAwaitingSignature
	next.Address = h.Address()
	next.ChainID = h.ChainID()
	if !o.transitionLocked(next) {
		return State{}, false
	}
	return next, true
}

// advance moves the attempt to phase if it is still current
func (o *Orchestrator) advance(att *attempt, phase Phase, mutate func(*State)) (State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cur != att {
		return State{}, false
	}
	next := o.state
	next.Phase = phase
	if mutate != nil {
		mutate(&next)
	}
	if !o.transitionLocked(next) {
		return State{}, false
	}
	return next, true
}

// update changes the current attempt's state without a phase change
func (o *Orchestrator) update(att *attempt, mutate func(*State)) (State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cur != att {
		return State{}, false
	}
	next := o.state
	mutate(&next)
	o.setLocked(next)
	return next, true
}

// fail ends the attempt with err unless something else ended it first
func (o *Orchestrator) fail(ctx context.Context, att *attempt, err error) {
	o.mu.Lock()
	if o.cur != att {
		o.mu.Unlock()
		return
	}

	if errors.Is(err, context.Canceled) {
		att.err = ErrCancelled
		o.endLocked(att, ReasonCancelled)
		o.mu.Unlock()
		o.release(context.WithoutCancel(ctx), att)
		return
	}

	werr := walleterr.As(err, "connect", walleterr.KindProviderUnavailable)
	o.abortLocked(att, werr)
	o.mu.Unlock()
	o.release(context.WithoutCancel(ctx), att)
}

// abortLocked moves an in-flight attempt to PhaseError
func (o *Orchestrator) abortLocked(att *attempt, werr *walleterr.Error) {
	att.err = werr
	o.detachLocked(att)

	next := o.state
	next.Phase = PhaseError
	next.Err = werr
	next.PairingURI = ""
	o.transitionLocked(next)
}

// endLocked tears the attempt down to PhaseIdle
func (o *Orchestrator) endLocked(att *attempt, reason Reason) {
	o.detachLocked(att)
	o.transitionLocked(State{Phase: PhaseIdle, Reason: reason})
}

func (o *Orchestrator) detachLocked(att *attempt) {
	if att == nil {
		return
	}
	for _, sub := range att.subs {
		sub.Unsubscribe()
	}
	att.subs = nil
	if att.cancel != nil {
		att.cancel()
	}
	if o.cur == att {
		o.cur = nil
	}
}

// release disconnects the attempt's wallet handle, best effort
func (o *Orchestrator) release(ctx context.Context, att *attempt) {
	if att == nil || att.handle == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer cancel()
	if err := att.handle.Disconnect(ctx); err != nil {
		o.logger.Debug().Err(err).Str("attempt", att.id).Msg("wallet disconnect failed")
	}
}

func (o *Orchestrator) onAccountsChanged(att *attempt, accounts []string) {
	o.mu.Lock()
	if o.cur != att {
		o.mu.Unlock()
		return
	}

	same := len(accounts) > 0 && strings.EqualFold(accounts[0], o.state.Address)
	if same {
		o.mu.Unlock()
		return
	}

	connected := o.state.Phase == PhaseConnected
	if connected {
		o.endLocked(att, ReasonAccountsChanged)
	} else {
		msg := "wallet account changed"
		if len(accounts) == 0 {
			msg = "wallet disconnected"
		}
		o.abortLocked(att, walleterr.New(walleterr.KindProviderUnavailable, "connect", msg))
	}
	o.mu.Unlock()

	o.afterEvent(att, connected)
}

func (o *Orchestrator) onChainChanged(att *attempt, chainID uint64) {
	o.mu.Lock()
	if o.cur != att {
		o.mu.Unlock()
		return
	}

	if o.state.Phase != PhaseConnected {
		next := o.state
		next.ChainID = chainID
		o.setLocked(next)
		o.mu.Unlock()
		return
	}

	o.endLocked(att, ReasonChainChanged)
	o.mu.Unlock()

	o.afterEvent(att, true)
}

func (o *Orchestrator) onDisconnect(att *attempt, err error) {
	o.mu.Lock()
	if o.cur != att {
		o.mu.Unlock()
		return
	}

	connected := o.state.Phase == PhaseConnected
	if connected {
		o.endLocked(att, ReasonWalletClosed)
	} else {
		o.abortLocked(att, walleterr.As(err, "connect", walleterr.KindProviderUnavailable))
	}
	o.mu.Unlock()

	o.afterEvent(att, connected)
}

// afterEvent finishes an event-driven teardown. It runs detached because
// events may be delivered on the wallet's own goroutine.
func (o *Orchestrator) afterEvent(att *attempt, wasConnected bool) {
	go func() {
		ctx := context.Background()
		o.release(ctx, att)
		if wasConnected {
			_ = o.clearRecord(ctx)
		}
	}()
}

func (o *Orchestrator) persist(ctx context.Context, st State) {
	if o.cfg.Store == nil {
		return
	}
	rec := session.Record{
		Address:     st.Address,
		ProviderID:  st.ProviderID,
		ChainID:     st.ChainID,
		ConnectedAt: o.cfg.Now(),
	}
	if err := o.cfg.Store.Save(ctx, rec); err != nil {
		o.logger.Warn().Err(err).Msg("failed to persist wallet session")
	}
}

func (o *Orchestrator) clearRecord(ctx context.Context) error {
	if o.cfg.Store == nil {
		return nil
	}
	if err := o.cfg.Store.Clear(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("failed to clear wallet session")
		return err
	}
	return nil
}

// transitionLocked applies a phase change if the table allows it
func (o *Orchestrator) transitionLocked(next State) bool {
	from := o.state.Phase
	if !canTransition(from, next.Phase) {
		o.logger.Error().Stringer("from", from).Stringer("to", next.Phase).Msg("invalid state transition")
		return false
	}
	if next.Phase != PhaseError {
		next.Err = nil
	}
	if next.Phase != PhaseIdle {
		next.Reason = ReasonNone
	}
	o.setLocked(next)

	ev := o.logger.Info()
	if next.Err != nil {
		ev = o.logger.Warn().Err(next.Err).Str("kind", string(next.Err.Kind))
	}
	ev.Str("attempt", next.AttemptID).
		Stringer("from", from).
		Stringer("to", next.Phase).
		Str("provider", string(next.ProviderID)).
		Str("address", next.Address).
		Str("reason", string(next.Reason)).
		Msg("wallet state")

	t := events.Transition{
		AttemptID:  next.AttemptID,
		From:       from.String(),
		To:         next.Phase.String(),
		ProviderID: string(next.ProviderID),
		Address:    next.Address,
		ChainID:    next.ChainID,
		Reason:     string(next.Reason),
		At:         o.cfg.Now(),
	}
	if next.Err != nil {
		t.ErrorKind = string(next.Err.Kind)
		t.Error = next.Err.Error()
	}
	if err := o.cfg.Events.PublishTransition(context.Background(), t); err != nil {
		o.logger.Warn().Err(err).Msg("failed to publish transition")
	}
	return true
}

func (o *Orchestrator) setLocked(next State) {
	o.state = next
	for id, ch := range o.watchers {
		select {
		case ch <- next:
		default:
			o.logger.Debug().Int("watcher", id).Msg("state watcher is behind, dropping update")
		}
	}
}
