// Package challenge builds sign-in messages and collects the wallet's
// signature over them.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/yolodolo42/walletgate/internal/walleterr"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultReplayWindow = 10 * time.Minute

	nonceBytes   = 16
	maxTracked   = 4096
	nonceRetries = 3
)

var errNonceExhausted = errors.New("could not generate an unused nonce")

// MessageSigner is the part of a wallet handle the signer needs
type MessageSigner interface {
	Sign(ctx context.Context, message string) (string, error)
}

// Challenge is a one-time sign-in message bound to an address
type Challenge struct {
	Address  string
	Nonce    string
	IssuedAt time.Time
	Message  string
}

// Verification is a signed challenge, ready for the backend
type Verification struct {
	Challenge
	Signature string
}

// Config configures a Signer
type Config struct {
	AppName      string
	Timeout      time.Duration
	ReplayWindow time.Duration
	Logger       zerolog.Logger

	// Now and Rand default to the wall clock and crypto/rand
	Now  func() time.Time
	Rand io.Reader
}

// Signer issues challenges and obtains signatures. Only one signature
// request may be outstanding at a time.
type Signer struct {
	cfg    Config
	logger zerolog.Logger
	sem    *semaphore.Weighted
	issued *expirable.LRU[string, struct{}]
}

// NewSigner creates a signer
func NewSigner(cfg Config) *Signer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = DefaultReplayWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	if cfg.AppName == "" {
		cfg.AppName = "walletgate"
	}

	return &Signer{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "challenge").Logger(),
		sem:    semaphore.NewWeighted(1),
		issued: expirable.NewLRU[string, struct{}](maxTracked, nil, cfg.ReplayWindow),
	}
}

// Issue creates a challenge for address with a nonce not issued to that
// address within the replay window.
func (s *Signer) Issue(address string) (Challenge, error) {
	if address == "" {
		return Challenge{}, walleterr.New(walleterr.KindValidationError, "sign", "no address to sign for")
	}

	for i := 0; i < nonceRetries; i++ {
		buf := make([]byte, nonceBytes)
		if _, err := io.ReadFull(s.cfg.Rand, buf); err != nil {
			return Challenge{}, fmt.Errorf("failed to generate nonce: %w", err)
		}
		nonce := hex.EncodeToString(buf)

		key := strings.ToLower(address) + ":" + nonce
		if s.issued.Contains(key) {
			continue
		}
		s.issued.Add(key, struct{}{})

		issuedAt := s.cfg.Now().UTC().Truncate(time.Second)
		return Challenge{
			Address:  address,
			Nonce:    nonce,
			IssuedAt: issuedAt,
			Message:  FormatMessage(s.cfg.AppName, address, nonce, issuedAt),
		}, nil
	}
	return Challenge{}, errNonceExhausted
}

// FormatMessage renders the human-readable sign-in text
func FormatMessage(appName, address, nonce string, issuedAt time.Time) string {
	return fmt.Sprintf("%s wants you to sign in with your wallet.\n\nWallet: %s\nNonce: %s\nIssued At: %s",
		appName, address, nonce, issuedAt.UTC().Format(time.RFC3339))
}

type signResult struct {
	sig string
	err error
}

// Sign issues a challenge for address and asks h to sign it. A second call
// while one is outstanding fails with RequestAlreadyPending. A signature
// arriving after the timeout is discarded.
func (s *Signer) Sign(ctx context.Context, h MessageSigner, address string) (Verification, error) {
	if !s.sem.TryAcquire(1) {
		return Verification{}, walleterr.New(walleterr.KindRequestAlreadyPending, "sign", "a signature request is already open")
	}
	defer s.sem.Release(1)

	ch, err := s.Issue(address)
	if err != nil {
		return Verification{}, err
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	done := make(chan signResult, 1)
	go func() {
		sig, err := h.Sign(sctx, ch.Message)
		done <- signResult{sig, err}
	}()

	s.logger.Debug().Str("address", address).Str("nonce", ch.Nonce).Msg("awaiting signature")

	select {
	case r := <-done:
		if r.err != nil {
			if ctx.Err() != nil {
				return Verification{}, ctx.Err()
			}
			if errors.Is(r.err, context.DeadlineExceeded) {
				return Verification{}, timeoutError(s.cfg.Timeout)
			}
			return Verification{}, walleterr.As(r.err, "sign", walleterr.KindProviderUnavailable)
		}
		if r.sig == "" {
			return Verification{}, walleterr.New(walleterr.KindProviderUnavailable, "sign", "wallet returned an empty signature")
		}
		return Verification{Challenge: ch, Signature: r.sig}, nil
	case <-sctx.Done():
		if ctx.Err() != nil {
			return Verification{}, ctx.Err()
		}
		s.logger.Warn().Str("address", address).Dur("timeout", s.cfg.Timeout).Msg("signature request timed out")
		return Verification{}, timeoutError(s.cfg.Timeout)
	}
}

func timeoutError(d time.Duration) error {
	return walleterr.New(walleterr.KindTimeout, "sign", fmt.Sprintf("no signature within %s", d))
}
