// Package backend talks to the application server that turns a signed
// challenge into an authenticated session.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/yolodolo42/walletgate/internal/walleterr"
)

const (
	DefaultTimeout = 15 * time.Second

	loginPath = "/connect"
	linkPath  = "/wallet-connect/connect/"
	trackPath = "/wallet-connect/track/"

	maxBody = 1 << 20
)

// Client is the backend API client
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the backend at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "backend").Logger()
	return c
}

// Verify logs in with a signed challenge and links the wallet to the
// resulting account. A wallet linked before is not an error.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*Identity, error) {
	id, err := c.Login(ctx, req)
	if err != nil {
		return nil, err
	}

	linked, err := c.Link(ctx, id.AccessToken, req)
	if err != nil {
		return nil, err
	}
	id.AlreadyLinked = linked
	return id, nil
}

// Login exchanges a signed challenge for tokens
func (c *Client) Login(ctx context.Context, req VerifyRequest) (*Identity, error) {
	body := loginBody{
		WalletAddress: req.Address,
		Signature:     req.Signature,
		Message:       req.Message,
		WalletType:    req.WalletType,
		ChainID:       req.ChainID,
	}

	status, raw, err := c.post(ctx, "verify", loginPath, "", body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, statusError("verify", status, raw)
	}

	var resp loginResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, walleterr.Wrap(walleterr.KindValidationError, "verify", fmt.Errorf("decode login response: %w", err))
	}
	if resp.Access == "" {
		return nil, walleterr.New(walleterr.KindValidationError, "verify", "login response has no access token")
	}

	return &Identity{
		AccessToken:  resp.Access,
		RefreshToken: resp.Refresh,
		AccessExpiry: tokenExpiry(resp.Access),
		User:         resp.User,
	}, nil
}

// Link associates the wallet with the account behind accessToken. It
// reports whether the wallet was associated already.
func (c *Client) Link(ctx context.Context, accessToken string, req VerifyRequest) (bool, error) {
	body := linkBody{
		WalletAddress: req.Address,
		Signature:     req.Signature,
		Message:       req.Message,
	}

	status, raw, err := c.post(ctx, "verify", linkPath, accessToken, body)
	if err != nil {
		return false, err
	}

	switch {
	case status >= 200 && status < 300:
		return alreadyConnected(raw), nil
	case isClientError(status) && alreadyConnected(raw):
		c.logger.Debug().Str("address", req.Address).Msg("wallet already linked")
		return true, nil
	default:
		return false, statusError("verify", status, raw)
	}
}

// Track records the connection for analytics. A duplicate record is
// reported as AlreadyLinked rather than an error.
func (c *Client) Track(ctx context.Context, accessToken string, req TrackRequest) (TrackingOutcome, error) {
	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	body := trackBody{
		WalletType: req.WalletType,
		Address:    req.Address,
		ChainID:    req.ChainID,
		Timestamp:  ts.UTC().Format(time.RFC3339Nano),
	}

	status, raw, err := c.post(ctx, "track", trackPath, accessToken, body)
	if err != nil {
		return TrackingOutcome{}, err
	}

	switch {
	case status >= 200 && status < 300:
		if alreadyConnected(raw) {
			return TrackingOutcome{AlreadyLinked: true}, nil
		}
		return TrackingOutcome{Recorded: true}, nil
	case isClientError(status) && alreadyConnected(raw):
		return TrackingOutcome{AlreadyLinked: true}, nil
	default:
		return TrackingOutcome{}, statusError("track", status, raw)
	}
}

func (c *Client) post(ctx context.Context, op, path, token string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, walleterr.Wrap(walleterr.KindValidationError, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, walleterr.Wrap(walleterr.KindNetworkError, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return 0, nil, ctx.Err()
		}
		c.logger.Warn().Err(err).Str("path", path).Msg("backend request failed")
		return 0, nil, walleterr.Wrap(walleterr.KindNetworkError, op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return 0, nil, walleterr.Wrap(walleterr.KindNetworkError, op, err)
	}

	c.logger.Debug().Str("path", path).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("backend request")
	return resp.StatusCode, raw, nil
}

func isClientError(status int) bool {
	return status >= 400 && status < 500
}

// statusError classifies a non-success response. Server-side failures are
// transient, everything else is a rejection of the request.
func statusError(op string, status int, body []byte) error {
	msg := errorMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	msg = fmt.Sprintf("%s (HTTP %d)", msg, status)

	if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return walleterr.New(walleterr.KindNetworkError, op, msg)
	}
	return walleterr.New(walleterr.KindValidationError, op, msg)
}

// tokenExpiry reads exp from a JWT without verifying it. Opaque tokens
// yield the zero time.
func tokenExpiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
