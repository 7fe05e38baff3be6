package devbackend

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yolodolo42/walletgate/internal/backend"
	"github.com/yolodolo42/walletgate/internal/challenge"
	"github.com/yolodolo42/walletgate/internal/wallet"
	"github.com/yolodolo42/walletgate/internal/walleterr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, cfg Config) (*Server, *backend.Client) {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(SetupRouter(s))
	t.Cleanup(srv.Close)
	return s, backend.NewClient(srv.URL)
}

func signedVerifyRequest(t *testing.T, signer *wallet.KeySigner, issuedAt time.Time) backend.VerifyRequest {
	t.Helper()
	addr := signer.Address().Hex()
	msg := challenge.FormatMessage("Walletgate", addr, hexutil.Encode([]byte(t.Name()))[2:], issuedAt)
	sig, err := signer.SignMessage([]byte(msg))
	require.NoError(t, err)
	return backend.VerifyRequest{
		Address:    addr,
		Signature:  hexutil.Encode(sig),
		Message:    msg,
		WalletType: "metamask",
		ChainID:    1,
	}
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("first login links the wallet", func(t *testing.T) {
		_, client := newTestServer(t, Config{})
		signer, err := wallet.GenerateSigner()
		require.NoError(t, err)

		id, err := client.Verify(ctx, signedVerifyRequest(t, signer, time.Now()))
		require.NoError(t, err)
		assert.NotEmpty(t, id.AccessToken)
		assert.NotEmpty(t, id.RefreshToken)
		assert.Equal(t, signer.Address().Hex(), id.User.WalletAddress)
		assert.False(t, id.AlreadyLinked)
		assert.WithinDuration(t, time.Now().Add(DefaultAccessTTL), id.AccessExpiry, time.Minute)
	})

	t.Run("second login reports the existing link", func(t *testing.T) {
		_, client := newTestServer(t, Config{})
		signer, err := wallet.GenerateSigner()
		require.NoError(t, err)

		first, err := client.Verify(ctx, signedVerifyRequest(t, signer, time.Now()))
		require.NoError(t, err)

		second, err := client.Verify(ctx, signedVerifyRequest(t, signer, time.Now().Add(time.Second)))
		require.NoError(t, err)
		assert.True(t, second.AlreadyLinked)
		assert.Equal(t, first.User.ID, second.User.ID)
	})

	t.Run("rejects replayed message", func(t *testing.T) {
		_, client := newTestServer(t, Config{})
		signer, err := wallet.GenerateSigner()
		require.NoError(t, err)
		req := signedVerifyRequest(t, signer, time.Now())

		_, err = client.Login(ctx, req)
		require.NoError(t, err)

		_, err = client.Login(ctx, req)
		require.Error(t, err)
		assert.ErrorIs(t, err, walleterr.ErrValidation)
		assert.Contains(t, err.Error(), "already been used")
	})

	t.Run("rejects signature from another key", func(t *testing.T) {
		_, client := newTestServer(t, Config{})
		signer, err := wallet.GenerateSigner()
		require.NoError(t, err)
		other, err := wallet.GenerateSigner()
		require.NoError(t, err)

		req := signedVerifyRequest(t, signer, time.Now())
		sig, err := other.SignMessage([]byte(req.Message))
		require.NoError(t, err)
		req.Signature = hexutil.Encode(sig)

		_, err = client.Login(ctx, req)
		assert.ErrorIs(t, err, walleterr.ErrValidation)
		assert.Contains(t, err.Error(), "HTTP 401")
	})

	t.Run("rejects stale message", func(t *testing.T) {
		_, client := newTestServer(t, Config{MessageTTL: time.Minute})
		signer, err := wallet.GenerateSigner()
		require.NoError(t, err)

		_, err = client.Login(ctx, signedVerifyRequest(t, signer, time.Now().Add(-time.Hour)))
		assert.ErrorIs(t, err, walleterr.ErrValidation)
		assert.Contains(t, err.Error(), errStaleMessage.Error())
	})

	t.Run("rejects message for another wallet", func(t *testing.T) {
		_, client := newTestServer(t, Config{})
		signer, err := wallet.GenerateSigner()
		require.NoError(t, err)

		req := signedVerifyRequest(t, signer, time.Now())
		req.Message = challenge.FormatMessage("Walletgate", "0x1234567890123456789012345678901234567890", "abcd", time.Now())
		sig, err := signer.SignMessage([]byte(req.Message))
		require.NoError(t, err)
		req.Signature = hexutil.Encode(sig)

		_, err = client.Login(ctx, req)
		assert.ErrorIs(t, err, walleterr.ErrValidation)
	})
}

func TestTrack(t *testing.T) {
	ctx := context.Background()

	login := func(t *testing.T, client *backend.Client) (*backend.Identity, string) {
		t.Helper()
		signer, err := wallet.GenerateSigner()
		require.NoError(t, err)
		id, err := client.Verify(ctx, signedVerifyRequest(t, signer, time.Now()))
		require.NoError(t, err)
		return id, signer.Address().Hex()
	}

	t.Run("second record is already linked", func(t *testing.T) {
		s, client := newTestServer(t, Config{})
		id, addr := login(t, client)
		req := backend.TrackRequest{WalletType: "metamask", Address: addr, ChainID: 1}

		first, err := client.Track(ctx, id.AccessToken, req)
		require.NoError(t, err)
		assert.Equal(t, backend.TrackingOutcome{Recorded: true}, first)

		second, err := client.Track(ctx, id.AccessToken, req)
		require.NoError(t, err)
		assert.Equal(t, backend.TrackingOutcome{AlreadyLinked: true}, second)
		assert.Equal(t, 1, s.Tracked())
	})

	t.Run("status style duplicate", func(t *testing.T) {
		_, client := newTestServer(t, Config{AlreadyConnectedStatus: true})
		id, addr := login(t, client)
		req := backend.TrackRequest{WalletType: "trust", Address: addr, ChainID: 56}

		_, err := client.Track(ctx, id.AccessToken, req)
		require.NoError(t, err)
		out, err := client.Track(ctx, id.AccessToken, req)
		require.NoError(t, err)
		assert.True(t, out.AlreadyLinked)
	})

	t.Run("different chain is a new record", func(t *testing.T) {
		s, client := newTestServer(t, Config{})
		id, addr := login(t, client)

		_, err := client.Track(ctx, id.AccessToken, backend.TrackRequest{WalletType: "metamask", Address: addr, ChainID: 1})
		require.NoError(t, err)
		out, err := client.Track(ctx, id.AccessToken, backend.TrackRequest{WalletType: "metamask", Address: addr, ChainID: 137})
		require.NoError(t, err)
		assert.True(t, out.Recorded)
		assert.Equal(t, 2, s.Tracked())
	})

	t.Run("requires bearer token", func(t *testing.T) {
		_, client := newTestServer(t, Config{})
		_, err := client.Track(ctx, "", backend.TrackRequest{WalletType: "metamask", Address: "0x1234567890123456789012345678901234567890"})
		assert.ErrorIs(t, err, walleterr.ErrValidation)
		assert.Contains(t, err.Error(), "HTTP 401")
	})

	t.Run("rejects expired token", func(t *testing.T) {
		var skew atomic.Int64
		now := func() time.Time { return time.Now().Add(time.Duration(skew.Load())) }
		_, client := newTestServer(t, Config{Now: now})
		id, addr := login(t, client)

		skew.Store(int64(DefaultAccessTTL + time.Minute))
		_, err := client.Track(ctx, id.AccessToken, backend.TrackRequest{WalletType: "metamask", Address: addr})
		assert.ErrorIs(t, err, walleterr.ErrValidation)
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("rejects invalid address", func(t *testing.T) {
		_, client := newTestServer(t, Config{})
		id, _ := login(t, client)
		_, err := client.Track(ctx, id.AccessToken, backend.TrackRequest{WalletType: "metamask", Address: "nope"})
		assert.ErrorIs(t, err, walleterr.ErrValidation)
	})
}

func TestRouter_MalformedBody(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)
	router := SetupRouter(s)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/connect", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
