package walleterr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Is(t *testing.T) {
	t.Run("matches sentinel of its kind", func(t *testing.T) {
		err := New(KindUserRejected, "sign", "")
		assert.ErrorIs(t, err, ErrUserRejected)
		assert.NotErrorIs(t, err, ErrTimeout)
	})

	t.Run("matches through wrapping", func(t *testing.T) {
		err := fmt.Errorf("connect failed: %w", New(KindTimeout, "connect", ""))
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("unwraps cause", func(t *testing.T) {
		cause := errors.New("socket closed")
		err := Wrap(KindNetworkError, "track", cause)
		assert.ErrorIs(t, err, cause)
		assert.ErrorIs(t, err, ErrNetwork)
	})
}

func TestError_Message(t *testing.T) {
	t.Run("uses sentinel text when no message", func(t *testing.T) {
		err := New(KindTimeout, "sign", "")
		assert.Equal(t, "sign: wallet request timed out", err.Error())
	})

	t.Run("includes cause", func(t *testing.T) {
		err := &Error{Kind: KindValidationError, Op: "track", Msg: "invalid address", Err: errors.New("400")}
		assert.Equal(t, "track: invalid address: 400", err.Error())
	})
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(KindTimeout, "sign", nil))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, KindUserRejected, KindOf(New(KindUserRejected, "", "")))
	assert.Equal(t, KindNetworkError, KindOf(fmt.Errorf("wrapped: %w", ErrNetwork)))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
}

func TestAs(t *testing.T) {
	t.Run("keeps existing classification", func(t *testing.T) {
		orig := New(KindUserRejected, "connect", "")
		got := As(fmt.Errorf("ctx: %w", orig), "sign", KindNetworkError)
		require.NotNil(t, got)
		assert.Same(t, orig, got)
	})

	t.Run("falls back for unknown errors", func(t *testing.T) {
		got := As(errors.New("boom"), "verify", KindNetworkError)
		require.NotNil(t, got)
		assert.Equal(t, KindNetworkError, got.Kind)
		assert.Equal(t, "verify", got.Op)
	})
}

func TestKind_Retryable(t *testing.T) {
	assert.True(t, KindTimeout.Retryable())
	assert.True(t, KindNetworkError.Retryable())
	assert.False(t, KindUserRejected.Retryable())
	assert.False(t, KindRequestAlreadyPending.Retryable())
	assert.False(t, KindValidationError.Retryable())
	assert.False(t, KindProviderUnavailable.Retryable())
}

func TestFromCode(t *testing.T) {
	assert.Equal(t, KindUserRejected, FromCode(4001))
	assert.Equal(t, KindRequestAlreadyPending, FromCode(-32002))
	assert.Equal(t, KindProviderUnavailable, FromCode(4900))
	assert.Equal(t, KindUnknown, FromCode(-32603))
}
