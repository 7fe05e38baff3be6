package wallet

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yolodolo42/walletgate/internal/testutil"
)

// Well-known development key; never use it outside tests.
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testSigner(t *testing.T) *KeySigner {
	t.Helper()
	key, err := crypto.HexToECDSA(testPrivateKey)
	require.NoError(t, err)
	return NewKeySigner(key)
}

func TestKeySigner_SignMessage(t *testing.T) {
	t.Run("signs message with EIP-191 prefix", func(t *testing.T) {
		signer := testSigner(t)

		sig, err := signer.SignMessage([]byte("Hello, Ethereum!"))
		require.NoError(t, err)
		require.Len(t, sig, 65) // r (32) + s (32) + v (1)

		// V should be 27 or 28 for EIP-191 compatibility
		assert.True(t, sig[64] == 27 || sig[64] == 28)
	})

	t.Run("signs empty message", func(t *testing.T) {
		sig, err := testSigner(t).SignMessage([]byte{})
		require.NoError(t, err)
		require.Len(t, sig, 65)
	})

	t.Run("signs with keystore account", func(t *testing.T) {
		km, err := NewKeystoreManager(testutil.TempDir(t))
		require.NoError(t, err)

		account, err := km.CreateAccount("testpassword")
		require.NoError(t, err)

		signer, err := km.GetSigner(account.Address, "testpassword")
		require.NoError(t, err)

		msg := []byte("sign in")
		sig, err := signer.SignMessage(msg)
		require.NoError(t, err)
		require.NoError(t, VerifyMessage(account.Address, msg, sig))
	})

	t.Run("returns error when locked", func(t *testing.T) {
		signer := testSigner(t)
		signer.Lock()

		_, err := signer.SignMessage([]byte("test"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAccountLocked)
	})
}

func TestKeySigner_Lock(t *testing.T) {
	t.Run("zeroes out private key", func(t *testing.T) {
		signer := testSigner(t)

		_, err := signer.SignMessage([]byte("test"))
		require.NoError(t, err)

		signer.Lock()

		_, err = signer.SignMessage([]byte("test"))
		assert.ErrorIs(t, err, ErrAccountLocked)
	})

	t.Run("can be called multiple times", func(t *testing.T) {
		signer := testSigner(t)
		signer.Lock()
		signer.Lock()
		signer.Lock()
	})
}

func TestKeySigner_Address(t *testing.T) {
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", testSigner(t).Address().Hex())

	generated, err := GenerateSigner()
	require.NoError(t, err)
	assert.NotEqual(t, common.Address{}, generated.Address())
}

func TestVerifyMessage(t *testing.T) {
	signer := testSigner(t)
	msg := []byte("Wallet: 0xf39F\nNonce: abc")
	sig, err := signer.SignMessage(msg)
	require.NoError(t, err)

	t.Run("accepts matching signature", func(t *testing.T) {
		assert.NoError(t, VerifyMessage(signer.Address(), msg, sig))
	})

	t.Run("accepts zero-based recovery id", func(t *testing.T) {
		raw := append([]byte(nil), sig...)
		raw[64] -= 27
		assert.NoError(t, VerifyMessage(signer.Address(), msg, raw))
	})

	t.Run("rejects different message", func(t *testing.T) {
		err := VerifyMessage(signer.Address(), []byte("other"), sig)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("rejects different address", func(t *testing.T) {
		other := common.HexToAddress("0x1234567890123456789012345678901234567890")
		assert.ErrorIs(t, VerifyMessage(other, msg, sig), ErrInvalidSignature)
	})

	t.Run("rejects truncated signature", func(t *testing.T) {
		_, err := RecoverAddress(msg, sig[:10])
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}
