package signature

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverAddress_roundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	expected := crypto.PubkeyToAddress(key.PublicKey)

	message := PersonalMessage([]byte("hello witness"))
	sig, err := crypto.Sign(crypto.Keccak256(message), key)
	require.NoError(t, err)

	recovered, err := RecoverAddress(sig, message)
	require.NoError(t, err)
	assert.Equal(t, expected, recovered)
}

func TestRecoverAddress_ethereumRecoveryID(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	expected := crypto.PubkeyToAddress(key.PublicKey)

	message := PersonalMessage([]byte("hello witness"))
	sig, err := crypto.Sign(crypto.Keccak256(message), key)
	require.NoError(t, err)
	sig[64] += 27 // most signing libraries emit v as 27/28

	recovered, err := RecoverAddress(sig, message)
	require.NoError(t, err)
	assert.Equal(t, expected, recovered)
}

func TestRecoverAddress_wrongMessageRecoversDifferentAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	message := PersonalMessage([]byte("hello witness"))
	sig, err := crypto.Sign(crypto.Keccak256(message), key)
	require.NoError(t, err)

	recovered, err := RecoverAddress(sig, PersonalMessage([]byte("other message")))
	require.NoError(t, err)
	assert.NotEqual(t, signer, recovered)
}

func TestRecoverAddress_malformedSignature(t *testing.T) {
	_, err := RecoverAddress(make([]byte, 64), []byte("msg"))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	invalidRecoveryID := make([]byte, 65)
	invalidRecoveryID[64] = 5
	_, err = RecoverAddress(invalidRecoveryID, []byte("msg"))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestPersonalMessage_lengthLiteral(t *testing.T) {
	message := PersonalMessage([]byte("abc"))
	assert.Equal(t, []byte("\x19Ethereum Signed Message:\n3abc"), message)
}
