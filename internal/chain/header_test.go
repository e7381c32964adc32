package chain

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderNonceRoundTrip(t *testing.T) {
	header := make([]byte, HeaderSize)

	PutHeaderNonce(header, 0xdeadbeef)
	assert.Equal(t, uint32(0xdeadbeef), HeaderNonce(header))

	// Only the four nonce bytes are touched.
	rest := make([]byte, HeaderSize)
	copy(rest, header)
	for i := NonceOffset; i < NonceOffset+4; i++ {
		rest[i] = 0
	}
	assert.Equal(t, make([]byte, HeaderSize), rest)
}

func TestCheckHeaderLen(t *testing.T) {
	assert.NoError(t, CheckHeaderLen(make([]byte, HeaderSize)))
	assert.Error(t, CheckHeaderLen(nil))
	assert.Error(t, CheckHeaderLen(make([]byte, HeaderSize-1)))
	assert.Error(t, CheckHeaderLen(make([]byte, HeaderSize+1)))
}

func TestCheckProof(t *testing.T) {
	header := make([]byte, HeaderSize)

	// The all-ones target accepts every digest; the all-zeros target accepts
	// only a zero digest.
	easy := bytes.Repeat([]byte{0xff}, HashSize)
	assert.True(t, CheckProof(header, easy))

	impossible := make([]byte, HashSize)
	assert.False(t, CheckProof(header, impossible))

	// The digest itself is always an acceptable target (compare <= 0).
	exact := PowHash(header)
	require.Len(t, exact, HashSize)
	assert.True(t, CheckProof(header, exact))
}

func TestPowHashDependsOnNonce(t *testing.T) {
	a := make([]byte, HeaderSize)
	b := make([]byte, HeaderSize)
	PutHeaderNonce(b, 1)

	assert.NotEqual(t, PowHash(a), PowHash(b))
}
