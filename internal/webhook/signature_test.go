package webhook

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steward/internal/types"
)

func TestHMACVerifier_ValidSignature(t *testing.T) {
	v := NewHMACVerifier()
	payload := []byte(`{"id":"evt_1","type":"payment.succeeded"}`)
	secret := "whsec_topsecret"

	sig := ComputeSignature(payload, secret)

	require.NoError(t, v.Verify(payload, sig, secret))
}

func TestHMACVerifier_TamperedPayload(t *testing.T) {
	v := NewHMACVerifier()
	payload := []byte(`{"id":"evt_1","amount_cents":1000}`)
	secret := "whsec_topsecret"

	sig := ComputeSignature(payload, secret)

	tampered := []byte(`{"id":"evt_1","amount_cents":9000}`)
	err := v.Verify(tampered, sig, secret)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthSignatureInvalid, appErr.Code)
}

func TestHMACVerifier_WrongSecret(t *testing.T) {
	v := NewHMACVerifier()
	payload := []byte(`{"id":"evt_1"}`)

	sig := ComputeSignature(payload, "whsec_real")

	err := v.Verify(payload, sig, "whsec_guessed")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthSignatureInvalid, appErr.Code)
}

func TestHMACVerifier_SingleBitFlip(t *testing.T) {
	v := NewHMACVerifier()
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_topsecret"

	sig := []byte(ComputeSignature(payload, secret))
	// Flip one hex character without changing the length.
	if sig[0] == 'a' {
		sig[0] = 'b'
	} else {
		sig[0] = 'a'
	}

	assert.Error(t, v.Verify(payload, string(sig), secret))
}

func TestHMACVerifier_LengthMismatch(t *testing.T) {
	v := NewHMACVerifier()

	err := v.Verify([]byte(`{}`), "deadbeef", "whsec_topsecret")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthSignatureInvalid, appErr.Code)
}

func TestHMACVerifier_EmptySecret(t *testing.T) {
	v := NewHMACVerifier()
	payload := []byte(`{}`)

	err := v.Verify(payload, ComputeSignature(payload, ""), "")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalSecretMissing, appErr.Code)
}

// flipHexChar returns a copy of sig with the hex character at pos changed,
// preserving length so the comparison path is reached.
func flipHexChar(sig string, pos int) string {
	b := []byte(sig)
	if b[pos] == 'a' {
		b[pos] = 'b'
	} else {
		b[pos] = 'a'
	}
	return string(b)
}

func TestHMACVerifier_MismatchPositionDoesNotLeakTiming(t *testing.T) {
	v := NewHMACVerifier()
	payload := []byte(`{"id":"evt_1","type":"payment.succeeded","data":{"amount_cents":5000}}`)
	secret := "whsec_topsecret"

	valid := ComputeSignature(payload, secret)
	firstByte := flipHexChar(valid, 0)
	lastByte := flipHexChar(valid, len(valid)-1)

	require.Error(t, v.Verify(payload, firstByte, secret))
	require.Error(t, v.Verify(payload, lastByte, secret))

	// Statistical smoke check that rejection time does not depend on where
	// the signature diverges. A byte-position-dependent early exit would
	// show a large median gap between first-byte and last-byte mutations;
	// the tolerance is generous because wall-clock noise dwarfs the cost
	// of comparing 64 bytes.
	median := func(sig string) time.Duration {
		const iterations = 2_000
		samples := make([]time.Duration, iterations)
		for i := range samples {
			start := time.Now()
			_ = v.Verify(payload, sig, secret)
			samples[i] = time.Since(start)
		}
		sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
		return samples[iterations/2]
	}

	first := median(firstByte)
	last := median(lastByte)

	slower, faster := first, last
	if slower < faster {
		slower, faster = faster, slower
	}
	assert.Less(t, float64(slower), float64(faster)*10,
		"rejection time varies with mismatch position: first-byte median %v, last-byte median %v", first, last)
}

func TestComputeSignature_Deterministic(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)

	first := ComputeSignature(payload, "whsec_topsecret")
	second := ComputeSignature(payload, "whsec_topsecret")

	assert.Equal(t, first, second)
	// hex-encoded SHA-256 output
	assert.Len(t, first, 64)
	assert.NotEqual(t, first, ComputeSignature(payload, "whsec_other"))
}
