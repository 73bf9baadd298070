// Package webhook implements the payment-provider webhook verification
// pipeline: HMAC signature checking, replay-window enforcement, duplicate
// suppression, and typed event dispatch. The HTTP layer in
// internal/api/handlers drives this pipeline; everything here is
// transport-agnostic.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"steward/internal/types"
)

// SignatureVerifier abstracts webhook signature checking so the HTTP
// handler can be tested without real HMAC material.
type SignatureVerifier interface {
	// Verify validates a raw payload against the presented signature and
	// the shared secret. Returns nil on success, an error on failure.
	Verify(payload []byte, signature string, secret string) error
}

// HMACVerifier verifies hex-encoded HMAC-SHA256 signatures computed over
// the raw request body. This is the scheme the payment provider uses for
// the X-Signature header.
type HMACVerifier struct{}

// NewHMACVerifier creates a new HMACVerifier.
func NewHMACVerifier() *HMACVerifier {
	return &HMACVerifier{}
}

// Compile-time assertion that HMACVerifier satisfies SignatureVerifier.
var _ SignatureVerifier = (*HMACVerifier)(nil)

// Verify recomputes the expected signature and compares it to the
// presented one in constant time. A length mismatch fails immediately:
// it can never match, and rejecting it up front avoids feeding
// mismatched buffers to the constant-time compare.
//
// The error carries no detail about where the comparison diverged; an
// early-exit or byte-position-dependent failure would let an attacker
// recover the signature byte-by-byte via timing.
func (v *HMACVerifier) Verify(payload []byte, signature string, secret string) error {
	if secret == "" {
		return types.NewAppError(
			types.ErrCodeInternalSecretMissing,
			"webhook signing secret is not configured",
			nil,
		)
	}

	expected := ComputeSignature(payload, secret)

	if len(signature) != len(expected) {
		return types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"webhook signature mismatch",
			nil,
		)
	}

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"webhook signature mismatch",
			nil,
		)
	}

	return nil
}

// ComputeSignature returns the lowercase hex HMAC-SHA256 of payload under
// secret. Exported for test fixtures and for the provider simulator in
// operational tooling.
func ComputeSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
