package domain

import (
	"time"
)

// Claim is the canonical verification request shape. Transport adapters
// normalize legacy field aliases into this form before the engine sees it;
// the claim lives only for the duration of one request.
type Claim struct {
	CredentialID string `json:"credential_id"`
	OwnerID      string `json:"owner_id"`
	Timestamp    int64  `json:"timestamp"`
	ProofHash    string `json:"proof_hash"`
	Origin       string `json:"-"`
}

// Complete reports whether all four wire fields are present
func (c *Claim) Complete() bool {
	return c.CredentialID != "" && c.OwnerID != "" && c.Timestamp != 0 && c.ProofHash != ""
}

// Verdict identifies the outcome class of one verification attempt
type Verdict string

const (
	VerdictValid             Verdict = "VALID"
	VerdictMalformed         Verdict = "MALFORMED"
	VerdictRateLimited       Verdict = "RATE_LIMITED"
	VerdictStaleTimestamp    Verdict = "STALE_TIMESTAMP"
	VerdictAuthFailed        Verdict = "AUTH_FAILED"
	VerdictUnknownCredential Verdict = "UNKNOWN_CREDENTIAL"
	VerdictCredentialLocked  Verdict = "CREDENTIAL_LOCKED"
	VerdictDisabled          Verdict = "DISABLED"
	VerdictOwnerMismatch     Verdict = "OWNER_MISMATCH"
	VerdictExpired           Verdict = "EXPIRED"
	VerdictInternal          Verdict = "INTERNAL"
)

// Result is the engine's decision for one claim
type Result struct {
	Verdict           Verdict       `json:"verdict"`
	Message           string        `json:"message,omitempty"`
	RetryAfter        time.Duration `json:"-"`
	RemainingValidity time.Duration `json:"-"`
	Plan              string        `json:"plan,omitempty"`
	Token             string        `json:"token,omitempty"`
	CheckedAt         time.Time     `json:"checked_at"`
}

// Valid reports whether the claim passed every pipeline step
func (r *Result) Valid() bool {
	return r.Verdict == VerdictValid
}
