// Package domain contains the core domain models for licguard.
// These types serve as the single source of truth for all layers of the service.
package domain

import (
	"time"
)

// Credential represents one issued license and its abuse-tracking bookkeeping.
// The owner binding is set at issuance and only changes through an explicit
// admin re-bind; verification compares it by exact value.
type Credential struct {
	ID              string           `json:"id" validate:"required"`
	OwnerID         string           `json:"owner_id" validate:"required"`
	Plan            string           `json:"plan"`
	Status          CredentialStatus `json:"status" validate:"required"`
	IssuedAt        time.Time        `json:"issued_at"`
	ValidityDays    int              `json:"validity_days" validate:"min=1"`
	LastVerifiedAt  *time.Time       `json:"last_verified_at,omitempty"`
	AuthFailures    int              `json:"auth_failures"`
	OwnerMismatches int              `json:"owner_mismatches"`
	LockedUntil     *time.Time       `json:"locked_until,omitempty"`
}

// CredentialStatus represents the lifecycle status of a credential
type CredentialStatus string

const (
	CredentialStatusActive   CredentialStatus = "active"
	CredentialStatusDisabled CredentialStatus = "disabled"
)

// DefaultPlan is assigned when the admin creates a credential without one
const DefaultPlan = "PREMIUM"

// ExpiresAt returns the instant after which the credential no longer verifies
func (c *Credential) ExpiresAt() time.Time {
	return c.IssuedAt.Add(time.Duration(c.ValidityDays) * 24 * time.Hour)
}

// Expired reports whether the credential's validity period has elapsed
func (c *Credential) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt())
}

// RemainingValidity returns how long the credential remains valid, zero if expired
func (c *Credential) RemainingValidity(now time.Time) time.Duration {
	remaining := c.ExpiresAt().Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Locked reports whether the credential is under an active lockout and, if
// so, how long until the lockout expires.
func (c *Credential) Locked(now time.Time) (bool, time.Duration) {
	if c.LockedUntil == nil || !now.Before(*c.LockedUntil) {
		return false, 0
	}
	return true, c.LockedUntil.Sub(now)
}

// Clone returns a deep copy so callers never alias the stored record
func (c *Credential) Clone() *Credential {
	cp := *c
	if c.LastVerifiedAt != nil {
		t := *c.LastVerifiedAt
		cp.LastVerifiedAt = &t
	}
	if c.LockedUntil != nil {
		t := *c.LockedUntil
		cp.LockedUntil = &t
	}
	return &cp
}
