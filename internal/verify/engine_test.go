package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licguard/internal/abuse"
	"licguard/internal/registry"
	"licguard/pkg/contracts/domain"
)

const (
	testSecret = "unit-test-shared-secret"
	testCredID = "LIC-1700000000-ABC123"
	testOwner  = "553199998888"
	testOrigin = "203.0.113.7"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	engine  *Engine
	store   registry.Store
	tracker *abuse.Tracker
	clock   *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := registry.NewFileStore(filepath.Join(t.TempDir(), "credentials.json"), logger)
	require.NoError(t, err)

	tracker := abuse.NewTracker(abuse.Config{
		FailureWindow: time.Hour,
		LowThreshold:  5,
		HighThreshold: 10,
		ShortLockout:  15 * time.Minute,
		LongLockout:   time.Hour,
	}, clock.Now)

	engine := NewEngine(
		Config{
			SharedSecret:       testSecret,
			TokenSecret:        testSecret + "/session-token",
			FreshnessTolerance: 5 * time.Minute,
		},
		store,
		tracker,
		abuse.CredentialPolicy{
			MismatchThreshold:    2,
			AuthFailureThreshold: 3,
			Lockout:              30 * time.Minute,
		},
		clock,
		nil,
		nil,
		logger,
	)

	return &fixture{engine: engine, store: store, tracker: tracker, clock: clock}
}

func (f *fixture) seedCredential(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.Put(context.Background(), &domain.Credential{
		ID:           testCredID,
		OwnerID:      testOwner,
		Plan:         domain.DefaultPlan,
		Status:       domain.CredentialStatusActive,
		IssuedAt:     f.clock.Now(),
		ValidityDays: 30,
	}))
}

// signedClaim builds a claim with a proof a client holding the shared
// secret would produce.
func (f *fixture) signedClaim(credentialID, ownerID string) domain.Claim {
	ts := f.clock.Now().Unix()
	return domain.Claim{
		CredentialID: credentialID,
		OwnerID:      ownerID,
		Timestamp:    ts,
		ProofHash:    ExpectedProof(credentialID, ownerID, ts, testSecret),
		Origin:       testOrigin,
	}
}

func TestVerifyValid(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t)

	result := f.engine.Verify(context.Background(), f.signedClaim(testCredID, testOwner))

	assert.Equal(t, domain.VerdictValid, result.Verdict)
	assert.Equal(t, domain.DefaultPlan, result.Plan)
	assert.Regexp(t, `^tok-\d+-[0-9a-f]{24}$`, result.Token)
	assert.Equal(t, 30*24*time.Hour, result.RemainingValidity)
	assert.Equal(t, f.clock.Now(), result.CheckedAt)

	cred, err := f.store.Lookup(context.Background(), testCredID)
	require.NoError(t, err)
	require.NotNil(t, cred.LastVerifiedAt)
	assert.Equal(t, f.clock.Now(), *cred.LastVerifiedAt)
}

func TestVerifyMalformed(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t)

	claim := f.signedClaim(testCredID, testOwner)
	claim.ProofHash = ""

	result := f.engine.Verify(context.Background(), claim)

	assert.Equal(t, domain.VerdictMalformed, result.Verdict)
	assert.Zero(t, f.tracker.OriginFailures(testOrigin),
		"incomplete claims must not count as abuse")
}

func TestVerifyTamperedProof(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t)

	claim := f.signedClaim(testCredID, testOwner)
	claim.ProofHash = flipHexDigit(claim.ProofHash)

	result := f.engine.Verify(context.Background(), claim)

	assert.Equal(t, domain.VerdictAuthFailed, result.Verdict)
	assert.Equal(t, 1, f.tracker.OriginFailures(testOrigin))

	cred, err := f.store.Lookup(context.Background(), testCredID)
	require.NoError(t, err)
	assert.Equal(t, 1, cred.AuthFailures, "failed proofs count against the credential too")
}

func TestVerifyProofBindsOwner(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t)

	// Proof computed for the real owner but presented with a different
	// owner ID: the hash no longer matches, so this fails authentication
	// before owner binding is ever compared.
	for i := 0; i < 3; i++ {
		claim := f.signedClaim(testCredID, testOwner)
		claim.OwnerID = "111222333444"
		result := f.engine.Verify(context.Background(), claim)
		assert.Equal(t, domain.VerdictAuthFailed, result.Verdict)
	}

	// Three such failures cross the credential threshold, so even the
	// rightful owner's correct claim now finds the credential locked.
	result := f.engine.Verify(context.Background(), f.signedClaim(testCredID, testOwner))
	assert.Equal(t, domain.VerdictCredentialLocked, result.Verdict)
}

func TestVerifyStaleTimestamp(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t)

	claim := f.signedClaim(testCredID, testOwner)

	// Within the window the captured claim still verifies, replayed or not.
	assert.Equal(t, domain.VerdictValid, f.engine.Verify(context.Background(), claim).Verdict)
	f.clock.Advance(4 * time.Minute)
	assert.Equal(t, domain.VerdictValid, f.engine.Verify(context.Background(), claim).Verdict)

	// Past the tolerance the same bytes are rejected even though the
	// proof is cryptographically intact.
	f.clock.Advance(2 * time.Minute)
	result := f.engine.Verify(context.Background(), claim)
	assert.Equal(t, domain.VerdictStaleTimestamp, result.Verdict)
	assert.Equal(t, 1, f.tracker.OriginFailures(testOrigin))
}

func TestVerifyUnknownCredential(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t)

	unknown := f.engine.Verify(context.Background(), f.signedClaim("LIC-1700000000-FFFFFF", testOwner))
	assert.Equal(t, domain.VerdictUnknownCredential, unknown.Verdict)

	tampered := f.signedClaim(testCredID, testOwner)
	tampered.ProofHash = flipHexDigit(tampered.ProofHash)
	failed := f.engine.Verify(context.Background(), tampered)

	assert.Equal(t, failed.Message, unknown.Message,
		"response text must not distinguish a wrong proof from a missing record")
}

func TestVerifyDisabled(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t)
	_, err := f.store.Update(context.Background(), testCredID, func(c *domain.Credential) error {
		c.Status = domain.CredentialStatusDisabled
		return nil
	})
	require.NoError(t, err)

	result := f.engine.Verify(context.Background(), f.signedClaim(testCredID, testOwner))

	assert.Equal(t, domain.VerdictDisabled, result.Verdict)
	assert.Equal(t, 1, f.tracker.OriginFailures(testOrigin))
}

func TestVerifyExpired(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t)

	f.clock.Advance(31 * 24 * time.Hour)

	claim := f.signedClaim(testCredID, testOwner)
	result := f.engine.Verify(context.Background(), claim)

	assert.Equal(t, domain.VerdictExpired, result.Verdict)
	assert.Equal(t, 1, f.tracker.OriginFailures(testOrigin))
}

func TestOwnerMismatchLocksCredential(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t)

	// A claimant who knows the shared secret signs with their own owner ID,
	// so the proof verifies and the pipeline reaches the owner binding.
	intruder := f.signedClaim(testCredID, "111222333444")

	first := f.engine.Verify(context.Background(), intruder)
	assert.Equal(t, domain.VerdictOwnerMismatch, first.Verdict)

	second := f.engine.Verify(context.Background(), intruder)
	assert.Equal(t, domain.VerdictOwnerMismatch, second.Verdict)

	// Mismatch threshold is 2, so the third attempt finds the credential
	// locked, and so does the legitimate owner.
	third := f.engine.Verify(context.Background(), intruder)
	assert.Equal(t, domain.VerdictCredentialLocked, third.Verdict)
	assert.Equal(t, 30*time.Minute, third.RetryAfter)

	owner := f.engine.Verify(context.Background(), f.signedClaim(testCredID, testOwner))
	assert.Equal(t, domain.VerdictCredentialLocked, owner.Verdict)
}

func TestAuthFailuresLockCredential(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t)

	for i := 0; i < 3; i++ {
		claim := f.signedClaim(testCredID, testOwner)
		claim.ProofHash = flipHexDigit(claim.ProofHash)
		result := f.engine.Verify(context.Background(), claim)
		assert.Equal(t, domain.VerdictAuthFailed, result.Verdict)
	}

	// Threshold 3 crossed: even a perfectly formed claim now bounces.
	result := f.engine.Verify(context.Background(), f.signedClaim(testCredID, testOwner))
	assert.Equal(t, domain.VerdictCredentialLocked, result.Verdict)
	assert.Positive(t, result.RetryAfter)

	// Lockouts are time-boxed; the credential recovers on its own.
	f.clock.Advance(31 * time.Minute)
	recovered := f.engine.Verify(context.Background(), f.signedClaim(testCredID, testOwner))
	assert.Equal(t, domain.VerdictValid, recovered.Verdict)
}

func TestOriginLockout(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t)

	// Five failures against distinct unknown credentials trip the low
	// threshold for the origin.
	for i := 0; i < 5; i++ {
		claim := f.signedClaim(fmt.Sprintf("LIC-1700000000-%06X", i), testOwner)
		claim.ProofHash = flipHexDigit(claim.ProofHash)
		f.engine.Verify(context.Background(), claim)
	}

	result := f.engine.Verify(context.Background(), f.signedClaim(testCredID, testOwner))
	assert.Equal(t, domain.VerdictRateLimited, result.Verdict)
	assert.Equal(t, 15*time.Minute, result.RetryAfter)

	// Another origin is unaffected.
	other := f.signedClaim(testCredID, testOwner)
	other.Origin = "198.51.100.9"
	assert.Equal(t, domain.VerdictValid, f.engine.Verify(context.Background(), other).Verdict)

	// The locked origin recovers once the lockout elapses.
	f.clock.Advance(16 * time.Minute)
	recovered := f.engine.Verify(context.Background(), f.signedClaim(testCredID, testOwner))
	assert.Equal(t, domain.VerdictValid, recovered.Verdict)
}

func TestSuccessResetsCounters(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t)

	for i := 0; i < 2; i++ {
		claim := f.signedClaim(testCredID, testOwner)
		claim.ProofHash = flipHexDigit(claim.ProofHash)
		f.engine.Verify(context.Background(), claim)
	}
	assert.Equal(t, 2, f.tracker.OriginFailures(testOrigin))

	result := f.engine.Verify(context.Background(), f.signedClaim(testCredID, testOwner))
	require.Equal(t, domain.VerdictValid, result.Verdict)

	assert.Zero(t, f.tracker.OriginFailures(testOrigin))
	cred, err := f.store.Lookup(context.Background(), testCredID)
	require.NoError(t, err)
	assert.Zero(t, cred.AuthFailures)
	assert.Zero(t, cred.OwnerMismatches)
}

func TestConcurrentFailuresNeverUndercount(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t)

	const attempts = 30

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			claim := f.signedClaim(testCredID, testOwner)
			claim.ProofHash = flipHexDigit(claim.ProofHash)
			// Distinct origins keep the origin axis out of the way so
			// every attempt reaches the proof check.
			claim.Origin = fmt.Sprintf("10.1.%d.%d", n/250, n%250)
			f.engine.Verify(context.Background(), claim)
		}(i)
	}
	wg.Wait()

	cred, err := f.store.Lookup(context.Background(), testCredID)
	require.NoError(t, err)
	assert.Equal(t, attempts, cred.AuthFailures)
}

func TestVerifyInternalFault(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(
		Config{SharedSecret: testSecret, TokenSecret: "t", FreshnessTolerance: 5 * time.Minute},
		faultyStore{},
		f.tracker,
		abuse.CredentialPolicy{MismatchThreshold: 2, AuthFailureThreshold: 3, Lockout: 30 * time.Minute},
		f.clock,
		nil,
		nil,
		logger,
	)

	result := engine.Verify(context.Background(), f.signedClaim(testCredID, testOwner))
	assert.Equal(t, domain.VerdictInternal, result.Verdict)
	assert.NotContains(t, result.Message, "disk", "internal detail must not leak")
}

// flipHexDigit corrupts the first hex character while keeping the string a
// plausible digest.
func flipHexDigit(proof string) string {
	replacement := byte('0')
	if proof[0] == '0' {
		replacement = '1'
	}
	return string(replacement) + proof[1:]
}

type faultyStore struct {
	registry.Store
}

func (faultyStore) Lookup(context.Context, string) (*domain.Credential, error) {
	return nil, errors.New("disk failure")
}
