// Package abuse tracks verification failures per calling origin and per
// credential, and applies time-boxed escalating lockouts on both axes.
package abuse

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"licguard/internal/infrastructure"
	"licguard/pkg/contracts/domain"
)

// Config holds the origin-axis lockout policy. The shape is fixed: crossing
// the low threshold earns the short lockout, crossing the high threshold the
// long one.
type Config struct {
	FailureWindow time.Duration
	LowThreshold  int
	HighThreshold int
	ShortLockout  time.Duration
	LongLockout   time.Duration
}

// originEntry is the abuse history for one calling origin. Created lazily on
// the first failure, removed by the sweeper once the window and any lockout
// have fully elapsed.
type originEntry struct {
	failures    int
	windowStart time.Time
	lockedUntil time.Time
}

// Tracker maintains per-origin failure counters and lockouts behind a single
// mutex so that check-and-increment is atomic under concurrent requests.
type Tracker struct {
	mu      sync.Mutex
	origins map[string]*originEntry
	cfg     Config
	now     func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTracker creates a tracker with the given policy. A nil clock defaults
// to the system clock.
func NewTracker(cfg Config, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		origins:  make(map[string]*originEntry),
		cfg:      cfg,
		now:      now,
		stopChan: make(chan struct{}),
	}
}

// CheckOrigin reports whether the origin is currently locked out and, if so,
// the remaining lockout duration. An expired lockout clears the entry back
// to the clear state.
func (t *Tracker) CheckOrigin(origin string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.origins[origin]
	if !exists {
		return false, 0
	}

	now := t.now()
	if entry.lockedUntil.After(now) {
		return true, entry.lockedUntil.Sub(now)
	}
	if !entry.lockedUntil.IsZero() {
		// Lockout expired: back to clear.
		delete(t.origins, origin)
	}
	return false, 0
}

// RecordFailure counts one verification failure against the origin and
// applies the escalation policy. Check-and-increment happens in a single
// critical section so concurrent failures never under-count. It returns the
// resulting lockout state.
func (t *Tracker) RecordFailure(origin string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, exists := t.origins[origin]
	if !exists || now.Sub(entry.windowStart) > t.cfg.FailureWindow {
		entry = &originEntry{windowStart: now}
		t.origins[origin] = entry
	}
	entry.failures++

	switch {
	case entry.failures >= t.cfg.HighThreshold:
		entry.lockedUntil = now.Add(t.cfg.LongLockout)
	case entry.failures >= t.cfg.LowThreshold:
		entry.lockedUntil = now.Add(t.cfg.ShortLockout)
	}

	if entry.lockedUntil.After(now) {
		logger := infrastructure.LoggerWithContext(context.Background())
		logger.Warn("origin locked out after repeated failures",
			slog.String("action", "origin_lockout"),
			slog.String("origin", origin),
			slog.Int("failure_count", entry.failures),
			slog.Duration("lockout", entry.lockedUntil.Sub(now)),
		)
		return true, entry.lockedUntil.Sub(now)
	}
	return false, 0
}

// RecordSuccess clears the origin's warming state. An origin whose lockout
// is already active stays locked; success against one credential does not
// retroactively unlock accumulated failures against others.
func (t *Tracker) RecordSuccess(origin string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.origins[origin]
	if !exists {
		return
	}
	if entry.lockedUntil.After(t.now()) {
		return
	}
	delete(t.origins, origin)
}

// OriginFailures returns the current failure count for an origin
func (t *Tracker) OriginFailures(origin string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.origins[origin]; exists {
		return entry.failures
	}
	return 0
}

// Stats returns tracker statistics for the status endpoint
func (t *Tracker) Stats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	locked := 0
	for _, entry := range t.origins {
		if entry.lockedUntil.After(now) {
			locked++
		}
	}

	return map[string]interface{}{
		"tracked_origins": len(t.origins),
		"locked_origins":  locked,
		"low_threshold":   t.cfg.LowThreshold,
		"high_threshold":  t.cfg.HighThreshold,
		"failure_window":  t.cfg.FailureWindow.String(),
	}
}

// StartSweeper launches the periodic sweep that purges origin entries whose
// failure window has elapsed and whose lockout has expired, bounding memory
// growth from transient or hostile traffic.
func (t *Tracker) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.Sweep()
			case <-t.stopChan:
				return
			}
		}
	}()
}

// Sweep removes stale origin entries. Exposed for on-demand invocation.
func (t *Tracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for origin, entry := range t.origins {
		windowElapsed := now.Sub(entry.windowStart) > t.cfg.FailureWindow
		lockoutOver := !entry.lockedUntil.After(now)
		if windowElapsed && lockoutOver {
			delete(t.origins, origin)
		}
	}
}

// Stop terminates the sweeper goroutine
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopChan)
	})
}

// CredentialPolicy applies failure counting and lockout to the credential
// axis. The counters live on the credential record itself; the registry
// serializes mutations, so these helpers just encode the policy.
type CredentialPolicy struct {
	// MismatchThreshold is deliberately lower than AuthFailureThreshold:
	// a known credential with a correct proof but the wrong owner implies
	// credential theft or sharing.
	MismatchThreshold    int
	AuthFailureThreshold int
	Lockout              time.Duration
}

// RecordAuthFailure counts a failed proof against the credential and locks
// it when the threshold is crossed. Reports whether the credential is now
// locked.
func (p CredentialPolicy) RecordAuthFailure(c *domain.Credential, now time.Time) bool {
	c.AuthFailures++
	if p.AuthFailureThreshold > 0 && c.AuthFailures >= p.AuthFailureThreshold {
		until := now.Add(p.Lockout)
		c.LockedUntil = &until
		return true
	}
	return false
}

// RecordOwnerMismatch counts an owner-binding failure and locks the
// credential when the (lower) mismatch threshold is crossed.
func (p CredentialPolicy) RecordOwnerMismatch(c *domain.Credential, now time.Time) bool {
	c.OwnerMismatches++
	if p.MismatchThreshold > 0 && c.OwnerMismatches >= p.MismatchThreshold {
		until := now.Add(p.Lockout)
		c.LockedUntil = &until
		return true
	}
	return false
}

// Reset zeroes the credential's failure counters after a successful
// verification. An already-set lockout is left to expire on its own.
func (p CredentialPolicy) Reset(c *domain.Credential) {
	c.AuthFailures = 0
	c.OwnerMismatches = 0
}
