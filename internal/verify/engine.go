package verify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"licguard/internal/abuse"
	"licguard/internal/audit"
	"licguard/internal/registry"
	"licguard/pkg/contracts/domain"
)

// failedMessage is shared by AUTH_FAILED and UNKNOWN_CREDENTIAL so a prober
// cannot use the response text to tell a wrong proof from a missing record.
const failedMessage = "credential verification failed"

// Config carries the verification parameters consumed by the engine
type Config struct {
	SharedSecret       string
	TokenSecret        string
	FreshnessTolerance time.Duration
}

// Engine orchestrates one verification decision per claim: an ordered
// short-circuit pipeline over the clock, the keyed authenticator, the
// credential registry and the abuse tracker. Cheap stateless checks run
// before cryptographic work; proof validity is required before anything
// about credential existence is revealed.
type Engine struct {
	cfg     Config
	store   registry.Store
	tracker *abuse.Tracker
	policy  abuse.CredentialPolicy
	clock   Clock
	audit   *audit.Logger
	metrics *Metrics
	logger  *slog.Logger
}

// NewEngine creates a verification engine. audit and metrics may be nil;
// a nil clock defaults to the system clock.
func NewEngine(
	cfg Config,
	store registry.Store,
	tracker *abuse.Tracker,
	policy abuse.CredentialPolicy,
	clock Clock,
	auditLog *audit.Logger,
	metrics *Metrics,
	logger *slog.Logger,
) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{
		cfg:     cfg,
		store:   store,
		tracker: tracker,
		policy:  policy,
		clock:   clock,
		audit:   auditLog,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "verify_engine")),
	}
}

// Verify runs the decision pipeline for one claim. Every failure class is
// converted to a verdict; no collaborator fault escapes to the caller.
func (e *Engine) Verify(ctx context.Context, claim domain.Claim) domain.Result {
	start := time.Now()
	now := e.clock.Now()

	if claim.Origin == "" {
		claim.Origin = "unknown"
	}

	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "verify_engine.verify",
		trace.WithAttributes(
			attribute.String("component", "verify_engine"),
			attribute.String("origin", claim.Origin),
		),
	)
	defer span.End()

	result := e.decide(ctx, claim, now)
	result.CheckedAt = now

	span.SetAttributes(attribute.String("verdict", string(result.Verdict)))
	e.metrics.recordVerdict(ctx, result.Verdict, time.Since(start))

	if e.audit != nil && result.Verdict != domain.VerdictMalformed {
		e.audit.Record(audit.Event{
			Time:         now,
			Origin:       claim.Origin,
			CredentialID: claim.CredentialID,
			Verdict:      result.Verdict,
		})
	}

	e.logger.DebugContext(ctx, "claim decided",
		slog.String("origin", claim.Origin),
		slog.String("verdict", string(result.Verdict)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return result
}

// decide evaluates the pipeline; the first failing step determines the
// verdict and no later step has side effects.
func (e *Engine) decide(ctx context.Context, claim domain.Claim, now time.Time) domain.Result {
	// 1. Input completeness. Incomplete claims are a client error, not an
	// abuse signal.
	if !claim.Complete() {
		return domain.Result{
			Verdict: domain.VerdictMalformed,
			Message: "claim is missing required fields",
		}
	}

	// 2. Origin lockout. Fast-reject before any cryptographic work; the
	// origin is already locked so nothing new is counted.
	if locked, remaining := e.tracker.CheckOrigin(claim.Origin); locked {
		return domain.Result{
			Verdict:    domain.VerdictRateLimited,
			Message:    "too many failed attempts from this origin",
			RetryAfter: remaining,
		}
	}

	// 3. Freshness. Indistinguishable from an invalid proof at the wire
	// boundary; counted as an auth failure on the origin axis.
	if !Fresh(claim.Timestamp, now, e.cfg.FreshnessTolerance) {
		e.originFailure(ctx, claim.Origin)
		return domain.Result{
			Verdict: domain.VerdictStaleTimestamp,
			Message: failedMessage,
		}
	}

	// 4. Proof verification. On failure the credential counter moves too,
	// when the credential exists, without revealing that it does.
	if !VerifyProof(claim.CredentialID, claim.OwnerID, claim.Timestamp, claim.ProofHash, e.cfg.SharedSecret) {
		e.originFailure(ctx, claim.Origin)
		e.credentialAuthFailure(ctx, claim.CredentialID, now)
		return domain.Result{
			Verdict: domain.VerdictAuthFailed,
			Message: failedMessage,
		}
	}

	// 5. Credential existence. Only reached with a valid proof, so the
	// endpoint cannot be used as an existence oracle.
	cred, err := e.store.Lookup(ctx, claim.CredentialID)
	if errors.Is(err, registry.ErrNotFound) {
		e.originFailure(ctx, claim.Origin)
		return domain.Result{
			Verdict: domain.VerdictUnknownCredential,
			Message: failedMessage,
		}
	}
	if err != nil {
		return e.internalFault(ctx, "registry lookup failed", err)
	}

	// 6. Credential lockout.
	if locked, remaining := cred.Locked(now); locked {
		return domain.Result{
			Verdict:    domain.VerdictCredentialLocked,
			Message:    "credential is temporarily locked",
			RetryAfter: remaining,
		}
	}

	// 7. Status.
	if cred.Status != domain.CredentialStatusActive {
		e.originFailure(ctx, claim.Origin)
		return domain.Result{
			Verdict: domain.VerdictDisabled,
			Message: "credential is disabled",
		}
	}

	// 8. Owner binding. Exact comparison; identities may be numeric
	// strings with no canonical alternate form. The highest-suspicion
	// failure class: credential known, proof correct, wrong owner.
	if claim.OwnerID != cred.OwnerID {
		e.originFailure(ctx, claim.Origin)
		e.credentialMismatch(ctx, claim.CredentialID, now)
		return domain.Result{
			Verdict: domain.VerdictOwnerMismatch,
			Message: "credential is not bound to this owner",
		}
	}

	// 9. Expiry.
	if cred.Expired(now) {
		e.originFailure(ctx, claim.Origin)
		return domain.Result{
			Verdict: domain.VerdictExpired,
			Message: "credential has expired",
		}
	}

	// 10. Success: reset counters, stamp the verification time.
	updated, err := e.store.Update(ctx, cred.ID, func(c *domain.Credential) error {
		e.policy.Reset(c)
		verifiedAt := now
		c.LastVerifiedAt = &verifiedAt
		return nil
	})
	if err != nil {
		return e.internalFault(ctx, "failed to persist successful verification", err)
	}
	e.tracker.RecordSuccess(claim.Origin)

	return domain.Result{
		Verdict:           domain.VerdictValid,
		Message:           "credential verified",
		Plan:              updated.Plan,
		RemainingValidity: updated.RemainingValidity(now),
		Token:             SessionToken(updated.ID, now, e.cfg.TokenSecret),
	}
}

// originFailure counts one failure on the origin axis
func (e *Engine) originFailure(ctx context.Context, origin string) {
	if locked, _ := e.tracker.RecordFailure(origin); locked {
		e.metrics.recordOriginLockout(ctx)
	}
}

// credentialAuthFailure counts a failed proof against the credential when
// it exists. Errors here are logged and swallowed; abuse tracking is
// fail-forward and never changes the verdict.
func (e *Engine) credentialAuthFailure(ctx context.Context, credentialID string, now time.Time) {
	_, err := e.store.Update(ctx, credentialID, func(c *domain.Credential) error {
		if e.policy.RecordAuthFailure(c, now) {
			e.metrics.recordCredentialLockout(ctx)
		}
		return nil
	})
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		e.logger.ErrorContext(ctx, "failed to record credential auth failure",
			slog.String("credential_id", credentialID),
			slog.String("error", err.Error()),
		)
	}
}

// credentialMismatch counts an owner-binding failure against the credential
func (e *Engine) credentialMismatch(ctx context.Context, credentialID string, now time.Time) {
	_, err := e.store.Update(ctx, credentialID, func(c *domain.Credential) error {
		if e.policy.RecordOwnerMismatch(c, now) {
			e.metrics.recordCredentialLockout(ctx)
		}
		return nil
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to record owner mismatch",
			slog.String("credential_id", credentialID),
			slog.String("error", err.Error()),
		)
	}
}

// internalFault logs a collaborator fault and converts it to a generic
// verdict that exposes no internal detail.
func (e *Engine) internalFault(ctx context.Context, msg string, err error) domain.Result {
	e.logger.ErrorContext(ctx, msg,
		slog.String("error", err.Error()),
	)
	return domain.Result{
		Verdict: domain.VerdictInternal,
		Message: "verification temporarily unavailable",
	}
}
