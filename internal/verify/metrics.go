package verify

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"licguard/pkg/contracts/domain"
)

// TracerName is the instrumentation scope for engine spans
const TracerName = "verify-engine"

// Metrics holds the engine's OpenTelemetry instruments
type Metrics struct {
	Attempts           metric.Int64Counter
	Verdicts           metric.Int64Counter
	Duration           metric.Float64Histogram
	OriginLockouts     metric.Int64Counter
	CredentialLockouts metric.Int64Counter
}

// NewMetrics creates the engine metrics on the given meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.Attempts, err = meter.Int64Counter("verify.attempts",
		metric.WithDescription("Total verification attempts"),
	); err != nil {
		return nil, fmt.Errorf("failed to create verify.attempts counter: %w", err)
	}
	if m.Verdicts, err = meter.Int64Counter("verify.verdicts",
		metric.WithDescription("Verification verdicts by kind"),
	); err != nil {
		return nil, fmt.Errorf("failed to create verify.verdicts counter: %w", err)
	}
	if m.Duration, err = meter.Float64Histogram("verify.duration",
		metric.WithDescription("Verification pipeline duration"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create verify.duration histogram: %w", err)
	}
	if m.OriginLockouts, err = meter.Int64Counter("verify.origin_lockouts",
		metric.WithDescription("Origin lockouts applied"),
	); err != nil {
		return nil, fmt.Errorf("failed to create verify.origin_lockouts counter: %w", err)
	}
	if m.CredentialLockouts, err = meter.Int64Counter("verify.credential_lockouts",
		metric.WithDescription("Credential lockouts applied"),
	); err != nil {
		return nil, fmt.Errorf("failed to create verify.credential_lockouts counter: %w", err)
	}
	return m, nil
}

// recordVerdict is nil-safe so the engine runs unchanged without telemetry
func (m *Metrics) recordVerdict(ctx context.Context, verdict domain.Verdict, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("verdict", string(verdict)))
	m.Attempts.Add(ctx, 1)
	m.Verdicts.Add(ctx, 1, attrs)
	m.Duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

func (m *Metrics) recordOriginLockout(ctx context.Context) {
	if m == nil {
		return
	}
	m.OriginLockouts.Add(ctx, 1)
}

func (m *Metrics) recordCredentialLockout(ctx context.Context) {
	if m == nil {
		return
	}
	m.CredentialLockouts.Add(ctx, 1)
}
