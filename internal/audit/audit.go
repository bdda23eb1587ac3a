// Package audit records verification attempts off the request path. Events
// go through a bounded channel drained by a single goroutine; when the
// buffer is full new events are dropped rather than blocking a verdict.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"licguard/pkg/contracts/domain"
)

// Event is one recorded verification attempt
type Event struct {
	Time         time.Time
	Origin       string
	CredentialID string
	Verdict      domain.Verdict
	Detail       string
}

// Logger drains audit events asynchronously. Record never blocks and its
// failure never alters a verdict.
type Logger struct {
	events  chan Event
	logger  *slog.Logger
	done    chan struct{}
	dropped atomic.Int64

	closeOnce sync.Once
}

// New creates an audit logger with the given buffer size and starts the
// drain goroutine.
func New(logger *slog.Logger, buffer int) *Logger {
	if buffer < 1 {
		buffer = 1
	}
	l := &Logger{
		events: make(chan Event, buffer),
		logger: logger.With(slog.String("component", "audit")),
		done:   make(chan struct{}),
	}
	go l.drain()
	return l
}

// Record enqueues an event, dropping it when the buffer is saturated
func (l *Logger) Record(ev Event) {
	select {
	case l.events <- ev:
	default:
		l.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded due to back-pressure
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Close stops accepting events and waits for the queue to drain
func (l *Logger) Close() {
	l.closeOnce.Do(func() {
		close(l.events)
		<-l.done
	})
}

func (l *Logger) drain() {
	defer close(l.done)

	for ev := range l.events {
		level := slog.LevelInfo
		if ev.Verdict != domain.VerdictValid {
			level = slog.LevelWarn
		}

		attrs := []any{
			slog.String("action", "verification_attempt"),
			slog.String("origin", ev.Origin),
			slog.String("verdict", string(ev.Verdict)),
			slog.Time("attempted_at", ev.Time),
		}
		if ev.CredentialID != "" {
			attrs = append(attrs, slog.String("credential_id", ev.CredentialID))
		}
		if ev.Detail != "" {
			attrs = append(attrs, slog.String("detail", ev.Detail))
		}

		l.logger.Log(context.Background(), level, "verification attempt recorded", attrs...)
	}
}
