// Package events delivers opportunity lifecycle events to observability
// sinks. Emitting is always fire-and-forget: a sink failure is logged and
// swallowed so observability can never stall dispatch or execution.
package events

import (
	"context"
	"log/slog"

	"github.com/chainarb/chainarb/internal/domain"
)

// Sink receives lifecycle events. Implementations must not block; slow
// deliveries belong behind a goroutine or buffer inside the sink.
type Sink interface {
	Emit(ctx context.Context, ev domain.Event)
}

// LogSink writes every event to the structured log. Severity high maps to
// warn level, everything else to info.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink on the given logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "events"))}
}

func (s *LogSink) Emit(ctx context.Context, ev domain.Event) {
	attrs := []any{
		slog.String("event", string(ev.Type)),
		slog.String("opportunity_id", ev.OpportunityID),
		slog.String("network", ev.Network),
	}
	if ev.Class != domain.FailNone {
		attrs = append(attrs, slog.String("class", string(ev.Class)))
	}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Reason))
	}
	if ev.Type == domain.EventSuccess {
		attrs = append(attrs, slog.Float64("profit_usd", ev.ProfitUSD))
	}
	if ev.Severity == domain.SeverityHigh {
		s.logger.WarnContext(ctx, "lifecycle event", attrs...)
		return
	}
	s.logger.InfoContext(ctx, "lifecycle event", attrs...)
}

// MultiSink fans one event out to several sinks in order.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks into one. Nil entries are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) Emit(ctx context.Context, ev domain.Event) {
	for _, s := range m.sinks {
		s.Emit(ctx, ev)
	}
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, domain.Event) {}
