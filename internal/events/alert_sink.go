package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chainarb/chainarb/internal/domain"
	"github.com/chainarb/chainarb/internal/notify"
)

// AlertSink forwards high-severity events to human notification channels.
// Stranded assets and breaker trips need an operator; routine lifecycle
// events never page anyone.
type AlertSink struct {
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewAlertSink wraps a Notifier as an event sink.
func NewAlertSink(n *notify.Notifier, logger *slog.Logger) *AlertSink {
	return &AlertSink{
		notifier: n,
		logger:   logger.With(slog.String("component", "events_alert")),
	}
}

func (s *AlertSink) Emit(ctx context.Context, ev domain.Event) {
	if ev.Severity != domain.SeverityHigh {
		return
	}

	title := fmt.Sprintf("chainarb: %s", ev.Type)
	var b strings.Builder
	if ev.OpportunityID != "" {
		fmt.Fprintf(&b, "opportunity %s", ev.OpportunityID)
	}
	if ev.Network != "" {
		fmt.Fprintf(&b, " on %s", ev.Network)
	}
	if ev.Reason != "" {
		fmt.Fprintf(&b, "\n%s", ev.Reason)
	}
	if len(ev.Refs) > 0 {
		fmt.Fprintf(&b, "\nrefs: %s", strings.Join(ev.Refs, ", "))
	}

	if err := s.notifier.Notify(ctx, string(ev.Type), title, b.String()); err != nil {
		s.logger.Warn("alert delivery failed",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}
