package domain

import "time"

// EventType names a lifecycle event emitted by the scheduler or engine.
type EventType string

const (
	EventDetected       EventType = "detected"
	EventDispatched     EventType = "dispatched"
	EventSuccess        EventType = "success"
	EventFailed         EventType = "failed"
	EventExpired        EventType = "expired"
	EventStranded       EventType = "stranded"
	EventBreakerTripped EventType = "breaker_tripped"
	EventBreakerReset   EventType = "breaker_reset"
)

// Severity splits events needing human attention from routine telemetry.
type Severity string

const (
	SeverityInfo Severity = "info"
	SeverityHigh Severity = "high"
)

// Event is one lifecycle notification, serialized as JSON on the wire.
type Event struct {
	ID            string       `json:"id"`
	Type          EventType    `json:"type"`
	Severity      Severity     `json:"severity"`
	OpportunityID string       `json:"opportunity_id,omitempty"`
	Network       string       `json:"network,omitempty"`
	Class         FailureClass `json:"class,omitempty"`
	ProfitUSD     float64      `json:"profit_usd,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Refs          []string     `json:"refs,omitempty"`
	At            time.Time    `json:"at"`
}
