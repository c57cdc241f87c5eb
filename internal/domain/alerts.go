package domain

import "time"

// AlertSeverity orders alerts for clinical triage.
type AlertSeverity string

const (
	SeverityCritical      AlertSeverity = "critical"
	SeverityUrgent        AlertSeverity = "urgent"
	SeverityInformational AlertSeverity = "informational"
)

// AlertRecord is append-only. Acknowledgement is recorded separately and
// never mutates the original record; Count carries suppression-window
// increments for deduplicated re-triggers.
type AlertRecord struct {
	AlertID           string        `json:"alert_id"`
	PatientID         string        `json:"patient_id"`
	Severity          AlertSeverity `json:"severity"`
	Reason            string        `json:"reason"`
	Detail            string        `json:"detail,omitempty"`
	TriggeringEventID string        `json:"triggering_event_id"`
	CreatedAt         time.Time     `json:"created_at"`
	Acknowledged      bool          `json:"acknowledged"`
	Count             int           `json:"count"`
}
