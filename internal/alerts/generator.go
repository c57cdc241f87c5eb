package alerts

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/digital-twin-engine/internal/domain"
	"github.com/digital-twin-engine/internal/temporal"
)

// Config tunes alert generation.
type Config struct {
	// Minimum clinical weight for an early-warning alert to be Critical
	// rather than Urgent.
	ClinicalWeightThreshold float64
	// A confidence below the floor coming from above the high mark raises
	// an Urgent alert.
	ConfidenceFloor    float64
	ConfidenceHighMark float64
	// How long a model may stay degraded before an Informational alert.
	DegradedFor time.Duration
	// Re-triggers of an unacknowledged (patient, reason) pair within this
	// window increment the existing alert instead of raising a new one.
	SuppressionWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.ClinicalWeightThreshold == 0 {
		c.ClinicalWeightThreshold = 0.7
	}
	if c.ConfidenceFloor == 0 {
		c.ConfidenceFloor = 0.5
	}
	if c.ConfidenceHighMark == 0 {
		c.ConfidenceHighMark = 0.8
	}
	if c.DegradedFor == 0 {
		c.DegradedFor = 30 * time.Minute
	}
	if c.SuppressionWindow == 0 {
		c.SuppressionWindow = 4 * time.Hour
	}
}

// Generator evaluates state transitions into alert records and owns the
// deduplication bookkeeping. Evaluation itself is pure; only the dedup and
// degraded-duration tracking carry state between calls.
type Generator struct {
	cfg Config
	log *logrus.Logger

	mu            sync.Mutex
	open          map[string]*domain.AlertRecord
	acked         map[string]bool
	degradedSince map[string]time.Time
}

// NewGenerator creates an alert generator.
func NewGenerator(cfg Config, logger *logrus.Logger) *Generator {
	cfg.applyDefaults()
	return &Generator{
		cfg:           cfg,
		log:           logger,
		open:          make(map[string]*domain.AlertRecord),
		acked:         make(map[string]bool),
		degradedSince: make(map[string]time.Time),
	}
}

func dedupKey(patientID, reason string) string {
	return patientID + "|" + reason
}

// Evaluate inspects a state transition and the early-warning verdicts and
// returns the newly raised alerts. Re-triggers swallowed by the suppression
// window are counted on the open record and not returned.
func (g *Generator) Evaluate(now time.Time, current, previous domain.PatientState, ews []temporal.EWSResult, triggeringEventID string) []domain.AlertRecord {
	g.mu.Lock()
	defer g.mu.Unlock()

	var raised []domain.AlertRecord

	for _, res := range ews {
		if !res.Fired {
			continue
		}
		severity := domain.SeverityUrgent
		if res.ClinicalWeight >= g.cfg.ClinicalWeightThreshold {
			severity = domain.SeverityCritical
		}
		alert := g.raise(now, current.PatientID, severity,
			"EWS:"+res.Signal,
			fmt.Sprintf("early warning composite fired (energy z %.1f, autocorrelation z %.1f, complexity z %.1f)",
				res.EnergyZ, res.AutocorrZ, res.ComplexityZ),
			triggeringEventID)
		if alert != nil {
			raised = append(raised, *alert)
		}
	}

	for model, cur := range current.Predictions {
		prev, ok := previous.Predictions[model]
		if ok && prev.Confidence > g.cfg.ConfidenceHighMark && cur.Confidence < g.cfg.ConfidenceFloor {
			alert := g.raise(now, current.PatientID, domain.SeverityUrgent,
				"confidence_drop:"+model,
				fmt.Sprintf("model confidence fell from %.2f to %.2f", prev.Confidence, cur.Confidence),
				triggeringEventID)
			if alert != nil {
				raised = append(raised, *alert)
			}
		}
	}

	raised = append(raised, g.evaluateDegraded(now, current, triggeringEventID)...)

	sort.Slice(raised, func(i, j int) bool { return raised[i].Reason < raised[j].Reason })
	return raised
}

// evaluateDegraded tracks how long each model has been serving substituted
// results and raises an Informational alert once the run exceeds the
// configured duration.
func (g *Generator) evaluateDegraded(now time.Time, current domain.PatientState, triggeringEventID string) []domain.AlertRecord {
	var raised []domain.AlertRecord
	for model, cur := range current.Predictions {
		key := dedupKey(current.PatientID, model)
		if !cur.Degraded {
			delete(g.degradedSince, key)
			continue
		}
		since, ok := g.degradedSince[key]
		if !ok {
			g.degradedSince[key] = now
			continue
		}
		if now.Sub(since) < g.cfg.DegradedFor {
			continue
		}
		alert := g.raise(now, current.PatientID, domain.SeverityInformational,
			"degraded:"+model,
			fmt.Sprintf("model has served substituted results since %s", since.Format(time.RFC3339)),
			triggeringEventID)
		if alert != nil {
			raised = append(raised, *alert)
		}
	}
	return raised
}

// raise creates a new alert unless an unacknowledged one with the same
// (patient, reason) is still inside the suppression window, in which case
// the open record's count is incremented instead. Callers hold g.mu.
func (g *Generator) raise(now time.Time, patientID string, severity domain.AlertSeverity, reason, detail, triggeringEventID string) *domain.AlertRecord {
	key := dedupKey(patientID, reason)
	if open, ok := g.open[key]; ok && !g.acked[open.AlertID] && now.Sub(open.CreatedAt) < g.cfg.SuppressionWindow {
		open.Count++
		g.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"reason":     reason,
			"count":      open.Count,
		}).Debug("Alert re-trigger suppressed")
		return nil
	}

	alert := &domain.AlertRecord{
		AlertID:           uuid.New().String(),
		PatientID:         patientID,
		Severity:          severity,
		Reason:            reason,
		Detail:            detail,
		TriggeringEventID: triggeringEventID,
		CreatedAt:         now,
		Count:             1,
	}
	g.open[key] = alert
	return alert
}

// Acknowledge releases the suppression held by an open alert and returns
// the owning patient so callers can persist the acknowledgement on that
// patient's log. The stored record is never rewritten; views derive the
// acknowledged flag from the acknowledgement set.
func (g *Generator) Acknowledge(alertID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, open := range g.open {
		if open.AlertID == alertID {
			g.acked[alertID] = true
			return open.PatientID, true
		}
	}
	return "", false
}

// Active returns the open alerts for a patient, newest first.
func (g *Generator) Active(patientID string) []domain.AlertRecord {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []domain.AlertRecord
	for _, open := range g.open {
		if open.PatientID != patientID {
			continue
		}
		rec := *open
		rec.Acknowledged = g.acked[rec.AlertID]
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
