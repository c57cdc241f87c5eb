package temporal

import (
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/digital-twin-engine/internal/domain"
)

// Config tunes the rolling windows and the early-warning detector.
type Config struct {
	Signals          []domain.SignalConfig
	ShortWindow      time.Duration
	MediumWindow     time.Duration
	LongWindow       time.Duration
	BaselineLookback time.Duration
	ZScoreThreshold  float64
	MinWindowSamples int
}

func (c *Config) applyDefaults() {
	if c.ShortWindow == 0 {
		c.ShortWindow = 6 * time.Hour
	}
	if c.MediumWindow == 0 {
		c.MediumWindow = 72 * time.Hour
	}
	if c.LongWindow == 0 {
		c.LongWindow = 21 * 24 * time.Hour
	}
	if c.BaselineLookback == 0 {
		c.BaselineLookback = 30 * 24 * time.Hour
	}
	if c.ZScoreThreshold == 0 {
		c.ZScoreThreshold = 2.0
	}
	if c.MinWindowSamples == 0 {
		c.MinWindowSamples = 4
	}
}

// Aggregator derives rolling temporal features from a patient's raw event
// log. Derived data only; the log stays the source of truth and features can
// always be recomputed from it.
type Aggregator struct {
	cfg Config
	log *logrus.Logger
}

// NewAggregator creates a feature aggregator for the configured signals.
func NewAggregator(cfg Config, logger *logrus.Logger) *Aggregator {
	cfg.applyDefaults()
	return &Aggregator{cfg: cfg, log: logger}
}

// Config returns the effective configuration after defaults.
func (a *Aggregator) Config() Config { return a.cfg }

type sample struct {
	at    time.Time
	value float64
}

// extractSamples pulls the numeric series per signal out of the event log,
// ordered by occurred_at. Only measurement payloads contribute; prediction,
// override and audit events carry no signal samples.
func extractSamples(events []domain.Event) map[string][]sample {
	series := make(map[string][]sample)
	for _, ev := range events {
		switch p := ev.Payload.(type) {
		case domain.BiometricSample:
			series[p.Signal] = append(series[p.Signal], sample{at: ev.OccurredAt, value: p.Value})
		case domain.SymptomReport:
			series[p.Signal] = append(series[p.Signal], sample{at: ev.OccurredAt, value: p.Score})
		}
	}
	for signal := range series {
		s := series[signal]
		sort.Slice(s, func(i, j int) bool { return s[i].at.Before(s[j].at) })
		series[signal] = s
	}
	return series
}

// Aggregate computes the short, medium and long rolling windows for every
// signal present in the log, all ending at now. Windows with fewer than two
// samples are still emitted so downstream consumers see the sample counts,
// but their second-order statistics are zero.
func (a *Aggregator) Aggregate(events []domain.Event, now time.Time) domain.FeatureSnapshot {
	series := extractSamples(events)

	snapshot := domain.FeatureSnapshot{Windows: make(map[string][]domain.TemporalWindow, len(series))}
	for signal, samples := range series {
		if len(samples) == 0 {
			continue
		}
		if last := samples[len(samples)-1].at; last.After(snapshot.ObservedAt) {
			snapshot.ObservedAt = last
		}

		windows := make([]domain.TemporalWindow, 0, 3)
		for _, span := range []time.Duration{a.cfg.ShortWindow, a.cfg.MediumWindow, a.cfg.LongWindow} {
			w := computeWindow(signal, samples, now.Add(-span), now)
			if w.SampleCount > 0 {
				windows = append(windows, w)
			}
		}
		if len(windows) > 0 {
			snapshot.Windows[signal] = windows
		}
	}
	return snapshot
}

// computeWindow derives the statistics for one signal over (start, end].
func computeWindow(signal string, samples []sample, start, end time.Time) domain.TemporalWindow {
	values := valuesInWindow(samples, start, end)
	w := domain.TemporalWindow{
		Signal:      signal,
		WindowStart: start,
		WindowEnd:   end,
		SampleCount: len(values),
	}
	if len(values) == 0 {
		return w
	}
	w.Mean = mean(values)
	w.Variance = variance(values, w.Mean)
	w.AutocorrLag1 = autocorrLag1(values, w.Mean)
	w.Complexity = sampleEntropy(values)
	return w
}

func valuesInWindow(samples []sample, start, end time.Time) []float64 {
	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.at.After(start) && !s.at.After(end) {
			values = append(values, s.value)
		}
	}
	return values
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func variance(values []float64, mu float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - mu
		sum += d * d
	}
	return sum / float64(len(values))
}

// autocorrLag1 is the centered lag-1 autocorrelation. Constant series have
// no defined autocorrelation and report zero.
func autocorrLag1(values []float64, mu float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var num, den float64
	for i, v := range values {
		d := v - mu
		den += d * d
		if i < len(values)-1 {
			num += d * (values[i+1] - mu)
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// sampleEntropy computes SampEn(m=2, r=0.2*std). Lower values mean a more
// regular, less complex series; loss of complexity is itself an early
// warning indicator.
func sampleEntropy(values []float64) float64 {
	const m = 2
	n := len(values)
	if n <= m+1 {
		return 0
	}
	sd := math.Sqrt(variance(values, mean(values)))
	if sd == 0 {
		return 0
	}
	r := 0.2 * sd

	match := func(length int) int {
		count := 0
		for i := 0; i+length <= n; i++ {
			for j := i + 1; j+length <= n; j++ {
				ok := true
				for k := 0; k < length; k++ {
					if math.Abs(values[i+k]-values[j+k]) > r {
						ok = false
						break
					}
				}
				if ok {
					count++
				}
			}
		}
		return count
	}

	b := match(m)
	a := match(m + 1)
	if a == 0 || b == 0 {
		return 0
	}
	return -math.Log(float64(a) / float64(b))
}
