package temporal

import (
	"math"
	"time"

	"github.com/digital-twin-engine/internal/domain"
)

// Minimum number of usable baseline windows before the detector trusts the
// personalized baseline at all.
const minBaselineWindows = 4

// EWSResult is the early-warning verdict for one signal over the short
// window ending at the evaluation time. Z-scores are relative to the
// patient's own baseline distribution of each indicator; population norms
// are deliberately not used.
type EWSResult struct {
	Signal         string    `json:"signal"`
	Fired          bool      `json:"fired"`
	EnergyZ        float64   `json:"energy_z"`
	AutocorrZ      float64   `json:"autocorr_z"`
	ComplexityZ    float64   `json:"complexity_z"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
	SampleCount    int       `json:"sample_count"`
	ClinicalWeight float64   `json:"clinical_weight"`
}

// DetectEWS evaluates the early-warning composite for every tracked signal
// against the short window ending at now. An indicator fires when its
// short-window value departs from the patient's baseline distribution by at
// least the configured z-score (complexity fires on loss, the others on
// excess). The composite fires when at least two of the three indicators
// fire within the same window.
//
// Signals with too little history for a baseline, or too few samples in the
// window under test, never fire.
func (a *Aggregator) DetectEWS(events []domain.Event, now time.Time) []EWSResult {
	series := extractSamples(events)

	results := make([]EWSResult, 0, len(a.cfg.Signals))
	for _, sig := range a.trackedSignals(series) {
		samples, ok := series[sig.Name]
		res := EWSResult{
			Signal:         sig.Name,
			WindowStart:    now.Add(-a.cfg.ShortWindow),
			WindowEnd:      now,
			ClinicalWeight: sig.ClinicalWeight,
		}
		if !ok {
			results = append(results, res)
			continue
		}
		a.evaluateSignal(&res, samples, now)
		results = append(results, res)
	}
	return results
}

// trackedSignals resolves the signal set under evaluation: the configured
// list when one exists, otherwise every signal observed in the log with a
// neutral clinical weight.
func (a *Aggregator) trackedSignals(series map[string][]sample) []domain.SignalConfig {
	if len(a.cfg.Signals) > 0 {
		return a.cfg.Signals
	}
	signals := make([]domain.SignalConfig, 0, len(series))
	for name := range series {
		signals = append(signals, domain.SignalConfig{Name: name, ClinicalWeight: 1.0})
	}
	return signals
}

func (a *Aggregator) evaluateSignal(res *EWSResult, samples []sample, now time.Time) {
	current := valuesInWindow(samples, res.WindowStart, res.WindowEnd)
	res.SampleCount = len(current)
	if len(current) < a.cfg.MinWindowSamples {
		return
	}

	baseline := a.baselineWindows(samples, now)
	if len(baseline) < minBaselineWindows {
		if a.log != nil {
			a.log.WithField("signal", res.Signal).Debug("Insufficient baseline history for early-warning evaluation")
		}
		return
	}

	// The baseline mean anchors all deviation indicators so that a shifted
	// signal registers energy even when its local variance stays small.
	baseMean := pooledMean(baseline)

	energies := make([]float64, len(baseline))
	autocorrs := make([]float64, len(baseline))
	complexities := make([]float64, len(baseline))
	for i, w := range baseline {
		energies[i] = deviationEnergy(w, baseMean)
		autocorrs[i] = deviationAutocorr(w, baseMean)
		complexities[i] = sampleEntropy(w)
	}

	res.EnergyZ = zScore(deviationEnergy(current, baseMean), energies)
	res.AutocorrZ = zScore(deviationAutocorr(current, baseMean), autocorrs)
	res.ComplexityZ = zScore(sampleEntropy(current), complexities)

	fired := 0
	if res.EnergyZ >= a.cfg.ZScoreThreshold {
		fired++
	}
	if res.AutocorrZ >= a.cfg.ZScoreThreshold {
		fired++
	}
	if res.ComplexityZ <= -a.cfg.ZScoreThreshold {
		fired++
	}
	res.Fired = fired >= 2
}

// baselineWindows tiles short-window-sized slices backwards through the
// lookback period, excluding the window under test, keeping only windows
// with enough samples to carry statistics.
func (a *Aggregator) baselineWindows(samples []sample, now time.Time) [][]float64 {
	var windows [][]float64
	horizon := now.Add(-a.cfg.BaselineLookback)
	for end := now.Add(-a.cfg.ShortWindow); end.Sub(horizon) >= a.cfg.ShortWindow; end = end.Add(-a.cfg.ShortWindow) {
		values := valuesInWindow(samples, end.Add(-a.cfg.ShortWindow), end)
		if len(values) >= a.cfg.MinWindowSamples {
			windows = append(windows, values)
		}
	}
	return windows
}

func pooledMean(windows [][]float64) float64 {
	var sum float64
	var n int
	for _, w := range windows {
		for _, v := range w {
			sum += v
		}
		n += len(w)
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// deviationEnergy is the mean squared deviation from the baseline mean. It
// captures both shift and spread relative to the patient's normal range.
func deviationEnergy(values []float64, baseMean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - baseMean
		sum += d * d
	}
	return sum / float64(len(values))
}

// deviationAutocorr is the uncentered lag-1 autocorrelation of deviations
// from the baseline mean. Sustained one-sided departures score close to +1;
// noise around the baseline scores near or below zero.
func deviationAutocorr(values []float64, baseMean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var num, den float64
	for i, v := range values {
		d := v - baseMean
		den += d * d
		if i < len(values)-1 {
			num += d * (values[i+1] - baseMean)
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func zScore(current float64, baseline []float64) float64 {
	mu := mean(baseline)
	sd := math.Sqrt(variance(baseline, mu))
	if sd < 1e-9 {
		if math.Abs(current-mu) < 1e-9 {
			return 0
		}
		sd = 1e-9
	}
	return (current - mu) / sd
}
