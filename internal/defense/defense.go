package defense

import (
	"fmt"
	"math"
	"math/rand"
)

// InjectionDetector matches inbound query text against the compiled rule
// table. Any match rejects the request.
type InjectionDetector struct {
	rules []Rule
}

// NewInjectionDetector compiles rules (DefaultRules if nil) into a ready
// detector.
func NewInjectionDetector(rules []Rule) *InjectionDetector {
	if rules == nil {
		rules = DefaultRules()
	}
	return &InjectionDetector{rules: compile(rules)}
}

// Detect returns the first matching rule's ID and description, or ok=false
// if no rule matched.
func (d *InjectionDetector) Detect(text string) (ruleID string, description string, ok bool) {
	for _, r := range d.rules {
		if r.compiled.MatchString(text) {
			return r.ID, r.Description, true
		}
	}
	return "", "", false
}

// Baseline captures the calibrated mean and standard deviation of ingested
// vectors' component means, for anomaly scoring.
type Baseline struct {
	Mean   float64
	StdDev float64
}

// VectorAnomalyDetector flags ingestion candidates whose vector mean
// deviates too far (in z-score terms) from a calibrated baseline,
// defending against embedding-space poisoning.
type VectorAnomalyDetector struct {
	baseline  Baseline
	threshold float64 // sigma multiples; default 3.0
}

// NewVectorAnomalyDetector returns a detector calibrated against baseline,
// rejecting vectors beyond threshold standard deviations. threshold <= 0
// defaults to 3.0.
func NewVectorAnomalyDetector(baseline Baseline, threshold float64) *VectorAnomalyDetector {
	if threshold <= 0 {
		threshold = 3.0
	}
	return &VectorAnomalyDetector{baseline: baseline, threshold: threshold}
}

// IsAnomalous computes the vector's mean and reports whether its z-score
// against the calibrated baseline exceeds the threshold.
func (d *VectorAnomalyDetector) IsAnomalous(vector []float32) (bool, float64) {
	if d.baseline.StdDev == 0 || len(vector) == 0 {
		return false, 0
	}
	var sum float64
	for _, v := range vector {
		sum += float64(v)
	}
	mean := sum / float64(len(vector))
	z := math.Abs(mean-d.baseline.Mean) / d.baseline.StdDev
	return z > d.threshold, z
}

// EmbeddingProtector adds Laplace noise and renormalizes, for optional
// differential-privacy leakage control on output vectors.
type EmbeddingProtector struct {
	epsilon float64 // smaller epsilon = more noise
	rng     *rand.Rand
}

// NewEmbeddingProtector returns a protector calibrated to epsilon.
func NewEmbeddingProtector(epsilon float64, seed int64) *EmbeddingProtector {
	if epsilon <= 0 {
		epsilon = 1.0
	}
	return &EmbeddingProtector{epsilon: epsilon, rng: rand.New(rand.NewSource(seed))}
}

// Protect returns a copy of vector with Laplace noise added to each
// dimension, then renormalized to unit length.
func (p *EmbeddingProtector) Protect(vector []float32) []float32 {
	out := make([]float32, len(vector))
	scale := 1.0 / p.epsilon
	for i, v := range vector {
		out[i] = v + float32(p.laplace(scale))
	}
	renormalize(out)
	return out
}

// laplace samples from a Laplace(0, scale) distribution via inverse CDF.
func (p *EmbeddingProtector) laplace(scale float64) float64 {
	u := p.rng.Float64() - 0.5
	sign := 1.0
	if u < 0 {
		sign = -1.0
	}
	return -scale * sign * math.Log(1-2*math.Abs(u))
}

func renormalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
}

// Engine bundles the three defense components behind one dependency.
type Engine struct {
	Injection *InjectionDetector
	Anomaly   *VectorAnomalyDetector
	Protector *EmbeddingProtector
}

// New constructs a defense Engine from configured rules and baseline.
func New(rules []Rule, baseline Baseline, anomalyThreshold float64) *Engine {
	return &Engine{
		Injection: NewInjectionDetector(rules),
		Anomaly:   NewVectorAnomalyDetector(baseline, anomalyThreshold),
	}
}

// DetectInjectionError is a convenience wrapper formatting a match for the
// ANOMALY_DETECTED error path.
func DetectInjectionError(ruleID, description string) error {
	return fmt.Errorf("injection pattern matched: %s (%s)", ruleID, description)
}
