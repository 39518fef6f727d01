package health

import (
	"math"
	"sort"
	"sync"
)

const (
	pressureWindowSize    = 10
	minSamplesForBaseline = 3
	baselineTail          = 5
	outlierSigma          = 3.0
	spikeRatio            = 3.0
	spikesToFire          = 2
)

// pressureDetector watches probe latencies for sustained spikes. A single
// slow probe is noise; two consecutive samples above 3x baseline mean the
// model server is thrashing.
type pressureDetector struct {
	mu                sync.Mutex
	samples           []float64 // milliseconds, oldest first
	consecutiveSpikes int
}

// Observe records a latency sample and reports whether a pressure event
// should fire. The baseline is computed from the window before this sample
// so a spike cannot inflate its own reference.
func (d *pressureDetector) Observe(latencyMs float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	baseline, ok := d.baseline()
	d.push(latencyMs)
	if !ok || baseline <= 0 {
		return false
	}

	if latencyMs/baseline > spikeRatio {
		d.consecutiveSpikes++
		if d.consecutiveSpikes >= spikesToFire {
			d.consecutiveSpikes = 0
			return true
		}
		return false
	}
	d.consecutiveSpikes = 0
	return false
}

func (d *pressureDetector) push(sample float64) {
	d.samples = append(d.samples, sample)
	if len(d.samples) > pressureWindowSize {
		d.samples = d.samples[len(d.samples)-pressureWindowSize:]
	}
}

// baseline is the median of the last 5 samples after dropping outliers at
// least 3 standard deviations from the window mean.
func (d *pressureDetector) baseline() (float64, bool) {
	if len(d.samples) < minSamplesForBaseline {
		return 0, false
	}

	mean, sigma := meanStddev(d.samples)
	filtered := make([]float64, 0, len(d.samples))
	for _, s := range d.samples {
		if sigma > 0 && math.Abs(s-mean) >= outlierSigma*sigma {
			continue
		}
		filtered = append(filtered, s)
	}
	if len(filtered) == 0 {
		return 0, false
	}
	if len(filtered) > baselineTail {
		filtered = filtered[len(filtered)-baselineTail:]
	}
	return median(filtered), true
}

func meanStddev(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
