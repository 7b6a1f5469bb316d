package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Histogram feature configuration.
const (
	histogramBins = 256
	// distanceScale maps the [0,2] chi-square range into the 0-200 band
	// the acceptance thresholds are tuned for.
	distanceScale = 100.0
	chiSquareEps  = 1e-9
)

// centroid is one identity's running mean feature vector.
type centroid struct {
	Count int64     `json:"count"`
	Mean  []float64 `json:"mean"`
}

// artifact is the serialized model format.
type artifact struct {
	Bins      int                `json:"bins"`
	Centroids map[int64]centroid `json:"centroids"`
}

// Centroid classifies samples by chi-square distance between a sample's
// normalized byte histogram and per-identity mean histograms.
type Centroid struct {
	mu        sync.RWMutex
	centroids map[int64]centroid
}

// NewCentroid creates an empty model. Predict reports found=false until
// the first Update or Load.
func NewCentroid() *Centroid {
	return &Centroid{centroids: make(map[int64]centroid)}
}

// feature computes the normalized byte histogram of a sample.
func feature(sample []byte) ([]float64, bool) {
	if len(sample) == 0 {
		return nil, false
	}
	h := make([]float64, histogramBins)
	for _, b := range sample {
		h[b]++
	}
	n := float64(len(sample))
	for i := range h {
		h[i] /= n
	}
	return h, true
}

// chiSquare is the histogram distance used for matching.
func chiSquare(a, b []float64) float64 {
	var d float64
	for i := range a {
		sum := a[i] + b[i]
		if sum < chiSquareEps {
			continue
		}
		diff := a[i] - b[i]
		d += diff * diff / sum
	}
	return d * distanceScale
}

// Predict returns the nearest identity and its distance.
func (c *Centroid) Predict(_ context.Context, sample []byte) (int64, float64, bool) {
	f, ok := feature(sample)
	if !ok {
		return 0, 0, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.centroids) == 0 {
		return 0, 0, false
	}

	best := int64(0)
	bestDist := 0.0
	first := true
	for id, ct := range c.centroids {
		d := chiSquare(f, ct.Mean)
		if first || d < bestDist {
			best, bestDist, first = id, d, false
		}
	}
	return best, bestDist, true
}

// Update folds labeled samples into the per-identity running means.
// Samples that yield no feature are skipped; the batch fails only when
// nothing in it was usable.
func (c *Centroid) Update(_ context.Context, samples [][]byte, labels []int64) error {
	if len(samples) == 0 {
		return ErrEmptyBatch
	}
	if len(samples) != len(labels) {
		return fmt.Errorf("%w: %d samples, %d labels", ErrLabelMismatch, len(samples), len(labels))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	applied := 0
	for i, sample := range samples {
		f, ok := feature(sample)
		if !ok {
			continue
		}
		ct, exists := c.centroids[labels[i]]
		if !exists {
			ct = centroid{Mean: make([]float64, histogramBins)}
		}
		n := float64(ct.Count)
		for j := range ct.Mean {
			ct.Mean[j] = (ct.Mean[j]*n + f[j]) / (n + 1)
		}
		ct.Count++
		c.centroids[labels[i]] = ct
		applied++
	}
	if applied == 0 {
		return ErrInvalidSamples
	}
	return nil
}

// Serialize renders the model as a JSON artifact.
func (c *Centroid) Serialize() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return json.Marshal(artifact{Bins: histogramBins, Centroids: c.centroids})
}

// Load replaces the model state with a serialized artifact.
func (c *Centroid) Load(data []byte) error {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("%w: %v", ErrBadArtifact, err)
	}
	if a.Bins != histogramBins {
		return fmt.Errorf("%w: artifact has %d bins, want %d", ErrBadArtifact, a.Bins, histogramBins)
	}
	if a.Centroids == nil {
		a.Centroids = make(map[int64]centroid)
	}
	for id, ct := range a.Centroids {
		if len(ct.Mean) != histogramBins {
			return fmt.Errorf("%w: centroid %d has %d bins", ErrBadArtifact, id, len(ct.Mean))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.centroids = a.Centroids
	return nil
}

// Identities returns the number of identities the model knows.
func (c *Centroid) Identities() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.centroids)
}
