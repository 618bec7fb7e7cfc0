// Package centroid is a nearest-centroid classifier. It is small enough to
// fit inside a retrain tick and needs no native dependencies.
package centroid

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/hydra-ops/hydra/internal/ml"
)

// Model predicts the label whose mean feature vector is closest in
// Euclidean distance. Ties go to the smaller label.
type Model struct {
	Dims      int               `json:"dims"`
	Centroids map[int][]float64 `json:"centroids"`
}

func (m *Model) Predict(features []float64) (int, error) {
	if len(features) != m.Dims {
		return 0, fmt.Errorf("expected %d features, got %d", m.Dims, len(features))
	}
	labels := make([]int, 0, len(m.Centroids))
	for l := range m.Centroids {
		labels = append(labels, l)
	}
	slices.Sort(labels)

	best, bestDist := labels[0], math.Inf(1)
	for _, l := range labels {
		if d := sqDist(m.Centroids[l], features); d < bestDist {
			best, bestDist = l, d
		}
	}
	return best, nil
}

func (m *Model) MarshalBinary() ([]byte, error) {
	return json.Marshal(m)
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Trainer fits Models.
type Trainer struct{}

func New() Trainer { return Trainer{} }

func (Trainer) Fit(ctx context.Context, samples []ml.Sample) (ml.Model, error) {
	if len(samples) == 0 {
		return nil, &ml.TrainingError{Reason: "no samples"}
	}
	dims := len(samples[0].Features)
	if dims == 0 {
		return nil, &ml.TrainingError{Samples: len(samples), Reason: "samples have no features"}
	}

	sums := make(map[int][]float64)
	counts := make(map[int]int)
	for i, s := range samples {
		if i%1024 == 0 && ctx.Err() != nil {
			return nil, &ml.TrainingError{Samples: len(samples), Err: ctx.Err()}
		}
		if len(s.Features) != dims {
			return nil, &ml.TrainingError{
				Samples: len(samples),
				Reason:  fmt.Sprintf("sample %d has %d features, want %d", i, len(s.Features), dims),
			}
		}
		acc, ok := sums[s.Label]
		if !ok {
			acc = make([]float64, dims)
			sums[s.Label] = acc
		}
		for j, v := range s.Features {
			acc[j] += v
		}
		counts[s.Label]++
	}
	if len(sums) < 2 {
		return nil, &ml.TrainingError{Samples: len(samples), Reason: "need at least two classes"}
	}

	for l, acc := range sums {
		n := float64(counts[l])
		for j := range acc {
			acc[j] /= n
		}
	}
	return &Model{Dims: dims, Centroids: sums}, nil
}

func (Trainer) Load(data []byte) (ml.Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Dims <= 0 || len(m.Centroids) == 0 {
		return nil, fmt.Errorf("centroid model is empty")
	}
	for l, c := range m.Centroids {
		if len(c) != m.Dims {
			return nil, fmt.Errorf("centroid for label %d has %d dims, want %d", l, len(c), m.Dims)
		}
	}
	return &m, nil
}
