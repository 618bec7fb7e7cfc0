// Package ml holds the model capabilities the pipeline trains and serves.
// The fitting algorithm itself is pluggable through Trainer.
package ml

import (
	"context"
	"encoding"
	"errors"
	"fmt"

	"github.com/hydra-ops/hydra/internal/model"
)

// Sample is one labeled training row.
type Sample = model.Sample

// Model classifies a feature vector. Models must be safe for concurrent
// Predict calls and serialize themselves for the artifact store.
type Model interface {
	Predict(features []float64) (int, error)
	encoding.BinaryMarshaler
}

// Trainer fits models and restores them from their serialized form.
type Trainer interface {
	Fit(ctx context.Context, samples []Sample) (Model, error)
	Load(data []byte) (Model, error)
}

// ErrArtifactNotFound is returned by an ArtifactStore that has nothing saved.
var ErrArtifactNotFound = errors.New("model artifact not found")

// TrainingError reports a failed fit.
type TrainingError struct {
	Samples int
	Reason  string
	Err     error
}

func (e *TrainingError) Error() string {
	msg := fmt.Sprintf("training on %d samples failed", e.Samples)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TrainingError) Unwrap() error { return e.Err }

// IsTrainingError reports whether err is or wraps a *TrainingError.
func IsTrainingError(err error) bool {
	var te *TrainingError
	return errors.As(err, &te)
}

// LoadError reports an artifact that exists but cannot be restored.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return "load model artifact: " + e.Err.Error() }

func (e *LoadError) Unwrap() error { return e.Err }

func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}
