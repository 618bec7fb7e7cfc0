package model

import (
	"slices"
	"strings"
	"time"
)

// Level is the severity carried by a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel normalizes a producer-supplied level. ok is false for unknown values.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return "", false
}

// LogEntry is one structured request log. Request, Features and Label are
// optional; a nil value means the producer did not send the field.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level" validate:"required,oneof=INFO WARN ERROR"`
	Message   string    `json:"message" validate:"required"`
	Request   *string   `json:"request,omitempty"`
	Features  []float64 `json:"features,omitempty"`
	Label     *int      `json:"label,omitempty"`
}

// Sample is one (features, label) training row.
type Sample struct {
	Features []float64 `json:"features"`
	Label    int       `json:"label"`
}

// ReservedPaths are request paths whose logs are operational noise and never train the model.
var ReservedPaths = []string{"/health", "/healthz", "/readyz", "/metrics"}

// IsTrainable reports whether the entry carries features and did not come
// from a health or metrics probe.
func IsTrainable(e LogEntry) bool {
	if len(e.Features) == 0 {
		return false
	}
	if e.Request == nil {
		return true
	}
	return !slices.Contains(ReservedPaths, normalizePath(*e.Request))
}

// Sample returns the training row for e. ok is false when e is not
// trainable or has no label yet.
func (e LogEntry) Sample() (Sample, bool) {
	if e.Label == nil || !IsTrainable(e) {
		return Sample{}, false
	}
	return Sample{Features: slices.Clone(e.Features), Label: *e.Label}, true
}

// Equal reports whether two entries hold the same values.
func (e LogEntry) Equal(o LogEntry) bool {
	if !e.Timestamp.Equal(o.Timestamp) || e.Level != o.Level || e.Message != o.Message {
		return false
	}
	if (e.Request == nil) != (o.Request == nil) || (e.Request != nil && *e.Request != *o.Request) {
		return false
	}
	if (e.Label == nil) != (o.Label == nil) || (e.Label != nil && *e.Label != *o.Label) {
		return false
	}
	if (e.Features == nil) != (o.Features == nil) {
		return false
	}
	return slices.Equal(e.Features, o.Features)
}

// NewPredictionEntry builds the entry logged after serving a prediction, so
// the prediction can be trained on later.
func NewPredictionEntry(features []float64, label int, now time.Time) LogEntry {
	path := "/predict"
	return LogEntry{
		Timestamp: now.UTC(),
		Level:     LevelInfo,
		Message:   "prediction served",
		Request:   &path,
		Features:  slices.Clone(features),
		Label:     &label,
	}
}

func normalizePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimSpace(p)
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
