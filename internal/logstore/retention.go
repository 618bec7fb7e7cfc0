package logstore

import (
	"time"

	"github.com/hydra-ops/hydra/internal/model"
)

const (
	DefaultRetentionWindow = 365 * 24 * time.Hour
	DefaultMinRetained     = 500
)

// Retention bounds store growth by age, with a floor on how many entries survive.
type Retention struct {
	Window      time.Duration
	MinRetained int
}

func DefaultRetention() Retention {
	return Retention{Window: DefaultRetentionWindow, MinRetained: DefaultMinRetained}
}

// Cutoff returns the instant before which entries are expired.
func (r Retention) Cutoff(now time.Time) time.Time {
	return now.Add(-r.Window)
}

// PruneResult describes one prune pass.
type PruneResult struct {
	Removed   int `json:"removed" yaml:"removed"`
	Remaining int `json:"remaining" yaml:"remaining"`
	// Skipped is set when expired entries existed but removing them would
	// have broken the MinRetained floor.
	Skipped bool `json:"skipped" yaml:"skipped"`
}

// Plan decides a prune pass over entries: either every expired entry goes,
// or none does.
func (r Retention) Plan(entries []model.LogEntry, now time.Time) ([]model.LogEntry, PruneResult) {
	cutoff := r.Cutoff(now)
	expired := 0
	for _, e := range entries {
		if e.Timestamp.Before(cutoff) {
			expired++
		}
	}
	res := r.Decide(len(entries), expired)
	if res.Removed == 0 {
		return entries, res
	}
	keep := make([]model.LogEntry, 0, res.Remaining)
	for _, e := range entries {
		if !e.Timestamp.Before(cutoff) {
			keep = append(keep, e)
		}
	}
	return keep, res
}

// Decide applies the floor to a store holding total entries of which
// expired are past the cutoff.
func (r Retention) Decide(total, expired int) PruneResult {
	switch {
	case expired == 0:
		return PruneResult{Remaining: total}
	case total-expired < r.MinRetained:
		return PruneResult{Remaining: total, Skipped: true}
	}
	return PruneResult{Removed: expired, Remaining: total - expired}
}
