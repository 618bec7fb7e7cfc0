package ml

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	PlaceholderRows     = 100
	PlaceholderFeatures = 5
)

// ErrNoModel is returned by Predict before a model has been loaded.
var ErrNoModel = errors.New("no model loaded")

// Info describes the model currently being served.
type Info struct {
	Version     uuid.UUID `json:"version" yaml:"version"`
	TrainedAt   time.Time `json:"trained_at" yaml:"trained_at"`
	Samples     int       `json:"samples" yaml:"samples"`
	Placeholder bool      `json:"placeholder" yaml:"placeholder"`
}

type current struct {
	model Model
	info  Info
}

// Manager owns the served model. Replacement is an atomic pointer swap, so
// Predict never waits on a retrain.
type Manager struct {
	trainer Trainer
	store   ArtifactStore
	codec   *ArtifactCodec
	log     zerolog.Logger
	now     func() time.Time

	cur atomic.Pointer[current]
}

func NewManager(trainer Trainer, store ArtifactStore, log zerolog.Logger) (*Manager, error) {
	codec, err := NewArtifactCodec()
	if err != nil {
		return nil, fmt.Errorf("artifact codec: %w", err)
	}
	return &Manager{
		trainer: trainer,
		store:   store,
		codec:   codec,
		log:     log.With().Str("component", "model").Logger(),
		now:     time.Now,
	}, nil
}

// LoadOrTrain restores the saved model. A missing, unreadable or
// unreachable artifact is replaced by a model fitted on placeholder data so
// predictions can be served before the first real retrain. The placeholder
// is served even if it cannot be saved; the next Replace writes the
// artifact again.
func (m *Manager) LoadOrTrain(ctx context.Context) (Info, error) {
	info, err := m.load(ctx)
	switch {
	case err == nil:
		m.log.Info().Stringer("version", info.Version).Int("samples", info.Samples).Msg("model loaded")
		return info, nil
	case errors.Is(err, ErrArtifactNotFound):
		m.log.Info().Msg("no saved model; training placeholder")
	default:
		m.log.Warn().Err(err).Msg("saved model unusable; training placeholder")
	}

	samples := PlaceholderSamples()
	model, err := m.trainer.Fit(ctx, samples)
	if err != nil {
		return Info{}, fmt.Errorf("placeholder model: %w", err)
	}
	info, err = m.install(ctx, model, len(samples), true)
	if err != nil {
		m.log.Warn().Err(err).Msg("placeholder model not saved; serving it from memory")
		info = m.serve(model, m.newInfo(len(samples), true))
	}
	return info, nil
}

// load reads and decodes the artifact. Every failure other than a missing
// artifact is reported as a *LoadError.
func (m *Manager) load(ctx context.Context) (Info, error) {
	data, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrArtifactNotFound) {
			return Info{}, err
		}
		return Info{}, &LoadError{Err: fmt.Errorf("read: %w", err)}
	}
	art, err := m.codec.Decode(data)
	if err != nil {
		return Info{}, err
	}
	model, err := m.trainer.Load(art.Model)
	if err != nil {
		return Info{}, &LoadError{Err: err}
	}
	return m.serve(model, Info{Version: art.Version, TrainedAt: art.TrainedAt, Samples: art.Samples}), nil
}

// Replace saves model as the new artifact and then starts serving it. If
// the save fails the previous model stays in place.
func (m *Manager) Replace(ctx context.Context, model Model, samples int) (Info, error) {
	return m.install(ctx, model, samples, false)
}

func (m *Manager) install(ctx context.Context, model Model, samples int, placeholder bool) (Info, error) {
	payload, err := model.MarshalBinary()
	if err != nil {
		return Info{}, fmt.Errorf("marshal model: %w", err)
	}
	info := m.newInfo(samples, placeholder)
	data, err := m.codec.Encode(Artifact{
		Version:   info.Version,
		TrainedAt: info.TrainedAt,
		Samples:   samples,
		Model:     payload,
	})
	if err != nil {
		return Info{}, fmt.Errorf("encode model artifact: %w", err)
	}
	if err := m.store.Save(ctx, data); err != nil {
		return Info{}, fmt.Errorf("save model artifact: %w", err)
	}
	return m.serve(model, info), nil
}

func (m *Manager) newInfo(samples int, placeholder bool) Info {
	return Info{
		Version:     uuid.New(),
		TrainedAt:   m.now().UTC(),
		Samples:     samples,
		Placeholder: placeholder,
	}
}

func (m *Manager) serve(model Model, info Info) Info {
	m.cur.Store(&current{model: model, info: info})
	m.log.Info().Stringer("version", info.Version).Int("samples", info.Samples).Bool("placeholder", info.Placeholder).Msg("model installed")
	return info
}

func (m *Manager) Predict(features []float64) (int, error) {
	c := m.cur.Load()
	if c == nil {
		return 0, ErrNoModel
	}
	return c.model.Predict(features)
}

// Info returns the served model's metadata, and false if none is loaded.
func (m *Manager) Info() (Info, bool) {
	c := m.cur.Load()
	if c == nil {
		return Info{}, false
	}
	return c.info, true
}

func (m *Manager) Close() {
	m.codec.Close()
}

// PlaceholderSamples returns random rows with binary labels. Both classes
// are always present.
func PlaceholderSamples() []Sample {
	out := make([]Sample, PlaceholderRows)
	for i := range out {
		f := make([]float64, PlaceholderFeatures)
		for j := range f {
			f[j] = rand.Float64()
		}
		out[i] = Sample{Features: f, Label: rand.IntN(2)}
	}
	out[0].Label, out[1].Label = 0, 1
	return out
}
