package handler

import (
	"errors"
	"math"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hydra-ops/hydra/internal/logstore"
	"github.com/hydra-ops/hydra/internal/metrics"
	"github.com/hydra-ops/hydra/internal/ml"
	"github.com/hydra-ops/hydra/internal/model"
	"github.com/hydra-ops/hydra/internal/response"
)

// Predictor serves the current model.
type Predictor interface {
	Predict(features []float64) (int, error)
	Info() (ml.Info, bool)
}

// Notifier is told when a new trainable entry was stored.
type Notifier interface {
	Notify()
}

// PredictionHandler serves predictions and logs each one back into the
// store, so served predictions become training data.
type PredictionHandler struct {
	Models   Predictor
	Store    logstore.Store
	Notifier Notifier
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Now      func() time.Time
}

type predictRequest struct {
	Features []float64 `json:"features"`
}

type predictResponse struct {
	Prediction int `json:"prediction"`
}

// Predict handles POST /predict.
func (h *PredictionHandler) Predict(c echo.Context) error {
	var req predictRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body", err.Error())
	}
	if len(req.Features) == 0 {
		return response.BadRequest(c, "invalid features", "features must be a non-empty array")
	}
	for _, f := range req.Features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return response.BadRequest(c, "invalid features", "features must be finite numbers")
		}
	}

	label, err := h.Models.Predict(req.Features)
	if errors.Is(err, ml.ErrNoModel) {
		return response.Unavailable(c, "model not ready", err.Error())
	}
	if err != nil {
		return response.BadRequest(c, "prediction failed", err.Error())
	}
	h.Metrics.Predicted(label)

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	ctx := c.Request().Context()
	if err := h.Store.Append(ctx, model.NewPredictionEntry(req.Features, label, now())); err != nil {
		// the prediction is still served; only the feedback sample is lost
		h.Logger.Error().Err(err).Msg("prediction log not stored")
	} else if h.Notifier != nil {
		h.Notifier.Notify()
	}

	return response.OK(c, predictResponse{Prediction: label}, "")
}

type predictionMetrics struct {
	TotalPredictions  int      `json:"total_predictions"`
	AnomaliesDetected int      `json:"anomalies_detected"`
	Backlog           int      `json:"backlog"`
	Model             *ml.Info `json:"model,omitempty"`
}

// Summary handles GET /prediction-metrics. Anomalies are retained entries
// labeled 1.
func (h *PredictionHandler) Summary(c echo.Context) error {
	snap, err := h.Store.Snapshot(c.Request().Context())
	if err != nil {
		return response.InternalError(c, "log store unavailable", err.Error())
	}
	out := predictionMetrics{TotalPredictions: len(snap.Entries), Backlog: snap.Backlog}
	for _, e := range snap.Entries {
		if e.Label != nil && *e.Label == 1 {
			out.AnomaliesDetected++
		}
	}
	if info, ok := h.Models.Info(); ok {
		out.Model = &info
	}
	return response.OK(c, out, "")
}
