package handler

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hydra-ops/hydra/internal/infrastructure/streams"
	"github.com/hydra-ops/hydra/internal/model"
	"github.com/hydra-ops/hydra/internal/response"
)

const maxIngestBody = 1 << 20

// IngestHandler is the producer side: it validates a log entry and appends
// it to the stream for the consumer to pick up.
type IngestHandler struct {
	Publisher streams.Publisher
}

type ingestResponse struct {
	ID string `json:"id"`
}

// Ingest handles POST /ingest.
func (h *IngestHandler) Ingest(c echo.Context) error {
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, maxIngestBody))
	if err != nil {
		return response.BadRequest(c, "unreadable body", err.Error())
	}
	entry, err := model.Decode(body)
	if err != nil {
		return response.BadRequest(c, "invalid log entry", err.Error())
	}
	payload, err := model.Encode(entry)
	if err != nil {
		return response.BadRequest(c, "invalid log entry", err.Error())
	}

	id, err := h.Publisher.Publish(c.Request().Context(), payload)
	if err != nil {
		if streams.IsConnectionError(err) {
			return response.Unavailable(c, "stream unavailable", err.Error())
		}
		return response.InternalError(c, "publish failed", err.Error())
	}
	return response.Accepted(c, ingestResponse{ID: id.String()}, "")
}
