package ml

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Artifact is the persisted form of a trained model.
type Artifact struct {
	Version   uuid.UUID `json:"version"`
	TrainedAt time.Time `json:"trained_at"`
	Samples   int       `json:"samples"`
	Model     []byte    `json:"model"`
}

// ArtifactCodec compresses artifacts with zstd. The encoder and decoder are
// safe for concurrent EncodeAll/DecodeAll calls.
type ArtifactCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewArtifactCodec() (*ArtifactCodec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &ArtifactCodec{encoder: enc, decoder: dec}, nil
}

func (c *ArtifactCodec) Encode(a Artifact) ([]byte, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return c.encoder.EncodeAll(raw, nil), nil
}

// Decode reverses Encode. Anything unreadable is a *LoadError.
func (c *ArtifactCodec) Decode(data []byte) (Artifact, error) {
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return Artifact{}, &LoadError{Err: err}
	}
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return Artifact{}, &LoadError{Err: err}
	}
	if len(a.Model) == 0 {
		return Artifact{}, &LoadError{Err: errors.New("artifact has no model payload")}
	}
	return a, nil
}

func (c *ArtifactCodec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
