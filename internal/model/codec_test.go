package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestEncodeDecode_RoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 14, 15, 9, 26, 535897000, time.UTC)
	entries := []LogEntry{
		{Timestamp: ts, Level: LevelInfo, Message: "Received request: /"},
		{Timestamp: ts, Level: LevelWarn, Message: "slow", Request: ptr("/api/items")},
		{Timestamp: ts, Level: LevelError, Message: "boom", Features: []float64{0.1, -2.5, 1e-9, 42}},
		{Timestamp: ts, Level: LevelInfo, Message: "prediction", Request: ptr("/predict"), Features: []float64{1, 2}, Label: ptr(1)},
		{Timestamp: ts, Level: LevelInfo, Message: "empty features", Features: []float64{}},
		{Timestamp: ts.In(time.FixedZone("CET", 3600)), Level: LevelInfo, Message: "zoned", Label: ptr(0)},
	}

	for _, e := range entries {
		raw, err := Encode(e)
		require.NoError(t, err)

		got, err := Decode(raw)
		require.NoError(t, err, "payload %s", raw)
		assert.True(t, e.Equal(got), "round trip of %s gave %+v", raw, got)
	}
}

func TestDecode_LegacyProducerPayload(t *testing.T) {
	raw := []byte(`{"timestamp":"2025-01-02 03:04:05","level":"info","message":"Health check accessed","request":"/health","health_status":{"status":"healthy"}}`)

	e, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), e.Timestamp)
	assert.Equal(t, LevelInfo, e.Level)
	assert.Equal(t, "/health", *e.Request)
	assert.Nil(t, e.Features)
	assert.Nil(t, e.Label)
}

func TestDecode_NullOptionalFieldsAreAbsent(t *testing.T) {
	e, err := Decode([]byte(`{"timestamp":"2025-01-02T03:04:05Z","level":"WARNING","message":"m","request":null,"features":null,"label":null}`))
	require.NoError(t, err)

	assert.Equal(t, LevelWarn, e.Level)
	assert.Nil(t, e.Request)
	assert.Nil(t, e.Features)
	assert.Nil(t, e.Label)
}

func TestDecode_Errors(t *testing.T) {
	cases := map[string]struct {
		raw   string
		field string
	}{
		"malformed json":    {raw: `{"timestamp":`},
		"not an object":     {raw: `[1,2,3]`},
		"missing timestamp": {raw: `{"level":"INFO","message":"m"}`, field: "timestamp"},
		"bad timestamp":     {raw: `{"timestamp":"yesterday","level":"INFO","message":"m"}`, field: "timestamp"},
		"missing level":     {raw: `{"timestamp":"2025-01-02T03:04:05Z","message":"m"}`, field: "level"},
		"unknown level":     {raw: `{"timestamp":"2025-01-02T03:04:05Z","level":"TRACE","message":"m"}`, field: "level"},
		"missing message":   {raw: `{"timestamp":"2025-01-02T03:04:05Z","level":"INFO"}`, field: "message"},
		"empty message":     {raw: `{"timestamp":"2025-01-02T03:04:05Z","level":"INFO","message":""}`, field: "message"},
		"message not text":  {raw: `{"timestamp":"2025-01-02T03:04:05Z","level":"INFO","message":7}`, field: "message"},
		"features not list": {raw: `{"timestamp":"2025-01-02T03:04:05Z","level":"INFO","message":"m","features":"1,2"}`, field: "features"},
		"feature not num":   {raw: `{"timestamp":"2025-01-02T03:04:05Z","level":"INFO","message":"m","features":[1,"x"]}`, field: "features"},
		"label not int":     {raw: `{"timestamp":"2025-01-02T03:04:05Z","level":"INFO","message":"m","label":0.5}`, field: "label"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			require.Error(t, err)
			assert.True(t, IsDecodeError(err))

			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tc.field, de.Field)
		})
	}
}

func TestEncode_RejectsInvalidEntry(t *testing.T) {
	_, err := Encode(LogEntry{Level: LevelInfo, Message: "no time"})
	assert.True(t, IsDecodeError(err))

	_, err = Encode(LogEntry{Timestamp: time.Now(), Level: "DEBUG", Message: "m"})
	assert.True(t, IsDecodeError(err))
}

func TestIsTrainable(t *testing.T) {
	now := time.Now().UTC()
	base := LogEntry{Timestamp: now, Level: LevelInfo, Message: "m"}

	noFeatures := base
	assert.False(t, IsTrainable(noFeatures))

	emptyFeatures := base
	emptyFeatures.Features = []float64{}
	assert.False(t, IsTrainable(emptyFeatures))

	withFeatures := base
	withFeatures.Features = []float64{1}
	assert.True(t, IsTrainable(withFeatures))

	for _, path := range []string{"/health", "/health/", "/metrics", "/metrics?x=1", "/healthz", "/readyz"} {
		probe := withFeatures
		probe.Request = ptr(path)
		assert.False(t, IsTrainable(probe), path)
	}

	api := withFeatures
	api.Request = ptr("/api/health-report")
	assert.True(t, IsTrainable(api))
}

func TestLogEntry_Sample(t *testing.T) {
	e := NewPredictionEntry([]float64{0.5, 0.25}, 1, time.Now())

	s, ok := e.Sample()
	require.True(t, ok)
	assert.Equal(t, Sample{Features: []float64{0.5, 0.25}, Label: 1}, s)

	e.Label = nil
	_, ok = e.Sample()
	assert.False(t, ok)
}
