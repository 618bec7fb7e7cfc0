package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydra-ops/hydra/internal/logstore"
	"github.com/hydra-ops/hydra/internal/model"
)

func TestSampleEntry_IsTrainable(t *testing.T) {
	for i := range 4 {
		e := sampleEntry(i, time.Now())
		require.NoError(t, model.Validate(e))
		_, ok := e.Sample()
		assert.True(t, ok)
	}
}

func TestProduceLines_SkipsBlankLines(t *testing.T) {
	var got []string
	err := produceLines(strings.NewReader("a\n\nb\n"), func(b []byte) error {
		got = append(got, string(b))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	stop := errors.New("stop")
	err = produceLines(strings.NewReader("a\nb\n"), func([]byte) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestPrintResult_Formats(t *testing.T) {
	res := logstore.PruneResult{Removed: 2, Remaining: 5}

	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, "json", res))
	assert.JSONEq(t, `{"removed":2,"remaining":5,"skipped":false}`, buf.String())

	buf.Reset()
	require.NoError(t, printResult(&buf, "yaml", res))
	assert.Equal(t, "removed: 2\nremaining: 5\nskipped: false\n", buf.String())

	assert.Error(t, printResult(&buf, "xml", res))
}
