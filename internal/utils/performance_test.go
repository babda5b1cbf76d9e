package utils

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer_Stop(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	timer := NewTimer("backtest", log)
	timer.now = func() time.Time { return timer.start.Add(2 * time.Second) }

	assert.Equal(t, 2*time.Second, timer.StopWithFields(map[string]interface{}{"scenarios": 3, "name": "grid"}))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "backtest", entry["operation"])
	assert.Equal(t, false, entry["slow"])
	assert.Equal(t, float64(3), entry["scenarios"])
	assert.Equal(t, "grid", entry["name"])
}

func TestTimer_SlowOperationWarns(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	timer := NewTimer("sweep", log).WithSlowThreshold(time.Second)
	timer.now = func() time.Time { return timer.start.Add(5 * time.Second) }
	timer.Stop()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, true, entry["slow"])
}
