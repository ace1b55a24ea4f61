package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/realtime-bridge/internal/logging"
)

func TestInitWithWriter(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	require.NoError(t, logging.InitWithWriter(&buf, "warn", false))
	log.Info().Msg("hidden")
	log.Warn().Str("session_id", "s1").Msg("shown")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, "s1", line["session_id"])

	assert.Error(t, logging.InitWithWriter(&buf, "loud", false))
}

func TestWatermillAdapter(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	var buf bytes.Buffer
	var adapter watermill.LoggerAdapter = logging.NewWatermill(zerolog.New(&buf))
	adapter = adapter.With(watermill.LogFields{"topic": "history"})
	adapter.Error("publish failed", errors.New("redis down"), watermill.LogFields{"attempt": 2})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "publish failed", line["message"])
	assert.Equal(t, "redis down", line["error"])
	assert.Equal(t, "history", line["topic"])
	assert.Equal(t, "watermill", line["component"])
	assert.EqualValues(t, 2, line["attempt"])
}
