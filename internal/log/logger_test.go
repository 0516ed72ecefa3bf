package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigureAttachesServiceAndVersion(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "bus-test", Version: "v1.2.3"})
	t.Cleanup(func() { Configure(Config{}) })

	logger := Base()
	logger.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "bus-test", entry["service"])
	require.Equal(t, "v1.2.3", entry["version"])
	require.Equal(t, "hello", entry["message"])
}

func TestWithComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "bus-test"})
	t.Cleanup(func() { Configure(Config{}) })

	logger := WithComponent("dispatch")
	logger.Info().Msg("tick")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "dispatch", entry["component"])
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "nonsense", Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	logger := Base()
	logger.Debug().Msg("suppressed")
	require.Empty(t, buf.Bytes())

	logger.Info().Msg("visible")
	require.NotEmpty(t, buf.Bytes())
}
