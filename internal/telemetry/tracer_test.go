package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestUnknownExporterRejected(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "busd",
		ExporterType: "avian",
	})
	require.Error(t, err)
}

func TestNoopExporterTypeDisablesTracing(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: true, ExporterType: "noop"})
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(context.Background()))
}
