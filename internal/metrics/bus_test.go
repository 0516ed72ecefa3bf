package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestIncDroppedDefaultsEmptyLabels(t *testing.T) {
	before := counterValue(t, DroppedTotal.WithLabelValues("unknown", "unknown"))
	IncDropped("", "")
	after := counterValue(t, DroppedTotal.WithLabelValues("unknown", "unknown"))
	require.Equal(t, before+1, after)
}

func TestIncDroppedRecordsReason(t *testing.T) {
	before := counterValue(t, DroppedTotal.WithLabelValues("reports", "no_handlers"))
	IncDropped("reports", "no_handlers")
	after := counterValue(t, DroppedTotal.WithLabelValues("reports", "no_handlers"))
	require.Equal(t, before+1, after)
}
