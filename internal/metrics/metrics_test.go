package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)
	var total float64
	for m := range ch {
		var pb dto.Metric
		require.NoError(t, m.Write(&pb))
		if pb.Counter != nil {
			total += pb.Counter.GetValue()
		}
	}
	return total
}

func TestRecordRowsIncrementsCounter(t *testing.T) {
	m := New()
	m.RecordRows("tbl_sites", 3)
	assert.Equal(t, float64(3), counterValue(t, m.rowsProcessedTotal))
}

func TestRecordDiagnosticsSplitsBySeverity(t *testing.T) {
	m := New()
	m.RecordDiagnostics(1, 2, 3)
	assert.Equal(t, float64(6), counterValue(t, m.diagnosticsTotal))
}

func TestObserveDurationsDoNotPanic(t *testing.T) {
	m := New()
	assert.NotPanics(t, func() {
		m.ObservePolicyDuration(10 * time.Millisecond)
		m.ObserveSpecificationDuration(10 * time.Millisecond)
		m.ObserveDispatchDuration(10 * time.Millisecond)
	})
}

func TestServerStartAndShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", New())
	require.NoError(t, s.Start())
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestServerStartFailsOnBadAddress(t *testing.T) {
	s := NewServer("not-an-address", New())
	assert.Error(t, s.Start())
}
