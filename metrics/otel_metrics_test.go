package metrics

import (
	"context"
	"fmt"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeycombio/beacon/config"
	"github.com/honeycombio/beacon/logger"
)

func newTestOTelMetrics(t *testing.T) (*OTelMetrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	o := &OTelMetrics{
		Logger:     &logger.NullLogger{},
		Config:     &config.MockConfig{},
		Version:    "test",
		testReader: reader,
	}
	require.NoError(t, o.Start())
	t.Cleanup(func() { o.Stop() })
	return o, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func Test_OTelMetrics_DisabledIsInert(t *testing.T) {
	o := &OTelMetrics{Logger: &logger.NullLogger{}, Config: &config.MockConfig{}}
	require.NoError(t, o.Start())

	o.Register(Metadata{Name: "x", Type: Counter})
	o.Increment("x")
	assert.NoError(t, o.Stop())
}

func Test_OTelMetrics_Export(t *testing.T) {
	o, reader := newTestOTelMetrics(t)

	o.Register(Metadata{Name: "sent", Type: Counter, Unit: Dimensionless})
	o.Register(Metadata{Name: "sent", Type: Counter})
	o.Count("sent", 4)
	o.Increment("sent")
	o.Gauge("buffer_items", 9)
	o.Up("in_flight")

	data := collect(t, reader)

	sum, ok := data["sent"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(5), sum.DataPoints[0].Value)

	gauge, ok := data["buffer_items"].(metricdata.Gauge[float64])
	require.True(t, ok)
	assert.Equal(t, 9.0, gauge.DataPoints[0].Value)

	assert.Contains(t, data, "num_goroutines")
	assert.Contains(t, data, "memory_inuse")
	assert.Contains(t, data, "process_uptime_seconds")
	assert.Contains(t, data, "in_flight")
}

func Test_exporterOptions(t *testing.T) {
	assert.Len(t, exporterOptions(config.OTelMetricsConfig{APIHost: "https://otlp.example.com"}), 3)
	// insecure endpoint, api key and dataset headers
	assert.Len(t, exporterOptions(config.OTelMetricsConfig{
		APIHost: "http://localhost:4318", APIKey: "k", Dataset: "d", Compression: "none",
	}), 5)
}

func Test_OTelMetrics_Raciness(t *testing.T) {
	o, _ := newTestOTelMetrics(t)

	o.Register(Metadata{Name: "race", Type: Counter})

	var wg sync.WaitGroup
	loopLength := 50

	// registering while incrementing should not trigger a race condition
	for i := 0; i < loopLength; i++ {
		wg.Add(2)
		go func(j int) {
			defer wg.Done()
			o.Register(Metadata{Name: fmt.Sprintf("metric%d", j), Type: Counter})
		}(i)
		go func() {
			defer wg.Done()
			o.Increment("race")
		}()
	}
	wg.Wait()

	assert.Equal(t, loopLength+1, o.counters.len())
}
