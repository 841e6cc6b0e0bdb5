package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"runtime"
	rtmetrics "runtime/metrics"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/honeycombio/beacon/config"
	"github.com/honeycombio/beacon/logger"
)

var _ MetricsBackend = (*OTelMetrics)(nil)

var errNotStarted = errors.New("otel metrics not started")

// instruments caches one kind of OTel instrument by metric name.
type instruments[T any] struct {
	m sync.Map
}

func (i *instruments[T]) get(name string, create func() (T, error)) (T, error) {
	if v, ok := i.m.Load(name); ok {
		return v.(T), nil
	}
	inst, err := create()
	if err != nil {
		var zero T
		return zero, err
	}
	actual, _ := i.m.LoadOrStore(name, inst)
	return actual.(T), nil
}

func (i *instruments[T]) len() int {
	n := 0
	i.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// OTelMetrics reports the pipeline's own counters over OTLP/HTTP. Counters and
// histograms use delta temporality so each export covers one reporting
// interval; gauges and updowns stay cumulative.
type OTelMetrics struct {
	Config  config.Config `inject:""`
	Logger  logger.Logger `inject:""`
	Version string        `inject:"version"`

	meter      metric.Meter
	provider   *sdkmetric.MeterProvider
	testReader sdkmetric.Reader

	counters   instruments[metric.Int64Counter]
	gauges     instruments[metric.Float64Gauge]
	histograms instruments[metric.Float64Histogram]
	updowns    instruments[metric.Int64UpDownCounter]
}

func (o *OTelMetrics) Start() error {
	cfg := o.Config.GetOTelMetricsConfig()
	if !cfg.Enabled && o.testReader == nil {
		return nil
	}
	o.Logger.Debug().WithString("apihost", cfg.APIHost).Logf("Starting OTelMetrics")

	ctx := context.Background()
	reader := o.testReader
	if reader == nil {
		exporter, err := otlpmetrichttp.New(ctx, exporterOptions(cfg)...)
		if err != nil {
			return fmt.Errorf("creating otlp metrics exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(time.Duration(cfg.ReportingInterval)))
	}

	res, err := o.resource(ctx)
	if err != nil {
		return fmt.Errorf("building metrics resource: %w", err)
	}

	o.provider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	o.meter = o.provider.Meter("github.com/honeycombio/beacon/metrics")
	return o.observeRuntime()
}

// exporterOptions translates the config into OTLP/HTTP exporter options. An
// unparseable APIHost is caught by config validation, so it is ignored here.
func exporterOptions(cfg config.OTelMetricsConfig) []otlpmetrichttp.Option {
	opts := []otlpmetrichttp.Option{
		// histograms and counters restart every interval; gauges and updowns
		// report their current value
		otlpmetrichttp.WithTemporalitySelector(func(ik sdkmetric.InstrumentKind) metricdata.Temporality {
			switch ik {
			case sdkmetric.InstrumentKindCounter, sdkmetric.InstrumentKindHistogram:
				return metricdata.DeltaTemporality
			default:
				return metricdata.CumulativeTemporality
			}
		}),
	}

	if host, err := url.Parse(cfg.APIHost); err == nil {
		opts = append(opts, otlpmetrichttp.WithEndpoint(host.Host))
		if host.Scheme == "http" {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
	}
	if cfg.Compression == "none" {
		opts = append(opts, otlpmetrichttp.WithCompression(otlpmetrichttp.NoCompression))
	} else {
		opts = append(opts, otlpmetrichttp.WithCompression(otlpmetrichttp.GzipCompression))
	}

	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["x-api-key"] = cfg.APIKey
	}
	if cfg.Dataset != "" {
		headers["x-dataset"] = cfg.Dataset
	}
	if len(headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(headers))
	}
	return opts
}

func (o *OTelMetrics) resource(ctx context.Context) (*resource.Resource, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return resource.New(ctx,
		resource.WithAttributes(resource.Default().Attributes()...),
		resource.WithAttributes(
			attribute.String("service.name", "beacon"),
			attribute.String("service.version", o.Version),
			attribute.String("host.name", hostname),
		),
	)
}

// observeRuntime reports process health alongside the pipeline metrics.
func (o *OTelMetrics) observeRuntime() error {
	goroutines, err := o.meter.Int64ObservableGauge("num_goroutines")
	if err != nil {
		return err
	}
	heap, err := o.meter.Int64ObservableGauge("memory_inuse", metric.WithUnit(string(Bytes)))
	if err != nil {
		return err
	}
	uptime, err := o.meter.Float64ObservableGauge("process_uptime_seconds", metric.WithUnit(string(Seconds)))
	if err != nil {
		return err
	}

	started := time.Now()
	sample := []rtmetrics.Sample{{Name: RtMetricNameMemory}}
	_, err = o.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		rtmetrics.Read(sample)
		obs.ObserveInt64(goroutines, int64(runtime.NumGoroutine()))
		obs.ObserveInt64(heap, int64(sample[0].Value.Uint64()))
		obs.ObserveFloat64(uptime, time.Since(started).Seconds())
		return nil
	}, goroutines, heap, uptime)
	return err
}

func (o *OTelMetrics) Stop() error {
	if o.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return o.provider.Shutdown(ctx)
}

// Register creates the instrument for metadata up front so that it is
// exported with a zero value before the first observation.
func (o *OTelMetrics) Register(metadata Metadata) {
	var err error
	switch metadata.Type {
	case Counter:
		_, err = o.counter(metadata)
	case Gauge:
		_, err = o.gauge(metadata)
	case Histogram:
		_, err = o.histogram(metadata)
	case UpDown:
		_, err = o.updown(metadata)
	default:
		err = fmt.Errorf("unknown metric type %s", metadata.Type)
	}
	if err != nil && !errors.Is(err, errNotStarted) {
		o.Logger.Error().WithString("name", metadata.Name).Logf("failed to register otel metric: %s", err)
	}
}

func (o *OTelMetrics) Increment(name string) {
	o.Count(name, 1)
}

func (o *OTelMetrics) Count(name string, val int64) {
	if c, err := o.counter(Metadata{Name: name}); err == nil {
		c.Add(context.Background(), val)
	}
}

func (o *OTelMetrics) Gauge(name string, val float64) {
	if g, err := o.gauge(Metadata{Name: name}); err == nil {
		g.Record(context.Background(), val)
	}
}

func (o *OTelMetrics) Histogram(name string, val float64) {
	if h, err := o.histogram(Metadata{Name: name}); err == nil {
		h.Record(context.Background(), val)
	}
}

func (o *OTelMetrics) Up(name string) {
	if u, err := o.updown(Metadata{Name: name}); err == nil {
		u.Add(context.Background(), 1)
	}
}

func (o *OTelMetrics) Down(name string) {
	if u, err := o.updown(Metadata{Name: name}); err == nil {
		u.Add(context.Background(), -1)
	}
}

func (o *OTelMetrics) counter(md Metadata) (metric.Int64Counter, error) {
	if o.meter == nil {
		return nil, errNotStarted
	}
	return o.counters.get(md.Name, func() (metric.Int64Counter, error) {
		c, err := o.meter.Int64Counter(md.Name, metric.WithUnit(string(md.Unit)), metric.WithDescription(md.Description))
		if err == nil {
			c.Add(context.Background(), 0)
		}
		return c, err
	})
}

func (o *OTelMetrics) gauge(md Metadata) (metric.Float64Gauge, error) {
	if o.meter == nil {
		return nil, errNotStarted
	}
	return o.gauges.get(md.Name, func() (metric.Float64Gauge, error) {
		return o.meter.Float64Gauge(md.Name, metric.WithUnit(string(md.Unit)), metric.WithDescription(md.Description))
	})
}

func (o *OTelMetrics) histogram(md Metadata) (metric.Float64Histogram, error) {
	if o.meter == nil {
		return nil, errNotStarted
	}
	return o.histograms.get(md.Name, func() (metric.Float64Histogram, error) {
		return o.meter.Float64Histogram(md.Name, metric.WithUnit(string(md.Unit)), metric.WithDescription(md.Description))
	})
}

func (o *OTelMetrics) updown(md Metadata) (metric.Int64UpDownCounter, error) {
	if o.meter == nil {
		return nil, errNotStarted
	}
	return o.updowns.get(md.Name, func() (metric.Int64UpDownCounter, error) {
		u, err := o.meter.Int64UpDownCounter(md.Name, metric.WithUnit(string(md.Unit)), metric.WithDescription(md.Description))
		if err == nil {
			u.Add(context.Background(), 0)
		}
		return u, err
	})
}
