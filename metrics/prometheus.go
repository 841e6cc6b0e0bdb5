package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/honeycombio/beacon/config"
	"github.com/honeycombio/beacon/logger"
)

var _ MetricsBackend = (*PromMetrics)(nil)

type PromMetrics struct {
	Config config.Config `inject:""`
	Logger logger.Logger `inject:""`
	// metrics keeps a record of all the registered metrics so we can increment
	// them by name
	metrics  map[string]any
	lock     sync.RWMutex
	registry *prometheus.Registry
	server   *http.Server

	prefix string
}

func (p *PromMetrics) Start() error {
	p.lock.Lock()
	p.metrics = make(map[string]any)
	p.registry = prometheus.NewRegistry()
	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	p.lock.Unlock()

	pc := p.Config.GetPrometheusMetricsConfig()
	if !pc.Enabled {
		return nil
	}
	p.Logger.Debug().Logf("Starting PromMetrics")
	defer func() { p.Logger.Debug().Logf("Finished starting PromMetrics") }()

	p.server = &http.Server{
		Addr:              pc.ListenAddr,
		Handler:           p.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := p.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.Logger.Error().WithString("addr", pc.ListenAddr).Logf("prometheus listener failed: %s", err)
		}
	}()
	return nil
}

func (p *PromMetrics) Stop() error {
	if p.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.server.Shutdown(ctx)
}

// Router serves this instance's registry on /metrics.
func (p *PromMetrics) Router() http.Handler {
	muxxer := mux.NewRouter()
	muxxer.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return muxxer
}

// Register takes a name and a metric type. The type should be one of "counter",
// "gauge", "histogram" or "updown".
func (p *PromMetrics) Register(metadata Metadata) {
	p.lock.Lock()
	defer p.lock.Unlock()

	// don't attempt to add the metric again as this will cause a panic
	if _, exists := p.metrics[metadata.Name]; exists {
		return
	}

	help := metadata.Description
	if help == "" {
		help = metadata.Name
	}

	var newmet prometheus.Collector
	switch metadata.Type {
	case Counter:
		newmet = prometheus.NewCounter(prometheus.CounterOpts{
			Name:      metadata.Name,
			Namespace: p.prefix,
			Help:      help,
		})
	case Gauge, UpDown:
		newmet = prometheus.NewGauge(prometheus.GaugeOpts{
			Name:      metadata.Name,
			Namespace: p.prefix,
			Help:      help,
		})
	case Histogram:
		newmet = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:      metadata.Name,
			Namespace: p.prefix,
			Help:      help,
			// This is an attempt at a usable set of buckets for a wide range of metrics
			// 16 buckets, first upper bound of 1, each following upper bound is 4x the previous
			Buckets: prometheus.ExponentialBuckets(1, 4, 16),
		})
	default:
		return
	}

	if err := p.registry.Register(newmet); err != nil {
		p.Logger.Error().WithString("name", metadata.Name).Logf("failed to register prometheus metric: %s", err)
		return
	}
	p.metrics[metadata.Name] = newmet
}

func (p *PromMetrics) Increment(name string) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if counter, ok := p.metrics[name].(prometheus.Counter); ok {
		counter.Inc()
	}
}

func (p *PromMetrics) Count(name string, n int64) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if counter, ok := p.metrics[name].(prometheus.Counter); ok {
		counter.Add(float64(n))
	}
}

func (p *PromMetrics) Gauge(name string, val float64) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if gauge, ok := p.metrics[name].(prometheus.Gauge); ok {
		gauge.Set(val)
	}
}

func (p *PromMetrics) Histogram(name string, obs float64) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if hist, ok := p.metrics[name].(prometheus.Histogram); ok {
		hist.Observe(obs)
	}
}

func (p *PromMetrics) Up(name string) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if gauge, ok := p.metrics[name].(prometheus.Gauge); ok {
		gauge.Inc()
	}
}

func (p *PromMetrics) Down(name string) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if gauge, ok := p.metrics[name].(prometheus.Gauge); ok {
		gauge.Dec()
	}
}
