package metrics

import (
	"fmt"
)

// RtMetricNameMemory is the runtime/metrics name of the live heap size.
const RtMetricNameMemory = "/memory/classes/heap/objects:bytes"

// The Metrics object supports "constants", which are just float values that can be attached to the
// metrics system. They do not need to be (and should not) be registered in advance; they are just
// a bucket of key-float pairs that can be used in combination with other metrics.
type Metrics interface {
	MetricsBackend
	Get(name string) (float64, bool) // for reading back a counter or a gauge
	Store(name string, val float64)  // for storing a rarely-changing value not sent as a metric
}

// MetricsBackend is the subset of Metrics that a reporting destination needs
// to implement.
type MetricsBackend interface {
	// Register declares a metric
	Register(metadata Metadata)
	Increment(name string)              // for counters
	Gauge(name string, val float64)     // for gauges
	Count(name string, n int64)         // for counters
	Histogram(name string, obs float64) // for histogram
	Up(name string)                     // for updown
	Down(name string)                   // for updown
}

type MetricType int

const (
	Counter MetricType = iota
	Gauge
	Histogram
	UpDown
)

func (m MetricType) String() string {
	switch m {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	case Histogram:
		return "histogram"
	case UpDown:
		return "updown"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Unit follows the UCUM conventions used by OpenTelemetry.
type Unit string

const (
	Dimensionless Unit = "1"
	Bytes         Unit = "By"
	Milliseconds  Unit = "ms"
	Seconds       Unit = "s"
)

type Metadata struct {
	Name string
	Type MetricType
	// Unit is the unit of the metric. It should follow the UCUM case-sensitive
	// unit format.
	Unit        Unit
	Description string
}

func PrefixMetricName(prefix string, name string) string {
	if prefix != "" {
		return fmt.Sprintf(`%s_%s`, prefix, name)
	}
	return name
}
