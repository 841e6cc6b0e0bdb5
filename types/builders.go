package types

import (
	"errors"
	"fmt"
	"time"
)

func newEnvelope(kind Kind, baseData map[string]any) *Envelope {
	if baseData == nil {
		baseData = make(map[string]any)
	}
	baseData["ver"] = 2
	return &Envelope{
		Tags: make(map[string]string),
		Data: Data{BaseType: kind, BaseData: baseData},
	}
}

// NewEvent creates a custom event with optional string properties.
func NewEvent(name string, properties map[string]string) *Envelope {
	return newEnvelope(EventData, map[string]any{
		"name":       name,
		"properties": properties,
	})
}

// Severity levels for traces.
const (
	SeverityVerbose = iota
	SeverityInformation
	SeverityWarning
	SeverityError
	SeverityCritical
)

// NewTrace creates a log message.
func NewTrace(message string, severity int) *Envelope {
	return newEnvelope(MessageData, map[string]any{
		"message":       message,
		"severityLevel": severity,
	})
}

// NewException creates an exception item from err. Wrapped errors are
// recorded outermost first.
func NewException(err error, severity int) *Envelope {
	var exceptions []map[string]any
	for e := err; e != nil; e = errors.Unwrap(e) {
		exceptions = append(exceptions, map[string]any{
			"typeName": fmt.Sprintf("%T", e),
			"message":  e.Error(),
		})
	}
	return newEnvelope(ExceptionData, map[string]any{
		"exceptions":    exceptions,
		"severityLevel": severity,
	})
}

// NewMetric creates a single pre-aggregated measurement.
func NewMetric(name string, value float64) *Envelope {
	return newEnvelope(MetricData, map[string]any{
		"metrics": []map[string]any{{
			"name":  name,
			"value": value,
			"count": 1,
		}},
	})
}

// NewPageView records a view of the named page.
func NewPageView(name, url string, duration time.Duration) *Envelope {
	return newEnvelope(PageviewData, map[string]any{
		"name":     name,
		"url":      url,
		"duration": formatDuration(duration),
	})
}

// NewDependency records an outbound call.
func NewDependency(name, target string, duration time.Duration, success bool, resultCode string) *Envelope {
	return newEnvelope(RemoteDependencyData, map[string]any{
		"name":       name,
		"target":     target,
		"duration":   formatDuration(duration),
		"success":    success,
		"resultCode": resultCode,
	})
}

// formatDuration renders d as d.hh:mm:ss.fff, the span format the collection
// endpoint expects.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	days := ms / (24 * 3600 * 1000)
	ms -= days * 24 * 3600 * 1000
	hours := ms / (3600 * 1000)
	ms -= hours * 3600 * 1000
	minutes := ms / (60 * 1000)
	ms -= minutes * 60 * 1000
	seconds := ms / 1000
	ms -= seconds * 1000
	return fmt.Sprintf("%d.%02d:%02d:%02d.%03d", days, hours, minutes, seconds, ms)
}
