package types

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

const (
	InstrumentationKeyHeader = "X-Beacon-Instrumentation-Key"
	// SDKVersion is stamped on every envelope as internal.sdk_version.
	SDKVersion = "beacon-go:1.0.0"
)

// Kind is the telemetry type carried in Data.BaseType.
type Kind string

const (
	EventData               Kind = "EventData"
	MessageData             Kind = "MessageData"
	ExceptionData           Kind = "ExceptionData"
	MetricData              Kind = "MetricData"
	PageviewData            Kind = "PageviewData"
	PageviewPerformanceData Kind = "PageviewPerformanceData"
	RemoteDependencyData    Kind = "RemoteDependencyData"
)

var shortNames = map[Kind]string{
	EventData:               "Event",
	MessageData:             "Message",
	ExceptionData:           "Exception",
	MetricData:              "Metric",
	PageviewData:            "Pageview",
	PageviewPerformanceData: "PageviewPerformance",
	RemoteDependencyData:    "RemoteDependency",
}

// ShortName is the kind as it appears in envelope names, e.g. "Event".
func (k Kind) ShortName() string {
	if n, ok := shortNames[k]; ok {
		return n
	}
	return string(k)
}

// IsSampleExempt reports whether items of this kind bypass sampling. Metrics
// are pre-aggregated, so dropping some of them would skew their values.
func (k Kind) IsSampleExempt() bool {
	return k == MetricData
}

// Tag keys stamped by the dispatcher.
const (
	TagUserID             = "user.id"
	TagUserAuthID         = "user.auth_id"
	TagSessionID          = "session.id"
	TagOperationID        = "operation.id"
	TagOperationName      = "operation.name"
	TagDeviceID           = "device.id"
	TagApplicationVersion = "application.version"
	TagSDKVersion         = "internal.sdk_version"
)

type Data struct {
	BaseType Kind           `json:"baseType"`
	BaseData map[string]any `json:"baseData"`
}

// Envelope is one telemetry item before serialization. Once serialized it
// becomes an opaque string to the rest of the pipeline.
type Envelope struct {
	Name       string            `json:"name"`
	Time       time.Time         `json:"time"`
	IKey       string            `json:"iKey"`
	SampleRate float64           `json:"sampleRate,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	Data       Data              `json:"data"`
}

func (e *Envelope) Kind() Kind {
	return e.Data.BaseType
}

// Tag returns the named tag, or "" if it is not set.
func (e *Envelope) Tag(key string) string {
	return e.Tags[key]
}

// SetTagIfAbsent sets a tag unless the producer already set a non-empty value.
// Empty values are never written.
func (e *Envelope) SetTagIfAbsent(key, value string) {
	if value == "" {
		return
	}
	if e.Tags == nil {
		e.Tags = make(map[string]string)
	}
	if e.Tags[key] == "" {
		e.Tags[key] = value
	}
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Serialize renders the envelope as the JSON string that is buffered and sent.
func Serialize(e *Envelope) (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Parse reads one serialized envelope.
func Parse(data []byte) (*Envelope, error) {
	e := &Envelope{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, err
	}
	return e, nil
}
