package config

import (
	"errors"
	"time"
)

// ErrMissingInstrumentationKey is returned by NewConfig when no
// instrumentation key was configured; nothing can be sent without one.
var ErrMissingInstrumentationKey = errors.New("an instrumentation key is required")

// Config defines the interface the rest of the code uses to get items from the
// config. There may be different implementations of the config using different
// backends to store the config.
type Config interface {
	// GetInstrumentationKey returns the key that identifies this client to
	// the collection endpoint; it is stamped on every envelope.
	GetInstrumentationKey() string

	// GetGeneralConfig returns the config specific to General
	GetGeneralConfig() GeneralConfig

	// GetTransmitConfig returns everything that controls batching, channel
	// selection, and retry.
	GetTransmitConfig() TransmitConfig

	// GetSamplingConfig returns the config for the sample gate
	GetSamplingConfig() SamplingConfig

	// GetStoreConfig returns the config for the persistent store that backs
	// the durable buffer
	GetStoreConfig() StoreConfig

	// GetLoggerType returns the type of the logger to use. Valid types are in
	// the logger package
	GetLoggerType() string

	// GetLoggerLevel returns the level of the logger to use.
	GetLoggerLevel() Level

	// GetDiagnosticsConfig returns the throttling config for internal
	// diagnostics
	GetDiagnosticsConfig() DiagnosticsConfig

	// GetPrometheusMetricsConfig returns the config specific to PrometheusMetrics
	GetPrometheusMetricsConfig() PrometheusMetricsConfig

	// GetOTelMetricsConfig returns the config specific to OTelMetrics
	GetOTelMetricsConfig() OTelMetricsConfig

	// GetHash returns the hash of the loaded config files
	GetHash() string
}

type GeneralConfig struct {
	InstrumentationKey string `yaml:"InstrumentationKey" toml:"InstrumentationKey" json:"InstrumentationKey" cmdenv:"InstrumentationKey"`
	ApplicationVersion string `yaml:"ApplicationVersion" toml:"ApplicationVersion" json:"ApplicationVersion"`
	// EnvelopePrefix is prepended to envelope names, e.g. "beacon.Event".
	EnvelopePrefix string `yaml:"EnvelopePrefix" toml:"EnvelopePrefix" json:"EnvelopePrefix" default:"beacon"`
}

type TransmitConfig struct {
	EndpointURL           string     `yaml:"EndpointURL" toml:"EndpointURL" json:"EndpointURL" default:"https://dc.services.example.com/v2/track" cmdenv:"EndpointURL"`
	MaxBatchSize          MemorySize `yaml:"MaxBatchSize" toml:"MaxBatchSize" json:"MaxBatchSize" default:"102400"`
	MaxBatchInterval      Duration   `yaml:"MaxBatchInterval" toml:"MaxBatchInterval" json:"MaxBatchInterval" default:"15s"`
	MaxBufferItems        int        `yaml:"MaxBufferItems" toml:"MaxBufferItems" json:"MaxBufferItems" default:"2000"`
	EmitLineDelimitedJSON bool       `yaml:"EmitLineDelimitedJSON" toml:"EmitLineDelimitedJSON" json:"EmitLineDelimitedJSON"`
	DisableTelemetry      bool       `yaml:"DisableTelemetry" toml:"DisableTelemetry" json:"DisableTelemetry" cmdenv:"DisableTelemetry"`
	DisableRetry          bool       `yaml:"DisableRetry" toml:"DisableRetry" json:"DisableRetry"`
	DisableDurableBuffer  bool       `yaml:"DisableDurableBuffer" toml:"DisableDurableBuffer" json:"DisableDurableBuffer"`
	DisableBeacon         bool       `yaml:"DisableBeacon" toml:"DisableBeacon" json:"DisableBeacon"`
	// UseLegacyChannel replaces the standard request/response channel with
	// the reduced-visibility one.
	UseLegacyChannel bool     `yaml:"UseLegacyChannel" toml:"UseLegacyChannel" json:"UseLegacyChannel"`
	Compression      string   `yaml:"Compression" toml:"Compression" json:"Compression" default:"none"`
	BeaconQueueSize  int      `yaml:"BeaconQueueSize" toml:"BeaconQueueSize" json:"BeaconQueueSize" default:"64"`
	RequestTimeout   Duration `yaml:"RequestTimeout" toml:"RequestTimeout" json:"RequestTimeout" default:"10s"`
}

type SamplingConfig struct {
	// SampleRate is a percentage in (0, 100].
	SampleRate float64 `yaml:"SampleRate" toml:"SampleRate" json:"SampleRate" default:"100" cmdenv:"SampleRate"`
}

type StoreConfig struct {
	Type          string   `yaml:"Type" toml:"Type" json:"Type" default:"file"`
	Path          string   `yaml:"Path" toml:"Path" json:"Path" default:"/tmp/beacon"`
	RedisHost     string   `yaml:"RedisHost" toml:"RedisHost" json:"RedisHost" cmdenv:"RedisHost"`
	RedisUsername string   `yaml:"RedisUsername" toml:"RedisUsername" json:"RedisUsername"`
	RedisPassword string   `yaml:"RedisPassword" toml:"RedisPassword" json:"RedisPassword" cmdenv:"RedisPassword"`
	RedisDatabase int      `yaml:"RedisDatabase" toml:"RedisDatabase" json:"RedisDatabase"`
	KeyPrefix     string   `yaml:"KeyPrefix" toml:"KeyPrefix" json:"KeyPrefix" default:"beacon"`
	TTL           Duration `yaml:"TTL" toml:"TTL" json:"TTL" default:"24h"`
	Timeout       Duration `yaml:"Timeout" toml:"Timeout" json:"Timeout" default:"1s"`
}

type LoggerConfig struct {
	Type  string `yaml:"Type" toml:"Type" json:"Type" default:"stdout"`
	// Level defaults to warn when unset.
	Level Level `yaml:"Level" toml:"Level" json:"Level" cmdenv:"LogLevel"`
}

type DiagnosticsConfig struct {
	// Verbose emits every diagnostic instead of the first of each kind.
	Verbose                bool `yaml:"Verbose" toml:"Verbose" json:"Verbose"`
	MaxMessagesPerPageView int  `yaml:"MaxMessagesPerPageView" toml:"MaxMessagesPerPageView" json:"MaxMessagesPerPageView" default:"25"`
}

type PrometheusMetricsConfig struct {
	Enabled    bool   `yaml:"Enabled" toml:"Enabled" json:"Enabled"`
	ListenAddr string `yaml:"ListenAddr" toml:"ListenAddr" json:"ListenAddr" default:"localhost:2112"`
}

type OTelMetricsConfig struct {
	Enabled           bool     `yaml:"Enabled" toml:"Enabled" json:"Enabled"`
	APIHost           string   `yaml:"APIHost" toml:"APIHost" json:"APIHost" default:"https://api.honeycomb.io"`
	APIKey            string   `yaml:"APIKey" toml:"APIKey" json:"APIKey"`
	Dataset           string   `yaml:"Dataset" toml:"Dataset" json:"Dataset" default:"beacon Metrics"`
	Compression       string   `yaml:"Compression" toml:"Compression" json:"Compression" default:"gzip"`
	ReportingInterval Duration `yaml:"ReportingInterval" toml:"ReportingInterval" json:"ReportingInterval" default:"30s"`
}

// Duration is a time.Duration that reads and writes itself as text like
// "15s", so it works in every supported config format.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalFlag lets go-flags parse durations from the command line.
func (d *Duration) UnmarshalFlag(value string) error {
	return d.UnmarshalText([]byte(value))
}
