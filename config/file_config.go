package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
)

// fileConfig implements Config from one or more config files plus
// command-line and environment overrides.
type fileConfig struct {
	mainConfig *configContents
	mainHash   string
	mux        sync.RWMutex
}

type configContents struct {
	General           GeneralConfig           `yaml:"General" toml:"General" json:"General"`
	Transmit          TransmitConfig          `yaml:"Transmit" toml:"Transmit" json:"Transmit"`
	Sampling          SamplingConfig          `yaml:"Sampling" toml:"Sampling" json:"Sampling"`
	Store             StoreConfig             `yaml:"Store" toml:"Store" json:"Store"`
	Logger            LoggerConfig            `yaml:"Logger" toml:"Logger" json:"Logger"`
	Diagnostics       DiagnosticsConfig       `yaml:"Diagnostics" toml:"Diagnostics" json:"Diagnostics"`
	PrometheusMetrics PrometheusMetricsConfig `yaml:"PrometheusMetrics" toml:"PrometheusMetrics" json:"PrometheusMetrics"`
	OTelMetrics       OTelMetricsConfig       `yaml:"OTelMetrics" toml:"OTelMetrics" json:"OTelMetrics"`
}

// NewConfig creates a new Config from the locations named in opts. Any
// problem with the result is a configuration error and is returned rather
// than deferred; nothing downstream re-validates.
func NewConfig(opts *CmdEnv) (Config, error) {
	mainconf := &configContents{}
	mainhash, err := readConfigInto(mainconf, opts.ConfigLocations, opts)
	if err != nil {
		return nil, err
	}

	if err := mainconf.validate(); err != nil {
		return nil, err
	}

	return &fileConfig{
		mainConfig: mainconf,
		mainHash:   mainhash,
	}, nil
}

func (c *configContents) validate() error {
	if c.General.InstrumentationKey == "" {
		return ErrMissingInstrumentationKey
	}

	t := c.Transmit
	u, err := url.Parse(t.EndpointURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid Transmit.EndpointURL %q: must be an absolute http(s) URL", t.EndpointURL)
	}
	if t.MaxBatchSize == 0 {
		return fmt.Errorf("Transmit.MaxBatchSize must be greater than zero")
	}
	if t.MaxBatchInterval <= 0 {
		return fmt.Errorf("Transmit.MaxBatchInterval must be greater than zero")
	}
	if t.MaxBufferItems <= 0 {
		return fmt.Errorf("Transmit.MaxBufferItems must be greater than zero")
	}
	if err := oneOf("Transmit.Compression", t.Compression, "none", "gzip", "zstd"); err != nil {
		return err
	}

	if r := c.Sampling.SampleRate; r <= 0 || r > 100 {
		return fmt.Errorf("invalid Sampling.SampleRate %v: must be in (0, 100]", r)
	}

	if err := oneOf("Store.Type", c.Store.Type, "memory", "file", "redis"); err != nil {
		return err
	}
	if c.Store.Type == "redis" && c.Store.RedisHost == "" {
		return fmt.Errorf("Store.RedisHost is required when Store.Type is redis")
	}

	if err := oneOf("Logger.Type", c.Logger.Type, "stdout", "null"); err != nil {
		return err
	}

	if c.Diagnostics.MaxMessagesPerPageView <= 0 {
		return fmt.Errorf("Diagnostics.MaxMessagesPerPageView must be greater than zero")
	}
	return nil
}

// oneOf reports an error naming the closest allowed value when got is not
// one of allowed.
func oneOf(field, got string, allowed ...string) error {
	if slices.Contains(allowed, got) {
		return nil
	}
	err := fmt.Errorf("invalid %s %q: must be one of %s", field, got, strings.Join(allowed, ", "))
	if s := closest(got, allowed); s != "" {
		err = fmt.Errorf("%w (did you mean %q?)", err, s)
	}
	return err
}

// closest returns the allowed value within two edits of got, if any.
func closest(got string, allowed []string) string {
	best, bestDist := "", 3
	for _, a := range allowed {
		if d := levenshtein.ComputeDistance(strings.ToLower(got), a); d < bestDist {
			best, bestDist = a, d
		}
	}
	return best
}

func (f *fileConfig) GetInstrumentationKey() string {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.General.InstrumentationKey
}

func (f *fileConfig) GetGeneralConfig() GeneralConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.General
}

func (f *fileConfig) GetTransmitConfig() TransmitConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Transmit
}

func (f *fileConfig) GetSamplingConfig() SamplingConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Sampling
}

func (f *fileConfig) GetStoreConfig() StoreConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Store
}

func (f *fileConfig) GetLoggerType() string {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Logger.Type
}

func (f *fileConfig) GetLoggerLevel() Level {
	f.mux.RLock()
	defer f.mux.RUnlock()

	if f.mainConfig.Logger.Level == UnknownLevel {
		return WarnLevel
	}
	return f.mainConfig.Logger.Level
}

func (f *fileConfig) GetDiagnosticsConfig() DiagnosticsConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Diagnostics
}

func (f *fileConfig) GetPrometheusMetricsConfig() PrometheusMetricsConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.PrometheusMetrics
}

func (f *fileConfig) GetOTelMetricsConfig() OTelMetricsConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.OTelMetrics
}

func (f *fileConfig) GetHash() string {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainHash
}

// BatchInterval is a convenience for the transmit timer.
func (t TransmitConfig) BatchInterval() time.Duration {
	return time.Duration(t.MaxBatchInterval)
}
