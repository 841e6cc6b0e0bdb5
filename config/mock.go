package config

import "sync"

// MockConfig will respond with whatever config it's set to do during
// initialization
type MockConfig struct {
	GetInstrumentationKeyVal      string
	GetGeneralConfigVal           GeneralConfig
	GetTransmitConfigVal          TransmitConfig
	GetSamplingConfigVal          SamplingConfig
	GetStoreConfigVal             StoreConfig
	GetLoggerTypeVal              string
	GetLoggerLevelVal             Level
	GetDiagnosticsConfigVal       DiagnosticsConfig
	GetPrometheusMetricsConfigVal PrometheusMetricsConfig
	GetOTelMetricsConfigVal       OTelMetricsConfig
	GetHashVal                    string

	Mux sync.RWMutex
}

func (m *MockConfig) GetInstrumentationKey() string {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetInstrumentationKeyVal
}

func (m *MockConfig) GetGeneralConfig() GeneralConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetGeneralConfigVal
}

func (m *MockConfig) GetTransmitConfig() TransmitConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetTransmitConfigVal
}

func (m *MockConfig) GetSamplingConfig() SamplingConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetSamplingConfigVal
}

func (m *MockConfig) GetStoreConfig() StoreConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetStoreConfigVal
}

func (m *MockConfig) GetLoggerType() string {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetLoggerTypeVal
}

func (m *MockConfig) GetLoggerLevel() Level {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetLoggerLevelVal
}

func (m *MockConfig) GetDiagnosticsConfig() DiagnosticsConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetDiagnosticsConfigVal
}

func (m *MockConfig) GetPrometheusMetricsConfig() PrometheusMetricsConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetPrometheusMetricsConfigVal
}

func (m *MockConfig) GetOTelMetricsConfig() OTelMetricsConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetOTelMetricsConfigVal
}

func (m *MockConfig) GetHash() string {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetHashVal
}
