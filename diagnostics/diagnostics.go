// Package diagnostics is the pipeline's internal error channel. Every
// delivery failure and local defect is reported here instead of being
// returned to the producer, and the channel throttles itself so it can never
// become a flood source of its own.
package diagnostics

import (
	"sync"

	"github.com/honeycombio/beacon/config"
	"github.com/honeycombio/beacon/generics"
	"github.com/honeycombio/beacon/logger"
	"github.com/honeycombio/beacon/metrics"
)

// MessageID identifies a kind of diagnostic. Each kind is emitted at most once
// per page view unless verbose mode is on.
type MessageID int

const (
	NilItem MessageID = iota + 1
	NoChannel
	SerializeFailed
	InitializerFailed
	BufferFull
	StoreReadFailed
	StoreWriteFailed
	InFlightOverflow
	TransmitFailed
	PartialResponseInvalid
	ItemsDropped
	SendRejected
	ThrottleLimitReached
)

var messageNames = map[MessageID]string{
	NilItem:                "nil_item",
	NoChannel:              "no_channel",
	SerializeFailed:        "serialize_failed",
	InitializerFailed:      "initializer_failed",
	BufferFull:             "buffer_full",
	StoreReadFailed:        "store_read_failed",
	StoreWriteFailed:       "store_write_failed",
	InFlightOverflow:       "in_flight_overflow",
	TransmitFailed:         "transmit_failed",
	PartialResponseInvalid: "partial_response_invalid",
	ItemsDropped:           "items_dropped",
	SendRejected:           "send_rejected",
	ThrottleLimitReached:   "throttle_limit_reached",
}

func (id MessageID) String() string {
	if n, ok := messageNames[id]; ok {
		return n
	}
	return "unknown"
}

// Thrower is what pipeline components depend on.
type Thrower interface {
	Throw(level config.Level, id MessageID, msg string, fields map[string]any)
}

var _ Thrower = (*Diagnostics)(nil)

type Diagnostics struct {
	Config  config.Config   `inject:""`
	Logger  logger.Logger   `inject:""`
	Metrics metrics.Metrics `inject:"metrics"`

	verbose  bool
	ceiling  int
	mut      sync.Mutex
	seen     generics.Set[MessageID]
	emitted  int
	limitHit bool
}

var diagnosticsMetrics = []metrics.Metadata{
	{Name: "diagnostics_emitted", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of internal diagnostics logged"},
	{Name: "diagnostics_suppressed", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of internal diagnostics suppressed by throttling"},
}

func (d *Diagnostics) Start() error {
	cfg := d.Config.GetDiagnosticsConfig()
	d.verbose = cfg.Verbose
	d.ceiling = cfg.MaxMessagesPerPageView
	if d.ceiling <= 0 {
		d.ceiling = 25
	}
	d.seen = generics.NewSet[MessageID]()

	for _, metric := range diagnosticsMetrics {
		d.Metrics.Register(metric)
	}
	return nil
}

// Throw records a diagnostic. It never fails and never blocks on I/O beyond
// the logger.
func (d *Diagnostics) Throw(level config.Level, id MessageID, msg string, fields map[string]any) {
	d.mut.Lock()
	emit, limitReached := d.admit(id)
	d.mut.Unlock()

	if !emit {
		d.Metrics.Increment("diagnostics_suppressed")
		return
	}
	d.Metrics.Increment("diagnostics_emitted")
	d.entry(level).
		WithString("diagnostic", id.String()).
		WithFields(fields).
		Logf("%s", msg)

	if limitReached {
		d.entry(config.WarnLevel).
			WithString("diagnostic", ThrottleLimitReached.String()).
			Logf("internal diagnostics throttle limit of %d per page view reached", d.ceiling)
	}
}

// admit decides whether a message is emitted, and whether it is the one that
// reaches the ceiling. Callers hold mut.
func (d *Diagnostics) admit(id MessageID) (emit bool, limitReached bool) {
	if d.limitHit {
		return false, false
	}
	if !d.verbose {
		if d.seen.Contains(id) {
			return false, false
		}
		d.seen.Add(id)
	}
	d.emitted++
	if d.emitted >= d.ceiling {
		d.limitHit = true
		return true, true
	}
	return true, false
}

// ResetPageView starts a new page view: every kind may be emitted again and
// the ceiling starts over.
func (d *Diagnostics) ResetPageView() {
	d.mut.Lock()
	defer d.mut.Unlock()

	d.seen = generics.NewSet[MessageID]()
	d.emitted = 0
	d.limitHit = false
}

func (d *Diagnostics) entry(level config.Level) logger.Entry {
	switch level {
	case config.DebugLevel:
		return d.Logger.Debug()
	case config.InfoLevel:
		return d.Logger.Info()
	case config.WarnLevel:
		return d.Logger.Warn()
	default:
		return d.Logger.Error()
	}
}
