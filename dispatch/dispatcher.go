// Package dispatch is the single entry point for telemetry. Every item is
// stamped with identity, passed through the registered initializers and the
// sampler, and handed to the transmitter if it survives.
package dispatch

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/honeycombio/beacon/config"
	"github.com/honeycombio/beacon/diagnostics"
	"github.com/honeycombio/beacon/logger"
	"github.com/honeycombio/beacon/metrics"
	"github.com/honeycombio/beacon/types"
)

// Initializer may inspect or modify an item before it is sampled. Returning
// false drops the item and skips the initializers after it.
type Initializer func(env *types.Envelope) bool

// Gate decides whether an item is kept.
type Gate interface {
	IsSampledIn(env *types.Envelope) bool
	Rate() float64
}

// Sender takes items that passed the gate.
type Sender interface {
	Send(env *types.Envelope)
	Flush()
	Unload()
	ResetPageView()
	Wait()
}

// Context is the identity stamped on every item that does not already carry
// it.
type Context struct {
	UserID              string
	AuthenticatedUserID string
	SessionID           string
	OperationID         string
	OperationName       string
	DeviceID            string
	ApplicationVersion  string
}

// NewContext returns a Context with a fresh random session id.
func NewContext() Context {
	return Context{SessionID: uuid.NewString()}
}

func (c Context) tags() [][2]string {
	return [][2]string{
		{types.TagUserID, c.UserID},
		{types.TagUserAuthID, c.AuthenticatedUserID},
		{types.TagSessionID, c.SessionID},
		{types.TagOperationID, c.OperationID},
		{types.TagOperationName, c.OperationName},
		{types.TagDeviceID, c.DeviceID},
		{types.TagApplicationVersion, c.ApplicationVersion},
		{types.TagSDKVersion, types.SDKVersion},
	}
}

const (
	counterTracked             = "dispatch_tracked"
	counterDroppedInitializer  = "dispatch_dropped_by_initializer"
	counterDroppedSampling     = "dispatch_sampled_out"
	counterInitializerFailures = "dispatch_initializer_failures"
)

var dispatchMetrics = []metrics.Metadata{
	{Name: counterTracked, Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of items handed to the transmitter"},
	{Name: counterDroppedInitializer, Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of items an initializer dropped"},
	{Name: counterDroppedSampling, Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of items the sampler dropped"},
	{Name: counterInitializerFailures, Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of initializer panics"},
}

type initializerEntry struct {
	id int
	fn Initializer
}

// Dispatcher never returns an error to the producer; every failure is
// reported through Diagnostics and the item is dropped.
type Dispatcher struct {
	Config      config.Config       `inject:""`
	Logger      logger.Logger       `inject:""`
	Metrics     metrics.Metrics     `inject:"metrics"`
	Diagnostics diagnostics.Thrower `inject:""`
	Sampler     Gate                `inject:""`
	Transmitter Sender              `inject:""`
	Clock       clockwork.Clock     `inject:""`

	ikey   string
	prefix string

	mut          sync.RWMutex
	ctx          Context
	initializers []initializerEntry
	nextID       int
}

func (d *Dispatcher) Start() error {
	d.Logger.Debug().Logf("Starting Dispatcher")

	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	d.ikey = d.Config.GetInstrumentationKey()
	d.prefix = d.Config.GetGeneralConfig().EnvelopePrefix
	for _, m := range dispatchMetrics {
		d.Metrics.Register(m)
	}

	d.mut.Lock()
	defer d.mut.Unlock()
	if d.ctx.SessionID == "" {
		d.ctx.SessionID = uuid.NewString()
	}
	if d.ctx.ApplicationVersion == "" {
		d.ctx.ApplicationVersion = d.Config.GetGeneralConfig().ApplicationVersion
	}
	return nil
}

// Context returns the identity currently stamped on items.
func (d *Dispatcher) Context() Context {
	d.mut.RLock()
	defer d.mut.RUnlock()

	return d.ctx
}

// SetContext replaces the identity stamped on items from now on.
func (d *Dispatcher) SetContext(c Context) {
	d.mut.Lock()
	defer d.mut.Unlock()

	d.ctx = c
}

// AddInitializer registers fn to run on every tracked item, after the ones
// already registered. The returned func removes it again.
func (d *Dispatcher) AddInitializer(fn Initializer) (remove func()) {
	d.mut.Lock()
	defer d.mut.Unlock()

	d.nextID++
	id := d.nextID
	d.initializers = append(d.initializers, initializerEntry{id: id, fn: fn})

	return func() {
		d.mut.Lock()
		defer d.mut.Unlock()
		d.initializers = slices.DeleteFunc(d.initializers, func(e initializerEntry) bool { return e.id == id })
	}
}

// Track stamps, filters and samples env, then sends it.
func (d *Dispatcher) Track(env *types.Envelope) {
	if env == nil {
		d.Diagnostics.Throw(config.WarnLevel, diagnostics.NilItem, "cannot track a nil item", nil)
		return
	}

	d.stamp(env)

	if !d.runInitializers(env) {
		d.Metrics.Increment(counterDroppedInitializer)
		return
	}

	if !d.Sampler.IsSampledIn(env) {
		d.Metrics.Increment(counterDroppedSampling)
		return
	}

	d.Transmitter.Send(env)
	d.Metrics.Increment(counterTracked)
}

func (d *Dispatcher) stamp(env *types.Envelope) {
	if env.IKey == "" {
		env.IKey = d.ikey
	}
	if env.Name == "" {
		env.Name = d.prefix + "." + env.Kind().ShortName()
	}
	if env.Time.IsZero() {
		env.Time = d.Clock.Now().UTC()
	}
	env.SampleRate = d.Sampler.Rate()

	d.mut.RLock()
	ctx := d.ctx
	d.mut.RUnlock()
	for _, tag := range ctx.tags() {
		env.SetTagIfAbsent(tag[0], tag[1])
	}
}

func (d *Dispatcher) runInitializers(env *types.Envelope) bool {
	d.mut.RLock()
	inits := slices.Clone(d.initializers)
	d.mut.RUnlock()

	for i, init := range inits {
		if !d.runInitializer(i, init.fn, env) {
			return false
		}
	}
	return true
}

func (d *Dispatcher) runInitializer(i int, fn Initializer, env *types.Envelope) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			d.Metrics.Increment(counterInitializerFailures)
			d.Diagnostics.Throw(config.ErrorLevel, diagnostics.InitializerFailed,
				"item initializer panicked; dropping item",
				map[string]any{"initializer": i, "name": env.Name, "panic": fmt.Sprint(r)})
			keep = false
		}
	}()
	return fn(env)
}

// Flush sends everything buffered now.
func (d *Dispatcher) Flush() {
	d.Transmitter.Flush()
}

// Wait blocks until every batch sent so far has been answered.
func (d *Dispatcher) Wait() {
	d.Transmitter.Wait()
}

// Unload is the last-chance flush before the process exits.
func (d *Dispatcher) Unload() {
	d.Transmitter.Unload()
}

// StartPageView begins a new page view: every once-per-page-view warning
// may fire again.
func (d *Dispatcher) StartPageView() {
	if r, ok := d.Diagnostics.(interface{ ResetPageView() }); ok {
		r.ResetPageView()
	}
	d.Transmitter.ResetPageView()
}

func (d *Dispatcher) TrackEvent(name string, properties map[string]string) {
	d.Track(types.NewEvent(name, properties))
}

func (d *Dispatcher) TrackTrace(message string, severity int) {
	d.Track(types.NewTrace(message, severity))
}

func (d *Dispatcher) TrackException(err error, severity int) {
	if err == nil {
		d.Diagnostics.Throw(config.WarnLevel, diagnostics.NilItem, "cannot track a nil error", nil)
		return
	}
	d.Track(types.NewException(err, severity))
}

func (d *Dispatcher) TrackMetric(name string, value float64) {
	d.Track(types.NewMetric(name, value))
}

// TrackPageView starts a new page view and records it.
func (d *Dispatcher) TrackPageView(name, url string, duration time.Duration) {
	d.StartPageView()
	d.Track(types.NewPageView(name, url, duration))
}

func (d *Dispatcher) TrackDependency(name, target string, duration time.Duration, success bool, resultCode string) {
	d.Track(types.NewDependency(name, target, duration, success, resultCode))
}
