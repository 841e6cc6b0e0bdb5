// Package transmit batches serialized telemetry and delivers it over one of
// three channels, retrying transient failures with exponential backoff.
package transmit

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/honeycombio/beacon/buffer"
	"github.com/honeycombio/beacon/config"
	"github.com/honeycombio/beacon/diagnostics"
	"github.com/honeycombio/beacon/generics"
	"github.com/honeycombio/beacon/logger"
	"github.com/honeycombio/beacon/metrics"
	"github.com/honeycombio/beacon/store"
	"github.com/honeycombio/beacon/types"
)

// ErrNoChannel is reported when every channel is disabled or missing.
var ErrNoChannel = errors.New("no channel is available to send telemetry")

const (
	counterItemsEnqueued   = "transmit_items_enqueued"
	counterItemsRejected   = "transmit_items_rejected"
	counterBatchesSent     = "transmit_batches_sent"
	counterItemsSent       = "transmit_items_sent"
	counterResponse20x     = "transmit_response_20x"
	counterResponsePartial = "transmit_response_partial"
	counterSendErrors      = "transmit_send_errors"
	counterSendRetries     = "transmit_send_retries"
	counterItemsDropped    = "transmit_items_dropped"
	gaugeQueueLength       = "transmit_queue_length"
	histogramBatchBytes    = "transmit_batch_bytes"
	histogramRetryDelay    = "transmit_retry_delay_seconds"
)

var transmitMetrics = []metrics.Metadata{
	{Name: counterItemsEnqueued, Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of items accepted into the buffer"},
	{Name: counterItemsRejected, Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of items that could not be buffered"},
	{Name: counterBatchesSent, Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of batches handed to a channel"},
	{Name: counterItemsSent, Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of items confirmed as delivered"},
	{Name: counterResponse20x, Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of batches accepted in full"},
	{Name: counterResponsePartial, Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of batches accepted in part"},
	{Name: counterSendErrors, Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of batches that got no response"},
	{Name: counterSendRetries, Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of times items were requeued for retry"},
	{Name: counterItemsDropped, Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of items permanently failed"},
	{Name: gaugeQueueLength, Type: metrics.Gauge, Unit: metrics.Dimensionless, Description: "Number of items waiting to be sent"},
	{Name: histogramBatchBytes, Type: metrics.Histogram, Unit: metrics.Bytes, Description: "Size of each batch payload"},
	{Name: histogramRetryDelay, Type: metrics.Histogram, Unit: metrics.Seconds, Description: "Backoff delay chosen after a failure"},
}

// Transmitter owns the buffer and decides when and how its contents are
// sent. Every piece of pipeline logic, including timer and channel
// callbacks, runs under a single mutex.
type Transmitter struct {
	Config      config.Config       `inject:""`
	Logger      logger.Logger       `inject:""`
	Metrics     metrics.Metrics     `inject:"metrics"`
	Diagnostics diagnostics.Thrower `inject:""`
	Store       store.Store         `inject:""`
	Clock       clockwork.Clock     `inject:""`

	Beacon   BeaconChannel `inject:"beaconChannel"`
	Standard ResultChannel `inject:"standardChannel"`
	Legacy   ResultChannel `inject:"legacyChannel"`

	// Buffer is built in Start unless one is supplied.
	Buffer buffer.Buffer
	// Rand is the source of backoff jitter.
	Rand func() float64

	tc     config.TransmitConfig
	beacon BeaconChannel
	result ResultChannel
	legacy bool

	mut               sync.Mutex
	timer             clockwork.Timer
	timerGen          uint64
	consecutiveErrors int
	retryAt           time.Time
	stopped           bool
	inFlight          sync.WaitGroup
}

func (t *Transmitter) Start() error {
	t.tc = t.Config.GetTransmitConfig()
	if t.Clock == nil {
		t.Clock = clockwork.NewRealClock()
	}
	if t.Rand == nil {
		t.Rand = rand.Float64
	}
	for _, m := range transmitMetrics {
		t.Metrics.Register(m)
	}

	if t.Beacon != nil && !t.tc.DisableBeacon {
		t.beacon = t.Beacon
	}
	switch {
	case t.Standard != nil && (!t.tc.UseLegacyChannel || t.Legacy == nil):
		t.result = t.Standard
	case t.Legacy != nil:
		t.result = t.Legacy
		t.legacy = true
	}
	if err := t.Ready(); err != nil {
		t.Diagnostics.Throw(config.ErrorLevel, diagnostics.NoChannel, err.Error(), nil)
	}

	if t.Buffer == nil {
		opts := buffer.OptionsFromConfig(t.Config)
		if t.Store != nil && !t.tc.DisableDurableBuffer {
			sb := buffer.NewStoredBuffer(opts, t.Store, t.Diagnostics)
			if err := sb.Start(); err != nil {
				return fmt.Errorf("recovering durable buffer: %w", err)
			}
			t.Buffer = sb
		} else {
			t.Buffer = buffer.NewMemoryBuffer(opts, t.Diagnostics)
		}
	}

	t.Logger.Debug().WithFields(map[string]any{
		"beacon":    t.beacon != nil,
		"result":    t.result != nil,
		"legacy":    t.legacy,
		"recovered": t.Buffer.Count(),
	}).Logf("starting transmitter")

	t.mut.Lock()
	defer t.mut.Unlock()
	t.afterSend()
	return nil
}

// Ready returns ErrNoChannel if nothing can carry a batch.
func (t *Transmitter) Ready() error {
	if t.beacon == nil && t.result == nil {
		return ErrNoChannel
	}
	return nil
}

// Send serializes env and buffers it, flushing first if it would push the
// pending batch past the size limit. It never blocks on the network.
func (t *Transmitter) Send(env *types.Envelope) {
	if env == nil {
		t.Diagnostics.Throw(config.WarnLevel, diagnostics.NilItem, "cannot send a nil item", nil)
		return
	}
	if t.tc.DisableTelemetry {
		return
	}

	t.mut.Lock()
	defer t.mut.Unlock()

	if err := t.Ready(); err != nil {
		t.Diagnostics.Throw(config.ErrorLevel, diagnostics.NoChannel, err.Error(), nil)
		t.Metrics.Increment(counterItemsRejected)
		return
	}

	item, err := types.Serialize(env)
	if err != nil {
		t.Diagnostics.Throw(config.ErrorLevel, diagnostics.SerializeFailed,
			"failed to serialize item", map[string]any{"name": env.Name, "error": err.Error()})
		t.Metrics.Increment(counterItemsRejected)
		return
	}

	if pending := t.Buffer.GetItems(); len(pending) > 0 {
		if len(t.Buffer.BatchPayloads(pending))+len(item) > int(t.tc.MaxBatchSize) {
			t.flushLocked(false)
		}
	}

	if !t.Buffer.Enqueue(item) {
		t.Metrics.Increment(counterItemsRejected)
		return
	}
	t.Metrics.Increment(counterItemsEnqueued)
	t.Metrics.Gauge(gaugeQueueLength, float64(t.Buffer.Count()))
	t.setupTimer()
}

// Flush sends everything pending now.
func (t *Transmitter) Flush() {
	t.mut.Lock()
	defer t.mut.Unlock()

	t.flushLocked(false)
	t.afterSend()
}

// Unload is a best-effort flush for the end of the process lifetime. Only
// the beacon channel is used, since nothing would be around to read a
// response; without a beacon the durable buffer keeps the items for the next
// start.
func (t *Transmitter) Unload() {
	t.mut.Lock()
	defer t.mut.Unlock()

	t.flushLocked(true)
}

// ResetPageView starts a new page view for the buffer's overflow warning.
func (t *Transmitter) ResetPageView() {
	t.mut.Lock()
	defer t.mut.Unlock()

	t.Buffer.ResetPageView()
}

// Wait blocks until every batch handed to a result channel has been
// resolved.
func (t *Transmitter) Wait() {
	t.inFlight.Wait()
}

// Stop unloads, cancels the timer and waits for requests in flight. Items
// requeued after Stop stay in the buffer.
func (t *Transmitter) Stop() error {
	t.mut.Lock()
	t.flushLocked(true)
	t.stopped = true
	t.cancelTimer()
	t.mut.Unlock()

	t.inFlight.Wait()
	return nil
}

// setupTimer arms the batch timer unless one is already armed. The delay is
// the batch interval, or the time left until retryAt if that is longer.
func (t *Transmitter) setupTimer() {
	if t.timer != nil || t.stopped {
		return
	}

	delay := t.tc.BatchInterval()
	if !t.retryAt.IsZero() {
		if until := t.Clock.Until(t.retryAt); until > delay {
			delay = until
		}
	}

	t.timerGen++
	gen := t.timerGen
	t.timer = t.Clock.AfterFunc(delay, func() { t.onTimer(gen) })
}

func (t *Transmitter) cancelTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Transmitter) onTimer(gen uint64) {
	t.mut.Lock()
	defer t.mut.Unlock()

	// a timer that was replaced while this callback waited for the lock
	if gen != t.timerGen || t.timer == nil || t.stopped {
		return
	}
	t.timer = nil
	t.retryAt = time.Time{}
	t.flushLocked(false)
	t.afterSend()
}

// afterSend keeps the timer armed while anything is still pending.
func (t *Transmitter) afterSend() {
	n := t.Buffer.Count()
	t.Metrics.Gauge(gaugeQueueLength, float64(n))
	if n > 0 {
		t.setupTimer()
	}
}

// flushLocked sends all pending items as one batch, or as beacon-sized runs
// when unloading.
func (t *Transmitter) flushLocked(unload bool) {
	t.cancelTimer()

	if t.tc.DisableTelemetry {
		t.Buffer.Clear()
		return
	}
	items := t.Buffer.GetItems()
	if len(items) == 0 {
		return
	}
	if unload {
		t.unloadLocked(items)
		return
	}
	if t.Ready() != nil {
		return
	}

	payload := t.Buffer.BatchPayloads(items)
	t.Metrics.Histogram(histogramBatchBytes, float64(len(payload)))
	t.Buffer.MarkAsSent(items)

	if t.beacon != nil {
		if t.beacon.SendBeacon(payload) {
			t.Metrics.Increment(counterBatchesSent)
			t.Buffer.ClearSent(items)
			t.Metrics.Count(counterItemsSent, int64(len(items)))
			return
		}

		if t.result == nil {
			t.Diagnostics.Throw(config.WarnLevel, diagnostics.SendRejected,
				"beacon rejected the batch", map[string]any{"items": len(items), "bytes": len(payload), "unload": false})
			t.drop(items)
			return
		}
		t.Logger.Debug().WithField("bytes", len(payload)).Logf("beacon rejected batch, falling back")
	}

	t.Metrics.Increment(counterBatchesSent)
	t.inFlight.Add(1)
	t.result.Send(payload, func(resp Response) {
		defer t.inFlight.Done()
		t.onResponse(items, resp)
	})
}

// unloadLocked offers items to the beacon in consecutive runs that each fit
// MaxBeaconPayload. Runs the beacon refuses go back to the front of pending
// work, in order, for the durable buffer to keep.
func (t *Transmitter) unloadLocked(items []string) {
	if t.beacon == nil {
		return
	}
	t.Buffer.MarkAsSent(items)

	var rejected []string
	for _, run := range t.beaconRuns(items) {
		payload := t.Buffer.BatchPayloads(run)
		t.Metrics.Histogram(histogramBatchBytes, float64(len(payload)))
		if t.beacon.SendBeacon(payload) {
			t.Metrics.Increment(counterBatchesSent)
			t.Buffer.ClearSent(run)
			t.Metrics.Count(counterItemsSent, int64(len(run)))
			continue
		}
		rejected = append(rejected, run...)
	}

	if len(rejected) > 0 {
		t.Diagnostics.Throw(config.WarnLevel, diagnostics.SendRejected,
			"beacon rejected the batch", map[string]any{"items": len(rejected), "unload": true})
		t.Buffer.Requeue(rejected)
	}
}

// beaconRuns splits items into consecutive runs whose batch payload is at
// most MaxBeaconPayload bytes. An item that is too large by itself gets a run
// of its own.
func (t *Transmitter) beaconRuns(items []string) [][]string {
	// brackets around a JSON array; lines need none
	framing := 2
	if t.tc.EmitLineDelimitedJSON {
		framing = 0
	}

	var runs [][]string
	start, size := 0, framing
	for i, item := range items {
		if i > start && size+1+len(item) > MaxBeaconPayload {
			runs = append(runs, items[start:i])
			start, size = i, framing
		}
		if i > start {
			size++ // separator
		}
		size += len(item)
	}
	return append(runs, items[start:])
}

func (t *Transmitter) onResponse(items []string, resp Response) {
	t.mut.Lock()
	defer t.mut.Unlock()
	defer t.afterSend()

	switch {
	case resp.Status == 0:
		t.Metrics.Increment(counterSendErrors)
		t.retry(items, transportLinearFactor, resp)

	case resp.Status == http.StatusPartialContent:
		if t.tc.DisableRetry {
			t.fail(items, resp)
			return
		}
		pr, err := parsePartialResponse(resp.Body, len(items))
		if err != nil {
			t.Diagnostics.Throw(config.WarnLevel, diagnostics.PartialResponseInvalid,
				"invalid partial success response; dropping batch", map[string]any{"items": len(items), "error": err.Error()})
			t.drop(items)
			return
		}
		t.resolvePartial(items, pr)

	case resp.Status >= 200 && resp.Status < 300:
		if t.legacy && !t.tc.DisableRetry {
			if pr, err := parsePartialResponse(resp.Body, len(items)); err == nil && pr.ItemsReceived > pr.ItemsAccepted {
				t.resolvePartial(items, pr)
				return
			}
		}
		t.succeed(items)

	case retryableStatus(resp.Status):
		t.retry(items, statusLinearFactor, resp)

	default:
		t.fail(items, resp)
	}
}

func (t *Transmitter) succeed(items []string) {
	t.Buffer.ClearSent(items)
	t.consecutiveErrors = 0
	t.retryAt = time.Time{}
	t.Metrics.Increment(counterResponse20x)
	t.Metrics.Count(counterItemsSent, int64(len(items)))
}

// resolvePartial confirms accepted items, drops the ones rejected for good
// and requeues the rest.
func (t *Transmitter) resolvePartial(items []string, pr *partialResponse) {
	t.Metrics.Increment(counterResponsePartial)

	retry, failed := pr.split(items)

	t.Buffer.ClearSent(generics.Without(items, retry))
	t.Metrics.Count(counterItemsSent, int64(len(items)-len(pr.Errors)))
	if len(failed) > 0 {
		t.Diagnostics.Throw(config.WarnLevel, diagnostics.TransmitFailed,
			"endpoint rejected items", map[string]any{"items": len(failed), "received": pr.ItemsReceived, "accepted": pr.ItemsAccepted})
		t.Metrics.Count(counterItemsDropped, int64(len(failed)))
	}
	if len(retry) > 0 {
		t.requeue(retry, statusLinearFactor)
	}
}

func (t *Transmitter) retry(items []string, linearFactor float64, resp Response) {
	if t.tc.DisableRetry {
		t.fail(items, resp)
		return
	}
	t.requeue(items, linearFactor)
}

// requeue puts items back at the front of pending work and pushes retryAt
// out by the next backoff step.
func (t *Transmitter) requeue(items []string, linearFactor float64) {
	t.Buffer.Requeue(items)
	t.consecutiveErrors++

	delay := backoffDelay(t.consecutiveErrors, linearFactor, t.Rand)
	t.retryAt = t.Clock.Now().Add(delay)
	t.Metrics.Increment(counterSendRetries)
	t.Metrics.Histogram(histogramRetryDelay, delay.Seconds())
	t.Logger.Info().WithFields(map[string]any{
		"items":              len(items),
		"consecutive_errors": t.consecutiveErrors,
		"retry_in":           delay.String(),
	}).Logf("requeued items for retry")

	// re-armed by afterSend with the new deadline
	t.cancelTimer()
}

func (t *Transmitter) fail(items []string, resp Response) {
	fields := map[string]any{"items": len(items), "status": resp.Status}
	if resp.Err != nil {
		fields["error"] = resp.Err.Error()
	}
	if len(resp.Body) > 0 {
		fields["response_body"] = string(resp.Body)
	}
	t.Diagnostics.Throw(config.WarnLevel, diagnostics.TransmitFailed, "failed to send batch; dropping items", fields)
	t.drop(items)
}

func (t *Transmitter) drop(items []string) {
	t.Buffer.ClearSent(items)
	t.Metrics.Count(counterItemsDropped, int64(len(items)))
}
