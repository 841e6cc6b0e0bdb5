package transmit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeycombio/beacon/buffer"
	"github.com/honeycombio/beacon/config"
	"github.com/honeycombio/beacon/diagnostics"
	"github.com/honeycombio/beacon/logger"
	"github.com/honeycombio/beacon/metrics"
	"github.com/honeycombio/beacon/store"
	"github.com/honeycombio/beacon/types"
)

func testTransmitConfig() config.TransmitConfig {
	return config.TransmitConfig{
		EndpointURL:      "http://localhost:8080/v2/track",
		MaxBatchSize:     config.MemorySize(100 * config.Ki),
		MaxBatchInterval: config.Duration(15 * time.Second),
		MaxBufferItems:   2000,
		DisableBeacon:    true,
		Compression:      "none",
	}
}

type harness struct {
	tr      *Transmitter
	ch      *MockChannel
	clock   *clockwork.FakeClock
	diag    *diagnostics.MockThrower
	metrics *metrics.MockMetrics
}

// newHarness builds a transmitter on a fake clock. The transmitter is not
// started so tests can adjust it first.
func newHarness(tc config.TransmitConfig) *harness {
	m := &metrics.MockMetrics{}
	m.Start()
	h := &harness{
		ch:      &MockChannel{},
		clock:   clockwork.NewFakeClock(),
		diag:    &diagnostics.MockThrower{},
		metrics: m,
	}
	h.tr = &Transmitter{
		Config: &config.MockConfig{
			GetInstrumentationKeyVal: "ikey",
			GetGeneralConfigVal:      config.GeneralConfig{EnvelopePrefix: "beacon"},
			GetTransmitConfigVal:     tc,
		},
		Logger:      &logger.NullLogger{},
		Metrics:     m,
		Diagnostics: h.diag,
		Clock:       h.clock,
		Standard:    h.ch,
		Rand:        func() float64 { return 0.5 },
	}
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.tr.Start())
	t.Cleanup(func() { h.tr.Stop() })
}

func (h *harness) counter(name string) float64 {
	v, _ := h.metrics.Get(name)
	return v
}

func (h *harness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(d)
}

func event(name string) *types.Envelope {
	env := types.NewEvent(name, nil)
	env.Name = name
	return env
}

func serialized(t *testing.T, name string) string {
	t.Helper()
	s, err := types.Serialize(event(name))
	require.NoError(t, err)
	return s
}

// names decodes a JSON array payload into envelope names.
func names(t *testing.T, payload []byte) []string {
	t.Helper()
	var envs []types.Envelope
	require.NoError(t, json.Unmarshal(payload, &envs))
	out := make([]string, len(envs))
	for i, e := range envs {
		out[i] = e.Name
	}
	return out
}

func bufferNames(t *testing.T, b buffer.Buffer) []string {
	t.Helper()
	items := b.GetItems()
	if len(items) == 0 {
		return nil
	}
	return names(t, b.BatchPayloads(items))
}

func TestSendsOnceAfterBatchInterval(t *testing.T) {
	h := newHarness(testTransmitConfig())
	h.start(t)

	h.tr.Send(event("e1"))
	assert.Equal(t, 1, h.tr.Buffer.Count())

	h.advance(t, 14*time.Second)
	assert.Equal(t, 0, h.ch.Len())

	h.clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return h.ch.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"e1"}, names(t, h.ch.Payloads()[0]))

	h.tr.Wait()
	assert.Equal(t, 0, h.tr.Buffer.Count())
	assert.Equal(t, float64(1), h.counter(counterItemsSent))
	assert.Equal(t, float64(1), h.counter(counterResponse20x))
}

func TestSizeLimitFlushesEarly(t *testing.T) {
	tc := testTransmitConfig()
	itemLen := len(serialized(t, "e1"))
	// room for exactly two items in an array
	tc.MaxBatchSize = config.MemorySize(2*itemLen + 3)
	h := newHarness(tc)
	h.start(t)

	h.tr.Send(event("e1"))
	h.tr.Send(event("e2"))
	assert.Equal(t, 0, h.ch.Len())

	h.tr.Send(event("e3"))
	require.Eventually(t, func() bool { return h.ch.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"e1", "e2"}, names(t, h.ch.Payloads()[0]))

	h.tr.Wait()
	assert.Equal(t, []string{"e3"}, bufferNames(t, h.tr.Buffer))
}

func TestRetryMakesProgress(t *testing.T) {
	h := newHarness(testTransmitConfig())
	h.ch.Responses = []Response{{Status: http.StatusServiceUnavailable}, {Status: http.StatusOK}}
	h.start(t)

	for i := range 3 {
		h.tr.Send(event(fmt.Sprintf("e%d", i)))
	}
	h.tr.Flush()
	h.tr.Wait()

	// everything is back at the front, in order
	assert.Equal(t, []string{"e0", "e1", "e2"}, bufferNames(t, h.tr.Buffer))
	assert.Equal(t, float64(1), h.counter(counterSendRetries))

	h.tr.Send(event("e3"))
	h.tr.Flush()
	h.tr.Wait()

	require.Equal(t, 2, h.ch.Len())
	assert.Equal(t, []string{"e0", "e1", "e2", "e3"}, names(t, h.ch.Payloads()[1]))
	assert.Equal(t, 0, h.tr.Buffer.Count())
	assert.Equal(t, float64(4), h.counter(counterItemsSent))
	assert.Equal(t, 0, h.tr.consecutiveErrors)
}

func TestPartialSuccessIndexIntegrity(t *testing.T) {
	h := newHarness(testTransmitConfig())
	st := store.NewMemoryStore()
	sb := buffer.NewStoredBuffer(buffer.Options{MaxItems: 100, KeyPrefix: "beacon"}, st, h.diag)
	require.NoError(t, sb.Start())
	h.tr.Buffer = sb

	h.ch.Responses = []Response{
		{Status: http.StatusPartialContent, Body: []byte(`{
			"itemsReceived": 6,
			"itemsAccepted": 3,
			"errors": [
				{"index": 1, "statusCode": 500, "message": "internal"},
				{"index": 3, "statusCode": 400, "message": "bad item"},
				{"index": 4, "statusCode": 429, "message": "throttled"}
			]
		}`)},
		{Status: http.StatusOK},
	}
	h.start(t)

	for i := range 6 {
		h.tr.Send(event(fmt.Sprintf("e%d", i)))
	}
	h.tr.Flush()
	h.tr.Wait()

	assert.Equal(t, []string{"e1", "e4"}, bufferNames(t, sb))
	assert.Empty(t, sb.InFlight())
	assert.Equal(t, 1, h.diag.Count(diagnostics.TransmitFailed))
	assert.Equal(t, float64(3), h.counter(counterItemsSent))
	assert.Equal(t, float64(1), h.counter(counterItemsDropped))
	assert.Equal(t, float64(1), h.counter(counterResponsePartial))
	assert.Equal(t, 1, h.tr.consecutiveErrors)

	h.tr.Flush()
	h.tr.Wait()
	require.Equal(t, 2, h.ch.Len())
	assert.Equal(t, []string{"e1", "e4"}, names(t, h.ch.Payloads()[1]))
	assert.Equal(t, 0, sb.Count())
	assert.Empty(t, sb.InFlight())
}

func TestInvalidPartialResponseDropsBatch(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{nope`},
		{"nothing received", `{"itemsReceived":0,"itemsAccepted":0,"errors":[]}`},
		{"accepted exceeds received", `{"itemsReceived":2,"itemsAccepted":3,"errors":[]}`},
		{"error count mismatch", `{"itemsReceived":3,"itemsAccepted":1,"errors":[{"index":0,"statusCode":500}]}`},
		{"index out of range", `{"itemsReceived":3,"itemsAccepted":2,"errors":[{"index":3,"statusCode":500}]}`},
		{"negative index", `{"itemsReceived":3,"itemsAccepted":2,"errors":[{"index":-1,"statusCode":500}]}`},
		{"duplicate index", `{"itemsReceived":3,"itemsAccepted":1,"errors":[{"index":1,"statusCode":500},{"index":1,"statusCode":500}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(testTransmitConfig())
			h.ch.Responses = []Response{{Status: http.StatusPartialContent, Body: []byte(tt.body)}}
			h.start(t)

			for i := range 3 {
				h.tr.Send(event(fmt.Sprintf("e%d", i)))
			}
			h.tr.Flush()
			h.tr.Wait()

			assert.Equal(t, 0, h.tr.Buffer.Count())
			assert.Equal(t, 1, h.diag.Count(diagnostics.PartialResponseInvalid))
			assert.Equal(t, float64(3), h.counter(counterItemsDropped))
			assert.Equal(t, 0, h.tr.consecutiveErrors)
		})
	}
}

func TestNonRetryableStatusDrops(t *testing.T) {
	h := newHarness(testTransmitConfig())
	h.ch.Responses = []Response{{Status: http.StatusBadRequest, Body: []byte("bad request")}}
	h.start(t)

	h.tr.Send(event("e1"))
	h.tr.Flush()
	h.tr.Wait()

	assert.Equal(t, 0, h.tr.Buffer.Count())
	require.Equal(t, 1, h.diag.Count(diagnostics.TransmitFailed))
	assert.Equal(t, http.StatusBadRequest, h.diag.Thrown[0].Fields["status"])
	assert.Equal(t, "bad request", h.diag.Thrown[0].Fields["response_body"])
	assert.Empty(t, h.metrics.GetHistogram(histogramRetryDelay))
	assert.True(t, h.tr.retryAt.IsZero())
}

func TestRetryableStatuses(t *testing.T) {
	for _, status := range []int{408, 429, 500, 503} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			h := newHarness(testTransmitConfig())
			h.ch.Responses = []Response{{Status: status}}
			h.start(t)

			h.tr.Send(event("e1"))
			h.tr.Flush()
			h.tr.Wait()

			assert.Equal(t, []string{"e1"}, bufferNames(t, h.tr.Buffer))
			assert.Equal(t, []float64{10}, h.metrics.GetHistogram(histogramRetryDelay))
		})
	}
}

func TestTransportErrorBacksOffLinearly(t *testing.T) {
	h := newHarness(testTransmitConfig())
	h.ch.Responses = []Response{{Err: errors.New("connection refused")}}
	h.start(t)

	h.tr.Send(event("e1"))
	h.tr.Flush()
	h.tr.Wait()
	h.tr.Flush()
	h.tr.Wait()

	// second delay: (floor(0.5 * 1.5 * 10) + 1) * 10
	assert.Equal(t, []float64{10, 80}, h.metrics.GetHistogram(histogramRetryDelay))
	assert.Equal(t, []string{"e1"}, bufferNames(t, h.tr.Buffer))
	assert.Equal(t, float64(2), h.counter(counterSendErrors))
}

func TestBackoffScheduleOnFakeClock(t *testing.T) {
	h := newHarness(testTransmitConfig())
	h.tr.Rand = func() float64 { return 0.999 }
	h.ch.Responses = []Response{
		{Status: http.StatusInternalServerError},
		{Status: http.StatusInternalServerError},
		{Status: http.StatusInternalServerError},
		{Status: http.StatusOK},
	}
	h.start(t)

	h.tr.Send(event("e1"))
	for i := 1; i <= 3; i++ {
		h.advance(t, 15*time.Second)
		require.Eventually(t, func() bool { return h.ch.Len() == i }, time.Second, 5*time.Millisecond)
		h.tr.Wait()
	}

	delays := h.metrics.GetHistogram(histogramRetryDelay)
	require.Equal(t, []float64{10, 15, 35}, delays)
	assert.Greater(t, delays[1], 10.0)
	assert.LessOrEqual(t, delays[1], 3600.0)

	// the third backoff outlasts the batch interval, so the timer waits for it
	h.advance(t, 34*time.Second)
	assert.Equal(t, 3, h.ch.Len())

	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return h.ch.Len() == 4 }, time.Second, 5*time.Millisecond)
	h.tr.Wait()
	assert.Equal(t, 0, h.tr.Buffer.Count())
	assert.Equal(t, 0, h.tr.consecutiveErrors)
}

func TestBeaconPreferredWithFallback(t *testing.T) {
	tc := testTransmitConfig()
	tc.DisableBeacon = false
	h := newHarness(tc)
	beacon := &MockBeacon{Accept: true}
	h.tr.Beacon = beacon
	h.start(t)

	h.tr.Send(event("e1"))
	h.tr.Flush()
	require.Len(t, beacon.Payloads(), 1)
	assert.Equal(t, []string{"e1"}, names(t, beacon.Payloads()[0]))
	assert.Equal(t, 0, h.ch.Len())

	beacon.SetAccept(false)
	h.tr.Send(event("e2"))
	h.tr.Flush()
	h.tr.Wait()
	assert.Equal(t, 2, beacon.Offered())
	require.Equal(t, 1, h.ch.Len())
	assert.Equal(t, []string{"e2"}, names(t, h.ch.Payloads()[0]))
	assert.Equal(t, 0, h.diag.Count(diagnostics.SendRejected))
}

func TestBeaconAcceptanceConfirmsDurableItems(t *testing.T) {
	tc := testTransmitConfig()
	tc.DisableBeacon = false
	h := newHarness(tc)
	h.tr.Beacon = &MockBeacon{Accept: true}
	h.tr.Store = store.NewMemoryStore()
	h.start(t)

	sb, ok := h.tr.Buffer.(*buffer.StoredBuffer)
	require.True(t, ok)

	h.tr.Send(event("e1"))
	h.tr.Flush()
	assert.Equal(t, 0, sb.Count())
	assert.Empty(t, sb.InFlight())
}

func TestBeaconOnlyRejectionDrops(t *testing.T) {
	tc := testTransmitConfig()
	tc.DisableBeacon = false
	h := newHarness(tc)
	h.tr.Standard = nil
	h.tr.Beacon = &MockBeacon{Accept: false}
	h.start(t)

	h.tr.Send(event("e1"))
	h.tr.Flush()
	assert.Equal(t, 0, h.tr.Buffer.Count())
	assert.Equal(t, 1, h.diag.Count(diagnostics.SendRejected))
	assert.Equal(t, float64(1), h.counter(counterItemsDropped))
}

func TestUnloadUsesOnlyTheBeacon(t *testing.T) {
	tc := testTransmitConfig()
	tc.DisableBeacon = false
	h := newHarness(tc)
	beacon := &MockBeacon{Accept: false}
	h.tr.Beacon = beacon
	st := store.NewMemoryStore()
	h.tr.Store = st
	h.start(t)

	h.tr.Send(event("e1"))
	h.tr.Unload()

	assert.Equal(t, 1, beacon.Offered())
	assert.Equal(t, 0, h.ch.Len())
	assert.Equal(t, []string{"e1"}, bufferNames(t, h.tr.Buffer))
	assert.Equal(t, 1, h.diag.Count(diagnostics.SendRejected))

	raw, ok, err := st.Get(context.Background(), "beacon_buffer")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, "e1")

	beacon.SetAccept(true)
	h.tr.Unload()
	assert.Len(t, beacon.Payloads(), 1)
	assert.Equal(t, 0, h.tr.Buffer.Count())
}

func TestUnloadWithoutBeaconKeepsItems(t *testing.T) {
	h := newHarness(testTransmitConfig())
	h.tr.Store = store.NewMemoryStore()
	h.start(t)

	h.tr.Send(event("e1"))
	h.tr.Unload()
	assert.Equal(t, 0, h.ch.Len())
	assert.Equal(t, 1, h.tr.Buffer.Count())
}

func TestRecoveredItemsAreSent(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	pending := serialized(t, "left-pending")
	sent := serialized(t, "left-in-flight")
	raw, err := json.Marshal([]string{pending})
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, "beacon_buffer", string(raw)))
	raw, err = json.Marshal([]string{sent})
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, "beacon_sentBuffer", string(raw)))

	h := newHarness(testTransmitConfig())
	h.tr.Store = st
	h.start(t)

	h.advance(t, 15*time.Second)
	require.Eventually(t, func() bool { return h.ch.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"left-pending", "left-in-flight"}, names(t, h.ch.Payloads()[0]))
}

func TestDisableRetry(t *testing.T) {
	tc := testTransmitConfig()
	tc.DisableRetry = true

	t.Run("retryable status", func(t *testing.T) {
		h := newHarness(tc)
		h.ch.Responses = []Response{{Status: http.StatusServiceUnavailable}}
		h.start(t)

		h.tr.Send(event("e1"))
		h.tr.Flush()
		h.tr.Wait()
		assert.Equal(t, 0, h.tr.Buffer.Count())
		assert.Equal(t, 1, h.diag.Count(diagnostics.TransmitFailed))
		assert.Empty(t, h.metrics.GetHistogram(histogramRetryDelay))
	})

	t.Run("transport error", func(t *testing.T) {
		h := newHarness(tc)
		h.ch.Responses = []Response{{Err: errors.New("connection reset")}}
		h.start(t)

		h.tr.Send(event("e1"))
		h.tr.Flush()
		h.tr.Wait()
		assert.Equal(t, 0, h.tr.Buffer.Count())
		assert.Equal(t, "connection reset", h.diag.Thrown[0].Fields["error"])
	})

	t.Run("partial success", func(t *testing.T) {
		h := newHarness(tc)
		h.ch.Responses = []Response{{Status: http.StatusPartialContent,
			Body: []byte(`{"itemsReceived":2,"itemsAccepted":1,"errors":[{"index":0,"statusCode":503}]}`)}}
		h.start(t)

		h.tr.Send(event("e1"))
		h.tr.Send(event("e2"))
		h.tr.Flush()
		h.tr.Wait()
		// the whole batch fails, accepted items included
		assert.Equal(t, 0, h.tr.Buffer.Count())
		assert.Equal(t, float64(0), h.counter(counterItemsSent))
		assert.Equal(t, float64(2), h.counter(counterItemsDropped))
		assert.Equal(t, 1, h.diag.Count(diagnostics.TransmitFailed))
	})
}

func TestDisableTelemetry(t *testing.T) {
	tc := testTransmitConfig()
	tc.DisableTelemetry = true
	h := newHarness(tc)
	mb := buffer.NewMemoryBuffer(buffer.Options{}, h.diag)
	mb.Enqueue(serialized(t, "already-buffered"))
	h.tr.Buffer = mb
	h.start(t)

	h.tr.Send(event("e1"))
	assert.Equal(t, 1, mb.Count())
	assert.Empty(t, h.diag.Thrown)

	h.tr.Flush()
	assert.Equal(t, 0, mb.Count())
	assert.Equal(t, 0, h.ch.Len())
}

func TestNoChannel(t *testing.T) {
	h := newHarness(testTransmitConfig())
	h.tr.Standard = nil
	h.start(t)

	assert.ErrorIs(t, h.tr.Ready(), ErrNoChannel)
	h.tr.Send(event("e1"))
	h.tr.Send(event("e2"))
	assert.Equal(t, 0, h.tr.Buffer.Count())
	assert.Equal(t, 3, h.diag.Count(diagnostics.NoChannel))
	assert.Equal(t, float64(2), h.counter(counterItemsRejected))
}

func TestNilItem(t *testing.T) {
	h := newHarness(testTransmitConfig())
	h.start(t)

	h.tr.Send(nil)
	assert.Equal(t, 1, h.diag.Count(diagnostics.NilItem))
	assert.Equal(t, 0, h.tr.Buffer.Count())
}

func TestLegacyChannelPartialBody(t *testing.T) {
	tc := testTransmitConfig()
	tc.UseLegacyChannel = true
	h := newHarness(tc)
	legacy := &MockChannel{Responses: []Response{{Status: http.StatusOK,
		Body: []byte(`{"itemsReceived":2,"itemsAccepted":1,"errors":[{"index":0,"statusCode":500}]}`)}}}
	h.tr.Legacy = legacy
	h.start(t)

	h.tr.Send(event("e1"))
	h.tr.Send(event("e2"))
	h.tr.Flush()
	h.tr.Wait()

	assert.Equal(t, 0, h.ch.Len())
	assert.Equal(t, 1, legacy.Len())
	assert.Equal(t, []string{"e1"}, bufferNames(t, h.tr.Buffer))
	assert.Equal(t, float64(1), h.counter(counterItemsSent))
}

func TestLegacyChannelPlainSuccess(t *testing.T) {
	tc := testTransmitConfig()
	tc.UseLegacyChannel = true
	h := newHarness(tc)
	h.tr.Standard = nil
	h.tr.Legacy = &MockChannel{Responses: []Response{{Status: http.StatusOK, Body: []byte(`{"itemsReceived":1,"itemsAccepted":1,"errors":[]}`)}}}
	h.start(t)

	h.tr.Send(event("e1"))
	h.tr.Flush()
	h.tr.Wait()
	assert.Equal(t, 0, h.tr.Buffer.Count())
	assert.Equal(t, float64(1), h.counter(counterResponse20x))
}

func TestLineDelimitedBatches(t *testing.T) {
	tc := testTransmitConfig()
	tc.EmitLineDelimitedJSON = true
	h := newHarness(tc)
	h.start(t)

	h.tr.Send(event("e1"))
	h.tr.Send(event("e2"))
	h.tr.Flush()
	h.tr.Wait()

	require.Equal(t, 1, h.ch.Len())
	assert.Equal(t, serialized(t, "e1")+"\n"+serialized(t, "e2"), string(h.ch.Payloads()[0]))
}

func TestStopKeepsRequeuedItems(t *testing.T) {
	h := newHarness(testTransmitConfig())
	h.ch.Responses = []Response{{Status: http.StatusTooManyRequests}}
	st := store.NewMemoryStore()
	h.tr.Store = st
	require.NoError(t, h.tr.Start())

	h.tr.Send(event("e1"))
	h.tr.Flush()
	require.NoError(t, h.tr.Stop())

	assert.Equal(t, []string{"e1"}, bufferNames(t, h.tr.Buffer))
	assert.Nil(t, h.tr.timer)
}

func TestPartialRetryLeavesOnlyRejectedItems(t *testing.T) {
	h := newHarness(testTransmitConfig())
	h.ch.Responses = []Response{{Status: http.StatusPartialContent,
		Body: []byte(`{"itemsReceived":5,"itemsAccepted":3,"errors":[{"index":0,"statusCode":503},{"index":3,"statusCode":408}]}`)}}
	h.start(t)

	for i := range 5 {
		h.tr.Send(event(fmt.Sprintf("e%d", i)))
	}
	h.tr.Flush()
	h.tr.Wait()

	assert.Equal(t, []string{"e0", "e3"}, bufferNames(t, h.tr.Buffer))
	assert.Equal(t, float64(3), h.counter(counterItemsSent))
	assert.Equal(t, float64(0), h.counter(counterItemsDropped))
}

func TestPartialMixedErrorsAfterFirstItem(t *testing.T) {
	h := newHarness(testTransmitConfig())
	h.ch.Responses = []Response{{Status: http.StatusPartialContent, Body: []byte(`{
		"itemsReceived": 6,
		"itemsAccepted": 1,
		"errors": [
			{"index": 1, "statusCode": 429},
			{"index": 2, "statusCode": 400},
			{"index": 3, "statusCode": 500},
			{"index": 4, "statusCode": 404},
			{"index": 5, "statusCode": 503}
		]
	}`)}}
	h.start(t)

	for i := range 6 {
		h.tr.Send(event(fmt.Sprintf("e%d", i)))
	}
	h.tr.Flush()
	h.tr.Wait()

	assert.Equal(t, []string{"e1", "e3", "e5"}, bufferNames(t, h.tr.Buffer))
	assert.Equal(t, float64(1), h.counter(counterItemsSent))
	assert.Equal(t, float64(2), h.counter(counterItemsDropped))
}

func TestUnloadSplitsBacklogForBeacon(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(rec)
	defer server.Close()

	m := &metrics.MockMetrics{}
	m.Start()
	q := &QueueBeacon{
		Config:  channelConfig(server.URL, nil),
		Logger:  &logger.NullLogger{},
		Metrics: m,
	}
	require.NoError(t, q.Start())

	tc := testTransmitConfig()
	tc.DisableBeacon = false
	h := newHarness(tc)
	h.tr.Beacon = q
	h.start(t)

	// about 70KB pending: under MaxBatchSize, over a single beacon payload
	pad := strings.Repeat("x", 1000)
	var want []string
	for i := range 70 {
		name := fmt.Sprintf("e%02d-%s", i, pad)
		want = append(want, name)
		h.tr.Send(event(name))
	}
	require.Equal(t, 70, h.tr.Buffer.Count())

	h.tr.Unload()
	require.NoError(t, q.Stop())

	assert.Equal(t, 0, h.tr.Buffer.Count())
	assert.Equal(t, 0, h.ch.Len())
	assert.Zero(t, h.diag.Count(diagnostics.SendRejected))

	reqs := rec.all()
	require.Len(t, reqs, 2)
	var got []string
	for _, r := range reqs {
		assert.LessOrEqual(t, len(r.body), MaxBeaconPayload)
		got = append(got, names(t, r.body)...)
	}
	assert.ElementsMatch(t, want, got)
	assert.Equal(t, float64(70), h.counter(counterItemsSent))
}

func TestUnloadRequeuesOnlyRejectedRuns(t *testing.T) {
	tc := testTransmitConfig()
	tc.DisableBeacon = false
	h := newHarness(tc)
	beacon := &MockBeacon{Accept: true, MaxPayload: MaxBeaconPayload}
	h.tr.Beacon = beacon
	h.tr.Store = store.NewMemoryStore()
	h.start(t)

	big := strings.Repeat("y", MaxBeaconPayload)
	h.tr.Send(event("before"))
	h.tr.Send(event(big))
	h.tr.Send(event("after"))

	h.tr.Unload()

	// the oversized item goes alone and is the only one kept
	assert.Equal(t, 3, beacon.Offered())
	require.Len(t, beacon.Payloads(), 2)
	assert.Equal(t, []string{"before"}, names(t, beacon.Payloads()[0]))
	assert.Equal(t, []string{"after"}, names(t, beacon.Payloads()[1]))
	assert.Equal(t, []string{big}, bufferNames(t, h.tr.Buffer))
	assert.Equal(t, 1, h.diag.Count(diagnostics.SendRejected))
}

func TestBeaconRuns(t *testing.T) {
	tr := &Transmitter{}
	a := strings.Repeat("a", 30000)
	b := strings.Repeat("b", 30000)
	c := strings.Repeat("c", 30000)
	huge := strings.Repeat("h", MaxBeaconPayload+1)

	assert.Equal(t, [][]string{{"x"}}, tr.beaconRuns([]string{"x"}))
	assert.Equal(t, [][]string{{a, b}, {c}}, tr.beaconRuns([]string{a, b, c}))
	assert.Equal(t, [][]string{{a}, {huge}, {b}}, tr.beaconRuns([]string{a, huge, b}))

	// a run that exactly fills a beacon
	exact := strings.Repeat("e", MaxBeaconPayload-2)
	assert.Equal(t, [][]string{{exact}, {"x"}}, tr.beaconRuns([]string{exact, "x"}))

	tr.tc.EmitLineDelimitedJSON = true
	exact = strings.Repeat("e", MaxBeaconPayload)
	assert.Equal(t, [][]string{{exact}, {"x"}}, tr.beaconRuns([]string{exact, "x"}))
}
