package transmit

import (
	"net/http"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/honeycombio/beacon/config"
	"github.com/honeycombio/beacon/logger"
	"github.com/honeycombio/beacon/metrics"
)

const (
	// MaxBeaconPayload is the largest payload a beacon will accept.
	MaxBeaconPayload = 64 * 1024

	beaconWorkers = 2
)

var beaconMetrics = []metrics.Metadata{
	{Name: "beacon_accepted", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of payloads accepted by the beacon queue"},
	{Name: "beacon_rejected", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of payloads the beacon queue refused"},
	{Name: "beacon_failed", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of accepted payloads that failed to deliver"},
}

var _ BeaconChannel = (*QueueBeacon)(nil)

// QueueBeacon accepts payloads into a bounded queue and delivers them in the
// background. Delivery outcomes are logged and counted but never reported
// back to the caller.
type QueueBeacon struct {
	Config  config.Config   `inject:""`
	Logger  logger.Logger   `inject:""`
	Metrics metrics.Metrics `inject:"metrics"`
	Client  *http.Client    `inject:"upstreamClient"`
	Version string          `inject:"version"`

	poster *poster
	queue  chan []byte
	pool   *pool.Pool
	closed bool
	mut    sync.RWMutex
}

func (q *QueueBeacon) Start() error {
	for _, m := range beaconMetrics {
		q.Metrics.Register(m)
	}

	size := q.Config.GetTransmitConfig().BeaconQueueSize
	if size <= 0 {
		size = 64
	}
	q.poster = newPoster(q.Config, q.Client, q.Version)
	q.queue = make(chan []byte, size)
	q.pool = pool.New().WithMaxGoroutines(beaconWorkers)
	for range beaconWorkers {
		q.pool.Go(q.drain)
	}
	return nil
}

// SendBeacon accepts payload if it fits the size limit and the queue has
// room.
func (q *QueueBeacon) SendBeacon(payload []byte) bool {
	if len(payload) > MaxBeaconPayload {
		q.Metrics.Increment("beacon_rejected")
		return false
	}

	q.mut.RLock()
	defer q.mut.RUnlock()
	if q.closed || q.queue == nil {
		q.Metrics.Increment("beacon_rejected")
		return false
	}

	select {
	case q.queue <- payload:
		q.Metrics.Increment("beacon_accepted")
		return true
	default:
		q.Metrics.Increment("beacon_rejected")
		return false
	}
}

func (q *QueueBeacon) drain() {
	for payload := range q.queue {
		resp := q.poster.post(payload)
		if resp.Err != nil || resp.Status < 200 || resp.Status >= 300 {
			q.Metrics.Increment("beacon_failed")
			entry := q.Logger.Debug().WithField("status", resp.Status)
			if resp.Err != nil {
				entry = entry.WithField("error", resp.Err.Error())
			}
			entry.Logf("beacon delivery failed")
		}
	}
}

// Stop refuses new payloads and waits for the queue to drain.
func (q *QueueBeacon) Stop() error {
	q.mut.Lock()
	if q.closed || q.queue == nil {
		q.mut.Unlock()
		return nil
	}
	q.closed = true
	close(q.queue)
	q.mut.Unlock()

	q.pool.Wait()
	return nil
}
