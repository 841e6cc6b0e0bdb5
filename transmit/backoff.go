package transmit

import (
	"math"
	"time"
)

const (
	firstRetryDelay = 10 * time.Second
	// escalated delays start one second past the first one so that every
	// consecutive failure waits strictly longer than a single one did
	minBackoffDelay = 11 * time.Second
	maxBackoffDelay = 3600 * time.Second

	// transport failures back off ten times longer than error statuses
	transportLinearFactor = 10
	statusLinearFactor    = 1
)

// backoffDelay returns how long to wait after consecutiveErrors failures in a
// row. r must return a value in [0, 1).
func backoffDelay(consecutiveErrors int, linearFactor float64, r func() float64) time.Duration {
	if consecutiveErrors <= 1 {
		return firstRetryDelay
	}

	factor := (math.Pow(2, float64(consecutiveErrors)) - 1) / 2
	secs := (math.Floor(r()*factor*10) + 1) * linearFactor
	switch {
	// NaN shows up once the error count is large enough to overflow
	case math.IsNaN(secs) || secs >= maxBackoffDelay.Seconds():
		return maxBackoffDelay
	case secs <= minBackoffDelay.Seconds():
		return minBackoffDelay
	}
	return time.Duration(secs * float64(time.Second))
}

// retryableStatus reports whether a response status is worth sending again.
func retryableStatus(status int) bool {
	switch status {
	case 408, 429, 500, 503:
		return true
	}
	return false
}
