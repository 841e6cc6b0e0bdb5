// Package buffer holds serialized telemetry items between enqueue and
// confirmed delivery. Items are opaque strings; the buffer only cares about
// their order and their values.
package buffer

import (
	"bytes"

	"github.com/honeycombio/beacon/config"
	"github.com/honeycombio/beacon/diagnostics"
)

// DefaultMaxItems caps pending items when no cap is configured.
const DefaultMaxItems = 2000

// Buffer holds items that have not yet been confirmed as delivered. Items
// past the cap are rejected rather than evicting anything already accepted.
type Buffer interface {
	// Enqueue adds an item to the end of pending work and reports whether it
	// was accepted.
	Enqueue(item string) bool
	Count() int
	Clear()
	// GetItems returns a copy of the pending items in order.
	GetItems() []string
	// BatchPayloads renders items as one request body, or nil if there are
	// none.
	BatchPayloads(items []string) []byte
	// MarkAsSent records that items were handed to a channel.
	MarkAsSent(items []string)
	// ClearSent records that items were confirmed as delivered.
	ClearSent(items []string)
	// Requeue returns items that were handed to a channel to the front of
	// pending work so they go out in the next batch.
	Requeue(items []string)
	// ResetPageView re-arms the once-per-page-view overflow warning.
	ResetPageView()
}

// Options are the settings shared by every buffer.
type Options struct {
	MaxItems      int
	LineDelimited bool
	// KeyPrefix names the persisted lists of a StoredBuffer.
	KeyPrefix string
	// StoreTimeout bounds every store operation of a StoredBuffer.
	StoreTimeout config.Duration
}

// OptionsFromConfig reads buffer settings from c.
func OptionsFromConfig(c config.Config) Options {
	return Options{
		MaxItems:      c.GetTransmitConfig().MaxBufferItems,
		LineDelimited: c.GetTransmitConfig().EmitLineDelimitedJSON,
		KeyPrefix:     c.GetGeneralConfig().EnvelopePrefix,
		StoreTimeout:  c.GetStoreConfig().Timeout,
	}
}

func (o Options) maxItems() int {
	if o.MaxItems <= 0 {
		return DefaultMaxItems
	}
	return o.MaxItems
}

// batchPayloads joins items as a JSON array, or as lines with no trailing
// newline when lineDelimited is set.
func batchPayloads(items []string, lineDelimited bool) []byte {
	if len(items) == 0 {
		return nil
	}

	size := len(items) + 1
	for _, item := range items {
		size += len(item)
	}
	var buf bytes.Buffer
	buf.Grow(size)

	if lineDelimited {
		for i, item := range items {
			if i > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(item)
		}
		return buf.Bytes()
	}

	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(item)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// Reconcile merges the lists recovered from a previous page lifetime:
// pending items first, then the ones that were in flight, in their original
// order, truncated to maxItems. Anything that was in flight can never be
// confirmed now, so it has to be sent again.
func Reconcile(pending, inFlight []string, maxItems int) []string {
	merged := make([]string, 0, len(pending)+len(inFlight))
	merged = append(merged, pending...)
	merged = append(merged, inFlight...)
	if maxItems > 0 && len(merged) > maxItems {
		merged = merged[:maxItems]
	}
	return merged
}

// overflowGuard throws BufferFull once per page view.
type overflowGuard struct {
	diag   diagnostics.Thrower
	warned bool
}

func (g *overflowGuard) reject(maxItems int) {
	if g.warned {
		return
	}
	g.warned = true
	g.diag.Throw(config.WarnLevel, diagnostics.BufferFull,
		"maximum buffer size reached; telemetry is being dropped",
		map[string]any{"max_items": maxItems})
}

func (g *overflowGuard) reset() {
	g.warned = false
}

// prepend puts items in front of pending, keeping at most maxItems. Requeued
// items that do not fit are dropped and reported.
func prepend(items, pending []string, maxItems int, diag diagnostics.Thrower) []string {
	room := maxItems - len(pending)
	if room < 0 {
		room = 0
	}
	if len(items) > room {
		diag.Throw(config.WarnLevel, diagnostics.ItemsDropped,
			"buffer full; dropping items returned for retry",
			map[string]any{"dropped": len(items) - room})
		items = items[:room]
	}
	out := make([]string, 0, len(items)+len(pending))
	out = append(out, items...)
	return append(out, pending...)
}
