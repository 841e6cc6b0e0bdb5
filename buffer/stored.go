package buffer

import (
	"context"
	"slices"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/honeycombio/beacon/config"
	"github.com/honeycombio/beacon/diagnostics"
	"github.com/honeycombio/beacon/generics"
	"github.com/honeycombio/beacon/store"
)

var _ Buffer = (*StoredBuffer)(nil)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StoredBuffer is the durable buffer. It mirrors pending and in-flight items
// into a store.Store as two JSON arrays, absent while empty, so that items
// survive a restart; on
// Start, anything left in flight by the previous lifetime is sent again.
//
// The persisted lists are read once, in Start, and owned by this instance
// from then on.
type StoredBuffer struct {
	opts    Options
	store   store.Store
	diag    diagnostics.Thrower
	pending []string
	sent    []string
	guard   overflowGuard
	mut     sync.Mutex
}

func NewStoredBuffer(opts Options, st store.Store, diag diagnostics.Thrower) *StoredBuffer {
	return &StoredBuffer{
		opts:  opts,
		store: st,
		diag:  diag,
		guard: overflowGuard{diag: diag},
	}
}

func (s *StoredBuffer) bufferKey() string {
	return s.opts.KeyPrefix + "_buffer"
}

func (s *StoredBuffer) sentBufferKey() string {
	return s.opts.KeyPrefix + "_sentBuffer"
}

// Start recovers both persisted lists, merges them with Reconcile, and
// persists the result as pending with an empty in-flight list.
func (s *StoredBuffer) Start() error {
	s.mut.Lock()
	defer s.mut.Unlock()

	pending := s.read(s.bufferKey())
	inFlight := s.read(s.sentBufferKey())

	if len(inFlight) > s.opts.maxItems() {
		s.diag.Throw(config.WarnLevel, diagnostics.InFlightOverflow,
			"sent buffer exceeded the maximum size and was cleared",
			map[string]any{"items": len(inFlight), "max_items": s.opts.maxItems()})
		inFlight = nil
	}

	s.pending = Reconcile(pending, inFlight, s.opts.maxItems())
	s.sent = nil
	s.persist(s.bufferKey(), s.pending)
	s.persist(s.sentBufferKey(), s.sent)
	return nil
}

func (s *StoredBuffer) Enqueue(item string) bool {
	s.mut.Lock()
	defer s.mut.Unlock()

	if len(s.pending) >= s.opts.maxItems() {
		s.guard.reject(s.opts.maxItems())
		return false
	}
	s.pending = append(s.pending, item)
	s.persist(s.bufferKey(), s.pending)
	return true
}

func (s *StoredBuffer) Count() int {
	s.mut.Lock()
	defer s.mut.Unlock()

	return len(s.pending)
}

func (s *StoredBuffer) Clear() {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.pending = nil
	s.sent = nil
	s.persist(s.bufferKey(), s.pending)
	s.persist(s.sentBufferKey(), s.sent)
}

func (s *StoredBuffer) GetItems() []string {
	s.mut.Lock()
	defer s.mut.Unlock()

	return slices.Clone(s.pending)
}

func (s *StoredBuffer) BatchPayloads(items []string) []byte {
	return batchPayloads(items, s.opts.LineDelimited)
}

func (s *StoredBuffer) MarkAsSent(items []string) {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.pending = generics.Without(s.pending, items)
	s.persist(s.bufferKey(), s.pending)

	s.sent = append(s.sent, items...)
	s.persist(s.sentBufferKey(), s.sent)
}

func (s *StoredBuffer) ClearSent(items []string) {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.sent = generics.Without(s.sent, items)
	s.persist(s.sentBufferKey(), s.sent)
}

func (s *StoredBuffer) Requeue(items []string) {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.sent = generics.Without(s.sent, items)
	s.pending = prepend(items, s.pending, s.opts.maxItems(), s.diag)
	s.persist(s.bufferKey(), s.pending)
	s.persist(s.sentBufferKey(), s.sent)
}

func (s *StoredBuffer) ResetPageView() {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.guard.reset()
}

// InFlight returns a copy of the items awaiting confirmation.
func (s *StoredBuffer) InFlight() []string {
	s.mut.Lock()
	defer s.mut.Unlock()

	return slices.Clone(s.sent)
}

func (s *StoredBuffer) storeContext() (context.Context, context.CancelFunc) {
	timeout := time.Duration(s.opts.StoreTimeout)
	if timeout <= 0 {
		timeout = time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// read returns the list stored under key. Missing, unreadable, or corrupt
// lists are treated as empty.
func (s *StoredBuffer) read(key string) []string {
	ctx, cancel := s.storeContext()
	defer cancel()

	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.diag.Throw(config.WarnLevel, diagnostics.StoreReadFailed,
			"failed to read persisted buffer", map[string]any{"key": key, "error": err.Error()})
		return nil
	}
	if !ok || raw == "" {
		return nil
	}

	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		s.diag.Throw(config.WarnLevel, diagnostics.StoreReadFailed,
			"persisted buffer is not a JSON array of strings", map[string]any{"key": key, "error": err.Error()})
		return nil
	}
	return items
}

// persist writes items under key, or removes the key once the list is
// empty. A failed write leaves the in-memory state authoritative for the rest
// of this lifetime.
func (s *StoredBuffer) persist(key string, items []string) {
	ctx, cancel := s.storeContext()
	defer cancel()

	if len(items) == 0 {
		if err := s.store.Remove(ctx, key); err != nil {
			s.diag.Throw(config.ErrorLevel, diagnostics.StoreWriteFailed,
				"failed to clear persisted buffer", map[string]any{"key": key, "error": err.Error()})
		}
		return
	}

	raw, err := json.Marshal(items)
	if err != nil {
		s.diag.Throw(config.ErrorLevel, diagnostics.StoreWriteFailed,
			"failed to encode buffer", map[string]any{"key": key, "error": err.Error()})
		return
	}
	if err := s.store.Set(ctx, key, string(raw)); err != nil {
		s.diag.Throw(config.ErrorLevel, diagnostics.StoreWriteFailed,
			"failed to persist buffer", map[string]any{"key": key, "error": err.Error()})
	}
}
