package buffer

import (
	"slices"
	"sync"

	"github.com/honeycombio/beacon/diagnostics"
	"github.com/honeycombio/beacon/generics"
)

var _ Buffer = (*MemoryBuffer)(nil)

// MemoryBuffer is the volatile buffer. It forgets items as soon as they are
// handed to a channel, which suits a channel that never reports back.
type MemoryBuffer struct {
	opts    Options
	diag    diagnostics.Thrower
	pending []string
	guard   overflowGuard
	mut     sync.Mutex
}

func NewMemoryBuffer(opts Options, diag diagnostics.Thrower) *MemoryBuffer {
	return &MemoryBuffer{
		opts:  opts,
		diag:  diag,
		guard: overflowGuard{diag: diag},
	}
}

func (m *MemoryBuffer) Enqueue(item string) bool {
	m.mut.Lock()
	defer m.mut.Unlock()

	if len(m.pending) >= m.opts.maxItems() {
		m.guard.reject(m.opts.maxItems())
		return false
	}
	m.pending = append(m.pending, item)
	return true
}

func (m *MemoryBuffer) Count() int {
	m.mut.Lock()
	defer m.mut.Unlock()

	return len(m.pending)
}

func (m *MemoryBuffer) Clear() {
	m.mut.Lock()
	defer m.mut.Unlock()

	m.pending = nil
}

func (m *MemoryBuffer) GetItems() []string {
	m.mut.Lock()
	defer m.mut.Unlock()

	return slices.Clone(m.pending)
}

func (m *MemoryBuffer) BatchPayloads(items []string) []byte {
	return batchPayloads(items, m.opts.LineDelimited)
}

func (m *MemoryBuffer) MarkAsSent(items []string) {
	m.mut.Lock()
	defer m.mut.Unlock()

	m.pending = generics.Without(m.pending, items)
}

// ClearSent is a no-op: MarkAsSent already forgot the items.
func (m *MemoryBuffer) ClearSent(items []string) {}

func (m *MemoryBuffer) Requeue(items []string) {
	m.mut.Lock()
	defer m.mut.Unlock()

	m.pending = prepend(items, m.pending, m.opts.maxItems(), m.diag)
}

func (m *MemoryBuffer) ResetPageView() {
	m.mut.Lock()
	defer m.mut.Unlock()

	m.guard.reset()
}
