package diagnostics

import (
	"sync"

	"github.com/honeycombio/beacon/config"
)

// MockThrower records every diagnostic without throttling.
type MockThrower struct {
	Thrown []Thrown
	mut    sync.Mutex
}

type Thrown struct {
	Level   config.Level
	ID      MessageID
	Message string
	Fields  map[string]any
}

func (m *MockThrower) Throw(level config.Level, id MessageID, msg string, fields map[string]any) {
	m.mut.Lock()
	defer m.mut.Unlock()

	m.Thrown = append(m.Thrown, Thrown{Level: level, ID: id, Message: msg, Fields: fields})
}

// Count returns how many diagnostics with the given id were thrown.
func (m *MockThrower) Count(id MessageID) int {
	m.mut.Lock()
	defer m.mut.Unlock()

	n := 0
	for _, t := range m.Thrown {
		if t.ID == id {
			n++
		}
	}
	return n
}
