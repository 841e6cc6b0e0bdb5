package transmit

import "sync"

var (
	_ ResultChannel = (*MockChannel)(nil)
	_ BeaconChannel = (*MockBeacon)(nil)
)

// MockChannel is a ResultChannel that records payloads and answers from
// Respond, or from Responses in order with the last one repeating, or with
// a plain 200.
type MockChannel struct {
	Respond   func(payload []byte) Response
	Responses []Response

	payloads [][]byte
	mut      sync.Mutex
}

func (m *MockChannel) Send(payload []byte, done func(Response)) {
	m.mut.Lock()
	m.payloads = append(m.payloads, payload)
	resp := Response{Status: 200}
	switch {
	case m.Respond != nil:
		resp = m.Respond(payload)
	case len(m.Responses) > 0:
		resp = m.Responses[0]
		if len(m.Responses) > 1 {
			m.Responses = m.Responses[1:]
		}
	}
	m.mut.Unlock()

	go done(resp)
}

// Payloads returns every payload sent so far.
func (m *MockChannel) Payloads() [][]byte {
	m.mut.Lock()
	defer m.mut.Unlock()

	return append([][]byte(nil), m.payloads...)
}

func (m *MockChannel) Len() int {
	m.mut.Lock()
	defer m.mut.Unlock()

	return len(m.payloads)
}

// MockBeacon accepts payloads while Accept is set and records the ones it
// accepted.
type MockBeacon struct {
	Accept bool
	// MaxPayload, when set, refuses anything larger.
	MaxPayload int

	payloads [][]byte
	offered  int
	mut      sync.Mutex
}

func (m *MockBeacon) SendBeacon(payload []byte) bool {
	m.mut.Lock()
	defer m.mut.Unlock()

	m.offered++
	if !m.Accept || (m.MaxPayload > 0 && len(payload) > m.MaxPayload) {
		return false
	}
	m.payloads = append(m.payloads, payload)
	return true
}

func (m *MockBeacon) SetAccept(accept bool) {
	m.mut.Lock()
	defer m.mut.Unlock()

	m.Accept = accept
}

// Payloads returns every accepted payload.
func (m *MockBeacon) Payloads() [][]byte {
	m.mut.Lock()
	defer m.mut.Unlock()

	return append([][]byte(nil), m.payloads...)
}

// Offered counts every call, accepted or not.
func (m *MockBeacon) Offered() int {
	m.mut.Lock()
	defer m.mut.Unlock()

	return m.offered
}
