package transmit

// Response is the outcome of one request on a ResultChannel. Status is zero
// when no response was received at all, in which case Err says why.
type Response struct {
	Status int
	Body   []byte
	Err    error
}

// BeaconChannel hands a payload to a fire-and-forget sender. Acceptance is
// decided synchronously and is the only thing the caller ever learns.
type BeaconChannel interface {
	SendBeacon(payload []byte) bool
}

// ResultChannel sends a payload and reports the response. done is called
// exactly once, on a goroutine other than the caller's.
type ResultChannel interface {
	Send(payload []byte, done func(Response))
}
