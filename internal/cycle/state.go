package cycle

// Status is the position of a cycle in its lifecycle.
type Status int

// Cycle statuses. A cycle moves Listening -> Connected -> Streaming ->
// Closed, or to Errored from Connected or Streaming.
const (
	Listening Status = iota
	Connected
	Streaming
	Closed
	Errored
)

func (s Status) String() string {
	switch s {
	case Listening:
		return "listening"
	case Connected:
		return "connected"
	case Streaming:
		return "streaming"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// CycleState is the playback loop state. It is passed into and returned
// from each cycle rather than kept in shared variables, so repeated or
// concurrent controllers never see each other's state.
type CycleState struct {
	// Index counts cycles from 0.
	Index  int
	Status Status
	// Live reports whether the last opened source was a live feed.
	Live bool
}
