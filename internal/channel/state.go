package channel

// State is the lifecycle of one per-session channel. Transitions are driven
// by discrete events: subscribe-ack, publish-failure, heartbeat-timeout and
// max-attempts-exceeded.
type State int

const (
	// StatePending: channel created, first subscribe not yet acknowledged.
	StatePending State = iota
	// StateSubscribed: live; publishes go straight to the transport.
	StateSubscribed
	// StateDisconnected: a publish, ping or subscribe failed; the reconnect
	// worker's first backoff has not elapsed yet.
	StateDisconnected
	// StateReconnecting: a backoff/retry worker owns the channel.
	StateReconnecting
	// StateTorndown: terminal. All listeners notified, pending discarded.
	StateTorndown
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSubscribed:
		return "subscribed"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateTorndown:
		return "torndown"
	default:
		return "unknown"
	}
}
