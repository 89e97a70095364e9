package session

// State is the connection lifecycle state. The machine moves
// Uninstantiated -> Connecting -> Open -> Closing -> Closed, with
// Closed -> Connecting as the reconnect edge.
type State int32

const (
	StateUninstantiated State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninstantiated:
		return "uninstantiated"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
