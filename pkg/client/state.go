package client

// State is the client-side connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}
