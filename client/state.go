package client

// State is a step of one paid request.
type State int

const (
	StateIdle State = iota
	StateDiscovering
	StatePaying
	StateRetrying
	StateDone
	StateCached
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StatePaying:
		return "paying"
	case StateRetrying:
		return "retrying"
	case StateDone:
		return "done"
	case StateCached:
		return "cached"
	default:
		return "unknown"
	}
}

// flow tracks the state of one request so transitions can be logged.
type flow struct {
	c      *Client
	domain string
	state  State
}

func (f *flow) to(next State) {
	f.c.logger.Debug("client state", map[string]any{
		"domain": f.domain,
		"from":   f.state.String(),
		"to":     next.String(),
	})
	f.state = next
}
