package coordinator

// State is the coordinator lifecycle state
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateReady         State = "ready"
	StateBusy          State = "busy"
	StateFailed        State = "failed"
)

// Serving reports whether the coordinator has a loaded model
func (s State) Serving() bool {
	return s == StateReady || s == StateBusy
}

// StateListener observes state transitions. Listeners run synchronously, outside
// the coordinator lock, and see transitions in the order they happened.
// A listener must not call Start, Count or Close.
type StateListener func(from, to State)

type stateChange struct {
	from, to State
}

// setStateLocked changes the state and queues the transition; c.mu must be held
func (c *Coordinator) setStateLocked(to State) {
	c.pending = append(c.pending, stateChange{from: c.state, to: to})
	c.state = to
}

// deliverTransitions fires queued transitions in order. Whoever holds fireMu
// drains the whole queue, so a transition is delivered before its caller returns.
func (c *Coordinator) deliverTransitions() {
	c.fireMu.Lock()
	defer c.fireMu.Unlock()

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	listeners := c.listeners
	c.mu.Unlock()

	for _, change := range pending {
		for _, l := range listeners {
			l(change.from, change.to)
		}
	}
}

// transition moves from -> to if the current state is from
func (c *Coordinator) transition(from, to State) bool {
	c.mu.Lock()
	if c.state != from {
		c.mu.Unlock()
		return false
	}
	c.setStateLocked(to)
	c.mu.Unlock()

	c.deliverTransitions()
	return true
}
