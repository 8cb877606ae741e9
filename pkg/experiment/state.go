package experiment

// State is where a run is. Runs only move forward, one step at a time:
// Built, Started, Configured, Probed, Stopped. A failed run skips straight
// from where it failed to Stopped.
type State int

const (
	StateIdle State = iota
	StateBuilt
	StateStarted
	StateConfigured
	StateProbed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilt:
		return "built"
	case StateStarted:
		return "started"
	case StateConfigured:
		return "configured"
	case StateProbed:
		return "probed"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}
