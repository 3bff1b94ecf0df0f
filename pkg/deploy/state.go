package deploy

// ServiceState is the managed service state as observed by the orchestrator
type ServiceState string

const (
	StateUnknown          ServiceState = "UNKNOWN"
	StateStopped          ServiceState = "STOPPED"
	StateArtifactReplaced ServiceState = "ARTIFACT_REPLACED"
	StateUnitReplaced     ServiceState = "UNIT_REPLACED"
	StateReloaded         ServiceState = "RELOADED"
	StateEnabled          ServiceState = "ENABLED"
	StateRunning          ServiceState = "RUNNING"
)

var stateOrder = []ServiceState{
	StateUnknown,
	StateStopped,
	StateArtifactReplaced,
	StateUnitReplaced,
	StateReloaded,
	StateEnabled,
	StateRunning,
}

func (s ServiceState) position() int {
	for i, state := range stateOrder {
		if state == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known state
func (s ServiceState) Valid() bool {
	return s.position() >= 0
}

// IsTerminalSuccess reports whether s is the end state of a successful run
func (s ServiceState) IsTerminalSuccess() bool {
	return s == StateRunning
}

// CanTransition reports whether a run may move from one state to another.
// A run only ever advances one position at a time.
func CanTransition(from, to ServiceState) bool {
	fromPos, toPos := from.position(), to.position()
	if fromPos < 0 || toPos < 0 {
		return false
	}
	return toPos == fromPos+1
}
