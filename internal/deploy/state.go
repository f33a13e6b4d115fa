package deploy

// State is a deployment run's position in the pipeline.
type State string

const (
	StateIdle             State = "idle"
	StateBackendBuilding  State = "backend-building"
	StateFrontendBuilding State = "frontend-building"
	StateAssembling       State = "assembling"
	StateAppCreating      State = "app-creating"
	StatePublishing       State = "publishing"
	StateResolving        State = "resolving"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
