package payments

// State is the lifecycle of one transfer request.
type State string

const (
	StateValidating State = "validating"
	StateExecuting  State = "executing"
	StateCommitted  State = "committed"
	StateAborted    State = "aborted"
)
