package orchestrator

// State is one step of the remediation state machine.
type State string

const (
	StateIdle             State = "idle"
	StateLockHeld         State = "lock_held"
	StateBranchCreated    State = "branch_created"
	StateFixApplied       State = "fix_applied"
	StateTested           State = "tested"
	StateCommitted        State = "committed"
	StatePushed           State = "pushed"
	StatePublishRequested State = "publish_requested"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
)

// FixAttempt tracks one in-flight remediation. It lives only for the
// duration of a single run and is never persisted: if the process dies
// mid-run the branch is orphaned and must be reclaimed by an operator,
// which is why every step logs the branch name.
type FixAttempt struct {
	BranchName   string
	OriginBranch string
	State        State

	pushed bool
}

// Outcome is the terminal result of one run. State is always
// StateSucceeded or StateFailed.
type Outcome struct {
	State         State
	CorrelationID string

	// Branch is the fix branch name, empty when the run never branched.
	Branch string

	// PullRequestURL points at the opened draft PR on success.
	PullRequestURL string

	// Reason describes the failure or rejection, empty on success.
	Reason string

	// BranchKept marks the publish-failure case where the pushed branch
	// is intentionally left in place for manual follow-up.
	BranchKept bool
}

// Succeeded reports whether the run published a fix.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.State == StateSucceeded
}
