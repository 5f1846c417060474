package saga

type Status string

const (
	StatusStarted        Status = "STARTED"
	StatusStepInProgress Status = "STEP_IN_PROGRESS"
	StatusStepFailed     Status = "STEP_FAILED"
	StatusCompensating   Status = "COMPENSATING"
	StatusCompensated    Status = "COMPENSATED"
	StatusCompleted      Status = "COMPLETED"
	StatusAborted        Status = "ABORTED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompensated, StatusCompleted, StatusAborted:
		return true
	default:
		return false
	}
}

type Outcome string

const (
	OutcomeOK                 Outcome = "OK"
	OutcomeFailed             Outcome = "FAILED"
	OutcomeTimeout            Outcome = "TIMEOUT"
	OutcomeCompensated        Outcome = "COMPENSATED"
	OutcomeCompensationFailed Outcome = "COMPENSATION_FAILED"
	OutcomeAborted            Outcome = "ABORTED"
)