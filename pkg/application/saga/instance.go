package saga

import "time"

// StepResult is one entry of the persisted step history. Forward outcomes are
// OK, FAILED or TIMEOUT; the backward walk appends COMPENSATED or
// COMPENSATION_FAILED entries for already successful steps.
type StepResult struct {
	StepIndex  int       `json:"step_index"`
	CommandID  string    `json:"command_id"`
	Outcome    Outcome   `json:"outcome"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Instance is the persisted state machine for one correlation id. It is owned
// exclusively by the orchestrator; Version guards every update.
type Instance struct {
	SagaID           string
	Definition       string
	Status           Status
	CurrentStep      int
	CompensatingStep int
	PendingCommandID string
	Payload          []byte
	History          []StepResult
	DeadlineAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Version          int64
}

func NewInstance(sagaID, definitionName string, payload []byte) *Instance {
	now := time.Now().UTC()
	return &Instance{
		SagaID:           sagaID,
		Definition:       definitionName,
		Status:           StatusStarted,
		CompensatingStep: -1,
		Payload:          payload,
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}
}

func (i *Instance) recordOutcome(stepIndex int, outcome Outcome) {
	i.History = append(i.History, StepResult{
		StepIndex:  stepIndex,
		CommandID:  i.PendingCommandID,
		Outcome:    outcome,
		RecordedAt: time.Now().UTC(),
	})
	i.PendingCommandID = ""
}

func (i *Instance) stepSucceeded(stepIndex int) bool {
	for _, result := range i.History {
		if result.StepIndex == stepIndex && result.Outcome == OutcomeOK {
			return true
		}
	}
	return false
}

func (i *Instance) stepCompensated(stepIndex int) bool {
	for _, result := range i.History {
		if result.StepIndex == stepIndex && result.Outcome == OutcomeCompensated {
			return true
		}
	}
	return false
}

func (i *Instance) anyStepSucceeded() bool {
	for _, result := range i.History {
		if result.Outcome == OutcomeOK {
			return true
		}
	}
	return false
}

// nextCompensableStep returns the highest-indexed step below from with a
// defined compensation and a successful outcome that has not been compensated
// yet, or -1 when the backward walk is done.
func (i *Instance) nextCompensableStep(definition Definition, from int) int {
	for idx := from; idx >= 0; idx-- {
		if definition.Steps[idx].Compensation == nil {
			continue
		}
		if i.stepSucceeded(idx) && !i.stepCompensated(idx) {
			return idx
		}
	}
	return -1
}
