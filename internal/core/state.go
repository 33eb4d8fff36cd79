package core

// TriggerState is the persisted lifecycle state of a trigger.
type TriggerState string

const (
	StateNone     TriggerState = "NONE"
	StateNormal   TriggerState = "NORMAL"
	StatePaused   TriggerState = "PAUSED"
	StateComplete TriggerState = "COMPLETE"
	StateError    TriggerState = "ERROR"
	StateBlocked  TriggerState = "BLOCKED"
)

// IsTerminal reports whether a trigger in this state can never fire again.
func (s TriggerState) IsTerminal() bool {
	return s == StateComplete || s == StateError
}

// ParseTriggerState maps a stored state string, returning StateNone for
// anything unrecognized.
func ParseTriggerState(s string) TriggerState {
	switch st := TriggerState(s); st {
	case StateNormal, StatePaused, StateComplete, StateError, StateBlocked:
		return st
	}
	return StateNone
}

// CompletedExecutionInstruction tells the store what to do with a trigger
// after its job has run.
type CompletedExecutionInstruction int

const (
	InstructionNoop CompletedExecutionInstruction = iota
	InstructionReExecuteJob
	InstructionSetTriggerComplete
	InstructionDeleteTrigger
	InstructionSetAllJobTriggersComplete
	InstructionSetTriggerError
	InstructionSetAllJobTriggersError
)

var instructionNames = map[CompletedExecutionInstruction]string{
	InstructionNoop:                      "NOOP",
	InstructionReExecuteJob:              "RE_EXECUTE_JOB",
	InstructionSetTriggerComplete:        "SET_TRIGGER_COMPLETE",
	InstructionDeleteTrigger:             "DELETE_TRIGGER",
	InstructionSetAllJobTriggersComplete: "SET_ALL_JOB_TRIGGERS_COMPLETE",
	InstructionSetTriggerError:           "SET_TRIGGER_ERROR",
	InstructionSetAllJobTriggersError:    "SET_ALL_JOB_TRIGGERS_ERROR",
}

func (i CompletedExecutionInstruction) String() string {
	if name, ok := instructionNames[i]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseInstruction is the inverse of String. ok is false for unknown names.
func ParseInstruction(s string) (CompletedExecutionInstruction, bool) {
	for i, name := range instructionNames {
		if name == s {
			return i, true
		}
	}
	return InstructionNoop, false
}

// Misfire instruction codes shared by all trigger types.
const (
	MisfireIgnorePolicy = -1
	MisfireSmartPolicy  = 0
)

// Misfire instruction codes for simple triggers.
const (
	MisfireSimpleFireNow                          = 1
	MisfireSimpleRescheduleNowWithExistingCount   = 2
	MisfireSimpleRescheduleNowWithRemainingCount  = 3
	MisfireSimpleRescheduleNextWithRemainingCount = 4
	MisfireSimpleRescheduleNextWithExistingCount  = 5
)

// Misfire instruction codes for cron and calendar-interval triggers.
const (
	MisfireCronFireOnceNow = 1
	MisfireCronDoNothing   = 2
)
