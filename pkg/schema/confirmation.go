package schema

// ConfirmationPhase is a non-terminal node of the confirmation state machine.
type ConfirmationPhase string

const (
	PhaseIdle             ConfirmationPhase = "idle"
	PhaseRecording        ConfirmationPhase = "recording"
	PhaseTranscribing     ConfirmationPhase = "transcribing"
	PhaseRefining         ConfirmationPhase = "refining"
	PhaseReadback         ConfirmationPhase = "readback"
	PhaseAwaitingResponse ConfirmationPhase = "awaiting_response"
)

// ConfirmationOutcome is a terminal result of the confirmation flow.
// The zero value means no confirmation took place.
type ConfirmationOutcome string

const (
	OutcomeNone   ConfirmationOutcome = ""
	OutcomeSend   ConfirmationOutcome = "send"
	OutcomeEdit   ConfirmationOutcome = "edit"
	OutcomeRedo   ConfirmationOutcome = "redo"
	OutcomeCancel ConfirmationOutcome = "cancel"
)

// ParseOutcome maps a string to a terminal outcome.
func ParseOutcome(s string) (ConfirmationOutcome, bool) {
	switch o := ConfirmationOutcome(s); o {
	case OutcomeSend, OutcomeEdit, OutcomeRedo, OutcomeCancel:
		return o, true
	}
	return OutcomeNone, false
}

// Proceeds reports whether the pipeline continues to dispatch after this outcome.
func (o ConfirmationOutcome) Proceeds() bool {
	return o == OutcomeNone || o == OutcomeSend
}
