package billflow

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition reports an event that is not legal in the current
// state.
var ErrInvalidTransition = errors.New("invalid transition")

// State is the explicit workflow state of one bill-capture session. The
// state machine is pure and rendering-agnostic so transitions can be tested
// in isolation.
type State string

const (
	StateIdle             State = "idle"
	StateStaging          State = "staging"
	StateExtracting       State = "extracting"
	StateReviewing        State = "reviewing"
	StateSaving           State = "saving"
	StateSaved            State = "saved"
	StateCreatingIntent   State = "creating_intent"
	StatePayingExternally State = "paying_externally"
)

// Event drives a state transition.
type Event string

const (
	EventStage            Event = "stage"
	EventExtract          Event = "extract"
	EventExtractSucceeded Event = "extract_succeeded"
	EventExtractFailed    Event = "extract_failed"
	EventSave             Event = "save"
	EventSaveSucceeded    Event = "save_succeeded"
	EventSaveFailed       Event = "save_failed"
	EventCreateIntent     Event = "create_intent"
	EventIntentCreated    Event = "intent_created"
	EventIntentFailed     Event = "intent_failed"
	EventCaptured         Event = "captured"
	EventReset            Event = "reset"
)

var transitions = map[State]map[Event]State{
	StateIdle: {
		EventStage: StateStaging,
	},
	StateStaging: {
		EventStage:   StateStaging, // re-entrant: more pages welcome
		EventExtract: StateExtracting,
		EventSave:    StateSaving, // manual entry without extraction
	},
	StateExtracting: {
		EventExtractSucceeded: StateReviewing,
		// failure preserves staged documents; the user retries or adds pages
		EventExtractFailed: StateStaging,
	},
	StateReviewing: {
		EventStage:   StateStaging,
		EventExtract: StateExtracting,
		EventSave:    StateSaving,
	},
	StateSaving: {
		EventSaveSucceeded: StateSaved,
		// failure returns to the draft unchanged; no partial bill exists
		EventSaveFailed: StateReviewing,
	},
	StateSaved: {
		EventCreateIntent: StateCreatingIntent,
	},
	StateCreatingIntent: {
		EventIntentCreated: StatePayingExternally,
		EventIntentFailed:  StateSaved,
	},
	StatePayingExternally: {
		EventCaptured: StateSaved,
	},
}

// Transition returns the next state for the event, or an error when the
// event is not legal in the current state. EventReset is legal everywhere.
func Transition(s State, e Event) (State, error) {
	if e == EventReset {
		return StateIdle, nil
	}
	if next, ok := transitions[s][e]; ok {
		return next, nil
	}
	return s, fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, e, s)
}
