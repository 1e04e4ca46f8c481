package billflow

import (
	"errors"
	"testing"
)

func TestTransition_CaptureFlow(t *testing.T) {
	steps := []struct {
		event Event
		want  State
	}{
		{EventStage, StateStaging},
		{EventStage, StateStaging},
		{EventExtract, StateExtracting},
		{EventExtractSucceeded, StateReviewing},
		{EventSave, StateSaving},
		{EventSaveSucceeded, StateSaved},
		{EventCreateIntent, StateCreatingIntent},
		{EventIntentCreated, StatePayingExternally},
		{EventCaptured, StateSaved},
	}
	s := StateIdle
	for _, step := range steps {
		next, err := Transition(s, step.event)
		if err != nil {
			t.Fatalf("%s in %s: unexpected error: %v", step.event, s, err)
		}
		if next != step.want {
			t.Fatalf("%s in %s: expected %s, got %s", step.event, s, step.want, next)
		}
		s = next
	}
}

func TestTransition_FailuresRollBack(t *testing.T) {
	cases := []struct {
		from  State
		event Event
		want  State
	}{
		{StateExtracting, EventExtractFailed, StateStaging},
		{StateSaving, EventSaveFailed, StateReviewing},
		{StateCreatingIntent, EventIntentFailed, StateSaved},
	}
	for _, tc := range cases {
		got, err := Transition(tc.from, tc.event)
		if err != nil {
			t.Errorf("%s in %s: unexpected error: %v", tc.event, tc.from, err)
		}
		if got != tc.want {
			t.Errorf("%s in %s: expected %s, got %s", tc.event, tc.from, tc.want, got)
		}
	}
}

func TestTransition_ManualSaveWithoutExtraction(t *testing.T) {
	got, err := Transition(StateStaging, EventSave)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != StateSaving {
		t.Errorf("expected saving, got %s", got)
	}
}

func TestTransition_IllegalEvent(t *testing.T) {
	cases := []struct {
		from  State
		event Event
	}{
		{StateIdle, EventExtract},
		{StateIdle, EventSave},
		{StateExtracting, EventStage},
		{StateSaved, EventSave},
		{StatePayingExternally, EventCreateIntent},
	}
	for _, tc := range cases {
		if _, err := Transition(tc.from, tc.event); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s in %s: expected ErrInvalidTransition, got %v", tc.event, tc.from, err)
		}
	}
}

func TestTransition_ResetFromAnywhere(t *testing.T) {
	for _, from := range []State{StateIdle, StateStaging, StateExtracting, StateReviewing, StateSaving, StateSaved, StateCreatingIntent, StatePayingExternally} {
		got, err := Transition(from, EventReset)
		if err != nil {
			t.Errorf("reset in %s: unexpected error: %v", from, err)
		}
		if got != StateIdle {
			t.Errorf("reset in %s: expected idle, got %s", from, got)
		}
	}
}
