package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walk(t *testing.T, m *Machine, events ...Event) State {
	t.Helper()
	s := StatePending
	for _, e := range events {
		next, err := m.Next(s, e)
		require.NoError(t, err, "%s on %s", e, s)
		s = next
	}
	return s
}

func TestSingleStepMachine(t *testing.T) {
	assert.Equal(t, StateSuccess, walk(t, SingleStep, EventStart, EventAck))
	assert.Equal(t, StateError, walk(t, SingleStep, EventStart, EventFail))
	assert.Equal(t, StateError, walk(t, SingleStep, EventFail))
	assert.Equal(t, StateCancelled, walk(t, SingleStep, EventStart, EventCancel))

	_, err := SingleStep.Next(StatePending, EventAck)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestVoyageMachine(t *testing.T) {
	shipment := []Event{EventTitleAck, EventDetailAck, EventIdentifiers}
	var events []Event
	events = append(events, EventStart)
	for i := 0; i < 3; i++ {
		events = append(events, shipment...)
	}
	events = append(events, EventManifestAck, EventComplete)
	assert.Equal(t, StateSuccess, walk(t, VoyageSteps, events...))

	tests := []struct {
		name  string
		from  State
		event Event
	}{
		{"manifest before any shipment", StateValidating, EventManifestAck},
		{"detail before title", StateValidating, EventDetailAck},
		{"manifest before identifiers", StateDetailSent, EventManifestAck},
		{"second title before detail", StateTitleSent, EventTitleAck},
		{"complete before manifest", StateIdentifiersCollected, EventComplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := VoyageSteps.Next(tt.from, tt.event)
			assert.ErrorIs(t, err, ErrIllegalTransition)
			assert.Equal(t, tt.from, next)
		})
	}
}

func TestFluvialMachine(t *testing.T) {
	assert.Equal(t, StateSuccess, walk(t, FluvialSteps, EventStart, EventManifestAck, EventBillsAck, EventRouteAck, EventComplete))

	_, err := FluvialSteps.Next(StateManifestSent, EventRouteAck)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestTerminalStatesAcceptNothing(t *testing.T) {
	for _, s := range []State{StateSuccess, StateError, StateCancelled} {
		for _, e := range []Event{EventStart, EventFail, EventCancel, EventComplete} {
			_, err := VoyageSteps.Next(s, e)
			assert.ErrorIs(t, err, ErrIllegalTransition, "%s on %s", e, s)
		}
	}
}
