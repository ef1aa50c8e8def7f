package pipeline

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned by Machine.Next for an event the current
// state does not accept
var ErrIllegalTransition = errors.New("illegal pipeline transition")

// State is a pipeline state
type State string

const (
	StatePending              State = "pending"
	StateValidating           State = "validating"
	StateSending              State = "sending"
	StateTitleSent            State = "title_sent"
	StateDetailSent           State = "detail_sent"
	StateIdentifiersCollected State = "identifiers_collected"
	StateManifestSent         State = "manifest_sent"
	StateBillsSent            State = "bills_sent"
	StateRouteSent            State = "route_sent"
	StateSuccess              State = "success"
	StateError                State = "error"
	StateCancelled            State = "cancelled"
)

// Terminal reports whether s accepts no further events
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateError || s == StateCancelled
}

// Event drives a Machine
type Event string

const (
	EventStart       Event = "start"
	EventAck         Event = "ack"
	EventTitleAck    Event = "title_ack"
	EventDetailAck   Event = "detail_ack"
	EventIdentifiers Event = "identifiers"
	EventManifestAck Event = "manifest_ack"
	EventBillsAck    Event = "bills_ack"
	EventRouteAck    Event = "route_ack"
	EventComplete    Event = "complete"
	EventFail        Event = "fail"
	EventCancel      Event = "cancel"
)

// Machine is a transition table. Fail and cancel are accepted from every
// non-terminal state.
type Machine struct {
	Name  string
	table map[State]map[Event]State
}

// Next returns the state reached from s on e
func (m *Machine) Next(s State, e Event) (State, error) {
	if !s.Terminal() {
		switch e {
		case EventFail:
			return StateError, nil
		case EventCancel:
			return StateCancelled, nil
		}
	}
	if next, ok := m.table[s][e]; ok {
		return next, nil
	}
	return s, fmt.Errorf("%w: %s on %s in %s", ErrIllegalTransition, e, s, m.Name)
}

// SingleStep drives one remote call
var SingleStep = &Machine{
	Name: "single",
	table: map[State]map[Event]State{
		StatePending: {EventStart: StateSending},
		StateSending: {EventAck: StateSuccess},
	},
}

// VoyageSteps drives the title, detail and manifest sequence. From
// identifiers_collected a title ack starts the next shipment.
var VoyageSteps = &Machine{
	Name: "voyage",
	table: map[State]map[Event]State{
		StatePending:              {EventStart: StateValidating},
		StateValidating:           {EventTitleAck: StateTitleSent},
		StateTitleSent:            {EventDetailAck: StateDetailSent},
		StateDetailSent:           {EventIdentifiers: StateIdentifiersCollected},
		StateIdentifiersCollected: {EventTitleAck: StateTitleSent, EventManifestAck: StateManifestSent},
		StateManifestSent:         {EventComplete: StateSuccess},
	},
}

// FluvialSteps drives the manifest header, bills and route sequence
var FluvialSteps = &Machine{
	Name: "fluvial",
	table: map[State]map[Event]State{
		StatePending:      {EventStart: StateValidating},
		StateValidating:   {EventManifestAck: StateManifestSent},
		StateManifestSent: {EventBillsAck: StateBillsSent},
		StateBillsSent:    {EventRouteAck: StateRouteSent},
		StateRouteSent:    {EventComplete: StateSuccess},
	},
}
