package stream

// State is the lifecycle state of a stream session.
type State string

// Session states
const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateDone      State = "done"
	StateError     State = "error"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether no further events change s.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateError || s == StateCancelled
}

// EventKind names an input to Transition.
type EventKind string

// Event kinds
const (
	EventStart  EventKind = "start"
	EventChunk  EventKind = "chunk"
	EventPause  EventKind = "pause"
	EventResume EventKind = "resume"
	EventFinish EventKind = "finish"
	EventFail   EventKind = "fail"
	EventCancel EventKind = "cancel"
)

// Event is one input to Transition. Text carries chunk content for
// EventChunk and the full response for EventFinish; Err is set for EventFail.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// EffectKind names an output of Transition.
type EffectKind string

// Effect kinds. Each maps to one event on the caller's wire.
const (
	EffectChunk     EffectKind = "chunk"
	EffectDone      EffectKind = "done"
	EffectError     EffectKind = "error"
	EffectCancelled EffectKind = "cancelled"
)

// Effect is a side effect the caller must deliver.
type Effect struct {
	Kind EffectKind
	Text string
	Err  error
}

// Transition returns the state after ev and the effects it produces. Events
// that do not apply to s leave it unchanged with no effects, so nothing is
// ever emitted after a terminal state.
func Transition(s State, ev Event) (State, []Effect) {
	if s.IsTerminal() {
		return s, nil
	}

	switch ev.Kind {
	case EventStart:
		if s == StatePending {
			return StateRunning, nil
		}
	case EventChunk:
		// A paused session still accepts the chunk it was reading when the
		// pause arrived; the controller waits before pulling the next one.
		if (s == StateRunning || s == StatePaused) && ev.Text != "" {
			return s, []Effect{{Kind: EffectChunk, Text: ev.Text}}
		}
	case EventPause:
		if s == StateRunning {
			return StatePaused, nil
		}
	case EventResume:
		if s == StatePaused {
			return StateRunning, nil
		}
	case EventFinish:
		if s == StateRunning || s == StatePaused {
			return StateDone, []Effect{{Kind: EffectDone, Text: ev.Text}}
		}
	case EventFail:
		return StateError, []Effect{{Kind: EffectError, Err: ev.Err}}
	case EventCancel:
		return StateCancelled, []Effect{{Kind: EffectCancelled, Text: ev.Text}}
	}

	return s, nil
}
