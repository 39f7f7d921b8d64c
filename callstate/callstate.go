// Package callstate implements CallStateMachine (C7): a single-writer,
// serialized call lifecycle with up to two independent subscribers, each
// fed through a size-1 "newest wins" channel so a slow subscriber never
// blocks the writer and always observes the most recent state. ResetState
// returns the machine to waiting from any phase, terminal phases included,
// and closes every existing subscriber channel.
//
// The subscriber pattern is grounded on the teacher's own notification
// channels in webrtc/sfu.go (negCh is a size-1 "coalescing" channel drained
// and refilled non-blockingly by negotiatorWorker) generalized from a
// single internal signal into a public fan-out of full State values.
package callstate

import (
	"sync"

	"github.com/pqsrtc/sdk-go/model"
	"github.com/pqsrtc/sdk-go/rtcerr"
)

// Direction is {inbound,outbound} x {voice,video}.
type Direction struct {
	Inbound bool
	Video   bool
}

// EndState enumerates why a call ended.
type EndState string

const (
	EndUserInitiated                 EndState = "userInitiated"
	EndPartnerInitiated              EndState = "partnerInitiated"
	EndUserInitiatedUnanswered       EndState = "userInitiatedUnanswered"
	EndPartnerInitiatedUnanswered    EndState = "partnerInitiatedUnanswered"
	EndPartnerInitiatedRejected      EndState = "partnerInitiatedRejected"
	EndFailed                        EndState = "failed"
	EndAuxiliaryDeviceAnswered       EndState = "auxiliaryDeviceAnswered"
)

// Phase enumerates the state machine's named states.
type Phase string

const (
	PhaseWaiting                Phase = "waiting"
	PhaseReady                  Phase = "ready"
	PhaseConnecting              Phase = "connecting"
	PhaseConnected               Phase = "connected"
	PhaseHeld                    Phase = "held"
	PhaseEnded                   Phase = "ended"
	PhaseFailed                  Phase = "failed"
	PhaseCallAnsweredAuxDevice   Phase = "callAnsweredAuxDevice"
)

// State is one immutable snapshot of the machine.
type State struct {
	Phase     Phase
	Direction Direction
	Call      *model.Call
	EndState  EndState
	Reason    string
}

var terminalPhases = map[Phase]bool{
	PhaseEnded:                 true,
	PhaseFailed:                true,
	PhaseCallAnsweredAuxDevice: true,
}

var allowedTransitions = map[Phase]map[Phase]bool{
	PhaseWaiting:    {PhaseReady: true},
	PhaseReady:      {PhaseConnecting: true},
	PhaseConnecting: {PhaseConnected: true, PhaseFailed: true, PhaseEnded: true, PhaseCallAnsweredAuxDevice: true},
	PhaseConnected:  {PhaseHeld: true, PhaseEnded: true, PhaseFailed: true},
	PhaseHeld:       {PhaseConnected: true, PhaseEnded: true},
}

const maxSubscribers = 2

// Machine is one call's serialized state machine.
type Machine struct {
	mu          sync.Mutex
	current     State
	subscribers []chan State
}

// New constructs a machine in PhaseWaiting.
func New() *Machine {
	return &Machine{current: State{Phase: PhaseWaiting}}
}

// Current returns the current snapshot.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Subscribe registers a new observer, up to maxSubscribers. The returned
// channel immediately holds the current state and is refilled
// non-blockingly ("newest wins": a slow reader's stale buffered value is
// replaced, never queued) on every subsequent transition.
func (m *Machine) Subscribe() (<-chan State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.subscribers) >= maxSubscribers {
		return nil, rtcerr.New(rtcerr.KindInvalidConfiguration, "callstate: subscriber limit reached")
	}
	ch := make(chan State, 1)
	ch <- m.current
	m.subscribers = append(m.subscribers, ch)
	return ch, nil
}

func (m *Machine) publishLocked() {
	for _, ch := range m.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- m.current
	}
}

// Transition attempts to move to next. Self-loops on the current phase are
// no-ops that still republish (so late subscribers converge). Attempting a
// transition out of a terminal phase, or one not in allowedTransitions,
// returns an error and leaves the state unchanged.
func (m *Machine) Transition(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Phase == next.Phase {
		m.current = next
		m.publishLocked()
		return nil
	}
	if terminalPhases[m.current.Phase] {
		return rtcerr.New(rtcerr.KindInvalidConfiguration, "callstate: cannot leave terminal phase "+string(m.current.Phase))
	}
	if !allowedTransitions[m.current.Phase][next.Phase] {
		return rtcerr.New(rtcerr.KindInvalidConfiguration, "callstate: illegal transition "+string(m.current.Phase)+" -> "+string(next.Phase))
	}
	m.current = next
	m.publishLocked()
	return nil
}

// ResetState per §9's resolved Open Question: reset always closes every
// existing subscriber channel and replaces it with a fresh one seeded with
// the post-reset state, so a subscriber can never observe a stale buffered
// value across a reset — only a value that was true either strictly
// before or strictly after it.
func (m *Machine) ResetState() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = State{Phase: PhaseWaiting}
	fresh := make([]chan State, len(m.subscribers))
	for i, old := range m.subscribers {
		close(old)
		ch := make(chan State, 1)
		ch <- m.current
		fresh[i] = ch
	}
	m.subscribers = fresh
}
