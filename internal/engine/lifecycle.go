package engine

import "fmt"

type Phase string

const (
	PhaseGathering  Phase = "gathering"
	PhaseStarting   Phase = "starting"
	PhaseInProgress Phase = "in_progress"
	PhaseTerminal   Phase = "terminal"
)

type Outcome string

const (
	OutcomeNone         Outcome = ""
	OutcomeSurvivorsWin Outcome = "survivors_win"
	OutcomeCultistWin   Outcome = "cultist_win"
)

// SessionState is Terminal(outcome) when Phase is PhaseTerminal.
type SessionState struct {
	Phase   Phase   `json:"phase"`
	Outcome Outcome `json:"outcome,omitempty"`
}

func (s SessionState) String() string {
	if s.Phase == PhaseTerminal {
		return fmt.Sprintf("%s(%s)", s.Phase, s.Outcome)
	}
	return string(s.Phase)
}

func (s SessionState) Terminal() bool { return s.Phase == PhaseTerminal }

// next lists the only forward edge out of each phase.
var next = map[Phase]Phase{
	PhaseGathering:  PhaseStarting,
	PhaseStarting:   PhaseInProgress,
	PhaseInProgress: PhaseTerminal,
}

// Lifecycle only ever moves forward; Terminal is absorbing.
type Lifecycle struct {
	state SessionState
}

func NewLifecycle() Lifecycle {
	return Lifecycle{state: SessionState{Phase: PhaseGathering}}
}

func (l *Lifecycle) State() SessionState { return l.state }

func (l *Lifecycle) Start() (SessionState, error) {
	return l.advance(SessionState{Phase: PhaseStarting})
}

func (l *Lifecycle) Begin() (SessionState, error) {
	return l.advance(SessionState{Phase: PhaseInProgress})
}

// End moves InProgress to Terminal(outcome). A session that is already terminal
// absorbs the trigger and reports changed=false.
func (l *Lifecycle) End(outcome Outcome) (from SessionState, changed bool, err error) {
	if l.state.Terminal() {
		return l.state, false, nil
	}
	from, err = l.advance(SessionState{Phase: PhaseTerminal, Outcome: outcome})
	return from, err == nil, err
}

func (l *Lifecycle) advance(to SessionState) (SessionState, error) {
	from := l.state
	if next[from.Phase] != to.Phase {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	l.state = to
	return from, nil
}
