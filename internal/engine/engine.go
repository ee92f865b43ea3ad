package engine

import (
	"fmt"
	"time"

	"github.com/DoyleJ11/cultist-backend/internal/roster"
)

type Rules struct {
	MinParticipants int
	MaxParticipants int
	MaxNameLength   int
	TaskTotal       int
	AllowLateJoin   bool
	GracePeriod     time.Duration
}

// Origin tells participant-issued commands apart from ones the authority raises itself.
type Origin string

const (
	OriginParticipant Origin = "participant"
	OriginAuthority   Origin = "authority"
)

type CommandType string

const (
	CmdJoin         CommandType = "Join"
	CmdLeave        CommandType = "Leave"
	CmdSetReady     CommandType = "SetReady"
	CmdStart        CommandType = "Start"
	CmdAssignRoles  CommandType = "AssignRoles"
	CmdCompleteTask CommandType = "CompleteTask"
	CmdEliminate    CommandType = "Eliminate"
)

/*
	CmdJoin         -> EvtParticipantJoined
	CmdLeave        -> EvtParticipantLeft [-> EvtPhaseChanged -> EvtGameEnded if the last survivor left]
	CmdSetReady     -> EvtReadyChanged
	CmdStart        -> EvtPhaseChanged(starting) [-> roles, see CmdAssignRoles, when there is no grace period]
	CmdAssignRoles  -> EvtRoleAssigned x N -> EvtPhaseChanged(in_progress)
	CmdCompleteTask -> EvtTaskCompleted [-> EvtPhaseChanged -> EvtGameEnded]
	CmdEliminate    -> EvtParticipantEliminated [-> EvtPhaseChanged -> EvtGameEnded]
*/

type Command struct {
	Type   CommandType
	Origin Origin
	ConnID roster.ConnID
	Name   string
	Ready  bool
	Force  bool
	Target roster.ConnID
}

type EventType string

const (
	EvtParticipantJoined     EventType = "ParticipantJoined"
	EvtParticipantLeft       EventType = "ParticipantLeft"
	EvtReadyChanged          EventType = "ReadyChanged"
	EvtPhaseChanged          EventType = "PhaseChanged"
	EvtRoleAssigned          EventType = "RoleAssigned"
	EvtTaskCompleted         EventType = "TaskCompleted"
	EvtParticipantEliminated EventType = "ParticipantEliminated"
	EvtGameEnded             EventType = "GameEnded"
)

type Event struct {
	Type    EventType
	ConnID  roster.ConnID
	Slot    int
	Ready   bool
	Role    roster.Role // only on EvtRoleAssigned, which is private to ConnID
	From    SessionState
	To      SessionState
	Outcome Outcome
}

// Status is the replicated, role-free summary of a session.
type Status struct {
	State    SessionState  `json:"state"`
	Counters Counters      `json:"counters"`
	Host     roster.ConnID `json:"host,omitempty"`
}

// Engine holds all authoritative session state. It is not safe for concurrent
// use; a single lobby goroutine owns it.
type Engine struct {
	rules  Rules
	roster *roster.Table
	life   Lifecycle
	roles  *Assigner
	wins   *Tracker
}

func New(rules Rules, rng Picker) *Engine {
	return &Engine{
		rules: rules,
		roster: roster.New(roster.Limits{
			MaxParticipants: rules.MaxParticipants,
			MaxNameLength:   rules.MaxNameLength,
		}),
		life:  NewLifecycle(),
		roles: NewAssigner(rng),
		wins:  NewTracker(rules.TaskTotal),
	}
}

// Apply validates cmd against the current state and commits it. Rejected
// commands leave the state untouched. A start without grace period may return
// events together with an error if role assignment failed after Starting was
// entered; callers must still dispatch those events.
func (e *Engine) Apply(cmd Command) ([]Event, error) {
	switch cmd.Type {
	case CmdJoin:
		return e.join(cmd)
	case CmdLeave:
		return e.leave(cmd.ConnID), nil
	case CmdSetReady:
		return e.setReady(cmd)
	case CmdStart:
		return e.start(cmd)
	case CmdAssignRoles:
		if cmd.Origin != OriginAuthority {
			return nil, fmt.Errorf("%w: roles are assigned by the authority", ErrNotAuthority)
		}
		// Retried triggers must hit the one-shot guard before the phase check.
		if e.roles.Assigned() {
			return nil, ErrAlreadyAssigned
		}
		if e.life.State().Phase != PhaseStarting {
			return nil, fmt.Errorf("%w: assign roles during %s", ErrInvalidTransition, e.life.State())
		}
		return e.assign()
	case CmdCompleteTask:
		return e.completeTask(cmd)
	case CmdEliminate:
		return e.eliminate(cmd)
	default:
		return nil, ErrUnsupportedCommand
	}
}

func (e *Engine) join(cmd Command) ([]Event, error) {
	phase := e.life.State().Phase
	late := phase == PhaseInProgress || phase == PhaseTerminal
	if late && !e.rules.AllowLateJoin {
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidTransition, phase)
	}

	slot, err := e.roster.Join(cmd.ConnID, cmd.Name)
	if err != nil {
		return nil, err
	}
	if late {
		// Late joiners never get a role and watch as observers.
		_ = e.roster.SetAlive(cmd.ConnID, false)
	}
	return []Event{{Type: EvtParticipantJoined, ConnID: cmd.ConnID, Slot: slot}}, nil
}

func (e *Engine) leave(id roster.ConnID) []Event {
	p, ok := e.roster.Leave(id)
	if !ok {
		return nil
	}
	events := []Event{{Type: EvtParticipantLeft, ConnID: id, Slot: p.Slot}}

	if e.life.State().Phase == PhaseInProgress && p.Role == roster.RoleSurvivor && p.Alive {
		if e.wins.LoseSurvivor() {
			events = append(events, e.end(OutcomeCultistWin)...)
		}
	}
	return events
}

func (e *Engine) setReady(cmd Command) ([]Event, error) {
	if e.life.State().Phase != PhaseGathering {
		return nil, fmt.Errorf("%w: ready toggles are only accepted while gathering", ErrInvalidTransition)
	}
	if err := e.roster.SetReady(cmd.ConnID, cmd.Ready); err != nil {
		return nil, err
	}
	return []Event{{Type: EvtReadyChanged, ConnID: cmd.ConnID, Ready: cmd.Ready}}, nil
}

func (e *Engine) start(cmd Command) ([]Event, error) {
	if cmd.Origin != OriginAuthority {
		if _, ok := e.roster.Get(cmd.ConnID); !ok {
			return nil, fmt.Errorf("%w: %s", roster.ErrUnknownParticipant, cmd.ConnID)
		}
	}
	if e.life.State().Phase != PhaseGathering {
		return nil, fmt.Errorf("%w: start during %s", ErrInvalidTransition, e.life.State())
	}

	if cmd.Force {
		if cmd.Origin != OriginAuthority {
			if host, _ := e.roster.Host(); host != cmd.ConnID {
				return nil, fmt.Errorf("%w: only the host can force a start", ErrNotAuthority)
			}
		}
		if e.roster.Len() < 1 {
			return nil, fmt.Errorf("%w: force start needs at least one participant", ErrInvalidTransition)
		}
	} else if !e.roster.AllReady(e.rules.MinParticipants) {
		return nil, fmt.Errorf("%w: need %d ready participants, have %d joined",
			ErrInvalidTransition, e.rules.MinParticipants, e.roster.Len())
	}

	from, err := e.life.Start()
	if err != nil {
		return nil, err
	}
	events := []Event{{Type: EvtPhaseChanged, From: from, To: e.life.State()}}

	if e.rules.GracePeriod > 0 {
		return events, nil
	}
	more, err := e.assign()
	return append(events, more...), err
}

// assign commits roles and enters InProgress in one step, so InProgress is
// never observable with unassigned roles.
func (e *Engine) assign() ([]Event, error) {
	a, err := e.roles.Assign(e.roster)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(a.Roles)+3)
	for _, id := range e.roster.IDs() {
		events = append(events, Event{Type: EvtRoleAssigned, ConnID: id, Role: a.Roles[id]})
	}
	e.wins.Arm(len(a.Hunted))

	from, err := e.life.Begin()
	if err != nil {
		return nil, err
	}
	events = append(events, Event{Type: EvtPhaseChanged, From: from, To: e.life.State()})

	if e.wins.Counters().SurvivorsAlive == 0 {
		events = append(events, e.end(OutcomeCultistWin)...)
	}
	return events, nil
}

func (e *Engine) completeTask(cmd Command) ([]Event, error) {
	if e.life.State().Phase != PhaseInProgress {
		return nil, fmt.Errorf("%w: task completed during %s", ErrInvalidTransition, e.life.State())
	}
	if cmd.Origin != OriginAuthority {
		p, ok := e.roster.Get(cmd.ConnID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", roster.ErrUnknownParticipant, cmd.ConnID)
		}
		if p.Role == roster.RoleUnassigned {
			return nil, fmt.Errorf("%w: observers cannot complete tasks", ErrInvalidTransition)
		}
	}

	done := e.wins.CompleteTask()
	events := []Event{{Type: EvtTaskCompleted, ConnID: cmd.ConnID}}
	if done {
		events = append(events, e.end(OutcomeSurvivorsWin)...)
	}
	return events, nil
}

func (e *Engine) eliminate(cmd Command) ([]Event, error) {
	if e.life.State().Phase != PhaseInProgress {
		return nil, fmt.Errorf("%w: eliminate during %s", ErrInvalidTransition, e.life.State())
	}
	if cmd.Origin != OriginAuthority {
		if _, ok := e.roster.Get(cmd.ConnID); !ok {
			return nil, fmt.Errorf("%w: %s", roster.ErrUnknownParticipant, cmd.ConnID)
		}
	}
	target, ok := e.roster.Get(cmd.Target)
	if !ok {
		return nil, fmt.Errorf("%w: target %s", roster.ErrUnknownParticipant, cmd.Target)
	}

	// Only living survivors move the counters.
	if target.Role != roster.RoleSurvivor || !target.Alive {
		return nil, nil
	}
	if err := e.roster.SetAlive(target.ID, false); err != nil {
		return nil, err
	}
	events := []Event{{Type: EvtParticipantEliminated, ConnID: target.ID, Slot: target.Slot}}
	if e.wins.LoseSurvivor() {
		events = append(events, e.end(OutcomeCultistWin)...)
	}
	return events, nil
}

func (e *Engine) end(outcome Outcome) []Event {
	from, changed, err := e.life.End(outcome)
	if err != nil || !changed {
		return nil
	}
	to := e.life.State()
	return []Event{
		{Type: EvtPhaseChanged, From: from, To: to},
		{Type: EvtGameEnded, Outcome: to.Outcome},
	}
}

func (e *Engine) Rules() Rules { return e.rules }

func (e *Engine) State() SessionState { return e.life.State() }

func (e *Engine) Counters() Counters { return e.wins.Counters() }

func (e *Engine) Status() Status {
	host, _ := e.roster.Host()
	return Status{State: e.life.State(), Counters: e.wins.Counters(), Host: host}
}

func (e *Engine) Roster() roster.Snapshot { return e.roster.Snapshot() }

func (e *Engine) Participants() int { return e.roster.Len() }

func (e *Engine) Participant(id roster.ConnID) (roster.Participant, bool) {
	return e.roster.Get(id)
}

// Assignment is the authority-only view of committed roles.
func (e *Engine) Assignment() (Assignment, bool) { return e.roles.Result() }

// CheckInvariants reports states that must be structurally impossible.
func (e *Engine) CheckInvariants() error {
	st := e.life.State()
	if st.Phase != PhaseInProgress && st.Phase != PhaseTerminal {
		return nil
	}
	if !e.roles.Assigned() {
		return fmt.Errorf("%w: %s without role assignment", ErrInvariant, st)
	}
	if st.Phase == PhaseInProgress {
		alive := 0
		for _, id := range e.roster.IDs() {
			p, _ := e.roster.Get(id)
			if p.Role == roster.RoleSurvivor && p.Alive {
				alive++
			}
		}
		if got := e.wins.Counters().SurvivorsAlive; got != alive {
			return fmt.Errorf("%w: survivors_alive=%d but %d survivors alive in roster", ErrInvariant, got, alive)
		}
	}
	return nil
}
