package engine

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/DoyleJ11/cultist-backend/internal/roster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedPick always chooses the same index (mod n) so tests know the cultist.
type fixedPick int

func (f fixedPick) IntN(n int) int { return int(f) % n }

func testRules() Rules {
	r := DefaultRules()
	r.GracePeriod = 0
	return r
}

func join(t *testing.T, e *Engine, ids ...roster.ConnID) {
	t.Helper()
	for _, id := range ids {
		_, err := e.Apply(Command{Type: CmdJoin, Origin: OriginParticipant, ConnID: id, Name: string(id)})
		require.NoError(t, err)
	}
}

func readyAll(t *testing.T, e *Engine) {
	t.Helper()
	for _, p := range e.Roster() {
		_, err := e.Apply(Command{Type: CmdSetReady, Origin: OriginParticipant, ConnID: p.ID, Ready: true})
		require.NoError(t, err)
	}
}

// startedEngine returns an in-progress session for A..E with the cultist at slot pick.
func startedEngine(t *testing.T, pick int) *Engine {
	t.Helper()
	e := New(testRules(), fixedPick(pick))
	join(t, e, "A", "B", "C", "D", "E")
	readyAll(t, e)
	_, err := e.Apply(Command{Type: CmdStart, Origin: OriginParticipant, ConnID: "A"})
	require.NoError(t, err)
	require.Equal(t, PhaseInProgress, e.State().Phase)
	return e
}

func phaseChanges(events []Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Type == EvtPhaseChanged {
			out = append(out, ev.From.String()+">"+ev.To.String())
		}
	}
	return out
}

func TestStart_AllReadyRunsThroughToInProgress(t *testing.T) {
	e := New(testRules(), rand.New(rand.NewPCG(1, 2)))
	join(t, e, "A", "B", "C", "D", "E")
	readyAll(t, e)

	events, err := e.Apply(Command{Type: CmdStart, Origin: OriginParticipant, ConnID: "C"})
	require.NoError(t, err)

	assert.Equal(t, []string{"gathering>starting", "starting>in_progress"}, phaseChanges(events))
	assert.Equal(t, 5, CountEvents(events, EvtRoleAssigned))

	cultists := 0
	for _, ev := range events {
		if ev.Type == EvtRoleAssigned && ev.Role == roster.RoleCultist {
			cultists++
		}
	}
	assert.Equal(t, 1, cultists)
	assert.Equal(t, 4, e.Counters().SurvivorsAlive)
	require.NoError(t, e.CheckInvariants())
}

func TestStart_Guards(t *testing.T) {
	cases := []struct {
		name    string
		joined  []roster.ConnID
		ready   bool
		cmd     Command
		wantErr error
	}{
		{
			name:    "not everyone ready",
			joined:  []roster.ConnID{"A", "B", "C", "D", "E"},
			cmd:     Command{Type: CmdStart, Origin: OriginParticipant, ConnID: "A"},
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "below minimum",
			joined:  []roster.ConnID{"A", "B", "C"},
			ready:   true,
			cmd:     Command{Type: CmdStart, Origin: OriginParticipant, ConnID: "A"},
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "force by non-host",
			joined:  []roster.ConnID{"A", "B"},
			cmd:     Command{Type: CmdStart, Origin: OriginParticipant, ConnID: "B", Force: true},
			wantErr: ErrNotAuthority,
		},
		{
			name:    "force by authority on empty roster",
			cmd:     Command{Type: CmdStart, Origin: OriginAuthority, Force: true},
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "unknown requester",
			joined:  []roster.ConnID{"A"},
			cmd:     Command{Type: CmdStart, Origin: OriginParticipant, ConnID: "Z", Force: true},
			wantErr: roster.ErrUnknownParticipant,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := New(testRules(), fixedPick(0))
			join(t, e, tc.joined...)
			if tc.ready {
				readyAll(t, e)
			}
			events, err := e.Apply(tc.cmd)
			require.ErrorIs(t, err, tc.wantErr)
			assert.Empty(t, events)
			assert.Equal(t, PhaseGathering, e.State().Phase)
		})
	}
}

func TestStart_ForceByHostSkipsReadiness(t *testing.T) {
	e := New(testRules(), fixedPick(1))
	join(t, e, "A", "B")

	_, err := e.Apply(Command{Type: CmdStart, Origin: OriginParticipant, ConnID: "A", Force: true})
	require.NoError(t, err)
	assert.Equal(t, PhaseInProgress, e.State().Phase)

	a, ok := e.Assignment()
	require.True(t, ok)
	assert.Equal(t, roster.ConnID("B"), a.Cultist)
	assert.Equal(t, []roster.ConnID{"A"}, a.Hunted)
}

func TestStart_SoloForceEndsImmediately(t *testing.T) {
	e := New(testRules(), fixedPick(0))
	join(t, e, "A")

	events, err := e.Apply(Command{Type: CmdStart, Origin: OriginParticipant, ConnID: "A", Force: true})
	require.NoError(t, err)
	assert.Equal(t, SessionState{Phase: PhaseTerminal, Outcome: OutcomeCultistWin}, e.State())
	assert.Equal(t, 1, CountEvents(events, EvtGameEnded))
}

func TestStart_SecondStartRejected(t *testing.T) {
	e := startedEngine(t, 0)
	before, _ := e.Assignment()

	_, err := e.Apply(Command{Type: CmdStart, Origin: OriginParticipant, ConnID: "A", Force: true})
	require.ErrorIs(t, err, ErrInvalidTransition)

	after, _ := e.Assignment()
	assert.Equal(t, before, after)
}

func TestGracePeriod_DefersAssignmentToAuthority(t *testing.T) {
	rules := testRules()
	rules.GracePeriod = 1
	e := New(rules, fixedPick(0))
	join(t, e, "A", "B")

	events, err := e.Apply(Command{Type: CmdStart, Origin: OriginParticipant, ConnID: "A", Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"gathering>starting"}, phaseChanges(events))
	assert.False(t, ContainsEvent(events, EvtRoleAssigned))

	// Late arrivals during the grace period are included.
	join(t, e, "C")

	_, err = e.Apply(Command{Type: CmdAssignRoles, Origin: OriginParticipant, ConnID: "A"})
	require.ErrorIs(t, err, ErrNotAuthority)

	events, err = e.Apply(Command{Type: CmdAssignRoles, Origin: OriginAuthority})
	require.NoError(t, err)
	assert.Equal(t, 3, CountEvents(events, EvtRoleAssigned))
	assert.Equal(t, PhaseInProgress, e.State().Phase)

	_, err = e.Apply(Command{Type: CmdAssignRoles, Origin: OriginAuthority})
	require.ErrorIs(t, err, ErrAlreadyAssigned)
	assert.Equal(t, CodeAlreadyAssigned, CodeOf(err))
}

func TestAssignRoles_RetriedTriggerIsAlreadyAssigned(t *testing.T) {
	e := New(testRules(), fixedPick(0))
	join(t, e, "A", "B", "C", "D", "E")

	_, err := e.Apply(Command{Type: CmdAssignRoles, Origin: OriginAuthority})
	require.ErrorIs(t, err, ErrInvalidTransition, "nothing assigned yet while gathering")

	readyAll(t, e)
	_, err = e.Apply(Command{Type: CmdStart, Origin: OriginParticipant, ConnID: "A"})
	require.NoError(t, err)
	require.Equal(t, PhaseInProgress, e.State().Phase)
	before, _ := e.Assignment()

	_, err = e.Apply(Command{Type: CmdAssignRoles, Origin: OriginAuthority})
	require.ErrorIs(t, err, ErrAlreadyAssigned)

	for i := 0; i < testRules().TaskTotal; i++ {
		_, err = e.Apply(Command{Type: CmdCompleteTask, Origin: OriginParticipant, ConnID: "B"})
		require.NoError(t, err)
	}
	require.True(t, e.State().Terminal())

	_, err = e.Apply(Command{Type: CmdAssignRoles, Origin: OriginAuthority})
	require.ErrorIs(t, err, ErrAlreadyAssigned)

	after, _ := e.Assignment()
	assert.Equal(t, before, after)
}

func TestCompleteTask_ReachingTotalEndsOnce(t *testing.T) {
	e := startedEngine(t, 0)

	var ended []Event
	for i := 0; i < 5; i++ {
		events, err := e.Apply(Command{Type: CmdCompleteTask, Origin: OriginParticipant, ConnID: "B"})
		require.NoError(t, err)
		ended = append(ended, events...)
	}

	assert.Equal(t, []string{"in_progress>terminal(survivors_win)"}, phaseChanges(ended))
	assert.Equal(t, 1, CountEvents(ended, EvtGameEnded))
	assert.Equal(t, 5, e.Counters().TasksCompleted)

	_, err := e.Apply(Command{Type: CmdCompleteTask, Origin: OriginParticipant, ConnID: "B"})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 5, e.Counters().TasksCompleted)
}

func TestEliminate_LastSurvivorEndsOnceThenRejects(t *testing.T) {
	e := startedEngine(t, 0) // A is the cultist

	var all []Event
	for _, target := range []roster.ConnID{"B", "C", "D", "E"} {
		events, err := e.Apply(Command{Type: CmdEliminate, Origin: OriginParticipant, ConnID: "A", Target: target})
		require.NoError(t, err)
		all = append(all, events...)
	}

	assert.Equal(t, 4, CountEvents(all, EvtParticipantEliminated))
	assert.Equal(t, []string{"in_progress>terminal(cultist_win)"}, phaseChanges(all))
	assert.Equal(t, 1, CountEvents(all, EvtGameEnded))
	assert.Equal(t, 0, e.Counters().SurvivorsAlive)

	_, err := e.Apply(Command{Type: CmdEliminate, Origin: OriginParticipant, ConnID: "A", Target: "B"})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 0, e.Counters().SurvivorsAlive)
}

func TestEliminate_CultistAndDeadSurvivorHaveNoEffect(t *testing.T) {
	e := startedEngine(t, 0)

	events, err := e.Apply(Command{Type: CmdEliminate, Origin: OriginParticipant, ConnID: "B", Target: "A"})
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = e.Apply(Command{Type: CmdEliminate, Origin: OriginParticipant, ConnID: "A", Target: "B"})
	require.NoError(t, err)
	events, err = e.Apply(Command{Type: CmdEliminate, Origin: OriginParticipant, ConnID: "A", Target: "B"})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 3, e.Counters().SurvivorsAlive)

	_, err = e.Apply(Command{Type: CmdEliminate, Origin: OriginParticipant, ConnID: "A", Target: "ghost"})
	require.ErrorIs(t, err, roster.ErrUnknownParticipant)
}

func TestGameplayRejectedBeforeStart(t *testing.T) {
	e := New(testRules(), fixedPick(0))
	join(t, e, "A", "B")

	_, err := e.Apply(Command{Type: CmdCompleteTask, Origin: OriginParticipant, ConnID: "A"})
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = e.Apply(Command{Type: CmdEliminate, Origin: OriginParticipant, ConnID: "A", Target: "B"})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, Counters{TaskTotal: 5}, e.Counters())
}

func TestLeave_SurvivorDuringPlayCountsAsLost(t *testing.T) {
	e := startedEngine(t, 4) // E is the cultist

	for _, id := range []roster.ConnID{"A", "B", "C"} {
		events := e.leave(id)
		assert.False(t, ContainsEvent(events, EvtGameEnded))
	}
	assert.Equal(t, 1, e.Counters().SurvivorsAlive)
	require.NoError(t, e.CheckInvariants())

	events, err := e.Apply(Command{Type: CmdLeave, Origin: OriginParticipant, ConnID: "D"})
	require.NoError(t, err)
	assert.True(t, ContainsEvent(events, EvtGameEnded))
	assert.Equal(t, OutcomeCultistWin, e.State().Outcome)

	events, err = e.Apply(Command{Type: CmdLeave, Origin: OriginParticipant, ConnID: "D"})
	require.NoError(t, err)
	assert.Empty(t, events, "second leave is a no-op")
}

func TestJoin_LatePolicy(t *testing.T) {
	e := startedEngine(t, 0)
	_, err := e.Apply(Command{Type: CmdJoin, Origin: OriginParticipant, ConnID: "F", Name: "F"})
	require.ErrorIs(t, err, ErrInvalidTransition)

	rules := testRules()
	rules.AllowLateJoin = true
	e = New(rules, fixedPick(0))
	join(t, e, "A", "B", "C", "D", "E")
	readyAll(t, e)
	_, err = e.Apply(Command{Type: CmdStart, Origin: OriginParticipant, ConnID: "A"})
	require.NoError(t, err)

	join(t, e, "F")
	p, ok := e.Participant("F")
	require.True(t, ok)
	assert.Equal(t, roster.RoleUnassigned, p.Role)
	assert.False(t, p.Alive)
	assert.Equal(t, 4, e.Counters().SurvivorsAlive)

	_, err = e.Apply(Command{Type: CmdCompleteTask, Origin: OriginParticipant, ConnID: "F"})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSetReady_OnlyWhileGathering(t *testing.T) {
	e := startedEngine(t, 0)
	_, err := e.Apply(Command{Type: CmdSetReady, Origin: OriginParticipant, ConnID: "A", Ready: false})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUnsupportedCommand(t *testing.T) {
	e := New(testRules(), fixedPick(0))
	_, err := e.Apply(Command{Type: "Teleport"})
	if err == nil || !errors.Is(err, ErrUnsupportedCommand) {
		t.Fatalf("want ErrUnsupportedCommand, got %v", err)
	}
}

func TestSingleCultist_AnyRosterSize(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for size := 1; size <= 10; size++ {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			tbl := roster.New(roster.Limits{MaxParticipants: 10})
			for i := 0; i < size; i++ {
				_, err := tbl.Join(roster.ConnID(fmt.Sprint(i)), "p")
				require.NoError(t, err)
			}
			a := NewAssigner(rng)
			got, err := a.Assign(tbl)
			require.NoError(t, err)

			cultists := 0
			for _, id := range tbl.IDs() {
				p, _ := tbl.Get(id)
				if p.Role == roster.RoleCultist {
					cultists++
					assert.Equal(t, got.Cultist, id)
				} else {
					assert.Equal(t, roster.RoleSurvivor, p.Role)
				}
			}
			assert.Equal(t, 1, cultists)
			assert.Len(t, got.Hunted, size-1)
		})
	}
}

func TestAssign_IdempotentAndEmpty(t *testing.T) {
	tbl := roster.New(roster.Limits{MaxParticipants: 10})
	a := NewAssigner(fixedPick(0))
	_, err := a.Assign(tbl)
	require.ErrorIs(t, err, ErrEmptyRoster)
	assert.False(t, a.Assigned())

	_, _ = tbl.Join("A", "A")
	_, _ = tbl.Join("B", "B")
	first, err := a.Assign(tbl)
	require.NoError(t, err)

	a.rng = fixedPick(1)
	_, err = a.Assign(tbl)
	require.ErrorIs(t, err, ErrAlreadyAssigned)

	again, ok := a.Result()
	require.True(t, ok)
	assert.Equal(t, first, again)
	p, _ := tbl.Get("A")
	assert.Equal(t, roster.RoleCultist, p.Role)
}

func TestAssign_UniformOverRoster(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	counts := map[roster.ConnID]int{}
	const trials = 5000
	for i := 0; i < trials; i++ {
		tbl := roster.New(roster.Limits{MaxParticipants: 5})
		for _, id := range []roster.ConnID{"A", "B", "C", "D", "E"} {
			_, _ = tbl.Join(id, string(id))
		}
		got, err := NewAssigner(rng).Assign(tbl)
		require.NoError(t, err)
		counts[got.Cultist]++
	}
	for id, n := range counts {
		assert.InDelta(t, trials/5, n, trials/20, "cultist share for %s", id)
	}
	assert.Len(t, counts, 5)
}

func TestCodeOf(t *testing.T) {
	cases := map[error]Code{
		fmt.Errorf("wrapped: %w", roster.ErrSessionFull): CodeSessionFull,
		ErrNotAuthority: CodeNotAuthority,
		fmt.Errorf("%w: x", ErrInvalidTransition): CodeInvalidTransition,
		errors.New("other"): CodeUnknown,
	}
	for err, want := range cases {
		assert.Equal(t, want, CodeOf(err), err.Error())
	}
}
