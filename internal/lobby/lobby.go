package lobby

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/cultist-backend/internal/engine"
	"github.com/DoyleJ11/cultist-backend/internal/replica"
	"github.com/DoyleJ11/cultist-backend/internal/roster"
	"github.com/DoyleJ11/cultist-backend/internal/types"
)

var ErrClosed = errors.New("lobby closed")

type Msg interface{ isLobbyMsg() }

// Connect attaches an observer. The lobby owns Outbox from here on and closes it
// when the client is dropped, disconnected, or the lobby shuts down.
type Connect struct {
	ClientID roster.ConnID
	Outbox   chan types.ServerMessage
}

func (Connect) isLobbyMsg() {}

// Disconnect is the transport's disconnect notification. It also removes the
// participant from the roster; repeating it is harmless.
type Disconnect struct{ ClientID roster.ConnID }

func (Disconnect) isLobbyMsg() {}

// FromClient carries a participant command. ConnID and Origin are overwritten
// with the sender's identity. Reply, if set, must be buffered.
type FromClient struct {
	ClientID roster.ConnID
	Cmd      engine.Command
	Reply    chan error
}

func (FromClient) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

// GetState returns the authority's view, roles included. Never forward it to clients.
type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type graceElapsed struct{ gen uint64 }

func (graceElapsed) isLobbyMsg() {}

type View struct {
	Clients        int
	Status         engine.Status
	Roster         roster.Snapshot
	Roles          map[roster.ConnID]roster.Role
	Hunted         []roster.ConnID
	GracePending   bool
	RosterVersion  uint64
	SessionVersion uint64
}

type Options struct {
	Code   string
	Rules  engine.Rules
	Rand   engine.Picker
	Logger *zap.Logger
}

type client struct {
	id     roster.ConnID
	outbox chan types.ServerMessage
	subs   []interface{ Close() }
	gone   bool
}

func (c *client) closeSubs() {
	for _, s := range c.subs {
		s.Close()
	}
	c.subs = nil
}

// Lobby is the session controller: the only goroutine allowed to mutate a
// session's authoritative state.
type Lobby struct {
	code   string
	inbox  chan Msg
	engine *engine.Engine
	log    *zap.Logger

	rosterCh  *replica.Channel[roster.Snapshot]
	readyCh   *replica.Channel[roster.Snapshot]
	sessionCh *replica.Channel[engine.Status]
	clients   map[roster.ConnID]*client

	grace    *time.Timer
	graceGen uint64

	// mu guards closed. Send holds it shared while enqueueing so shutdown can
	// drain the inbox knowing nothing else will land in it.
	mu       sync.RWMutex
	closed   bool
	stopping chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLobby(parent context.Context, opts Options) (*Lobby, error) {
	rng := opts.Rand
	if rng == nil {
		r, err := engine.NewSecureRand()
		if err != nil {
			return nil, err
		}
		rng = r
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(parent)
	eng := engine.New(opts.Rules, rng)

	l := &Lobby{
		code:      opts.Code,
		inbox:     make(chan Msg, 64), // Small buffer
		engine:    eng,
		log:       log.With(zap.String("lobby", opts.Code)),
		rosterCh:  replica.NewChannel(eng.Roster()),
		readyCh:   replica.NewChannel(eng.Roster()),
		sessionCh: replica.NewChannel(eng.Status()),
		clients:   make(map[roster.ConnID]*client),
		stopping:  make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go l.loop()
	return l, nil
}

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Connect:
				l.connect(msg)

			case Disconnect:
				l.disconnect(msg.ClientID)

			case FromClient:
				cmd := msg.Cmd
				cmd.ConnID = msg.ClientID
				cmd.Origin = engine.OriginParticipant
				err := l.apply(cmd)
				if err != nil {
					l.reject(msg.ClientID, cmd.Type, err)
				}
				if msg.Reply != nil {
					msg.Reply <- err
				}

			case graceElapsed:
				if msg.gen != l.graceGen {
					l.log.Debug("dropping stale grace timer", zap.Uint64("gen", msg.gen))
					break
				}
				l.grace = nil
				if err := l.apply(engine.Command{Type: engine.CmdAssignRoles, Origin: engine.OriginAuthority}); err != nil {
					l.log.Warn("role assignment after grace period failed", zap.Error(err))
				}

			case GetState:
				msg.Reply <- l.view()

			case Shutdown:
				l.shutdown()
				return
			}

			if l.abandoned() {
				l.log.Info("session abandoned, closing lobby", zap.Stringer("state", l.engine.State()))
				l.shutdown()
				return
			}
		}
	}
}

// abandoned reports a started session whose roster has emptied. Nothing
// outlives a session, so the lobby goes away with it.
func (l *Lobby) abandoned() bool {
	return l.engine.Participants() == 0 && l.engine.State().Phase != engine.PhaseGathering
}

func (l *Lobby) connect(msg Connect) {
	if _, ok := l.clients[msg.ClientID]; ok {
		l.log.Warn("duplicate connect", zap.String("client", string(msg.ClientID)))
		close(msg.Outbox)
		return
	}
	c := &client{id: msg.ClientID, outbox: msg.Outbox}
	l.clients[c.id] = c

	l.send(c, types.ServerMessage{Type: types.MsgWelcome, ClientID: c.id})
	c.subs = append(c.subs,
		l.rosterCh.Subscribe(func(u replica.Update[roster.Snapshot]) {
			l.send(c, types.ServerMessage{Type: types.MsgRosterChanged, Version: u.Version, Roster: u.Value})
		}),
		l.readyCh.Subscribe(func(u replica.Update[roster.Snapshot]) {
			l.send(c, types.ServerMessage{Type: types.MsgReadyStateChanged, Version: u.Version, Roster: u.Value})
		}),
		l.sessionCh.Subscribe(func(u replica.Update[engine.Status]) {
			st := u.Value
			l.send(c, types.ServerMessage{Type: types.MsgSessionSnapshot, Version: u.Version, Session: &st})
		}),
	)
	if c.gone {
		c.closeSubs()
	}

	l.log.Debug("client connected", zap.String("client", string(c.id)), zap.Int("clients", len(l.clients)))
}

func (l *Lobby) disconnect(id roster.ConnID) {
	if c, ok := l.clients[id]; ok {
		l.drop(c)
	}
	_ = l.apply(engine.Command{Type: engine.CmdLeave, Origin: engine.OriginParticipant, ConnID: id})
	l.log.Debug("client disconnected", zap.String("client", string(id)), zap.Int("clients", len(l.clients)))
}

func (l *Lobby) apply(cmd engine.Command) error {
	events, err := l.engine.Apply(cmd)
	if len(events) > 0 {
		l.dispatch(events)
	}
	if err != nil {
		l.log.Debug("command rejected",
			zap.String("type", string(cmd.Type)),
			zap.String("client", string(cmd.ConnID)),
			zap.Error(err))
		return err
	}
	if ierr := l.engine.CheckInvariants(); ierr != nil {
		l.log.DPanic("session invariant violated", zap.Error(ierr))
	}
	return nil
}

// dispatch publishes the replicated snapshots touched by events, then delivers
// the discrete events in commit order.
func (l *Lobby) dispatch(events []engine.Event) {
	var rosterDirty, readyDirty, sessionDirty bool
	for _, ev := range events {
		switch ev.Type {
		case engine.EvtParticipantJoined, engine.EvtParticipantLeft, engine.EvtParticipantEliminated:
			// Both roster streams carry the full participant list, and the
			// session carries the host.
			rosterDirty, readyDirty, sessionDirty = true, true, true
		case engine.EvtReadyChanged:
			readyDirty = true
		case engine.EvtTaskCompleted, engine.EvtPhaseChanged:
			sessionDirty = true
		}
	}
	if rosterDirty {
		l.rosterCh.Publish(l.engine.Roster())
	}
	if readyDirty {
		l.readyCh.Publish(l.engine.Roster())
	}
	if sessionDirty {
		l.sessionCh.Publish(l.engine.Status())
	}

	for _, ev := range events {
		switch ev.Type {
		case engine.EvtPhaseChanged:
			from, to := ev.From, ev.To
			l.broadcast(types.ServerMessage{Type: types.MsgSessionStateChanged, From: &from, To: &to})
			l.log.Info("session state changed", zap.Stringer("from", from), zap.Stringer("to", to))
			if to.Phase == engine.PhaseStarting {
				l.armGrace()
			} else {
				l.stopGrace()
			}

		case engine.EvtRoleAssigned:
			// Private: a participant learns only their own role.
			l.sendTo(ev.ConnID, types.ServerMessage{Type: types.MsgRoleAssigned, Role: ev.Role})

		case engine.EvtGameEnded:
			l.broadcast(types.ServerMessage{Type: types.MsgGameEnded, Outcome: ev.Outcome})
			l.log.Info("game ended",
				zap.String("outcome", string(ev.Outcome)),
				zap.Int("tasks_completed", l.engine.Counters().TasksCompleted),
				zap.Int("survivors_alive", l.engine.Counters().SurvivorsAlive))
		}
	}
}

func (l *Lobby) armGrace() {
	d := l.engine.Rules().GracePeriod
	if d <= 0 {
		return
	}
	l.stopGrace()
	gen := l.graceGen
	l.grace = time.AfterFunc(d, func() {
		_ = l.Send(l.ctx, graceElapsed{gen: gen})
	})
}

// stopGrace cancels a pending timer. Bumping the generation also invalidates a
// fire that is already sitting in the inbox.
func (l *Lobby) stopGrace() {
	if l.grace != nil {
		l.grace.Stop()
		l.grace = nil
	}
	l.graceGen++
}

func (l *Lobby) reject(id roster.ConnID, cmd engine.CommandType, err error) {
	l.sendTo(id, types.ServerMessage{
		Type:    types.MsgRejected,
		Command: string(cmd),
		Code:    engine.CodeOf(err),
		Error:   err.Error(),
	})
}

func (l *Lobby) sendTo(id roster.ConnID, msg types.ServerMessage) {
	if c, ok := l.clients[id]; ok {
		l.send(c, msg)
	}
}

func (l *Lobby) broadcast(msg types.ServerMessage) {
	for _, c := range l.clients {
		l.send(c, msg)
	}
}

func (l *Lobby) send(c *client, msg types.ServerMessage) {
	if c.gone {
		return
	}
	select {
	case c.outbox <- msg:
		//ok
	default:
		// Client is slow/full - drop them.
		l.log.Warn("dropping slow client", zap.String("client", string(c.id)))
		l.drop(c)
	}
}

func (l *Lobby) drop(c *client) {
	if c.gone {
		return
	}
	c.gone = true
	c.closeSubs()
	close(c.outbox) // Tell client no more messages
	delete(l.clients, c.id)
}

func (l *Lobby) shutdown() {
	l.stopGrace()
	for _, c := range l.clients {
		l.drop(c)
	}

	// Wake blocked senders, then wait them out before draining.
	close(l.stopping)
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.drainInbox()

	l.cancel()
}

// drainInbox releases whatever was queued but will never be served.
func (l *Lobby) drainInbox() {
	for {
		select {
		case m := <-l.inbox:
			switch msg := m.(type) {
			case Connect:
				close(msg.Outbox)
			case FromClient:
				if msg.Reply != nil {
					msg.Reply <- ErrClosed
				}
			}
		default:
			return
		}
	}
}

func (l *Lobby) view() View {
	v := View{
		Clients:        len(l.clients),
		Status:         l.engine.Status(),
		Roster:         l.engine.Roster(),
		GracePending:   l.grace != nil,
		RosterVersion:  l.rosterCh.Current().Version,
		SessionVersion: l.sessionCh.Current().Version,
	}
	if a, ok := l.engine.Assignment(); ok {
		v.Roles = a.Roles
		v.Hunted = a.Hunted
	}
	return v
}

func (l *Lobby) Code() string { return l.code }

// Expose the inbox so tests or WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed once the lobby loop has exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Send delivers m unless the lobby has shut down or ctx ends first. A message
// accepted here is either served or released by shutdown.
func (l *Lobby) Send(ctx context.Context, m Msg) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.inbox <- m:
		return nil
	case <-l.stopping:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs cmd on behalf of id and waits for the verdict.
func (l *Lobby) Do(ctx context.Context, id roster.ConnID, cmd engine.Command) error {
	reply := make(chan error, 1)
	if err := l.Send(ctx, FromClient{ClientID: id, Cmd: cmd, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-l.done:
		// The loop may have replied just before exiting.
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Lobby) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := l.Send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-l.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return View{}, ErrClosed
		}
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}
