package types

import (
	"github.com/DoyleJ11/cultist-backend/internal/engine"
	"github.com/DoyleJ11/cultist-backend/internal/roster"
)

// Client -> Server message types.
const (
	MsgJoin         = "Join"
	MsgLeave        = "Leave"
	MsgSetReady     = "SetReady"
	MsgStart        = "Start"
	MsgCompleteTask = "CompleteTask"
	MsgEliminate    = "Eliminate"
)

// Server -> Client message types.
const (
	MsgWelcome             = "Welcome"
	MsgRosterChanged       = "RosterChanged"
	MsgReadyStateChanged   = "ReadyStateChanged"
	MsgSessionSnapshot     = "SessionSnapshot"
	MsgSessionStateChanged = "SessionStateChanged"
	MsgRoleAssigned        = "RoleAssigned"
	MsgGameEnded           = "GameEnded"
	MsgRejected            = "Rejected"
)

type ClientMessage struct {
	Type   string `json:"type"`
	Name   string `json:"name,omitempty"`
	Ready  bool   `json:"ready,omitempty"`
	Force  bool   `json:"force,omitempty"`
	Target string `json:"target,omitempty"`
}

type ServerMessage struct {
	Type     string               `json:"type"`
	Version  uint64               `json:"version,omitempty"`
	ClientID roster.ConnID        `json:"client_id,omitempty"`
	Roster   roster.Snapshot      `json:"roster,omitempty"`
	Session  *engine.Status       `json:"session,omitempty"`
	From     *engine.SessionState `json:"from,omitempty"`
	To       *engine.SessionState `json:"to,omitempty"`
	Role     roster.Role          `json:"role,omitempty"`
	Outcome  engine.Outcome       `json:"outcome,omitempty"`
	Command  string               `json:"command,omitempty"`
	Code     engine.Code          `json:"code,omitempty"`
	Error    string               `json:"error,omitempty"`
}
