package engine

import (
	"errors"

	"github.com/DoyleJ11/cultist-backend/internal/roster"
)

var ErrAlreadyAssigned = errors.New("roles already assigned")
var ErrEmptyRoster = errors.New("empty roster")
var ErrInvalidTransition = errors.New("invalid transition")
var ErrNotAuthority = errors.New("not authority")
var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrInvariant = errors.New("session invariant violated")

// Code is the machine-readable form of a rejection sent to clients.
type Code string

const (
	CodeUnknown            Code = "UNKNOWN"
	CodeSessionFull        Code = "SESSION_FULL"
	CodeUnknownParticipant Code = "UNKNOWN_PARTICIPANT"
	CodeAlreadyJoined      Code = "ALREADY_JOINED"
	CodeInvalidName        Code = "INVALID_NAME"
	CodeAlreadyAssigned    Code = "ALREADY_ASSIGNED"
	CodeEmptyRoster        Code = "EMPTY_ROSTER"
	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeNotAuthority       Code = "NOT_AUTHORITY"
	CodeUnsupportedCommand Code = "UNSUPPORTED_COMMAND"
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"
)

var codes = []struct {
	err  error
	code Code
}{
	{roster.ErrSessionFull, CodeSessionFull},
	{roster.ErrUnknownParticipant, CodeUnknownParticipant},
	{roster.ErrAlreadyJoined, CodeAlreadyJoined},
	{roster.ErrInvalidName, CodeInvalidName},
	{ErrAlreadyAssigned, CodeAlreadyAssigned},
	{ErrEmptyRoster, CodeEmptyRoster},
	{ErrInvalidTransition, CodeInvalidTransition},
	{ErrNotAuthority, CodeNotAuthority},
	{ErrUnsupportedCommand, CodeUnsupportedCommand},
	{ErrInvariant, CodeInvariantViolation},
}

func CodeOf(err error) Code {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}
