package roster

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var ErrSessionFull = errors.New("session full")
var ErrUnknownParticipant = errors.New("unknown participant")
var ErrAlreadyJoined = errors.New("participant already joined")
var ErrInvalidName = errors.New("invalid display name")

// ConnID is the transport-assigned connection identifier.
type ConnID string

type Role string

const (
	RoleUnassigned Role = "unassigned"
	RoleSurvivor   Role = "survivor"
	RoleCultist    Role = "cultist"
)

type Participant struct {
	ID    ConnID
	Name  string
	Slot  int
	Ready bool
	Role  Role
	Alive bool
}

// Entry is the public view of a participant. It never carries the role.
type Entry struct {
	Slot  int    `json:"slot"`
	ID    ConnID `json:"id"`
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
	Alive bool   `json:"alive"`
}

type Snapshot []Entry

type Limits struct {
	MaxParticipants int
	MaxNameLength   int
}

// Table is the authority's slot table. It is not safe for concurrent use;
// the owning lobby serializes every call.
type Table struct {
	limits Limits
	slots  []*Participant
	index  map[ConnID]int
}

func New(limits Limits) *Table {
	return &Table{
		limits: limits,
		slots:  make([]*Participant, 0, limits.MaxParticipants),
		index:  make(map[ConnID]int),
	}
}

func (t *Table) Join(id ConnID, displayName string) (int, error) {
	if _, ok := t.index[id]; ok {
		return -1, ErrAlreadyJoined
	}
	if len(t.slots) >= t.limits.MaxParticipants {
		return -1, ErrSessionFull
	}
	name, err := NormalizeName(displayName, t.limits.MaxNameLength)
	if err != nil {
		return -1, err
	}

	slot := len(t.slots)
	t.slots = append(t.slots, &Participant{
		ID:    id,
		Name:  name,
		Slot:  slot,
		Role:  RoleUnassigned,
		Alive: true,
	})
	t.index[id] = slot
	return slot, nil
}

// Leave removes the participant and shifts every later slot down by one.
// Unknown ids are ignored so disconnect handling stays idempotent.
func (t *Table) Leave(id ConnID) (Participant, bool) {
	slot, ok := t.index[id]
	if !ok {
		return Participant{}, false
	}
	removed := *t.slots[slot]

	copy(t.slots[slot:], t.slots[slot+1:])
	t.slots[len(t.slots)-1] = nil
	t.slots = t.slots[:len(t.slots)-1]
	delete(t.index, id)

	for i := slot; i < len(t.slots); i++ {
		t.slots[i].Slot = i
		t.index[t.slots[i].ID] = i
	}
	return removed, true
}

func (t *Table) SetReady(id ConnID, ready bool) error {
	p, err := t.lookup(id)
	if err != nil {
		return err
	}
	p.Ready = ready
	return nil
}

func (t *Table) SetRole(id ConnID, role Role) error {
	p, err := t.lookup(id)
	if err != nil {
		return err
	}
	p.Role = role
	return nil
}

func (t *Table) SetAlive(id ConnID, alive bool) error {
	p, err := t.lookup(id)
	if err != nil {
		return err
	}
	p.Alive = alive
	return nil
}

func (t *Table) AllReady(minPlayers int) bool {
	if len(t.slots) < minPlayers {
		return false
	}
	for _, p := range t.slots {
		if !p.Ready {
			return false
		}
	}
	return true
}

func (t *Table) Len() int { return len(t.slots) }

func (t *Table) Get(id ConnID) (Participant, bool) {
	p, err := t.lookup(id)
	if err != nil {
		return Participant{}, false
	}
	return *p, true
}

// Host is the participant holding slot 0.
func (t *Table) Host() (ConnID, bool) {
	if len(t.slots) == 0 {
		return "", false
	}
	return t.slots[0].ID, true
}

// IDs returns connection ids in slot order.
func (t *Table) IDs() []ConnID {
	ids := make([]ConnID, len(t.slots))
	for i, p := range t.slots {
		ids[i] = p.ID
	}
	return ids
}

func (t *Table) Snapshot() Snapshot {
	snap := make(Snapshot, len(t.slots))
	for i, p := range t.slots {
		snap[i] = Entry{Slot: p.Slot, ID: p.ID, Name: p.Name, Ready: p.Ready, Alive: p.Alive}
	}
	return snap
}

func (t *Table) lookup(id ConnID) (*Participant, error) {
	slot, ok := t.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	return t.slots[slot], nil
}

// NormalizeName trims and NFC-normalizes a display name and enforces the rune limit.
func NormalizeName(name string, maxLen int) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if maxLen > 0 && utf8.RuneCountInString(name) > maxLen {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidName, maxLen)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("%w: control character", ErrInvalidName)
		}
	}
	return name, nil
}
