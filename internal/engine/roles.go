package engine

import (
	crand "crypto/rand"
	"fmt"
	"math/rand/v2"

	"github.com/DoyleJ11/cultist-backend/internal/roster"
)

// Picker returns a uniform int in [0, n). *rand.Rand satisfies it.
type Picker interface {
	IntN(n int) int
}

// NewSecureRand returns a ChaCha8 generator seeded from crypto/rand.
func NewSecureRand() (*rand.Rand, error) {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("read random seed: %w", err)
	}
	return rand.New(rand.NewChaCha8(seed)), nil
}

type Assignment struct {
	Cultist roster.ConnID
	Roles   map[roster.ConnID]roster.Role
	// Hunted lists the survivors in slot order. It is the only summary
	// authority-side systems get; it never names the cultist.
	Hunted []roster.ConnID
}

func (a Assignment) clone() Assignment {
	roles := make(map[roster.ConnID]roster.Role, len(a.Roles))
	for id, r := range a.Roles {
		roles[id] = r
	}
	return Assignment{
		Cultist: a.Cultist,
		Roles:   roles,
		Hunted:  append([]roster.ConnID(nil), a.Hunted...),
	}
}

// Assigner commits roles once per session.
type Assigner struct {
	rng      Picker
	assigned bool
	result   Assignment
}

func NewAssigner(rng Picker) *Assigner {
	return &Assigner{rng: rng}
}

func (a *Assigner) Assign(t *roster.Table) (Assignment, error) {
	if a.assigned {
		return Assignment{}, ErrAlreadyAssigned
	}
	ids := t.IDs()
	if len(ids) == 0 {
		return Assignment{}, ErrEmptyRoster
	}

	cultist := ids[a.rng.IntN(len(ids))]
	result := Assignment{
		Cultist: cultist,
		Roles:   make(map[roster.ConnID]roster.Role, len(ids)),
		Hunted:  make([]roster.ConnID, 0, len(ids)-1),
	}
	for _, id := range ids {
		role := roster.RoleSurvivor
		if id == cultist {
			role = roster.RoleCultist
		} else {
			result.Hunted = append(result.Hunted, id)
		}
		result.Roles[id] = role
		if err := t.SetRole(id, role); err != nil {
			return Assignment{}, err
		}
	}

	a.assigned = true
	a.result = result
	return result.clone(), nil
}

func (a *Assigner) Assigned() bool { return a.assigned }

func (a *Assigner) Result() (Assignment, bool) {
	if !a.assigned {
		return Assignment{}, false
	}
	return a.result.clone(), true
}
