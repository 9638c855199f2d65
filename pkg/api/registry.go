package api

import (
	"sync"

	"github.com/covey-team/covey/pkg/models"
	"github.com/covey-team/covey/pkg/team"
)

// TeamRegistry holds registered team definitions and their built
// runtimes in memory, keyed by team id. Definitions live for the
// process lifetime.
type TeamRegistry struct {
	mu    sync.RWMutex
	teams map[string]*RegisteredTeam
}

// RegisteredTeam pairs a team definition with its built runtime.
type RegisteredTeam struct {
	TeamID string
	Spec   *models.HierarchicalTeam
	Built  *team.BuiltTeam
}

// NewTeamRegistry creates an empty registry.
func NewTeamRegistry() *TeamRegistry {
	return &TeamRegistry{teams: make(map[string]*RegisteredTeam)}
}

// Register stores a built team under its id.
func (r *TeamRegistry) Register(spec *models.HierarchicalTeam, built *team.BuiltTeam) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teams[built.TeamID] = &RegisteredTeam{TeamID: built.TeamID, Spec: spec, Built: built}
}

// Get looks a team up by id.
func (r *TeamRegistry) Get(teamID string) (*RegisteredTeam, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.teams[teamID]
	return rt, ok
}

// Len returns the number of registered teams.
func (r *TeamRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.teams)
}
