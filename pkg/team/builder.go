// Package team turns a validated HierarchicalTeam definition into the
// runtime objects the execution engine drives.
package team

import (
	"errors"
	"fmt"

	"github.com/covey-team/covey/pkg/deps"
	"github.com/covey-team/covey/pkg/keys"
	"github.com/covey-team/covey/pkg/models"
	"github.com/covey-team/covey/pkg/tools"
)

// ErrTeamBuild wraps any validation or construction failure during
// Build. The build is atomic: on error no partial runtimes are exposed.
var ErrTeamBuild = errors.New("team build failed")

// SupervisorRuntime is one instantiated supervisor.
type SupervisorRuntime struct {
	TeamID string // empty for the top supervisor
	Config models.SupervisorConfig
	Creds  keys.Credentials
}

// WorkerRuntime is one instantiated worker.
type WorkerRuntime struct {
	TeamID string
	Config models.WorkerConfig
	Creds  keys.Credentials
	// Tools is nil when the worker has no tools configured.
	Tools tools.Runner
}

// BuiltTeam is the output of Build: everything the engine needs to run
// an execution of this team.
type BuiltTeam struct {
	TeamID string
	Spec   *models.HierarchicalTeam

	TopSupervisor *SupervisorRuntime
	// Supervisors and Workers are keyed by sub-team id; Workers values
	// are keyed by worker id.
	Supervisors map[string]*SupervisorRuntime
	Workers     map[string]map[string]*WorkerRuntime

	// Order is the sub-team execution order; Graph is the dependency
	// map it was computed from.
	Order []string
	Graph map[string][]string
}

// SubTeam returns the definition of one sub-team by id.
func (bt *BuiltTeam) SubTeam(id string) *models.SubTeam {
	return bt.Spec.SubTeamByID(id)
}

// Builder constructs BuiltTeams against shared collaborators.
type Builder struct {
	keys  keys.Provider
	tools *tools.Registry
}

// NewBuilder creates a Builder. registry may be nil when no tools are
// deployed; building a team whose workers reference tools then fails.
func NewBuilder(provider keys.Provider, registry *tools.Registry) *Builder {
	return &Builder{keys: provider, tools: registry}
}

// Build validates spec, resolves credentials and tools, and returns the
// runtime objects plus the computed execution order. teamID is the
// registry-assigned identifier for this definition.
func (b *Builder) Build(teamID string, spec *models.HierarchicalTeam) (*BuiltTeam, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTeamBuild, err)
	}

	ids := spec.SubTeamIDs()
	if problems := deps.Validate(spec.Dependencies, ids); len(problems) > 0 {
		return nil, fmt.Errorf("%w: dependency graph: %s", ErrTeamBuild, problems[0].Message)
	}
	if cycles := deps.DetectCycles(spec.Dependencies); len(cycles) > 0 {
		return nil, fmt.Errorf("%w: dependency cycle through %q", ErrTeamBuild, cycles[0][0])
	}
	order, err := deps.Order(spec.Dependencies, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTeamBuild, err)
	}

	top, err := b.supervisor("", spec.TopSupervisor)
	if err != nil {
		return nil, err
	}

	bt := &BuiltTeam{
		TeamID:        teamID,
		Spec:          spec,
		TopSupervisor: top,
		Supervisors:   make(map[string]*SupervisorRuntime, len(spec.SubTeams)),
		Workers:       make(map[string]map[string]*WorkerRuntime, len(spec.SubTeams)),
		Order:         order,
		Graph:         spec.Dependencies,
	}

	for i := range spec.SubTeams {
		st := &spec.SubTeams[i]

		sup, err := b.supervisor(st.ID, st.Supervisor)
		if err != nil {
			return nil, err
		}
		bt.Supervisors[st.ID] = sup

		workers := make(map[string]*WorkerRuntime, len(st.Workers))
		for j := range st.Workers {
			w, err := b.worker(st.ID, st.Workers[j])
			if err != nil {
				return nil, err
			}
			workers[w.Config.ID] = w
		}
		bt.Workers[st.ID] = workers
	}

	return bt, nil
}

func (b *Builder) supervisor(teamID string, cfg models.SupervisorConfig) (*SupervisorRuntime, error) {
	creds, err := b.keys.Credentials(cfg.LLM.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: supervisor of %q: %v", ErrTeamBuild, teamLabel(teamID), err)
	}
	return &SupervisorRuntime{TeamID: teamID, Config: cfg, Creds: creds}, nil
}

func (b *Builder) worker(teamID string, cfg models.WorkerConfig) (*WorkerRuntime, error) {
	creds, err := b.keys.Credentials(cfg.LLM.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: worker %q in %q: %v", ErrTeamBuild, cfg.ID, teamID, err)
	}

	var runner tools.Runner
	if len(cfg.Tools) > 0 {
		if b.tools == nil {
			return nil, fmt.Errorf("%w: worker %q in %q references tools but no registry is configured", ErrTeamBuild, cfg.ID, teamID)
		}
		for _, name := range cfg.Tools {
			if !b.tools.Has(name) {
				return nil, fmt.Errorf("%w: worker %q in %q references unknown tool %q", ErrTeamBuild, cfg.ID, teamID, name)
			}
		}
		runner = b.tools
	}

	return &WorkerRuntime{TeamID: teamID, Config: cfg, Creds: creds, Tools: runner}, nil
}

func teamLabel(teamID string) string {
	if teamID == "" {
		return "top"
	}
	return teamID
}
