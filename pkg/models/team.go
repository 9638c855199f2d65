// Package models defines the team, event, state, and result schemas shared
// by the store, bus, engine, and HTTP surface.
package models

import "fmt"

// Provider identifies an LLM provider.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderOpenRouter Provider = "openrouter"
	ProviderBedrock    Provider = "bedrock"
	ProviderAnthropic  Provider = "anthropic"
	ProviderGoogle     Provider = "google"
)

// ValidProviders is the closed set accepted by LLMConfig validation.
var ValidProviders = map[Provider]bool{
	ProviderOpenAI:     true,
	ProviderOpenRouter: true,
	ProviderBedrock:    true,
	ProviderAnthropic:  true,
	ProviderGoogle:     true,
}

// LLMConfig holds per-agent LLM settings.
type LLMConfig struct {
	Provider       Provider `json:"provider" yaml:"provider"`
	Model          string   `json:"model" yaml:"model"`
	BaseURL        string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Region         string   `json:"region,omitempty" yaml:"region,omitempty"`
	Temperature    float64  `json:"temperature" yaml:"temperature"`
	MaxTokens      *int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// Validate checks the LLMConfig invariants.
// Bedrock (the AWS-style provider) requires a region; other providers
// ignore it.
func (c *LLMConfig) Validate() error {
	if !ValidProviders[c.Provider] {
		return NewValidationError("provider", fmt.Sprintf("unknown provider %q", c.Provider))
	}
	if c.Model == "" {
		return NewValidationError("model", "model name is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return NewValidationError("temperature", "temperature must be in [0, 2]")
	}
	if c.MaxTokens != nil && *c.MaxTokens <= 0 {
		return NewValidationError("max_tokens", "max_tokens must be > 0")
	}
	if c.TimeoutSeconds <= 0 {
		return NewValidationError("timeout_seconds", "timeout_seconds must be > 0")
	}
	if c.Provider == ProviderBedrock && c.Region == "" {
		return NewValidationError("region", "bedrock provider requires a region")
	}
	return nil
}

// SupervisorConfig configures the routing supervisor of a team.
type SupervisorConfig struct {
	LLM           LLMConfig `json:"llm" yaml:"llm"`
	SystemPrompt  string    `json:"system_prompt" yaml:"system_prompt"`
	UserPrompt    string    `json:"user_prompt" yaml:"user_prompt"`
	MaxIterations int       `json:"max_iterations" yaml:"max_iterations"`
}

// Validate checks the SupervisorConfig invariants.
func (c *SupervisorConfig) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if c.SystemPrompt == "" {
		return NewValidationError("system_prompt", "system prompt is required")
	}
	if c.UserPrompt == "" {
		return NewValidationError("user_prompt", "user prompt is required")
	}
	if c.MaxIterations <= 0 {
		return NewValidationError("max_iterations", "max_iterations must be > 0")
	}
	return nil
}

// WorkerConfig configures a single worker within a sub-team.
type WorkerConfig struct {
	ID            string    `json:"id" yaml:"id"`
	Name          string    `json:"name" yaml:"name"`
	LLM           LLMConfig `json:"llm" yaml:"llm"`
	SystemPrompt  string    `json:"system_prompt" yaml:"system_prompt"`
	UserPrompt    string    `json:"user_prompt" yaml:"user_prompt"`
	Tools         []string  `json:"tools,omitempty" yaml:"tools,omitempty"`
	MaxIterations int       `json:"max_iterations" yaml:"max_iterations"`
}

// Validate checks the WorkerConfig invariants.
// Worker id uniqueness within the sub-team is checked by SubTeam.Validate.
func (c *WorkerConfig) Validate() error {
	if c.ID == "" {
		return NewValidationError("id", "worker id is required")
	}
	if c.Name == "" {
		return NewValidationError("name", "worker name is required")
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if c.SystemPrompt == "" {
		return NewValidationError("system_prompt", "system prompt is required")
	}
	if c.UserPrompt == "" {
		return NewValidationError("user_prompt", "user prompt is required")
	}
	if c.MaxIterations <= 0 {
		return NewValidationError("max_iterations", "max_iterations must be > 0")
	}
	return nil
}

// SubTeam is one node in the team DAG: a supervisor plus its workers.
type SubTeam struct {
	ID          string           `json:"id" yaml:"id"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Supervisor  SupervisorConfig `json:"supervisor" yaml:"supervisor"`
	Workers     []WorkerConfig   `json:"workers" yaml:"workers"`
}

// Validate checks the SubTeam invariants: non-empty id, at least one worker,
// unique worker ids.
func (t *SubTeam) Validate() error {
	if t.ID == "" {
		return NewValidationError("id", "sub-team id is required")
	}
	if err := t.Supervisor.Validate(); err != nil {
		return fmt.Errorf("sub-team %s supervisor: %w", t.ID, err)
	}
	if len(t.Workers) == 0 {
		return NewValidationError("workers", fmt.Sprintf("sub-team %s must have at least one worker", t.ID))
	}
	seen := make(map[string]bool, len(t.Workers))
	for i := range t.Workers {
		w := &t.Workers[i]
		if err := w.Validate(); err != nil {
			return fmt.Errorf("sub-team %s worker %d: %w", t.ID, i, err)
		}
		if seen[w.ID] {
			return NewValidationError("workers", fmt.Sprintf("duplicate worker id %q in sub-team %s", w.ID, t.ID))
		}
		seen[w.ID] = true
	}
	return nil
}

// GlobalConfig holds team-wide execution settings.
type GlobalConfig struct {
	MaxExecutionTimeSeconds int    `json:"max_execution_time_seconds,omitempty" yaml:"max_execution_time_seconds,omitempty"`
	StreamingEnabled        bool   `json:"streaming_enabled" yaml:"streaming_enabled"`
	Verbosity               string `json:"verbosity,omitempty" yaml:"verbosity,omitempty"`
}

// HierarchicalTeam is the full client-submitted team specification.
type HierarchicalTeam struct {
	Name          string              `json:"name" yaml:"name"`
	Description   string              `json:"description,omitempty" yaml:"description,omitempty"`
	TopSupervisor SupervisorConfig    `json:"top_supervisor" yaml:"top_supervisor"`
	SubTeams      []SubTeam           `json:"sub_teams" yaml:"sub_teams"`
	Dependencies  map[string][]string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Global        GlobalConfig        `json:"global_config" yaml:"global_config"`
}

// SubTeamIDs returns the ids of all sub-teams in declaration order.
func (h *HierarchicalTeam) SubTeamIDs() []string {
	ids := make([]string, 0, len(h.SubTeams))
	for i := range h.SubTeams {
		ids = append(ids, h.SubTeams[i].ID)
	}
	return ids
}

// SubTeamByID returns the sub-team with the given id, or nil.
func (h *HierarchicalTeam) SubTeamByID(id string) *SubTeam {
	for i := range h.SubTeams {
		if h.SubTeams[i].ID == id {
			return &h.SubTeams[i]
		}
	}
	return nil
}

// Validate checks structural invariants of the team spec: non-empty name,
// at least one sub-team, unique sub-team ids, valid supervisors and workers.
// Dependency graph validation (unknown refs, self-loops, cycles) is the
// dependency resolver's job and runs during team build.
func (h *HierarchicalTeam) Validate() error {
	if h.Name == "" {
		return NewValidationError("name", "team name is required")
	}
	if err := h.TopSupervisor.Validate(); err != nil {
		return fmt.Errorf("top supervisor: %w", err)
	}
	if len(h.SubTeams) == 0 {
		return NewValidationError("sub_teams", "at least one sub-team is required")
	}
	seen := make(map[string]bool, len(h.SubTeams))
	for i := range h.SubTeams {
		st := &h.SubTeams[i]
		if err := st.Validate(); err != nil {
			return err
		}
		if seen[st.ID] {
			return NewValidationError("sub_teams", fmt.Sprintf("duplicate sub-team id %q", st.ID))
		}
		seen[st.ID] = true
	}
	if h.Global.MaxExecutionTimeSeconds < 0 {
		return NewValidationError("global_config.max_execution_time_seconds", "must be >= 0")
	}
	return nil
}

// ExecutionConfig is the per-execution client configuration submitted on
// the execute endpoint.
type ExecutionConfig struct {
	StreamEvents            bool `json:"stream_events" yaml:"stream_events"`
	SaveIntermediateResults bool `json:"save_intermediate_results" yaml:"save_intermediate_results"`
	MaxParallelTeams        int  `json:"max_parallel_teams" yaml:"max_parallel_teams"`
}

// Validate checks the ExecutionConfig invariants.
func (c *ExecutionConfig) Validate() error {
	if c.MaxParallelTeams <= 0 {
		return NewValidationError("max_parallel_teams", "max_parallel_teams must be > 0")
	}
	return nil
}
