// Package agent models the role-specialized workers the Scheduler dispatches
// to. Agents are duck-typed in the original system (spec §9 design notes);
// here they are a single interface plus a role-keyed Registry, replacing
// scattered string matching with a tagged lookup.
package agent

import "fmt"

// Agent is a named, role-specialized worker owning exactly one workspace.
type Agent struct {
	Name            string
	Role            string
	Specializations []string
}

// Matches reports whether the agent's role or any specialization equals the
// given tag (case-sensitive; callers normalize casing before calling).
func (a Agent) Matches(tag string) bool {
	if a.Role == tag {
		return true
	}
	for _, s := range a.Specializations {
		if s == tag {
			return true
		}
	}
	return false
}

// Registry resolves a role name to the agent(s) assigned to it.
type Registry struct {
	byName map[string]Agent
	byRole map[string][]Agent
}

// NewRegistry builds a Registry from a fixed agent roster.
func NewRegistry(agents []Agent) *Registry {
	r := &Registry{
		byName: make(map[string]Agent, len(agents)),
		byRole: make(map[string][]Agent),
	}
	for _, a := range agents {
		r.byName[a.Name] = a
		r.byRole[a.Role] = append(r.byRole[a.Role], a)
	}
	return r
}

// Get returns the agent with the given name.
func (r *Registry) Get(name string) (Agent, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// ForRole returns every agent whose role matches, in roster order.
func (r *Registry) ForRole(role string) []Agent {
	return r.byRole[role]
}

// Names returns every registered agent name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	return names
}

// DefaultRoster is the fixed set of specialized agents the Planner assigns
// tasks to, matching the roles spec §4.3's templates name.
func DefaultRoster() []Agent {
	return []Agent{
		{Name: "manager", Role: "manager", Specializations: []string{"planning", "review", "synthesis"}},
		{Name: "designer", Role: "designer", Specializations: []string{"design", "ui", "ux"}},
		{Name: "frontend", Role: "frontend", Specializations: []string{"frontend", "web", "html", "css"}},
		{Name: "backend", Role: "backend", Specializations: []string{"backend", "api", "donation"}},
		{Name: "security", Role: "security", Specializations: []string{"security", "compliance"}},
		{Name: "deploy", Role: "deploy", Specializations: []string{"deploy", "infra"}},
		{Name: "researcher", Role: "researcher", Specializations: []string{"brainstorm", "research"}},
		{Name: "strategist", Role: "strategist", Specializations: []string{"brainstorm", "strategy"}},
		{Name: "analyst", Role: "analyst", Specializations: []string{"brainstorm", "analysis"}},
	}
}

// ErrUnknownAgent is returned when a referenced agent name has no entry in
// the registry.
type ErrUnknownAgent struct{ Name string }

func (e ErrUnknownAgent) Error() string { return fmt.Sprintf("agent: unknown agent %q", e.Name) }
