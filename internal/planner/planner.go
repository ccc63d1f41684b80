// Package planner implements the Workflow Planner of spec §4.3: a
// rule-based, deterministic mapping from a finalized brief to an ordered
// task DAG with per-agent duration estimates. No ML, no external calls —
// template selection is pattern matching, same as the Brief Manager's
// classification.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/opsdeck/foreman/internal/agent"
	"github.com/opsdeck/foreman/internal/model"
	"github.com/opsdeck/foreman/internal/ruleset"
)

// Plan is the Planner's output for one finalized brief.
type Plan struct {
	Tasks              []*model.Task
	TotalSequential    int
	EstimatedParallel  int
	AvailableAgents    []string
	PerAgentBreakdown  map[string]int
	HumanExplanation   string
}

// Planner selects a template and builds estimated tasks from a ruleset,
// validating every assigned role against a fixed agent registry.
type Planner struct {
	rules    *ruleset.RuleSet
	registry *agent.Registry
}

// New returns a Planner scoring against rules and assigning only roles
// present in registry.
func New(rules *ruleset.RuleSet, registry *agent.Registry) *Planner {
	return &Planner{rules: rules, registry: registry}
}

type taskSpec struct {
	key       string
	title     string
	agent     string
	dependsOn []string
	commands  []string
}

// Plan builds the task DAG for a finalized brief.
func (p *Planner) Plan(fb *model.FinalizedBrief) (*Plan, error) {
	if fb == nil {
		return nil, model.NewError(model.InvalidInput, "finalized brief is required", nil)
	}

	specs, explanation := p.template(fb)

	byKey := make(map[string]*model.Task, len(specs))
	tasks := make([]*model.Task, 0, len(specs))
	for _, s := range specs {
		if p.registry != nil {
			if _, ok := p.registry.Get(s.agent); !ok {
				return nil, model.NewError(model.InvalidPlan, fmt.Sprintf("template assigns unknown agent %q", s.agent), nil)
			}
		}
		duration := p.rules.DurationFor(s.agent, fb.Scope)
		t := &model.Task{
			ID:        uuid.New().String(),
			Title:     s.title,
			Agent:     s.agent,
			Commands:  s.commands,
			Status:    model.TaskPending,
			Estimated: duration,
		}
		byKey[s.key] = t
		tasks = append(tasks, t)
	}
	for i, s := range specs {
		for _, depKey := range s.dependsOn {
			dep, ok := byKey[depKey]
			if !ok {
				return nil, model.NewError(model.InvalidPlan, fmt.Sprintf("template references unknown dependency %q", depKey), nil)
			}
			tasks[i].DependsOn = append(tasks[i].DependsOn, dep.ID)
		}
	}

	if cyc := model.DependencyCycleCheck(tasks); cyc != "" {
		return nil, model.NewError(model.InvalidPlan, fmt.Sprintf("template produced a cycle at task %q", cyc), nil)
	}

	totalSeq := 0
	for _, t := range tasks {
		totalSeq += t.Estimated
	}

	perAgent := perAgentBreakdown(tasks)
	parallel := estimatedParallelDuration(tasks)

	agents := make([]string, 0, len(perAgent))
	for a := range perAgent {
		agents = append(agents, a)
	}
	sort.Strings(agents)

	return &Plan{
		Tasks:             tasks,
		TotalSequential:   totalSeq,
		EstimatedParallel: parallel,
		AvailableAgents:   agents,
		PerAgentBreakdown: perAgent,
		HumanExplanation:  explanation,
	}, nil
}

// template selects one of the fixed topologies by project kind and
// directive keywords, per spec §4.3.
func (p *Planner) template(fb *model.FinalizedBrief) ([]taskSpec, string) {
	d := strings.ToLower(fb.Directive)

	switch fb.ProjectKind {
	case "website":
		specs := []taskSpec{
			{key: "plan", title: "Plan website", agent: "manager", commands: []string{"echo plan"}},
			{key: "design", title: "Design website", agent: "designer", dependsOn: []string{"plan"}, commands: []string{"echo design"}},
			{key: "frontend", title: "Build frontend", agent: "frontend", dependsOn: []string{"design"}, commands: []string{"echo frontend"}},
		}
		if containsFeature(fb.KeyFeatures, "Donation system") || strings.Contains(d, "donation") {
			specs = append(specs, taskSpec{key: "donation", title: "Integrate donations", agent: "backend", dependsOn: []string{"frontend"}, commands: []string{"echo donation"}})
		}
		if strings.Contains(d, "secure") || strings.Contains(d, "security") {
			last := specs[len(specs)-1].key
			specs = append(specs, taskSpec{key: "security", title: "Security review", agent: "security", dependsOn: []string{last}, commands: []string{"echo security"}})
		}
		return specs, "website template: plan then design then frontend, with optional donation and security steps"

	case "dashboard":
		specs := []taskSpec{
			{key: "plan", title: "Plan dashboard", agent: "manager", commands: []string{"echo plan"}},
			{key: "backend", title: "Build backend API", agent: "backend", dependsOn: []string{"plan"}, commands: []string{"echo backend"}},
			{key: "frontend", title: "Build dashboard frontend", agent: "frontend", dependsOn: []string{"backend"}, commands: []string{"echo frontend"}},
		}
		return specs, "dashboard template: plan then backend API then frontend"

	case "fullstack":
		specs := []taskSpec{
			{key: "plan", title: "Plan fullstack project", agent: "manager", commands: []string{"echo plan"}},
			{key: "design", title: "Design product", agent: "designer", dependsOn: []string{"plan"}, commands: []string{"echo design"}},
			{key: "backend", title: "Build backend", agent: "backend", dependsOn: []string{"plan"}, commands: []string{"echo backend"}},
			{key: "frontend", title: "Build frontend", agent: "frontend", dependsOn: []string{"design", "backend"}, commands: []string{"echo frontend"}},
			{key: "security", title: "Security review", agent: "security", dependsOn: []string{"backend"}, commands: []string{"echo security"}},
			{key: "deploy", title: "Deploy", agent: "deploy", dependsOn: []string{"frontend", "security"}, commands: []string{"echo deploy"}},
		}
		return specs, "fullstack template: plan then parallel design/backend, frontend waits on both, security follows backend, deploy waits on frontend and security"

	case "brainstorm":
		ideaAgents := []string{"researcher", "strategist", "analyst"}
		ideaCount := ideaCountFromDirective(d, len(ideaAgents))
		specs := []taskSpec{
			{key: "plan", title: "Frame brainstorm", agent: "manager", commands: []string{"echo plan"}},
		}
		var ideaKeys []string
		for i := 0; i < ideaCount; i++ {
			agent := ideaAgents[i%len(ideaAgents)]
			key := fmt.Sprintf("idea_%d", i+1)
			specs = append(specs, taskSpec{
				key:       key,
				title:     fmt.Sprintf("Idea %d (%s perspective)", i+1, agent),
				agent:     agent,
				dependsOn: []string{"plan"},
				commands:  []string{"echo idea"},
			})
			ideaKeys = append(ideaKeys, key)
		}
		specs = append(specs, taskSpec{key: "synthesis", title: "Synthesize ideas", agent: "manager", dependsOn: ideaKeys, commands: []string{"echo synthesis"}})
		return specs, fmt.Sprintf("brainstorm template: plan then %d parallel idea tasks then synthesis", ideaCount)

	default:
		specs := []taskSpec{
			{key: "plan", title: "Plan", agent: "manager", commands: []string{"echo plan"}},
			{key: "execute", title: "Execute", agent: "backend", dependsOn: []string{"plan"}, commands: []string{"echo execute"}},
		}
		return specs, "generic template: plan then execute"
	}
}

func containsFeature(features []string, name string) bool {
	for _, f := range features {
		if f == name {
			return true
		}
	}
	return false
}

// ideaCountFromDirective extracts a requested idea count ("3 ideas") from
// the directive text, defaulting to min(3, len(agents)).
func ideaCountFromDirective(lowerDirective string, maxAgents int) int {
	fields := strings.Fields(lowerDirective)
	for i, f := range fields {
		n := 0
		if _, err := fmt.Sscanf(f, "%d", &n); err == nil && n > 0 {
			if i+1 < len(fields) && strings.HasPrefix(fields[i+1], "idea") {
				if n > maxAgents {
					return maxAgents
				}
				return n
			}
		}
	}
	if 3 <= maxAgents {
		return 3
	}
	return maxAgents
}

// perAgentBreakdown sums estimated minutes per assigned agent.
func perAgentBreakdown(tasks []*model.Task) map[string]int {
	out := make(map[string]int)
	for _, t := range tasks {
		out[t.Agent] += t.Estimated
	}
	return out
}

// estimatedParallelDuration is the longest-path duration over the
// dependency DAG, treating each agent as a single serialized resource:
// a task cannot start before its dependencies finish, nor before the
// previous task assigned to the same agent finishes.
func estimatedParallelDuration(tasks []*model.Task) int {
	finish := make(map[string]int, len(tasks))
	agentFree := make(map[string]int)

	// process in dependency order (topological by repeated relaxation;
	// task sets here are small fixed templates, so a fixed-point loop is
	// simpler than a full topo sort and still deterministic).
	remaining := append([]*model.Task(nil), tasks...)
	for len(remaining) > 0 {
		progressed := false
		var next []*model.Task
		for _, t := range remaining {
			ready := true
			depFinish := 0
			for _, depID := range t.DependsOn {
				f, ok := finish[depID]
				if !ok {
					ready = false
					break
				}
				if f > depFinish {
					depFinish = f
				}
			}
			if !ready {
				next = append(next, t)
				continue
			}
			start := depFinish
			if agentFree[t.Agent] > start {
				start = agentFree[t.Agent]
			}
			end := start + t.Estimated
			finish[t.ID] = end
			agentFree[t.Agent] = end
			progressed = true
		}
		if !progressed && len(next) > 0 {
			// Shouldn't happen for an acyclic DAG; break to avoid an
			// infinite loop if it ever does.
			break
		}
		remaining = next
	}

	max := 0
	for _, f := range finish {
		if f > max {
			max = f
		}
	}
	return max
}
