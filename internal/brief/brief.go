// Package brief implements the Brief Manager of spec §4.2: it turns a raw
// directive into a finalized brief through a deterministic clarifying
// question loop. The question set for a given directive never changes
// across calls — no randomness, no external classifier.
package brief

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/opsdeck/foreman/internal/agent"
	"github.com/opsdeck/foreman/internal/clock"
	"github.com/opsdeck/foreman/internal/model"
)

const reassignPrefix = "reassign to "

// ProjectKind is the deterministic classification of a directive.
type ProjectKind string

const (
	KindWebsite    ProjectKind = "website"
	KindDashboard  ProjectKind = "dashboard"
	KindFullstack  ProjectKind = "fullstack"
	KindBrainstorm ProjectKind = "brainstorm"
	KindGeneric    ProjectKind = "generic"
)

// expectedRoles lists the agent roles a template normally dispatches to,
// used to detect an agent_mismatch: a directive naming a role outside this
// set for its classified kind triggers the clarifying question.
var expectedRoles = map[ProjectKind]map[string]bool{
	KindWebsite:    {"manager": true, "designer": true, "frontend": true, "backend": true, "security": true},
	KindDashboard:  {"manager": true, "backend": true, "frontend": true},
	KindFullstack:  {"manager": true, "designer": true, "backend": true, "frontend": true, "security": true, "deploy": true},
	KindBrainstorm: {"manager": true, "researcher": true, "strategist": true, "analyst": true},
	KindGeneric:    {"manager": true},
}

var (
	extensionRE = regexp.MustCompile(`\b[\w-]+\.(md|html|css|js|ts|go|py|json|yaml|yml|txt)\b`)
	deadlineRE  = regexp.MustCompile(`(?i)\bby\s+([a-zA-Z]+\s+\d{1,2}(?:st|nd|rd|th)?|\d{4}-\d{2}-\d{2})\b`)
)

// Manager holds in-flight briefs and runs the clarification pipeline.
type Manager struct {
	clock    clock.Clock
	registry *agent.Registry

	mu     sync.RWMutex
	briefs map[string]*model.Brief
}

// New returns an empty Manager. registry supplies the agent names scanned
// for in detectAgentMismatch/applyAgentMismatchResolution.
func New(c clock.Clock, registry *agent.Registry) *Manager {
	return &Manager{clock: c, registry: registry, briefs: make(map[string]*model.Brief)}
}

// Analyze classifies the directive, extracts known facts and assumptions,
// computes the clarifying question set, and stores a new Brief in
// awaiting_responses.
func (m *Manager) Analyze(directive, submitter string) (*model.Brief, error) {
	directive = strings.TrimSpace(directive)
	if directive == "" {
		return nil, model.NewError(model.InvalidInput, "directive must not be empty", nil)
	}

	kind := classify(directive)
	knownFacts := extractKnownFacts(directive)
	assumptions := map[string]string{"scope": "prototype", "timeline": "standard"}
	mismatchAgent, mismatch := detectAgentMismatch(directive, kind, m.registry)

	questions := clarifyingQuestions(kind, mismatch)

	b := &model.Brief{
		ID:          uuid.New().String(),
		Directive:   directive,
		Submitter:   submitter,
		Status:      model.BriefAwaitingResponses,
		KnownFacts:  knownFacts,
		Assumptions: assumptions,
		Questions:   questions,
		Responses:   make(map[string]model.Response),
		Complexity:  complexityOf(directive),
	}
	if mismatch {
		b.KnownFacts["mentionedAgent"] = mismatchAgent
	}

	m.mu.Lock()
	m.briefs[b.ID] = b
	m.mu.Unlock()
	return b.Clone(), nil
}

// Get returns a snapshot of the brief.
func (m *Manager) Get(id string) (*model.Brief, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.briefs[id]
	if !ok {
		return nil, model.NewError(model.InvalidInput, fmt.Sprintf("brief %q not found", id), nil)
	}
	return b.Clone(), nil
}

// RecordResponse stores a response to a clarifying question and recomputes
// status: ready_for_approval once every required question is answered.
func (m *Manager) RecordResponse(briefID, questionID, response string) (*model.Brief, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.briefs[briefID]
	if !ok {
		return nil, model.NewError(model.InvalidInput, fmt.Sprintf("brief %q not found", briefID), nil)
	}
	found := false
	for _, q := range b.Questions {
		if q.ID == questionID {
			found = true
			break
		}
	}
	if !found {
		return nil, model.NewError(model.InvalidInput, fmt.Sprintf("brief %q has no question %q", briefID, questionID), nil)
	}

	b.Responses[questionID] = model.Response{Value: response, Timestamp: m.clock.Now()}
	if len(b.UnresolvedRequired()) == 0 && b.Status == model.BriefAwaitingResponses {
		b.Status = model.BriefReadyForApproval
	}
	return b.Clone(), nil
}

// Finalize produces the finalized brief. Fails with Unresolved if any
// required clarifier lacks a response.
func (m *Manager) Finalize(briefID string) (*model.Brief, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.briefs[briefID]
	if !ok {
		return nil, model.NewError(model.InvalidInput, fmt.Sprintf("brief %q not found", briefID), nil)
	}
	if unresolved := b.UnresolvedRequired(); len(unresolved) > 0 {
		return nil, model.NewError(model.Unresolved, fmt.Sprintf("brief %q has unanswered required questions: %s", briefID, strings.Join(unresolved, ", ")), nil)
	}

	kind := classify(b.Directive)
	requestedAgent, agentExplicit := applyAgentMismatchResolution(b, m.registry)

	scope := assumptionOrResponse(b, "scope")
	timeline := assumptionOrResponse(b, "timeline")
	targetUsers := ""
	if r, ok := b.Responses["target_users"]; ok {
		targetUsers = r.Value
	}

	finalized := &model.FinalizedBrief{
		Directive:       b.Directive,
		ProjectKind:     string(kind),
		Scope:           scope,
		Timeline:        timeline,
		KeyFeatures:     keyFeatures(b.Directive),
		TargetUsers:     targetUsers,
		SuggestedAgents: suggestedAgents(kind),
		RequestedAgent:  requestedAgent,
		AgentExplicit:   agentExplicit,
	}
	b.Finalized = finalized
	b.Status = model.BriefApproved
	return b.Clone(), nil
}

// classify maps a directive to a project kind by keyword pattern matching,
// in a fixed priority order so the result never depends on map iteration.
func classify(directive string) ProjectKind {
	d := strings.ToLower(directive)
	switch {
	case containsAny(d, "brainstorm", "ideas about", "ideas for", "bring me", "ideas on"):
		return KindBrainstorm
	case containsAny(d, "dashboard", "admin panel", "admin console"):
		return KindDashboard
	case containsAny(d, "fullstack", "full-stack", "full stack", "platform"):
		return KindFullstack
	case containsAny(d, "landing page", "website", "web page", "webpage", "site for"):
		return KindWebsite
	default:
		return KindGeneric
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func extractKnownFacts(directive string) map[string]string {
	facts := make(map[string]string)
	if m := extensionRE.FindString(directive); m != "" {
		facts["mentionedFile"] = m
	}
	if m := deadlineRE.FindStringSubmatch(directive); len(m) == 2 {
		facts["deadline"] = m[1]
	}
	return facts
}

// detectAgentMismatch reports whether the directive names an agent role
// outside the set a template for kind normally dispatches to. The roles
// scanned for come from registry (every name in the fixed roster), not a
// hand-duplicated list, so a new agent added to the roster is picked up
// here automatically.
func detectAgentMismatch(directive string, kind ProjectKind, registry *agent.Registry) (string, bool) {
	d := strings.ToLower(directive)
	expected := expectedRoles[kind]
	for _, role := range registryRoleNames(registry) {
		if !regexp.MustCompile(`\b` + role + `\b`).MatchString(d) {
			continue
		}
		if !expected[role] {
			return role, true
		}
	}
	return "", false
}

// registryRoleNames returns every agent name in registry, sorted, or the
// fixed fallback roster if registry is nil (e.g. a Manager built without
// one in a test).
func registryRoleNames(registry *agent.Registry) []string {
	if registry == nil {
		registry = agent.NewRegistry(agent.DefaultRoster())
	}
	names := registry.Names()
	sort.Strings(names)
	return names
}

func clarifyingQuestions(kind ProjectKind, mismatch bool) []model.Question {
	var qs []model.Question
	if mismatch {
		qs = append(qs, model.Question{
			ID:           "agent_mismatch",
			Prompt:       "The directive names an agent whose specialization doesn't match this project. Keep, reassign, or clear the request?",
			Required:     true,
			Priority:     "high",
			ExpectedForm: "text",
		})
	}
	qs = append(qs,
		model.Question{
			ID:           "scope",
			Prompt:       "What scope should this project target?",
			Required:     true,
			Priority:     "high",
			ExpectedForm: "choice",
			Options:      []string{"Basic prototype/MVP", "Full-featured", "Production-ready"},
		},
		model.Question{
			ID:           "timeline",
			Prompt:       "What is the timeline?",
			Required:     true,
			Priority:     "normal",
			ExpectedForm: "choice",
			Options:      []string{"No specific deadline", "Standard (2-4 weeks)", "Urgent (this week)"},
		},
	)
	if kind != KindBrainstorm {
		qs = append(qs, model.Question{
			ID:           "target_users",
			Prompt:       "Who are the target users?",
			Required:     true,
			Priority:     "normal",
			ExpectedForm: "text",
		})
	}
	return qs
}

func assumptionOrResponse(b *model.Brief, questionID string) string {
	if r, ok := b.Responses[questionID]; ok {
		return r.Value
	}
	return b.Assumptions[questionID]
}

func keyFeatures(directive string) []string {
	d := strings.ToLower(directive)
	var features []string
	if strings.Contains(d, "donation") {
		features = append(features, "Donation system")
	}
	if strings.Contains(d, "login") || strings.Contains(d, "auth") {
		features = append(features, "Authentication")
	}
	if strings.Contains(d, "search") {
		features = append(features, "Search")
	}
	sort.Strings(features)
	return features
}

func suggestedAgents(kind ProjectKind) []string {
	roles := expectedRoles[kind]
	out := make([]string, 0, len(roles))
	for r := range roles {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func complexityOf(directive string) string {
	words := len(strings.Fields(directive))
	switch {
	case words > 25:
		return "complex"
	case words > 12:
		return "moderate"
	default:
		return "simple"
	}
}

// applyAgentMismatchResolution reads the agent_mismatch response (if any)
// and deterministically normalizes it to a requested agent + explicit flag.
// Recognized forms: "Reassign to <Name>[, <Name>...]" keeps the first named
// candidate, provided registry recognizes it; "Clear" drops the request;
// anything else (including "Keep original" or no response at all) keeps
// whatever agent the directive originally named.
func applyAgentMismatchResolution(b *model.Brief, registry *agent.Registry) (requestedAgent string, agentExplicit bool) {
	original := b.KnownFacts["mentionedAgent"]
	r, ok := b.Responses["agent_mismatch"]
	if !ok {
		if original != "" {
			return original, true
		}
		return "", false
	}

	v := strings.TrimSpace(r.Value)
	lower := strings.ToLower(v)
	switch {
	case strings.HasPrefix(lower, "clear"):
		return "", false
	case strings.HasPrefix(lower, reassignPrefix):
		rest := v[len(reassignPrefix):]
		if idx := strings.Index(rest, ","); idx >= 0 {
			rest = rest[:idx]
		}
		name := strings.TrimSpace(rest)
		if name == "" || !knownAgent(registry, name) {
			return original, original != ""
		}
		return name, true
	case strings.HasPrefix(lower, "keep"):
		return original, original != ""
	default:
		if original != "" {
			return original, true
		}
		return "", false
	}
}

// knownAgent reports whether name is in registry (or the fixed fallback
// roster, if registry is nil).
func knownAgent(registry *agent.Registry, name string) bool {
	if registry == nil {
		registry = agent.NewRegistry(agent.DefaultRoster())
	}
	_, ok := registry.Get(name)
	return ok
}
