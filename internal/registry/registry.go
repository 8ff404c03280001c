// Package registry indexes the entity lifecycle and gate configuration loaded
// at startup. A Registry is immutable and safe for concurrent use.
package registry

import (
	"fmt"
	"sort"
	"time"

	"gateflow/internal/config"
	"gateflow/internal/domain"
)

// ConfigNotFoundError reports a lookup for an entity type, stage or gate that
// is not configured.
type ConfigNotFoundError struct {
	EntityType string
	StageID    string
	GateID     string
}

func (e ConfigNotFoundError) Error() string {
	switch {
	case e.GateID != "":
		return fmt.Sprintf("gate %s is not configured", e.GateID)
	case e.StageID != "":
		return fmt.Sprintf("no gate is configured for %s stage %s", e.EntityType, e.StageID)
	default:
		return fmt.Sprintf("entity type %s is not configured", e.EntityType)
	}
}

type StageDefinition struct {
	ID       string `json:"id"`
	Label    string `json:"label,omitempty"`
	GateID   string `json:"gate_id,omitempty"`
	Next     string `json:"next,omitempty"`
	Terminal bool   `json:"terminal"`
}

type EntityType struct {
	Name   string            `json:"name"`
	Label  string            `json:"label,omitempty"`
	Stages []StageDefinition `json:"stages"`
	index  map[string]int
}

// Stage returns the named stage definition.
func (t *EntityType) Stage(id string) (StageDefinition, bool) {
	i, ok := t.index[id]
	if !ok {
		return StageDefinition{}, false
	}
	return t.Stages[i], true
}

// Initial returns the first stage of the lifecycle.
func (t *EntityType) Initial() StageDefinition {
	return t.Stages[0]
}

type EscalationPolicy struct {
	Policy     string          `json:"policy"`
	Thresholds []time.Duration `json:"thresholds"`
}

// TopLevel is the highest escalation level the policy can reach.
func (p EscalationPolicy) TopLevel() int { return len(p.Thresholds) }

// LevelAt returns the number of thresholds crossed at now for a gate due at due.
// A threshold is crossed once now is strictly after due+threshold.
func (p EscalationPolicy) LevelAt(due time.Time, now time.Time) int {
	level := 0
	for _, th := range p.Thresholds {
		if now.After(due.Add(th)) {
			level++
		}
	}
	return level
}

type GateDefinition struct {
	ID                string                     `json:"id"`
	Label             string                     `json:"label,omitempty"`
	SelfCheck         []config.ChecklistItem     `json:"self_check"`
	ReviewerChecklist []config.ChecklistItem     `json:"reviewer_checklist"`
	SelfCheckRequired bool                       `json:"self_check_required"`
	Enforced          bool                       `json:"enforced"`
	SLA               time.Duration              `json:"sla"`
	Escalation        EscalationPolicy           `json:"escalation"`
	Decisions         map[domain.Decision]string `json:"decisions"`
	ReviewerRole      string                     `json:"reviewer_role,omitempty"`
	Advisory          bool                       `json:"advisory"`
}

// Allows reports whether d is one of the gate's configured decisions.
func (g GateDefinition) Allows(d domain.Decision) bool {
	_, ok := g.Decisions[d]
	return ok
}

// AllowedDecisions returns the configured decisions in sorted order.
func (g GateDefinition) AllowedDecisions() []string {
	out := make([]string, 0, len(g.Decisions))
	for d := range g.Decisions {
		out = append(out, string(d))
	}
	sort.Strings(out)
	return out
}

// MissingSelfCheck lists required self-check items not answered in answers.
func (g GateDefinition) MissingSelfCheck(answers domain.Answers) []string {
	var missing []string
	for _, it := range g.SelfCheck {
		if !it.Required {
			continue
		}
		if a, ok := answers[it.ID]; !ok || !a.Answered() {
			missing = append(missing, it.ID)
		}
	}
	return missing
}

// DueAt computes the deadline of a gate opened at openedAt, nil without SLA.
func (g GateDefinition) DueAt(openedAt time.Time) *time.Time {
	if g.SLA <= 0 {
		return nil
	}
	due := openedAt.Add(g.SLA)
	return &due
}

type Registry struct {
	types map[string]*EntityType
	gates map[string]*GateDefinition
	order []string
}

// New validates cfg and builds the registry.
func New(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("registry config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		types: make(map[string]*EntityType, len(cfg.EntityTypes)),
		gates: make(map[string]*GateDefinition, len(cfg.Gates)),
	}
	for id, g := range cfg.Gates {
		r.gates[id] = buildGate(id, g)
	}
	for _, et := range cfg.EntityTypes {
		t := &EntityType{Name: et.Name, Label: et.Label, index: map[string]int{}}
		for i, st := range et.Stages {
			t.Stages = append(t.Stages, StageDefinition{
				ID:       st.ID,
				Label:    st.Label,
				GateID:   st.Gate,
				Next:     st.Next,
				Terminal: st.Terminal || (st.Gate == "" && st.Next == ""),
			})
			t.index[st.ID] = i
		}
		r.types[et.Name] = t
		r.order = append(r.order, et.Name)
	}
	return r, nil
}

func buildGate(id string, g config.Gate) *GateDefinition {
	def := &GateDefinition{
		ID:                id,
		Label:             g.Label,
		SelfCheck:         g.SelfCheck,
		ReviewerChecklist: g.ReviewerChecklist,
		SelfCheckRequired: g.SelfCheckRequired,
		Enforced:          g.Enforced,
		SLA:               time.Duration(g.SLADays) * 24 * time.Hour,
		Decisions:         make(map[domain.Decision]string, len(g.Decisions)),
		ReviewerRole:      g.ReviewerRole,
		Advisory:          g.Advisory,
	}
	for d, target := range g.Decisions {
		def.Decisions[domain.Decision(d)] = target
	}
	policy := g.Escalation.Policy
	if policy == "" {
		policy = config.EscalationNone
	}
	def.Escalation.Policy = policy
	switch policy {
	case config.EscalationSingleLevel:
		def.Escalation.Thresholds = []time.Duration{0}
	case config.EscalationMultiLevel:
		for _, d := range g.Escalation.ThresholdsDays {
			def.Escalation.Thresholds = append(def.Escalation.Thresholds, time.Duration(d)*24*time.Hour)
		}
	}
	return def
}

// EntityTypes returns entity types in configuration order.
func (r *Registry) EntityTypes() []*EntityType {
	out := make([]*EntityType, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.types[name])
	}
	return out
}

func (r *Registry) EntityType(name string) (*EntityType, error) {
	t, ok := r.types[name]
	if !ok {
		return nil, ConfigNotFoundError{EntityType: name}
	}
	return t, nil
}

// Stage returns the stage definition of an entity type.
func (r *Registry) Stage(entityType, stageID string) (StageDefinition, error) {
	t, err := r.EntityType(entityType)
	if err != nil {
		return StageDefinition{}, err
	}
	st, ok := t.Stage(stageID)
	if !ok {
		return StageDefinition{}, ConfigNotFoundError{EntityType: entityType, StageID: stageID}
	}
	return st, nil
}

// GetGate returns the gate required to leave stageID. It fails with
// ConfigNotFoundError when no gate is registered for that stage.
func (r *Registry) GetGate(entityType, stageID string) (GateDefinition, error) {
	st, err := r.Stage(entityType, stageID)
	if err != nil {
		return GateDefinition{}, err
	}
	if st.GateID == "" {
		return GateDefinition{}, ConfigNotFoundError{EntityType: entityType, StageID: stageID}
	}
	return r.Gate(st.GateID)
}

// Gate returns a gate definition by id.
func (r *Registry) Gate(id string) (GateDefinition, error) {
	g, ok := r.gates[id]
	if !ok {
		return GateDefinition{}, ConfigNotFoundError{GateID: id}
	}
	return *g, nil
}

// GatedStages lists every (entity type, stage) pair that has a gate.
func (r *Registry) GatedStages() [][2]string {
	var out [][2]string
	for _, name := range r.order {
		for _, st := range r.types[name].Stages {
			if st.GateID != "" {
				out = append(out, [2]string{name, st.ID})
			}
		}
	}
	return out
}
