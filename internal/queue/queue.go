// Package queue projects open gates into a reviewer work queue.
package queue

import (
	"context"
	"sort"
	"time"

	"gateflow/internal/domain"
	"gateflow/internal/registry"
	"gateflow/internal/repo"
)

type Filter struct {
	EntityType   string
	ReviewerRole string
	OverdueOnly  bool
}

type Item struct {
	GateInstanceID   string     `json:"gate_instance_id"`
	EntityType       string     `json:"entity_type"`
	EntityTypeLabel  string     `json:"entity_type_label,omitempty"`
	EntityID         string     `json:"entity_id"`
	Stage            string     `json:"stage"`
	StageLabel       string     `json:"stage_label,omitempty"`
	GateID           string     `json:"gate_id"`
	GateLabel        string     `json:"gate_label,omitempty"`
	RequesterID      string     `json:"requester_id"`
	ReviewerRole     string     `json:"reviewer_role,omitempty"`
	OpenedAt         time.Time  `json:"opened_at"`
	DueAt            *time.Time `json:"due_at,omitempty"`
	EscalationLevel  int        `json:"escalation_level"`
	Overdue          bool       `json:"overdue"`
	SelfCheckMissing []string   `json:"self_check_missing,omitempty"`
	HasAdvisory      bool       `json:"has_advisory"`
}

type Projector struct {
	Repo     repo.Repo
	Registry *registry.Registry
	Now      func() time.Time
}

func (p Projector) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// ListOpenGates returns the open gates matching f, most urgent first.
func (p Projector) ListOpenGates(ctx context.Context, f Filter) ([]Item, error) {
	gates, err := p.Repo.ListOpenGates(ctx, repo.GateFilters{EntityType: f.EntityType, ReviewerRole: f.ReviewerRole})
	if err != nil {
		return nil, err
	}
	now := p.now()
	items := make([]Item, 0, len(gates))
	for _, g := range gates {
		it := p.project(g, now)
		if f.OverdueOnly && !it.Overdue {
			continue
		}
		items = append(items, it)
	}
	SortUrgent(items)
	return items, nil
}

func (p Projector) project(g domain.GateInstance, now time.Time) Item {
	it := Item{
		GateInstanceID:  g.ID,
		EntityType:      g.EntityType,
		EntityID:        g.EntityID,
		Stage:           g.Stage,
		GateID:          g.GateID,
		RequesterID:     g.RequesterID,
		ReviewerRole:    g.ReviewerRole,
		OpenedAt:        g.OpenedAt,
		DueAt:           g.DueAt,
		EscalationLevel: g.EscalationLevel,
		Overdue:         g.Overdue(now),
		HasAdvisory:     g.Advisory != nil && g.Advisory.Available,
	}
	if et, err := p.Registry.EntityType(g.EntityType); err == nil {
		it.EntityTypeLabel = et.Label
		if st, ok := et.Stage(g.Stage); ok {
			it.StageLabel = st.Label
		}
	}
	if def, err := p.Registry.Gate(g.GateID); err == nil {
		it.GateLabel = def.Label
		it.SelfCheckMissing = def.MissingSelfCheck(g.SelfCheck)
	}
	return it
}

// SortUrgent orders items by escalation level (highest first), then due date
// (earliest first, no deadline last), then opening time and id.
func SortUrgent(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return Less(items[i], items[j])
	})
}

func Less(a, b Item) bool {
	if a.EscalationLevel != b.EscalationLevel {
		return a.EscalationLevel > b.EscalationLevel
	}
	switch {
	case a.DueAt == nil && b.DueAt != nil:
		return false
	case a.DueAt != nil && b.DueAt == nil:
		return true
	case a.DueAt != nil && b.DueAt != nil && !a.DueAt.Equal(*b.DueAt):
		return a.DueAt.Before(*b.DueAt)
	}
	if !a.OpenedAt.Equal(b.OpenedAt) {
		return a.OpenedAt.Before(b.OpenedAt)
	}
	return a.GateInstanceID < b.GateInstanceID
}
