package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Decision is the terminal outcome of a gate, e.g. approved or rejected.
// The allowed set is configured per gate.
type Decision string

type WorkflowStatus string

const (
	WorkflowActive    WorkflowStatus = "active"
	WorkflowCompleted WorkflowStatus = "completed"
)

type GateStatus string

const (
	GateOpen     GateStatus = "open"
	GateResolved GateStatus = "resolved"
)

// WorkflowInstance binds one entity record to its current lifecycle stage.
type WorkflowInstance struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Stage      string         `json:"stage"`
	Status     WorkflowStatus `json:"status" enum:"active,completed"`
	OwnerID    string         `json:"owner_id"`
	OpenGateID *string        `json:"open_gate_id,omitempty"`
	Version    int64          `json:"version"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Answer is a single checklist answer. An item counts as answered when it is
// ticked or carries a non-blank value.
type Answer struct {
	Done  bool   `json:"done"`
	Value string `json:"value,omitempty"`
}

func (a Answer) Answered() bool {
	return a.Done || strings.TrimSpace(a.Value) != ""
}

// Answers maps checklist item id to its answer.
type Answers map[string]Answer

// Advisory is informational output from the advisory service. It is attached
// to a gate for display only.
type Advisory struct {
	Available   bool               `json:"available"`
	Role        string             `json:"role,omitempty"`
	Summary     string             `json:"summary,omitempty"`
	Suggestions []string           `json:"suggestions,omitempty"`
	Scores      map[string]float64 `json:"scores,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Source      string             `json:"source,omitempty"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// GateInstance is one opening of a gate for one entity. Once a decision is
// recorded the instance is archived and never mutated again.
type GateInstance struct {
	ID              string     `json:"id"`
	EntityType      string     `json:"entity_type"`
	EntityID        string     `json:"entity_id"`
	GateID          string     `json:"gate_id"`
	Stage           string     `json:"stage"`
	RequesterID     string     `json:"requester_id"`
	ReviewerRole    string     `json:"reviewer_role,omitempty"`
	Status          GateStatus `json:"status" enum:"open,resolved"`
	OpenedAt        time.Time  `json:"opened_at"`
	DueAt           *time.Time `json:"due_at,omitempty"`
	EscalationLevel int        `json:"escalation_level"`
	SelfCheck       Answers    `json:"self_check"`
	Reviewer        Answers    `json:"reviewer"`
	Advisory        *Advisory  `json:"advisory,omitempty"`
	Decision        *Decision  `json:"decision,omitempty"`
	DecidedBy       string     `json:"decided_by,omitempty"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	Comment         string     `json:"comment,omitempty"`
	NextStage       string     `json:"next_stage,omitempty"`
}

func (g GateInstance) IsOpen() bool { return g.Status == GateOpen }

// Overdue reports whether the gate is still open past its deadline.
func (g GateInstance) Overdue(now time.Time) bool {
	return g.IsOpen() && g.DueAt != nil && now.After(*g.DueAt)
}

type EventKind string

const (
	EventEnrolled         EventKind = "workflow.enrolled"
	EventStageEntered     EventKind = "workflow.stage_entered"
	EventGateOpened       EventKind = "gate.opened"
	EventSelfCheckUpdated EventKind = "gate.self_check_updated"
	EventDecisionRecorded EventKind = "gate.decision_recorded"
	EventEscalated        EventKind = "gate.escalated"
	EventLeadershipAlert  EventKind = "gate.leadership_alert"
)

// AuditEvent is an immutable record in the activity log.
type AuditEvent struct {
	ID             int64           `json:"id"`
	TS             time.Time       `json:"ts"`
	Kind           EventKind       `json:"kind"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	GateInstanceID string          `json:"gate_instance_id,omitempty"`
	ActorID        string          `json:"actor_id"`
	Payload        json.RawMessage `json:"payload"`
}
