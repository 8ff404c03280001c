package server

import (
	"encoding/json"

	"gateflow/internal/domain"
	"gateflow/internal/repo"
)

// Request payloads

type EnrollRequest struct {
	EntityType string `json:"entity_type" minLength:"1"`
	EntityID   string `json:"entity_id" minLength:"1"`
	OwnerID    string `json:"owner_id,omitempty" doc:"Defaults to the calling actor"`
	Stage      string `json:"stage,omitempty" doc:"Defaults to the first stage of the entity type"`
}

type VersionedRequest struct {
	ExpectedVersion int64 `json:"expected_version,omitempty" doc:"Reject with stale_write_conflict unless the workflow is at this version"`
}

type SelfCheckRequest struct {
	Answers         domain.Answers `json:"answers"`
	ExpectedVersion int64          `json:"expected_version,omitempty"`
}

type ReviewRequest struct {
	Answers         domain.Answers `json:"answers,omitempty"`
	Decision        string         `json:"decision" minLength:"1"`
	Comment         string         `json:"comment,omitempty"`
	ExpectedVersion int64          `json:"expected_version,omitempty"`
	GateInstanceID  string         `json:"gate_instance_id,omitempty" doc:"Gate instance being decided; a resolved instance yields stale_write_conflict"`
}

type AdvisoryRequest struct {
	Role string `json:"role" enum:"requester,reviewer"`
}

// Response payloads

type EventResponse struct {
	ID             int64          `json:"id"`
	TS             string         `json:"ts" format:"date-time"`
	Kind           string         `json:"kind"`
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id"`
	GateInstanceID string         `json:"gate_instance_id,omitempty"`
	ActorID        string         `json:"actor_id"`
	Payload        map[string]any `json:"payload"`
}

type HistoryResponse struct {
	Workflow domain.WorkflowInstance `json:"workflow"`
	Gates    []domain.GateInstance   `json:"gates"`
	Events   []EventResponse         `json:"events"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(evt domain.AuditEvent) EventResponse {
	payload := map[string]any{}
	if len(evt.Payload) > 0 {
		_ = json.Unmarshal(evt.Payload, &payload)
	}
	return EventResponse{
		ID:             evt.ID,
		TS:             repo.FormatTime(evt.TS),
		Kind:           string(evt.Kind),
		EntityType:     evt.EntityType,
		EntityID:       evt.EntityID,
		GateInstanceID: evt.GateInstanceID,
		ActorID:        evt.ActorID,
		Payload:        payload,
	}
}

func eventResponses(items []domain.AuditEvent) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, evt := range items {
		out = append(out, eventResponse(evt))
	}
	return out
}
