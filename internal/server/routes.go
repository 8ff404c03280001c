package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"gateflow/internal/config"
	"gateflow/internal/domain"
	"gateflow/internal/engine"
	"gateflow/internal/queue"
	"gateflow/internal/registry"
	"gateflow/internal/repo"
	"gateflow/internal/sla"
)

type output[T any] struct {
	Body T `json:"body"`
}

func respond[T any](v T) *output[T] {
	return &output[T]{Body: v}
}

// EntityPath binds {entity_type}/{entity_id}. huma only binds embedded
// structs whose type is exported.
type EntityPath struct {
	EntityType string `path:"entity_type"`
	EntityID   string `path:"entity_id"`
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*output[map[string]string], error) {
		return respond(map[string]string{"status": "ok"}), nil
	})
}

func registerRegistry(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-registry",
		Method:      http.MethodGet,
		Path:        "/registry",
		Summary:     "Entity types, stages and gate definitions",
		Description: "Webhook secrets are never returned.",
	}, func(ctx context.Context, _ *struct{}) (*output[*config.Config], error) {
		if cfg.RegistryConfig == nil {
			return nil, newAPIError(http.StatusNotFound, "config_not_found", "registry config not loaded", nil)
		}
		return respond(cfg.RegistryConfig.Redacted()), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-maturity",
		Method:      http.MethodGet,
		Path:        "/registry/maturity",
		Summary:     "Derived maturity score of every gate",
	}, func(ctx context.Context, _ *struct{}) (*output[[]registry.MaturityReport], error) {
		return respond(cfg.Engine.Registry.Maturity()), nil
	})
}

func registerWorkflows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "enroll",
		Method:        http.MethodPost,
		Path:          "/workflows",
		Summary:       "Enroll an entity in its lifecycle",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body EnrollRequest `json:"body"`
	}) (*output[domain.WorkflowInstance], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		wf, err := e.Enroll(ctx, engine.EnrollOptions{
			EntityType: input.Body.EntityType,
			EntityID:   input.Body.EntityID,
			OwnerID:    input.Body.OwnerID,
			Stage:      input.Body.Stage,
			ActorID:    actor.ID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(wf), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/workflows",
		Summary:     "List workflows, most recently updated first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EntityType string `query:"entity_type"`
		Stage      string `query:"stage"`
		Status     string `query:"status" doc:"active or completed"`
		Limit      int    `query:"limit" default:"50"`
	}) (*output[[]domain.WorkflowInstance], error) {
		items, err := e.List(ctx, repo.WorkflowFilters{
			EntityType: input.EntityType,
			Stage:      input.Stage,
			Status:     input.Status,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.WorkflowInstance{}
		}
		return respond(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/workflows/{entity_type}/{entity_id}",
		Summary:     "Get workflow",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *EntityPath) (*output[domain.WorkflowInstance], error) {
		wf, err := e.Get(ctx, input.EntityType, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(wf), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition",
		Method:      http.MethodPost,
		Path:        "/workflows/{entity_type}/{entity_id}/transition",
		Summary:     "Leave a gate-less stage for its successor",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		EntityPath
		Body VersionedRequest `json:"body" required:"false"`
	}) (*output[domain.WorkflowInstance], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		wf, err := e.Transition(ctx, engine.TransitionOptions{
			EntityType:      input.EntityType,
			EntityID:        input.EntityID,
			Actor:           actor,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(wf), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workflow-history",
		Method:      http.MethodGet,
		Path:        "/workflows/{entity_type}/{entity_id}/history",
		Summary:     "Gate instances and events of an entity",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *EntityPath) (*output[HistoryResponse], error) {
		wf, err := e.Get(ctx, input.EntityType, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		gates, err := e.History(ctx, input.EntityType, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		evts, err := e.AuditTrail(ctx, input.EntityType, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		if gates == nil {
			gates = []domain.GateInstance{}
		}
		return respond(HistoryResponse{Workflow: wf, Gates: gates, Events: eventResponses(evts)}), nil
	})
}

func registerGates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "open-gate",
		Method:        http.MethodPost,
		Path:          "/workflows/{entity_type}/{entity_id}/gate",
		Summary:       "Open the gate of the current stage",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		EntityPath
		Body VersionedRequest `json:"body" required:"false"`
	}) (*output[domain.GateInstance], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		gi, err := e.OpenGate(ctx, engine.OpenGateOptions{
			EntityType:      input.EntityType,
			EntityID:        input.EntityID,
			Actor:           actor,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(gi), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-open-gate",
		Method:      http.MethodGet,
		Path:        "/workflows/{entity_type}/{entity_id}/gate",
		Summary:     "Get the open gate of an entity",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *EntityPath) (*output[domain.GateInstance], error) {
		gi, err := e.OpenGateFor(ctx, input.EntityType, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(gi), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-self-check",
		Method:      http.MethodPut,
		Path:        "/workflows/{entity_type}/{entity_id}/gate/self-check",
		Summary:     "Replace the requester's self-check answers",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		EntityPath
		Body SelfCheckRequest `json:"body"`
	}) (*output[domain.GateInstance], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		gi, err := e.SubmitSelfCheck(ctx, engine.SelfCheckOptions{
			EntityType:      input.EntityType,
			EntityID:        input.EntityID,
			Actor:           actor,
			Answers:         input.Body.Answers,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(gi), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-review",
		Method:      http.MethodPost,
		Path:        "/workflows/{entity_type}/{entity_id}/gate/review",
		Summary:     "Submit the reviewer checklist and decision",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		EntityPath
		Body ReviewRequest `json:"body"`
	}) (*output[engine.ReviewResult], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SubmitReviewerChecklist(ctx, engine.ReviewOptions{
			EntityType:      input.EntityType,
			EntityID:        input.EntityID,
			Actor:           actor,
			Answers:         input.Body.Answers,
			Decision:        domain.Decision(input.Body.Decision),
			Comment:         input.Body.Comment,
			ExpectedVersion: input.Body.ExpectedVersion,
			GateInstanceID:  input.Body.GateInstanceID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-advisory",
		Method:      http.MethodPost,
		Path:        "/workflows/{entity_type}/{entity_id}/gate/advisory",
		Summary:     "Ask the advisory service about the open gate",
		Description: "Never fails because of the advisory service; an unavailable result is returned instead.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		EntityPath
		Body AdvisoryRequest `json:"body"`
	}) (*output[domain.Advisory], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		adv, err := e.RequestAdvisory(ctx, engine.AdvisoryOptions{
			EntityType: input.EntityType,
			EntityID:   input.EntityID,
			Role:       input.Body.Role,
			Actor:      actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(adv), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-gate-instance",
		Method:      http.MethodGet,
		Path:        "/gates/{gate_instance_id}",
		Summary:     "Get a gate instance, open or archived",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GateInstanceID string `path:"gate_instance_id"`
	}) (*output[domain.GateInstance], error) {
		gi, err := e.GateInstance(ctx, input.GateInstanceID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(gi), nil
	})
}

func registerQueue(api huma.API, p queue.Projector) {
	huma.Register(api, huma.Operation{
		OperationID: "approval-queue",
		Method:      http.MethodGet,
		Path:        "/queue",
		Summary:     "Open gates, most urgent first",
	}, func(ctx context.Context, input *struct {
		EntityType   string `query:"entity_type"`
		ReviewerRole string `query:"reviewer_role"`
		OverdueOnly  bool   `query:"overdue_only"`
	}) (*output[[]queue.Item], error) {
		items, err := p.ListOpenGates(ctx, queue.Filter{
			EntityType:   input.EntityType,
			ReviewerRole: input.ReviewerRole,
			OverdueOnly:  input.OverdueOnly,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(items), nil
	})
}

func registerSLA(api huma.API, s sla.Sweeper) {
	huma.Register(api, huma.Operation{
		OperationID: "sla-sweep",
		Method:      http.MethodPost,
		Path:        "/sla/sweep",
		Summary:     "Run one SLA escalation sweep",
	}, func(ctx context.Context, _ *struct{}) (*output[sla.Report], error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		report, err := s.Sweep(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(report), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		EntityType string `query:"entity_type"`
		EntityID   string `query:"entity_id"`
		Kind       string `query:"kind"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*output[paginatedEvents], error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.ListEvents(ctx, repo.EventFilters{
			EntityType: input.EntityType,
			EntityID:   input.EntityID,
			Kind:       input.Kind,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{}
		if len(items) > limit {
			// items are newest first; the cursor is exclusive
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		resp.Items = eventResponses(items)
		return respond(resp), nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}
