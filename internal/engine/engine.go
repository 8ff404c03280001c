package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"gateflow/internal/advisory"
	"gateflow/internal/config"
	"gateflow/internal/db"
	"gateflow/internal/domain"
	"gateflow/internal/events"
	"gateflow/internal/metrics"
	"gateflow/internal/registry"
	"gateflow/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Registry *registry.Registry
	Advisor  *advisory.Hook
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, reg *registry.Registry, hook *advisory.Hook, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if hook == nil {
		hook = &advisory.Hook{Advisor: advisory.Disabled{}, Logger: logger}
	}
	return Engine{
		DB:       conn,
		Repo:     repo.Repo{DB: conn, Dialect: dialect},
		Events:   events.Writer{Dialect: dialect},
		Registry: reg,
		Advisor:  hook,
		Logger:   logger,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Actor identifies the caller of a mutation.
type Actor struct {
	ID    string
	Roles []string
}

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type EnrollOptions struct {
	EntityType string
	EntityID   string
	OwnerID    string
	// Stage defaults to the first stage of the entity type.
	Stage   string
	ActorID string
}

// Enroll starts tracking an entity at the first (or given) stage of its lifecycle.
func (e Engine) Enroll(ctx context.Context, opts EnrollOptions) (domain.WorkflowInstance, error) {
	if opts.EntityType == "" || opts.EntityID == "" {
		return domain.WorkflowInstance{}, newError(KindValidation, opts.EntityType, opts.EntityID, "entity type and id are required")
	}
	if opts.OwnerID == "" {
		opts.OwnerID = opts.ActorID
	}
	if opts.OwnerID == "" {
		return domain.WorkflowInstance{}, newError(KindValidation, opts.EntityType, opts.EntityID, "owner is required")
	}
	et, err := e.Registry.EntityType(opts.EntityType)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	st := et.Initial()
	if opts.Stage != "" {
		s, ok := et.Stage(opts.Stage)
		if !ok {
			return domain.WorkflowInstance{}, registry.ConfigNotFoundError{EntityType: opts.EntityType, StageID: opts.Stage}
		}
		st = s
	}
	if _, err := e.Repo.GetWorkflow(ctx, opts.EntityType, opts.EntityID); err == nil {
		return domain.WorkflowInstance{}, newError(KindValidation, opts.EntityType, opts.EntityID, "entity is already enrolled")
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.WorkflowInstance{}, err
	}
	now := e.now()
	wf := domain.WorkflowInstance{
		EntityType: opts.EntityType,
		EntityID:   opts.EntityID,
		Stage:      st.ID,
		Status:     domain.WorkflowActive,
		OwnerID:    opts.OwnerID,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if st.Terminal {
		wf.Status = domain.WorkflowCompleted
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertWorkflow(ctx, tx, wf); err != nil {
		if db.IsUniqueViolation(err) {
			return domain.WorkflowInstance{}, newError(KindValidation, opts.EntityType, opts.EntityID, "entity is already enrolled")
		}
		return domain.WorkflowInstance{}, fmt.Errorf("insert workflow: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.Record{
		Kind:       domain.EventEnrolled,
		EntityType: wf.EntityType,
		EntityID:   wf.EntityID,
		ActorID:    actorOr(opts.ActorID, opts.OwnerID),
		Payload:    events.EventPayload{"stage": wf.Stage, "owner_id": wf.OwnerID, "status": wf.Status},
	}); err != nil {
		return domain.WorkflowInstance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowInstance{}, err
	}
	return wf, nil
}

type OpenGateOptions struct {
	EntityType      string
	EntityID        string
	Actor           Actor
	ExpectedVersion int64
}

// OpenGate opens the gate of the entity's current stage. The gate's requester
// is the workflow owner.
func (e Engine) OpenGate(ctx context.Context, opts OpenGateOptions) (domain.GateInstance, error) {
	wf, err := e.loadWorkflow(ctx, opts.EntityType, opts.EntityID, opts.ExpectedVersion, "open_gate")
	if err != nil {
		return domain.GateInstance{}, err
	}
	if wf.OpenGateID != nil {
		return domain.GateInstance{}, newError(KindGateAlreadyOpen, wf.EntityType, wf.EntityID, "")
	}
	st, err := e.Registry.Stage(wf.EntityType, wf.Stage)
	if err != nil {
		return domain.GateInstance{}, err
	}
	if wf.Status == domain.WorkflowCompleted || st.Terminal || st.GateID == "" {
		return domain.GateInstance{}, newError(KindNoGateForStage, wf.EntityType, wf.EntityID, "stage "+wf.Stage)
	}
	gate, err := e.Registry.Gate(st.GateID)
	if err != nil {
		return domain.GateInstance{}, err
	}
	now := e.now()
	gi := domain.GateInstance{
		ID:           uuid.NewString(),
		EntityType:   wf.EntityType,
		EntityID:     wf.EntityID,
		GateID:       gate.ID,
		Stage:        wf.Stage,
		RequesterID:  wf.OwnerID,
		ReviewerRole: gate.ReviewerRole,
		Status:       domain.GateOpen,
		OpenedAt:     now,
		DueAt:        gate.DueAt(now),
		SelfCheck:    domain.Answers{},
		Reviewer:     domain.Answers{},
	}
	updated := wf
	updated.OpenGateID = &gi.ID

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.GateInstance{}, err
	}
	defer tx.Rollback()

	if err := e.swapWorkflow(ctx, tx, &updated, wf.Version, "open_gate"); err != nil {
		return domain.GateInstance{}, err
	}
	if err := e.Repo.InsertGate(ctx, tx, gi); err != nil {
		return domain.GateInstance{}, fmt.Errorf("insert gate instance: %w", err)
	}
	payload := events.EventPayload{"gate_id": gi.GateID, "stage": gi.Stage, "requester_id": gi.RequesterID}
	if gi.DueAt != nil {
		payload["due_at"] = repo.FormatTime(*gi.DueAt)
	}
	if gi.ReviewerRole != "" {
		payload["reviewer_role"] = gi.ReviewerRole
	}
	if err := e.appendEvent(ctx, tx, events.Record{
		Kind:           domain.EventGateOpened,
		EntityType:     gi.EntityType,
		EntityID:       gi.EntityID,
		GateInstanceID: gi.ID,
		ActorID:        actorOr(opts.Actor.ID, wf.OwnerID),
		Payload:        payload,
	}); err != nil {
		return domain.GateInstance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.GateInstance{}, err
	}
	metrics.GateOpened(gi.EntityType, gi.GateID)
	e.logger().Info("gate opened", "entity_type", gi.EntityType, "entity_id", gi.EntityID, "gate", gi.GateID, "gate_instance", gi.ID)
	return gi, nil
}

type SelfCheckOptions struct {
	EntityType      string
	EntityID        string
	Actor           Actor
	Answers         domain.Answers
	ExpectedVersion int64
}

// SubmitSelfCheck replaces the requester's self-check answers on the open gate.
// It never advances the gate.
func (e Engine) SubmitSelfCheck(ctx context.Context, opts SelfCheckOptions) (domain.GateInstance, error) {
	wf, gi, gate, err := e.loadOpenGate(ctx, opts.EntityType, opts.EntityID, opts.ExpectedVersion, "self_check")
	if err != nil {
		return domain.GateInstance{}, err
	}
	if opts.Actor.ID != gi.RequesterID {
		return domain.GateInstance{}, newError(KindNotPermitted, wf.EntityType, wf.EntityID, "only the requester can submit the self-check")
	}
	if unknown := unknownItems(gate.SelfCheck, opts.Answers); len(unknown) > 0 {
		return domain.GateInstance{}, newError(KindValidation, wf.EntityType, wf.EntityID, "unknown self-check items: "+strings.Join(unknown, ", "))
	}
	answers := opts.Answers
	if answers == nil {
		answers = domain.Answers{}
	}
	updated := wf

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.GateInstance{}, err
	}
	defer tx.Rollback()

	if err := e.swapWorkflow(ctx, tx, &updated, wf.Version, "self_check"); err != nil {
		return domain.GateInstance{}, err
	}
	ok, err := e.Repo.ReplaceSelfCheck(ctx, tx, gi.ID, answers)
	if err != nil {
		return domain.GateInstance{}, err
	}
	if !ok {
		return domain.GateInstance{}, newError(KindGateNotOpen, wf.EntityType, wf.EntityID, "")
	}
	gi.SelfCheck = answers
	missing := gate.MissingSelfCheck(answers)
	if err := e.appendEvent(ctx, tx, events.Record{
		Kind:           domain.EventSelfCheckUpdated,
		EntityType:     gi.EntityType,
		EntityID:       gi.EntityID,
		GateInstanceID: gi.ID,
		ActorID:        opts.Actor.ID,
		Payload:        events.EventPayload{"gate_id": gi.GateID, "answers": answers, "missing_required": missing},
	}); err != nil {
		return domain.GateInstance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.GateInstance{}, err
	}
	return gi, nil
}

type ReviewOptions struct {
	EntityType      string
	EntityID        string
	Actor           Actor
	Answers         domain.Answers
	Decision        domain.Decision
	Comment         string
	ExpectedVersion int64
	// GateInstanceID pins the review to one gate instance. When that instance
	// was resolved by someone else the review fails with StaleWriteConflict
	// instead of GateNotOpen.
	GateInstanceID string
}

// ReviewResult carries the archived gate and the workflow after the decision.
type ReviewResult struct {
	Gate     domain.GateInstance     `json:"gate"`
	Workflow domain.WorkflowInstance `json:"workflow"`
}

// SubmitReviewerChecklist records the reviewer's checklist and decision,
// archives the gate and moves the workflow along the decision map. The gate of
// the next stage is never opened here.
func (e Engine) SubmitReviewerChecklist(ctx context.Context, opts ReviewOptions) (ReviewResult, error) {
	wf, gi, gate, err := e.loadOpenGate(ctx, opts.EntityType, opts.EntityID, opts.ExpectedVersion, "review")
	if opts.GateInstanceID != "" && ((err == nil && gi.ID != opts.GateInstanceID) || errors.Is(err, ErrGateNotOpen)) {
		return ReviewResult{}, e.lostGate(ctx, opts.EntityType, opts.EntityID, opts.GateInstanceID, "review")
	}
	if err != nil {
		return ReviewResult{}, err
	}
	if gate.ReviewerRole != "" && !opts.Actor.HasRole(gate.ReviewerRole) {
		return ReviewResult{}, newError(KindNotPermitted, wf.EntityType, wf.EntityID, "reviewer role "+gate.ReviewerRole+" required")
	}
	if opts.Actor.ID == "" || opts.Actor.ID == gi.RequesterID {
		return ReviewResult{}, newError(KindNotPermitted, wf.EntityType, wf.EntityID, "the requester cannot review their own gate")
	}
	if !gate.Allows(opts.Decision) {
		return ReviewResult{}, &Error{Kind: KindInvalidDecision, EntityType: wf.EntityType, EntityID: wf.EntityID,
			Detail: fmt.Sprintf("%q", opts.Decision), Allowed: gate.AllowedDecisions()}
	}
	if unknown := unknownItems(gate.ReviewerChecklist, opts.Answers); len(unknown) > 0 {
		return ReviewResult{}, newError(KindValidation, wf.EntityType, wf.EntityID, "unknown reviewer checklist items: "+strings.Join(unknown, ", "))
	}
	if gate.SelfCheckRequired {
		if missing := gate.MissingSelfCheck(gi.SelfCheck); len(missing) > 0 {
			return ReviewResult{}, &Error{Kind: KindSelfCheckIncomplete, EntityType: wf.EntityType, EntityID: wf.EntityID, Missing: missing}
		}
	}

	target := gate.Decisions[opts.Decision]
	updated := wf
	updated.OpenGateID = nil
	if target == config.TerminalMarker {
		updated.Status = domain.WorkflowCompleted
	} else {
		next, err := e.Registry.Stage(wf.EntityType, target)
		if err != nil {
			return ReviewResult{}, err
		}
		updated.Stage = next.ID
		if next.Terminal {
			updated.Status = domain.WorkflowCompleted
		}
	}

	now := e.now()
	decision := opts.Decision
	resolved := gi
	resolved.Status = domain.GateResolved
	resolved.Reviewer = opts.Answers
	if resolved.Reviewer == nil {
		resolved.Reviewer = domain.Answers{}
	}
	resolved.Decision = &decision
	resolved.DecidedBy = opts.Actor.ID
	resolved.DecidedAt = &now
	resolved.Comment = opts.Comment
	resolved.NextStage = updated.Stage

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ReviewResult{}, err
	}
	defer tx.Rollback()

	if err := e.swapWorkflow(ctx, tx, &updated, wf.Version, "review"); err != nil {
		return ReviewResult{}, err
	}
	ok, err := e.Repo.ResolveGate(ctx, tx, resolved)
	if err != nil {
		return ReviewResult{}, err
	}
	if !ok {
		return ReviewResult{}, newError(KindGateNotOpen, wf.EntityType, wf.EntityID, "")
	}
	payload := events.EventPayload{
		"gate_id":    resolved.GateID,
		"decision":   string(decision),
		"from_stage": wf.Stage,
		"next_stage": updated.Stage,
		"status":     updated.Status,
		"reviewer":   resolved.Reviewer,
	}
	if opts.Comment != "" {
		payload["comment"] = opts.Comment
	}
	if err := e.appendEvent(ctx, tx, events.Record{
		Kind:           domain.EventDecisionRecorded,
		EntityType:     wf.EntityType,
		EntityID:       wf.EntityID,
		GateInstanceID: gi.ID,
		ActorID:        opts.Actor.ID,
		Payload:        payload,
	}); err != nil {
		return ReviewResult{}, err
	}
	if err := e.appendStageEntered(ctx, tx, wf, updated, opts.Actor.ID, "decision:"+string(decision)); err != nil {
		return ReviewResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ReviewResult{}, err
	}
	metrics.DecisionRecorded(wf.EntityType, gi.GateID, string(decision))
	e.logger().Info("decision recorded", "entity_type", wf.EntityType, "entity_id", wf.EntityID,
		"gate", gi.GateID, "decision", decision, "stage", updated.Stage, "status", updated.Status)
	return ReviewResult{Gate: resolved, Workflow: updated}, nil
}

type TransitionOptions struct {
	EntityType      string
	EntityID        string
	Actor           Actor
	ExpectedVersion int64
}

// Transition moves a workflow out of a gate-less stage to its configured
// successor.
func (e Engine) Transition(ctx context.Context, opts TransitionOptions) (domain.WorkflowInstance, error) {
	wf, err := e.loadWorkflow(ctx, opts.EntityType, opts.EntityID, opts.ExpectedVersion, "transition")
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	st, err := e.Registry.Stage(wf.EntityType, wf.Stage)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	switch {
	case wf.Status == domain.WorkflowCompleted || st.Terminal:
		return domain.WorkflowInstance{}, newError(KindInvalidTransition, wf.EntityType, wf.EntityID, "workflow is complete")
	case st.GateID != "":
		return domain.WorkflowInstance{}, newError(KindInvalidTransition, wf.EntityType, wf.EntityID,
			fmt.Sprintf("stage %s is left through gate %s", st.ID, st.GateID))
	case wf.OpenGateID != nil:
		return domain.WorkflowInstance{}, newError(KindInvalidTransition, wf.EntityType, wf.EntityID, "a gate is open")
	}
	next, err := e.Registry.Stage(wf.EntityType, st.Next)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	updated := wf
	updated.Stage = next.ID
	if next.Terminal {
		updated.Status = domain.WorkflowCompleted
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	defer tx.Rollback()

	if err := e.swapWorkflow(ctx, tx, &updated, wf.Version, "transition"); err != nil {
		return domain.WorkflowInstance{}, err
	}
	if err := e.appendStageEntered(ctx, tx, wf, updated, opts.Actor.ID, "implicit"); err != nil {
		return domain.WorkflowInstance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowInstance{}, err
	}
	return updated, nil
}

type AdvisoryOptions struct {
	EntityType string
	EntityID   string
	// Role is requester or reviewer. The actor must hold that role on the gate.
	Role  string
	Actor Actor
}

// RequestAdvisory asks the advisory service about the open gate on behalf of
// the requester or the reviewer. Advisory failures never surface as errors;
// they produce an unavailable advisory. No transaction is held during the call.
func (e Engine) RequestAdvisory(ctx context.Context, opts AdvisoryOptions) (domain.Advisory, error) {
	entityType, entityID, role := opts.EntityType, opts.EntityID, opts.Role
	if role != advisory.RoleRequester && role != advisory.RoleReviewer {
		return domain.Advisory{}, newError(KindValidation, entityType, entityID, "role must be requester or reviewer")
	}
	_, gi, gate, err := e.loadOpenGate(ctx, entityType, entityID, 0, "advisory")
	if err != nil {
		return domain.Advisory{}, err
	}
	switch {
	case opts.Actor.ID == "":
		return domain.Advisory{}, newError(KindNotPermitted, entityType, entityID, "actor required")
	case role == advisory.RoleRequester && opts.Actor.ID != gi.RequesterID:
		return domain.Advisory{}, newError(KindNotPermitted, entityType, entityID, "only the requester can ask for requester advice")
	case role == advisory.RoleReviewer && opts.Actor.ID == gi.RequesterID:
		return domain.Advisory{}, newError(KindNotPermitted, entityType, entityID, "the requester cannot ask for reviewer advice")
	case role == advisory.RoleReviewer && gate.ReviewerRole != "" && !opts.Actor.HasRole(gate.ReviewerRole):
		return domain.Advisory{}, newError(KindNotPermitted, entityType, entityID, "reviewer role "+gate.ReviewerRole+" required")
	}
	req := advisory.Request{
		Role:       role,
		EntityType: gi.EntityType,
		EntityID:   gi.EntityID,
		Stage:      gi.Stage,
		GateID:     gi.GateID,
		GateLabel:  gate.Label,
		SelfCheck:  advisoryItems(gate.SelfCheck, gi.SelfCheck),
		Reviewer:   advisoryItems(gate.ReviewerChecklist, gi.Reviewer),
		Decisions:  gate.AllowedDecisions(),
	}
	adv := e.Advisor.Request(ctx, req)
	if !adv.Available || ctx.Err() != nil {
		return adv, nil
	}
	attached, err := e.Repo.AttachAdvisory(ctx, gi.ID, adv)
	if err != nil {
		e.logger().Warn("attach advisory failed", "gate_instance", gi.ID, "error", err)
	} else if !attached {
		e.logger().Debug("gate resolved before advisory arrived", "gate_instance", gi.ID)
	}
	return adv, nil
}

// Get returns the workflow of an entity.
func (e Engine) Get(ctx context.Context, entityType, entityID string) (domain.WorkflowInstance, error) {
	wf, err := e.Repo.GetWorkflow(ctx, entityType, entityID)
	if err != nil {
		return domain.WorkflowInstance{}, notFound("workflow", entityType+"/"+entityID, err)
	}
	return wf, nil
}

// List returns workflows matching f, most recently updated first.
func (e Engine) List(ctx context.Context, f repo.WorkflowFilters) ([]domain.WorkflowInstance, error) {
	if f.EntityType != "" {
		if _, err := e.Registry.EntityType(f.EntityType); err != nil {
			return nil, err
		}
	}
	return e.Repo.ListWorkflows(ctx, f)
}

// OpenGateFor returns the open gate of an entity or ErrGateNotOpen.
func (e Engine) OpenGateFor(ctx context.Context, entityType, entityID string) (domain.GateInstance, error) {
	_, gi, _, err := e.loadOpenGate(ctx, entityType, entityID, 0, "")
	return gi, err
}

func (e Engine) GateInstance(ctx context.Context, id string) (domain.GateInstance, error) {
	gi, err := e.Repo.GetGate(ctx, id)
	if err != nil {
		return domain.GateInstance{}, notFound("gate instance", id, err)
	}
	return gi, nil
}

// History returns every gate instance of an entity, oldest first.
func (e Engine) History(ctx context.Context, entityType, entityID string) ([]domain.GateInstance, error) {
	if _, err := e.Get(ctx, entityType, entityID); err != nil {
		return nil, err
	}
	return e.Repo.ListGatesForEntity(ctx, entityType, entityID)
}

// AuditTrail returns the events of an entity, oldest first.
func (e Engine) AuditTrail(ctx context.Context, entityType, entityID string) ([]domain.AuditEvent, error) {
	return e.Repo.EntityHistory(ctx, entityType, entityID)
}

func (e Engine) loadWorkflow(ctx context.Context, entityType, entityID string, expectedVersion int64, op string) (domain.WorkflowInstance, error) {
	if _, err := e.Registry.EntityType(entityType); err != nil {
		return domain.WorkflowInstance{}, err
	}
	wf, err := e.Get(ctx, entityType, entityID)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	if expectedVersion > 0 && wf.Version != expectedVersion {
		metrics.StaleWrite(op)
		return domain.WorkflowInstance{}, newError(KindStaleWriteConflict, entityType, entityID,
			fmt.Sprintf("expected version %d, current %d", expectedVersion, wf.Version))
	}
	return wf, nil
}

func (e Engine) loadOpenGate(ctx context.Context, entityType, entityID string, expectedVersion int64, op string) (domain.WorkflowInstance, domain.GateInstance, registry.GateDefinition, error) {
	wf, err := e.loadWorkflow(ctx, entityType, entityID, expectedVersion, op)
	if err != nil {
		return wf, domain.GateInstance{}, registry.GateDefinition{}, err
	}
	if wf.OpenGateID == nil {
		return wf, domain.GateInstance{}, registry.GateDefinition{}, newError(KindGateNotOpen, entityType, entityID, "")
	}
	gi, err := e.Repo.GetGate(ctx, *wf.OpenGateID)
	if err != nil {
		return wf, gi, registry.GateDefinition{}, notFound("gate instance", *wf.OpenGateID, err)
	}
	if !gi.IsOpen() {
		// resolved between the workflow read and the gate read
		metrics.StaleWrite(op)
		return wf, gi, registry.GateDefinition{}, newError(KindStaleWriteConflict, entityType, entityID, "")
	}
	gate, err := e.Registry.Gate(gi.GateID)
	if err != nil {
		return wf, gi, gate, err
	}
	return wf, gi, gate, nil
}

// lostGate explains why gate instance id is not the open gate of the entity.
func (e Engine) lostGate(ctx context.Context, entityType, entityID, id, op string) error {
	gi, err := e.Repo.GetGate(ctx, id)
	if err != nil {
		return notFound("gate instance", id, err)
	}
	if gi.EntityType != entityType || gi.EntityID != entityID {
		return newError(KindValidation, entityType, entityID, "gate instance "+id+" belongs to another entity")
	}
	metrics.StaleWrite(op)
	return newError(KindStaleWriteConflict, entityType, entityID, "gate instance "+id+" is no longer open")
}

// swapWorkflow bumps the version of wf and writes it only if the stored row is
// still at expected.
func (e Engine) swapWorkflow(ctx context.Context, tx *sql.Tx, wf *domain.WorkflowInstance, expected int64, op string) error {
	wf.Version = expected + 1
	wf.UpdatedAt = e.now()
	ok, err := e.Repo.CompareAndSwapWorkflow(ctx, tx, *wf, expected)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if !ok {
		metrics.StaleWrite(op)
		return newError(KindStaleWriteConflict, wf.EntityType, wf.EntityID, "")
	}
	return nil
}

// appendEvent stamps rec with the engine clock.
func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, rec events.Record) error {
	rec.TS = e.now()
	return e.Events.Append(ctx, tx, rec)
}

func (e Engine) appendStageEntered(ctx context.Context, tx *sql.Tx, from, to domain.WorkflowInstance, actorID, cause string) error {
	if from.Stage == to.Stage && from.Status == to.Status {
		return nil
	}
	return e.appendEvent(ctx, tx, events.Record{
		Kind:       domain.EventStageEntered,
		EntityType: to.EntityType,
		EntityID:   to.EntityID,
		ActorID:    actorID,
		Payload:    events.EventPayload{"from": from.Stage, "to": to.Stage, "status": to.Status, "cause": cause},
	})
}

func unknownItems(items []config.ChecklistItem, answers domain.Answers) []string {
	known := make(map[string]bool, len(items))
	for _, it := range items {
		known[it.ID] = true
	}
	var unknown []string
	for id := range answers {
		if !known[id] {
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)
	return unknown
}

func advisoryItems(items []config.ChecklistItem, answers domain.Answers) []advisory.Item {
	out := make([]advisory.Item, 0, len(items))
	for _, it := range items {
		a := answers[it.ID]
		out = append(out, advisory.Item{ID: it.ID, Label: it.Label, Required: it.Required, Done: a.Done, Value: a.Value})
	}
	return out
}

func notFound(what, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, repo.ErrNotFound)
	}
	return err
}

func actorOr(actorID, fallback string) string {
	if actorID != "" {
		return actorID
	}
	return fallback
}
