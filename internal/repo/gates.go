package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"gateflow/internal/domain"
)

const gateColumns = `id,entity_type,entity_id,gate_id,stage,requester_id,reviewer_role,status,opened_at,due_at,escalation_level,self_check_json,reviewer_json,advisory_json,decision,decided_by,decided_at,comment,next_stage`

func scanGate(scan func(dest ...any) error) (domain.GateInstance, error) {
	var g domain.GateInstance
	var reviewerRole, dueAt, advisory, decision, decidedBy, decidedAt, comment, nextStage sql.NullString
	var status, openedAt, selfCheck, reviewer string
	err := scan(&g.ID, &g.EntityType, &g.EntityID, &g.GateID, &g.Stage, &g.RequesterID, &reviewerRole, &status, &openedAt, &dueAt,
		&g.EscalationLevel, &selfCheck, &reviewer, &advisory, &decision, &decidedBy, &decidedAt, &comment, &nextStage)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	g.Status = domain.GateStatus(status)
	g.ReviewerRole = reviewerRole.String
	g.DecidedBy = decidedBy.String
	g.Comment = comment.String
	g.NextStage = nextStage.String
	if g.OpenedAt, err = ParseTime(openedAt); err != nil {
		return g, err
	}
	if g.DueAt, err = parseNullTime(dueAt); err != nil {
		return g, err
	}
	if g.DecidedAt, err = parseNullTime(decidedAt); err != nil {
		return g, err
	}
	if decision.Valid && decision.String != "" {
		d := domain.Decision(decision.String)
		g.Decision = &d
	}
	if err := json.Unmarshal([]byte(selfCheck), &g.SelfCheck); err != nil {
		return g, fmt.Errorf("decode self-check answers: %w", err)
	}
	if err := json.Unmarshal([]byte(reviewer), &g.Reviewer); err != nil {
		return g, fmt.Errorf("decode reviewer answers: %w", err)
	}
	if advisory.Valid && advisory.String != "" {
		var adv domain.Advisory
		if err := json.Unmarshal([]byte(advisory.String), &adv); err != nil {
			return g, fmt.Errorf("decode advisory: %w", err)
		}
		g.Advisory = &adv
	}
	return g, nil
}

func marshalAnswers(a domain.Answers) (string, error) {
	if a == nil {
		a = domain.Answers{}
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r Repo) InsertGate(ctx context.Context, tx *sql.Tx, g domain.GateInstance) error {
	selfCheck, err := marshalAnswers(g.SelfCheck)
	if err != nil {
		return err
	}
	reviewer, err := marshalAnswers(g.Reviewer)
	if err != nil {
		return err
	}
	var decision any
	if g.Decision != nil {
		decision = string(*g.Decision)
	}
	var advisory any
	if g.Advisory != nil {
		b, err := json.Marshal(g.Advisory)
		if err != nil {
			return err
		}
		advisory = string(b)
	}
	_, err = tx.ExecContext(ctx, r.q(`INSERT INTO gate_instances(`+gateColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		g.ID, g.EntityType, g.EntityID, g.GateID, g.Stage, g.RequesterID, nullable(g.ReviewerRole), string(g.Status),
		FormatTime(g.OpenedAt), nullableTime(g.DueAt), g.EscalationLevel, selfCheck, reviewer, advisory, decision,
		nullable(g.DecidedBy), nullableTime(g.DecidedAt), nullable(g.Comment), nullable(g.NextStage))
	return err
}

func (r Repo) GetGate(ctx context.Context, id string) (domain.GateInstance, error) {
	return r.getGate(ctx, r.DB, id)
}

func (r Repo) GetGateTx(ctx context.Context, tx *sql.Tx, id string) (domain.GateInstance, error) {
	return r.getGate(ctx, tx, id)
}

func (r Repo) getGate(ctx context.Context, q querier, id string) (domain.GateInstance, error) {
	row := q.QueryRowContext(ctx, r.q(`SELECT `+gateColumns+` FROM gate_instances WHERE id=?`), id)
	return scanGate(row.Scan)
}

// ReplaceSelfCheck overwrites the self-check answers of an open gate.
func (r Repo) ReplaceSelfCheck(ctx context.Context, tx *sql.Tx, id string, answers domain.Answers) (bool, error) {
	payload, err := marshalAnswers(answers)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, r.q(`UPDATE gate_instances SET self_check_json=? WHERE id=? AND status='open'`), payload, id)
	return affectedOne(res, err)
}

// ResolveGate records the decision on an open gate and archives it.
func (r Repo) ResolveGate(ctx context.Context, tx *sql.Tx, g domain.GateInstance) (bool, error) {
	if g.Decision == nil {
		return false, fmt.Errorf("resolve gate %s: decision required", g.ID)
	}
	reviewer, err := marshalAnswers(g.Reviewer)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, r.q(`UPDATE gate_instances SET status='resolved', reviewer_json=?, decision=?, decided_by=?, decided_at=?, comment=?, next_stage=?
WHERE id=? AND status='open'`),
		reviewer, string(*g.Decision), nullable(g.DecidedBy), nullableTime(g.DecidedAt), nullable(g.Comment), nullable(g.NextStage), g.ID)
	return affectedOne(res, err)
}

// AttachAdvisory stores display-only advisory output on a gate that is still open.
func (r Repo) AttachAdvisory(ctx context.Context, id string, adv domain.Advisory) (bool, error) {
	b, err := json.Marshal(adv)
	if err != nil {
		return false, err
	}
	res, err := r.DB.ExecContext(ctx, r.q(`UPDATE gate_instances SET advisory_json=? WHERE id=? AND status='open'`), string(b), id)
	return affectedOne(res, err)
}

// RaiseEscalation lifts the escalation level of an open gate to level. It never
// lowers a level and never touches a resolved gate.
func (r Repo) RaiseEscalation(ctx context.Context, tx *sql.Tx, id string, level int) (bool, error) {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE gate_instances SET escalation_level=? WHERE id=? AND status='open' AND escalation_level < ?`), level, id, level)
	return affectedOne(res, err)
}

type GateFilters struct {
	EntityType   string
	ReviewerRole string
}

// ListOpenGates returns open gates, most escalated first, then earliest due.
func (r Repo) ListOpenGates(ctx context.Context, f GateFilters) ([]domain.GateInstance, error) {
	clauses := []string{"status='open'"}
	var args []any
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type=?")
		args = append(args, f.EntityType)
	}
	if f.ReviewerRole != "" {
		clauses = append(clauses, "reviewer_role=?")
		args = append(args, f.ReviewerRole)
	}
	query := `SELECT ` + gateColumns + ` FROM gate_instances WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY escalation_level DESC, CASE WHEN due_at IS NULL THEN 1 ELSE 0 END, due_at ASC, opened_at ASC, id ASC`
	return r.listGates(ctx, query, args...)
}

// ListGatesForEntity returns the gate history of one entity, oldest first.
func (r Repo) ListGatesForEntity(ctx context.Context, entityType, entityID string) ([]domain.GateInstance, error) {
	query := `SELECT ` + gateColumns + ` FROM gate_instances WHERE entity_type=? AND entity_id=? ORDER BY opened_at ASC, id ASC`
	return r.listGates(ctx, query, entityType, entityID)
}

func (r Repo) listGates(ctx context.Context, query string, args ...any) ([]domain.GateInstance, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GateInstance
	for rows.Next() {
		g, err := scanGate(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func affectedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
