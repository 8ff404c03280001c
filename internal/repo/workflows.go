package repo

import (
	"context"
	"database/sql"
	"strings"

	"gateflow/internal/domain"
)

const workflowColumns = `entity_type,entity_id,stage,status,owner_id,open_gate_id,version,created_at,updated_at`

func scanWorkflow(scan func(dest ...any) error) (domain.WorkflowInstance, error) {
	var wf domain.WorkflowInstance
	var status, createdAt, updatedAt string
	var openGate sql.NullString
	if err := scan(&wf.EntityType, &wf.EntityID, &wf.Stage, &status, &wf.OwnerID, &openGate, &wf.Version, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return wf, ErrNotFound
		}
		return wf, err
	}
	wf.Status = domain.WorkflowStatus(status)
	if openGate.Valid && openGate.String != "" {
		id := openGate.String
		wf.OpenGateID = &id
	}
	var err error
	if wf.CreatedAt, err = ParseTime(createdAt); err != nil {
		return wf, err
	}
	if wf.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return wf, err
	}
	return wf, nil
}

func (r Repo) InsertWorkflow(ctx context.Context, tx *sql.Tx, wf domain.WorkflowInstance) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO workflows(`+workflowColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`),
		wf.EntityType, wf.EntityID, wf.Stage, string(wf.Status), wf.OwnerID, nullableStringPtr(wf.OpenGateID), wf.Version,
		FormatTime(wf.CreatedAt), FormatTime(wf.UpdatedAt))
	return err
}

func (r Repo) GetWorkflow(ctx context.Context, entityType, entityID string) (domain.WorkflowInstance, error) {
	return r.getWorkflow(ctx, r.DB, entityType, entityID)
}

func (r Repo) getWorkflow(ctx context.Context, q querier, entityType, entityID string) (domain.WorkflowInstance, error) {
	row := q.QueryRowContext(ctx, r.q(`SELECT `+workflowColumns+` FROM workflows WHERE entity_type=? AND entity_id=?`), entityType, entityID)
	return scanWorkflow(row.Scan)
}

// CompareAndSwapWorkflow writes wf only if the stored version still equals
// expectedVersion. It reports whether the row was written.
func (r Repo) CompareAndSwapWorkflow(ctx context.Context, tx *sql.Tx, wf domain.WorkflowInstance, expectedVersion int64) (bool, error) {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE workflows SET stage=?, status=?, open_gate_id=?, version=?, updated_at=? WHERE entity_type=? AND entity_id=? AND version=?`),
		wf.Stage, string(wf.Status), nullableStringPtr(wf.OpenGateID), wf.Version, FormatTime(wf.UpdatedAt),
		wf.EntityType, wf.EntityID, expectedVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type WorkflowFilters struct {
	EntityType string
	Stage      string
	Status     string
	Limit      int
}

func (r Repo) ListWorkflows(ctx context.Context, f WorkflowFilters) ([]domain.WorkflowInstance, error) {
	var clauses []string
	var args []any
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type=?")
		args = append(args, f.EntityType)
	}
	if f.Stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, f.Stage)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + workflowColumns + ` FROM workflows ` + where + ` ORDER BY updated_at DESC, entity_id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowInstance
	for rows.Next() {
		wf, err := scanWorkflow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, wf)
	}
	return res, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
