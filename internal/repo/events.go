package repo

import (
	"context"
	"database/sql"
	"strings"

	"gateflow/internal/domain"
)

const eventColumns = `id,ts,kind,entity_type,entity_id,gate_instance_id,actor_id,payload_json`

type EventFilters struct {
	EntityType string
	EntityID   string
	Kind       string
	// Cursor returns events with an id strictly below it (newest first paging).
	Cursor int64
	Limit  int
}

func scanEvent(scan func(dest ...any) error) (domain.AuditEvent, error) {
	var e domain.AuditEvent
	var ts, kind, payload string
	var gateID sql.NullString
	if err := scan(&e.ID, &ts, &kind, &e.EntityType, &e.EntityID, &gateID, &e.ActorID, &payload); err != nil {
		return e, err
	}
	t, err := ParseTime(ts)
	if err != nil {
		return e, err
	}
	e.TS = t
	e.Kind = domain.EventKind(kind)
	e.GateInstanceID = gateID.String
	e.Payload = []byte(payload)
	return e, nil
}

// ListEvents returns events newest first.
func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.AuditEvent, error) {
	var clauses []string
	var args []any
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type=?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id < ?")
		args = append(args, f.Cursor)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + eventColumns + ` FROM events` + where + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.listEvents(ctx, query, args...)
}

// EntityHistory returns the events of one entity oldest first.
func (r Repo) EntityHistory(ctx context.Context, entityType, entityID string) ([]domain.AuditEvent, error) {
	return r.listEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE entity_type=? AND entity_id=? ORDER BY id ASC`, entityType, entityID)
}

// EventsAfter returns up to limit events with id greater than afterID, oldest first.
func (r Repo) EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.listEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) listEvents(ctx context.Context, query string, args ...any) ([]domain.AuditEvent, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEvent
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
