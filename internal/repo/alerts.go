package repo

import (
	"context"
	"database/sql"
	"time"
)

// InsertLeadershipAlert records that a gate reached a leadership level. It
// reports false when the alert was already raised.
func (r Repo) InsertLeadershipAlert(ctx context.Context, tx *sql.Tx, gateInstanceID string, level int, entityType, entityID string, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, r.q(`INSERT INTO leadership_alerts(gate_instance_id,level,entity_type,entity_id,raised_at) VALUES (?,?,?,?,?)
ON CONFLICT(gate_instance_id, level) DO NOTHING`), gateInstanceID, level, entityType, entityID, FormatTime(at))
	return affectedOne(res, err)
}

func (r Repo) CountLeadershipAlerts(ctx context.Context, gateInstanceID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM leadership_alerts WHERE gate_instance_id=?`), gateInstanceID).Scan(&n)
	return n, err
}

// NotifyCursor returns the last event id handled by sink. ok is false when the
// sink has never run.
func (r Repo) NotifyCursor(ctx context.Context, sink string) (id int64, ok bool, err error) {
	err = r.DB.QueryRowContext(ctx, r.q(`SELECT last_event_id FROM notify_cursors WHERE sink=?`), sink).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r Repo) SetNotifyCursor(ctx context.Context, sink string, lastEventID int64) error {
	_, err := r.DB.ExecContext(ctx, r.q(`INSERT INTO notify_cursors(sink,last_event_id,updated_at) VALUES (?,?,?)
ON CONFLICT(sink) DO UPDATE SET last_event_id=excluded.last_event_id, updated_at=excluded.updated_at`), sink, lastEventID, FormatTime(time.Now()))
	return err
}
