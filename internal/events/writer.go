package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gateflow/internal/db"
	"gateflow/internal/domain"
	"gateflow/internal/repo"
)

// Writer appends audit events. Appends always run inside the caller's
// transaction so an event exists if and only if its state change committed.
type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

// Record describes one event to append.
type Record struct {
	Kind           domain.EventKind
	EntityType     string
	EntityID       string
	GateInstanceID string
	ActorID        string
	Payload        EventPayload
	// TS defaults to the writer clock.
	TS time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec Record) error {
	ts := rec.TS
	if ts.IsZero() {
		if w.Now != nil {
			ts = w.Now()
		} else {
			ts = time.Now()
		}
	}
	if rec.Payload == nil {
		rec.Payload = EventPayload{}
	}
	data, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if rec.ActorID == "" {
		rec.ActorID = "system"
	}
	_, err = tx.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO events(ts,kind,entity_type,entity_id,gate_instance_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		repo.FormatTime(ts), string(rec.Kind), rec.EntityType, rec.EntityID, nullable(rec.GateInstanceID), rec.ActorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", rec.Kind, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
