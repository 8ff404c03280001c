// Package sla raises escalation levels on open gates that are past their
// deadline. Sweeps are idempotent: the target level is derived from the clock,
// so running a sweep twice at the same instant changes nothing.
package sla

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"gateflow/internal/db"
	"gateflow/internal/domain"
	"gateflow/internal/events"
	"gateflow/internal/metrics"
	"gateflow/internal/registry"
	"gateflow/internal/repo"
)

const DefaultInterval = 15 * time.Minute

type Sweeper struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Registry *registry.Registry
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, reg *registry.Registry, logger *slog.Logger) Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return Sweeper{
		DB:       conn,
		Repo:     repo.Repo{DB: conn, Dialect: dialect},
		Events:   events.Writer{Dialect: dialect},
		Registry: reg,
		Logger:   logger,
		Now:      time.Now,
	}
}

// Step is one gate raised by a sweep.
type Step struct {
	GateInstanceID string `json:"gate_instance_id"`
	EntityType     string `json:"entity_type"`
	EntityID       string `json:"entity_id"`
	GateID         string `json:"gate_id"`
	From           int    `json:"from"`
	To             int    `json:"to"`
	Alerted        bool   `json:"leadership_alert"`
}

type Report struct {
	SweptAt   time.Time `json:"swept_at"`
	Checked   int       `json:"checked"`
	Escalated int       `json:"escalated"`
	Alerts    int       `json:"alerts"`
	Steps     []Step    `json:"steps,omitempty"`
}

func (s Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Sweep checks every open gate with a deadline. It never resolves a gate.
func (s Sweeper) Sweep(ctx context.Context) (Report, error) {
	start := time.Now()
	defer func() { metrics.ObserveSweep(time.Since(start)) }()

	now := s.now()
	report := Report{SweptAt: now}
	open, err := s.Repo.ListOpenGates(ctx, repo.GateFilters{})
	if err != nil {
		return report, fmt.Errorf("list open gates: %w", err)
	}
	for _, g := range open {
		if g.DueAt == nil {
			continue
		}
		def, err := s.Registry.Gate(g.GateID)
		if err != nil {
			s.Logger.Warn("sla: gate no longer configured", "gate", g.GateID, "gate_instance", g.ID)
			continue
		}
		report.Checked++
		target := def.Escalation.LevelAt(*g.DueAt, now)
		if target <= g.EscalationLevel {
			continue
		}
		step, err := s.escalate(ctx, g.ID, def, target, now)
		if err != nil {
			return report, err
		}
		if step == nil {
			continue
		}
		report.Escalated++
		if step.Alerted {
			report.Alerts++
		}
		report.Steps = append(report.Steps, *step)
	}
	if report.Escalated > 0 {
		s.Logger.Info("sla sweep escalated gates", "checked", report.Checked, "escalated", report.Escalated, "alerts", report.Alerts)
	}
	return report, nil
}

// escalate raises one gate inside a transaction that re-reads it, so a gate
// resolved since the listing is left alone.
func (s Sweeper) escalate(ctx context.Context, id string, def registry.GateDefinition, target int, now time.Time) (*Step, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	g, err := s.Repo.GetGateTx(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("reload gate %s: %w", id, err)
	}
	if !g.IsOpen() || g.EscalationLevel >= target {
		return nil, nil
	}
	ok, err := s.Repo.RaiseEscalation(ctx, tx, id, target)
	if err != nil {
		return nil, fmt.Errorf("raise escalation: %w", err)
	}
	if !ok {
		return nil, nil
	}
	step := &Step{GateInstanceID: g.ID, EntityType: g.EntityType, EntityID: g.EntityID, GateID: g.GateID, From: g.EscalationLevel, To: target}
	for level := g.EscalationLevel + 1; level <= target; level++ {
		if err := s.Events.Append(ctx, tx, events.Record{
			Kind:           domain.EventEscalated,
			EntityType:     g.EntityType,
			EntityID:       g.EntityID,
			GateInstanceID: g.ID,
			Payload: events.EventPayload{
				"gate_id":      g.GateID,
				"level":        level,
				"policy":       def.Escalation.Policy,
				"due_at":       repo.FormatTime(*g.DueAt),
				"overdue_secs": int64(now.Sub(*g.DueAt).Seconds()),
			},
			TS: now,
		}); err != nil {
			return nil, err
		}
	}
	if top := def.Escalation.TopLevel(); top > 0 && target >= top {
		inserted, err := s.Repo.InsertLeadershipAlert(ctx, tx, g.ID, top, g.EntityType, g.EntityID, now)
		if err != nil {
			return nil, fmt.Errorf("record leadership alert: %w", err)
		}
		if inserted {
			if err := s.Events.Append(ctx, tx, events.Record{
				Kind:           domain.EventLeadershipAlert,
				EntityType:     g.EntityType,
				EntityID:       g.EntityID,
				GateInstanceID: g.ID,
				Payload:        events.EventPayload{"gate_id": g.GateID, "level": top, "reviewer_role": g.ReviewerRole},
				TS:             now,
			}); err != nil {
				return nil, err
			}
			step.Alerted = true
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for level := step.From + 1; level <= step.To; level++ {
		metrics.Escalated(g.EntityType, level)
	}
	if step.Alerted {
		metrics.LeadershipAlert(g.EntityType)
	}
	return step, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.Logger.Warn("sla: sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
