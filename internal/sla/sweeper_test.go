package sla_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateflow/internal/config"
	"gateflow/internal/db"
	"gateflow/internal/domain"
	"gateflow/internal/engine"
	"gateflow/internal/migrate"
	"gateflow/internal/registry"
	"gateflow/internal/sla"
)

const day = 24 * time.Hour

type fixture struct {
	Engine  engine.Engine
	Sweeper sla.Sweeper
	Ctx     context.Context
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))
	reg, err := registry.New(config.Default("test"))
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{Ctx: context.Background(), now: time.Date(2025, 5, 5, 8, 0, 0, 0, time.UTC)}
	f.Engine = engine.New(conn, dialect, reg, nil, logger)
	f.Engine.Now = func() time.Time { return f.now }
	f.Sweeper = sla.New(conn, dialect, reg, logger)
	f.Sweeper.Now = func() time.Time { return f.now }
	return f
}

// openAt enrolls an entity directly at stage and opens its gate at the current time.
func (f *fixture) openAt(t *testing.T, entityType, entityID, stage string) domain.GateInstance {
	t.Helper()
	_, err := f.Engine.Enroll(f.Ctx, engine.EnrollOptions{EntityType: entityType, EntityID: entityID, OwnerID: "owner-1", Stage: stage})
	require.NoError(t, err)
	gi, err := f.Engine.OpenGate(f.Ctx, engine.OpenGateOptions{EntityType: entityType, EntityID: entityID, Actor: engine.Actor{ID: "owner-1"}})
	require.NoError(t, err)
	return gi
}

func (f *fixture) countEvents(t *testing.T, entityType, entityID string, kind domain.EventKind) int {
	t.Helper()
	trail, err := f.Engine.AuditTrail(f.Ctx, entityType, entityID)
	require.NoError(t, err)
	n := 0
	for _, e := range trail {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestHourlySweepsRaiseOverdueReviewOnce(t *testing.T) {
	f := newFixture(t)
	opened := f.openAt(t, "Challenge", "Challenge-42", "under_review")
	start := opened.OpenedAt

	for h := 0; h < 24; h++ {
		f.now = start.Add(8*day + time.Duration(h)*time.Hour)
		_, err := f.Sweeper.Sweep(f.Ctx)
		require.NoError(t, err)
	}

	gi, err := f.Engine.GateInstance(f.Ctx, opened.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gi.EscalationLevel)
	assert.Equal(t, domain.GateOpen, gi.Status)
	assert.Equal(t, 1, f.countEvents(t, "Challenge", "Challenge-42", domain.EventEscalated))
	assert.Equal(t, 0, f.countEvents(t, "Challenge", "Challenge-42", domain.EventLeadershipAlert))
}

func TestSweepIsIdempotentAtSameInstant(t *testing.T) {
	f := newFixture(t)
	f.openAt(t, "Challenge", "c-1", "under_review")
	f.now = f.now.Add(11 * day)

	first, err := f.Sweeper.Sweep(f.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Escalated)
	require.Len(t, first.Steps, 1)
	assert.Equal(t, 0, first.Steps[0].From)
	assert.Equal(t, 2, first.Steps[0].To)

	second, err := f.Sweeper.Sweep(f.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Checked)
	assert.Equal(t, 0, second.Escalated)
	assert.Equal(t, 2, f.countEvents(t, "Challenge", "c-1", domain.EventEscalated))
}

func TestThresholdsAreStrict(t *testing.T) {
	f := newFixture(t)
	gi := f.openAt(t, "Challenge", "c-1", "draft")

	f.now = *gi.DueAt
	rep, err := f.Sweeper.Sweep(f.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Escalated)

	f.now = gi.DueAt.Add(time.Second)
	rep, err = f.Sweeper.Sweep(f.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Escalated)
}

func TestLeadershipAlertRaisedOnce(t *testing.T) {
	f := newFixture(t)
	gi := f.openAt(t, "Challenge", "c-1", "under_review")

	f.now = gi.DueAt.Add(8 * day)
	rep, err := f.Sweeper.Sweep(f.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Alerts)
	require.Len(t, rep.Steps, 1)
	assert.True(t, rep.Steps[0].Alerted)
	assert.Equal(t, 3, rep.Steps[0].To)

	for i := 0; i < 3; i++ {
		f.now = f.now.Add(day)
		rep, err = f.Sweeper.Sweep(f.Ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, rep.Alerts)
	}

	n, err := f.Sweeper.Repo.CountLeadershipAlerts(f.Ctx, gi.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, f.countEvents(t, "Challenge", "c-1", domain.EventEscalated))
	assert.Equal(t, 1, f.countEvents(t, "Challenge", "c-1", domain.EventLeadershipAlert))
}

func TestSingleLevelAlertsAtFirstEscalation(t *testing.T) {
	f := newFixture(t)
	gi := f.openAt(t, "Challenge", "c-1", "draft")
	f.now = gi.DueAt.Add(time.Hour)
	rep, err := f.Sweeper.Sweep(f.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Escalated)
	assert.Equal(t, 1, rep.Alerts)
}

func TestSweepLeavesResolvedAndUnescalatedGates(t *testing.T) {
	f := newFixture(t)
	resolved := f.openAt(t, "Program", "prog-1", "planning")
	_, err := f.Engine.SubmitReviewerChecklist(f.Ctx, engine.ReviewOptions{
		EntityType: "Program", EntityID: "prog-1", Decision: "approved",
		Actor: engine.Actor{ID: "director-1", Roles: []string{"program_director"}},
	})
	require.NoError(t, err)
	noPolicy := f.openAt(t, "Program", "prog-2", "planning")
	require.NotNil(t, noPolicy.DueAt)
	noDeadline := f.openAt(t, "Program", "prog-3", "active")
	require.Nil(t, noDeadline.DueAt)

	f.now = f.now.Add(60 * day)
	rep, err := f.Sweeper.Sweep(f.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Checked)
	assert.Equal(t, 0, rep.Escalated)

	for _, id := range []string{resolved.ID, noPolicy.ID, noDeadline.ID} {
		gi, err := f.Engine.GateInstance(f.Ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, gi.EscalationLevel)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.Ctx)
	done := make(chan error, 1)
	go func() { done <- f.Sweeper.Run(ctx, time.Hour) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
