package queue_test

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
	"gateflow/internal/engine"
	"gateflow/internal/migrate"
	"gateflow/internal/queue"
	"gateflow/internal/registry"
	"gateflow/internal/sla"
)

func TestListOpenGatesMostUrgentFirst(t *testing.T) {
	ctx := context.Background()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))
	reg, err := registry.New(config.Default("test"))
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	start := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	now := start
	clock := func() time.Time { return now }
	eng := engine.New(conn, dialect, reg, nil, logger)
	eng.Now = clock

	open := func(entityType, id, stage string, at time.Duration) {
		now = start.Add(at)
		_, err := eng.Enroll(ctx, engine.EnrollOptions{EntityType: entityType, EntityID: id, OwnerID: "owner-1", Stage: stage})
		require.NoError(t, err)
		_, err = eng.OpenGate(ctx, engine.OpenGateOptions{EntityType: entityType, EntityID: id, Actor: engine.Actor{ID: "owner-1"}})
		require.NoError(t, err)
	}
	open("Challenge", "c-a", "under_review", 0)
	open("Challenge", "c-b", "draft", time.Hour)
	open("Program", "p-c", "active", 2*time.Hour)
	open("Challenge", "c-d", "under_review", 3*time.Hour)

	now = start.Add(4 * 24 * time.Hour)
	sweeper := sla.New(conn, dialect, reg, logger)
	sweeper.Now = clock
	_, err = sweeper.Sweep(ctx)
	require.NoError(t, err)

	p := queue.Projector{Repo: eng.Repo, Registry: reg, Now: clock}
	items, err := p.ListOpenGates(ctx, queue.Filter{})
	require.NoError(t, err)
	var ids []string
	for _, it := range items {
		ids = append(ids, it.EntityID)
	}
	assert.Equal(t, []string{"c-b", "c-a", "c-d", "p-c"}, ids)

	assert.Equal(t, 1, items[0].EscalationLevel)
	assert.True(t, items[0].Overdue)
	assert.Equal(t, "Municipal challenge", items[1].EntityTypeLabel)
	assert.Equal(t, "Challenge review", items[1].GateLabel)
	assert.Equal(t, []string{"kpis_defined", "budget_estimated"}, items[1].SelfCheckMissing)
	assert.Nil(t, items[3].DueAt)
	assert.False(t, items[3].Overdue)

	overdue, err := p.ListOpenGates(ctx, queue.Filter{OverdueOnly: true})
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "c-b", overdue[0].EntityID)

	reviews, err := p.ListOpenGates(ctx, queue.Filter{ReviewerRole: "challenge_reviewer"})
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, "c-a", reviews[0].EntityID)
	assert.Equal(t, "c-d", reviews[1].EntityID)

	programs, err := p.ListOpenGates(ctx, queue.Filter{EntityType: "Program"})
	require.NoError(t, err)
	require.Len(t, programs, 1)
	assert.Equal(t, "program_closure", programs[0].GateID)
}

func TestSortUrgent(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	due := func(d time.Duration) *time.Time {
		v := base.Add(d)
		return &v
	}
	items := []queue.Item{
		{GateInstanceID: "no-due", OpenedAt: base},
		{GateInstanceID: "late", DueAt: due(48 * time.Hour), OpenedAt: base},
		{GateInstanceID: "b-tie", DueAt: due(24 * time.Hour), OpenedAt: base},
		{GateInstanceID: "escalated", DueAt: due(72 * time.Hour), EscalationLevel: 2, OpenedAt: base},
		{GateInstanceID: "a-tie", DueAt: due(24 * time.Hour), OpenedAt: base},
		{GateInstanceID: "early-open", DueAt: due(24 * time.Hour), OpenedAt: base.Add(-time.Hour)},
	}
	queue.SortUrgent(items)
	var ids []string
	for _, it := range items {
		ids = append(ids, it.GateInstanceID)
	}
	assert.Equal(t, []string{"escalated", "early-open", "a-tie", "b-tie", "late", "no-due"}, ids)

	for i := 1; i < len(items); i++ {
		assert.False(t, queue.Less(items[i], items[i-1]), "order violated at %d", i)
	}
}
