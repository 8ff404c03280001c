package app_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateflow/internal/app"
	"gateflow/internal/engine"
)

const permitRegistry = `registry:
  id: permits
entity_types:
  - name: Permit
    stages:
      - id: filed
        gate: permit_check
      - id: granted
        terminal: true
gates:
  permit_check:
    sla_days: 2
    reviewer_role: clerk
    decisions:
      grant: granted
`

func open(t *testing.T, opts app.Options) *app.App {
	t.Helper()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestOpenSeedsDefaultRegistry(t *testing.T) {
	ws := t.TempDir()
	a := open(t, app.Options{Workspace: ws})
	assert.Equal(t, app.DefaultRegistryID, a.Config.Registry.ID)
	assert.Len(t, a.Registry.EntityTypes(), 5)
	require.NoError(t, a.Close())

	// the stored copy wins over a workspace file added later
	require.NoError(t, os.WriteFile(filepath.Join(ws, "gateflow.yml"), []byte(permitRegistry), 0o644))
	again := open(t, app.Options{Workspace: ws})
	assert.Equal(t, app.DefaultRegistryID, again.Config.Registry.ID)

	wf, err := again.Engine.Enroll(context.Background(), engine.EnrollOptions{EntityType: "Pilot", EntityID: "p-1", OwnerID: "owner-1"})
	require.NoError(t, err)
	assert.Equal(t, "design", wf.Stage)
}

func TestOpenUsesWorkspaceRegistry(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "gateflow.yml"), []byte(permitRegistry), 0o644))
	a := open(t, app.Options{Workspace: ws})
	assert.Equal(t, "permits", a.Config.Registry.ID)
	_, err := a.Registry.EntityType("Permit")
	require.NoError(t, err)
	_, err = a.Registry.EntityType("Challenge")
	require.Error(t, err)
	assert.Equal(t, "none", a.Engine.Advisor.Advisor.Name())
}

func TestRegistryFileIsImported(t *testing.T) {
	ws := t.TempDir()
	open(t, app.Options{Workspace: ws}).Close()

	file := filepath.Join(t.TempDir(), "permits.yml")
	require.NoError(t, os.WriteFile(file, []byte(permitRegistry), 0o644))
	a := open(t, app.Options{Workspace: ws, RegistryFile: file})
	assert.Equal(t, "permits", a.Config.Registry.ID)
	a.Close()

	_, err := app.Open(context.Background(), app.Options{Workspace: ws, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple registries")

	byID := open(t, app.Options{Workspace: ws, RegistryID: "permits"})
	gate, err := byID.Registry.GetGate("Permit", "filed")
	require.NoError(t, err)
	assert.Equal(t, "clerk", gate.ReviewerRole)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := app.Open(context.Background(), app.Options{Workspace: t.TempDir(), Driver: "oracle"})
	require.Error(t, err)
}
