package server_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
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
	"gateflow/internal/server"
	"gateflow/internal/sla"
	gateflowsdk "gateflow/sdk/go"
)

const (
	testSecret    = "test-secret"
	webhookSecret = "hmac-signing-key"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))

	cfg := config.Default("test")
	cfg.Notifications.Webhooks = []config.WebhookConfig{{URL: "http://hooks.example/gateflow", Secret: webhookSecret}}
	reg, err := registry.New(cfg)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := engine.New(conn, dialect, reg, nil, logger)

	handler, err := server.New(server.Config{
		Engine:         e,
		RegistryConfig: cfg,
		Sweeper:        sla.New(conn, dialect, reg, logger),
		Queue:          queue.Projector{Repo: e.Repo, Registry: reg},
		Auth:           server.AuthConfig{JWTSecret: testSecret, AllowDevHeaders: true},
		Logger:         logger,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func requireAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var apiErr *gateflowsdk.APIError
	require.True(t, errors.As(err, &apiErr), "expected api error, got %v", err)
	assert.Equal(t, status, apiErr.StatusCode, apiErr.Body)
	assert.Equal(t, code, apiErr.Code, apiErr.Body)
}

func TestChallengeThroughSubmissionGate(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	base := gateflowsdk.New(srv.URL)
	owner := base.As("citizen-1")
	coordinator := base.As("coord-1", "challenge_coordinator")

	wf, err := owner.Enroll(ctx, "Challenge", "ch-1", "")
	require.NoError(t, err)
	assert.Equal(t, "draft", wf.Stage)
	assert.Equal(t, "citizen-1", wf.OwnerID)
	assert.Equal(t, int64(1), wf.Version)

	_, err = owner.Enroll(ctx, "Challenge", "ch-1", "")
	requireAPIError(t, err, http.StatusBadRequest, "validation")

	gate, err := owner.OpenGate(ctx, "Challenge", "ch-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "challenge_submission", gate.GateID)
	assert.Equal(t, "open", gate.Status)
	require.NotNil(t, gate.DueAt)
	assert.WithinDuration(t, gate.OpenedAt.Add(3*24*time.Hour), *gate.DueAt, time.Second)

	_, err = owner.OpenGate(ctx, "Challenge", "ch-1", 0)
	requireAPIError(t, err, http.StatusConflict, "gate_already_open")

	_, err = coordinator.Review(ctx, "Challenge", "ch-1", "accepted", nil, "", 0)
	requireAPIError(t, err, http.StatusUnprocessableEntity, "self_check_incomplete")

	_, err = coordinator.SubmitSelfCheck(ctx, "Challenge", "ch-1", map[string]gateflowsdk.Answer{"problem_statement": {Done: true}}, 0)
	requireAPIError(t, err, http.StatusForbidden, "not_permitted")

	gate, err = owner.SubmitSelfCheck(ctx, "Challenge", "ch-1", map[string]gateflowsdk.Answer{
		"problem_statement": {Done: true},
		"evidence_attached": {Value: "survey.pdf"},
	}, 0)
	require.NoError(t, err)
	assert.True(t, gate.SelfCheck["problem_statement"].Done)

	_, err = owner.Review(ctx, "Challenge", "ch-1", "accepted", nil, "", 0)
	requireAPIError(t, err, http.StatusForbidden, "not_permitted")

	res, err := coordinator.Review(ctx, "Challenge", "ch-1", "accepted",
		map[string]gateflowsdk.Answer{"in_mandate": {Done: true}}, "looks good", 0)
	require.NoError(t, err)
	assert.Equal(t, "resolved", res.Gate.Status)
	require.NotNil(t, res.Gate.Decision)
	assert.Equal(t, "accepted", *res.Gate.Decision)
	assert.Equal(t, "coord-1", res.Gate.DecidedBy)
	assert.Equal(t, "under_review", res.Workflow.Stage)
	assert.Nil(t, res.Workflow.OpenGateID)
	assert.Equal(t, int64(4), res.Workflow.Version)

	_, err = owner.OpenGateFor(ctx, "Challenge", "ch-1")
	requireAPIError(t, err, http.StatusConflict, "gate_not_open")

	gate, err = owner.OpenGate(ctx, "Challenge", "ch-1", 4)
	require.NoError(t, err)
	assert.Equal(t, "challenge_review", gate.GateID)

	_, err = owner.SubmitSelfCheck(ctx, "Challenge", "ch-1", map[string]gateflowsdk.Answer{"kpis_defined": {Done: true}}, 4)
	requireAPIError(t, err, http.StatusConflict, "stale_write_conflict")

	hist, err := owner.History(ctx, "Challenge", "ch-1")
	require.NoError(t, err)
	require.Len(t, hist.Gates, 2)
	assert.Equal(t, "challenge_submission", hist.Gates[0].GateID)
	assert.Equal(t, "challenge_review", hist.Gates[1].GateID)
	assert.Equal(t, "workflow.enrolled", hist.Events[0].Kind)

	adv, err := owner.RequestAdvisory(ctx, "Challenge", "ch-1", "requester")
	require.NoError(t, err)
	assert.False(t, adv.Available)
	assert.Equal(t, "advisory is not configured", adv.Reason)
}

func TestBearerTokens(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	base := gateflowsdk.New(srv.URL)

	_, err := base.Enroll(ctx, "Challenge", "ch-1", "citizen-1")
	requireAPIError(t, err, http.StatusUnauthorized, "unauthorized")

	bad := *base
	bad.BearerToken = "not-a-token"
	_, err = bad.Workflow(ctx, "Challenge", "ch-1")
	requireAPIError(t, err, http.StatusUnauthorized, "invalid_credentials")

	owner := base.As("citizen-1")
	_, err = owner.Enroll(ctx, "Challenge", "ch-1", "")
	require.NoError(t, err)
	_, err = owner.Transition(ctx, "Challenge", "ch-1", 0)
	requireAPIError(t, err, http.StatusConflict, "invalid_transition")

	wf, err := owner.Enroll(ctx, "Challenge", "ch-2", "")
	require.NoError(t, err)
	opened, err := owner.OpenGate(ctx, "Challenge", "ch-2", wf.Version)
	require.NoError(t, err)
	_, err = owner.SubmitSelfCheck(ctx, "Challenge", "ch-2", map[string]gateflowsdk.Answer{
		"problem_statement": {Done: true},
		"evidence_attached": {Done: true},
	}, 0)
	require.NoError(t, err)

	token, err := server.IssueToken(testSecret, "coord-1", []string{"challenge_coordinator"}, time.Hour)
	require.NoError(t, err)
	coordinator := *base
	coordinator.BearerToken = token

	_, err = coordinator.Review(ctx, "Challenge", "ch-2", "archived", nil, "", 0)
	requireAPIError(t, err, http.StatusUnprocessableEntity, "invalid_decision")

	items, err := coordinator.Queue(ctx, "", "challenge_coordinator", false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ch-2", items[0].EntityID)
	assert.Empty(t, items[0].SelfCheckMissing)
	assert.False(t, items[0].Overdue)

	_, err = coordinator.RequestAdvisory(ctx, "Challenge", "ch-2", "requester")
	requireAPIError(t, err, http.StatusForbidden, "not_permitted")

	pinned := gateflowsdk.ReviewInput{Decision: "rejected", Comment: "out of mandate", GateInstanceID: opened.ID}
	res, err := coordinator.SubmitReview(ctx, "Challenge", "ch-2", pinned)
	require.NoError(t, err)
	assert.Equal(t, "rejected", res.Workflow.Stage)
	assert.Equal(t, "completed", res.Workflow.Status)

	_, err = coordinator.SubmitReview(ctx, "Challenge", "ch-2", pinned)
	requireAPIError(t, err, http.StatusConflict, "stale_write_conflict")

	_, err = owner.OpenGate(ctx, "Challenge", "ch-2", 0)
	requireAPIError(t, err, http.StatusConflict, "no_gate_for_stage")

	done, err := owner.ListWorkflows(ctx, "Challenge", "completed")
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "ch-2", done[0].EntityID)
	all, err := owner.ListWorkflows(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	_, err = owner.ListWorkflows(ctx, "Starship", "")
	requireAPIError(t, err, http.StatusNotFound, "config_not_found")

	other := *base
	forged, err := server.IssueToken("other-secret", "coord-1", []string{"challenge_coordinator"}, time.Hour)
	require.NoError(t, err)
	other.BearerToken = forged
	_, err = other.Workflow(ctx, "Challenge", "ch-2")
	requireAPIError(t, err, http.StatusUnauthorized, "invalid_credentials")
}

func TestQueueSweepAndEvents(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	owner := gateflowsdk.New(srv.URL).As("citizen-1")

	for _, id := range []string{"ch-1", "ch-2", "ch-3"} {
		_, err := owner.Enroll(ctx, "Challenge", id, "")
		require.NoError(t, err)
		_, err = owner.OpenGate(ctx, "Challenge", id, 0)
		require.NoError(t, err)
	}

	report, err := owner.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Zero(t, report.Escalated)

	items, err := owner.Queue(ctx, "Challenge", "", false)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "ch-1", items[0].EntityID)
	assert.Equal(t, []string{"problem_statement", "evidence_attached"}, items[0].SelfCheckMissing)

	overdue, err := owner.Queue(ctx, "", "", true)
	require.NoError(t, err)
	assert.Empty(t, overdue)

	page, err := owner.EventsPage(ctx, 4, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 4)
	require.NotEmpty(t, page.NextCursor)
	assert.Equal(t, "gate.opened", page.Items[0].Kind)
	assert.Equal(t, "ch-3", page.Items[0].EntityID)

	rest, err := owner.EventsPage(ctx, 10, page.NextCursor)
	require.NoError(t, err)
	assert.Len(t, rest.Items, 2)
	assert.Empty(t, rest.NextCursor)
	assert.Less(t, rest.Items[0].ID, page.Items[3].ID)

	_, err = owner.EventsPage(ctx, 10, "abc")
	requireAPIError(t, err, http.StatusBadRequest, "bad_request")
}

func TestRegistryHidesWebhookSecrets(t *testing.T) {
	srv := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/registry", nil)
	require.NoError(t, err)
	req.Header.Set("X-Actor-Id", "any-citizen")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "http://hooks.example/gateflow")
	assert.NotContains(t, string(body), webhookSecret)
}

func TestUnauthenticatedEndpoints(t *testing.T) {
	srv := newTestServer(t)
	for _, p := range []string{"/v1/health", "/v1/openapi.json", "/metrics", "/docs"} {
		resp, err := http.Get(srv.URL + p)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, p)
		assert.NotEmpty(t, body, p)
	}

	resp, err := http.Get(srv.URL + "/v1/registry/maturity")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
