package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateflow/internal/config"
	"gateflow/internal/db"
	"gateflow/internal/domain"
	"gateflow/internal/engine"
	"gateflow/internal/migrate"
	"gateflow/internal/notify"
	"gateflow/internal/registry"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type received struct {
	kind      string
	delivery  string
	signature string
	body      []byte
}

type webhookRecorder struct {
	mu       sync.Mutex
	requests []received
	fail     atomic.Int32
}

func (w *webhookRecorder) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if w.fail.Load() > 0 {
		w.fail.Add(-1)
		http.Error(rw, "try later", http.StatusServiceUnavailable)
		return
	}
	body, _ := io.ReadAll(r.Body)
	w.mu.Lock()
	w.requests = append(w.requests, received{
		kind:      r.Header.Get("X-Gateflow-Event"),
		delivery:  r.Header.Get("X-Gateflow-Delivery"),
		signature: r.Header.Get("X-Gateflow-Signature"),
		body:      body,
	})
	w.mu.Unlock()
	rw.WriteHeader(http.StatusNoContent)
}

func (w *webhookRecorder) all() []received {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]received(nil), w.requests...)
}

func newEngine(t *testing.T) engine.Engine {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))
	reg, err := registry.New(config.Default("test"))
	require.NoError(t, err)
	return engine.New(conn, dialect, reg, nil, discard)
}

func TestDispatchDeliversNewNotifiableEvents(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	d := notify.NewDispatcher(eng.Repo, config.NotificationsConfig{
		Webhooks: []config.WebhookConfig{{URL: srv.URL, Secret: "s3cret"}},
	}, discard)
	require.Len(t, d.Sinks, 2)

	// history before the first run is not replayed
	_, err := eng.Enroll(ctx, engine.EnrollOptions{EntityType: "Challenge", EntityID: "c-0", OwnerID: "owner-1"})
	require.NoError(t, err)
	n, err := d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = eng.Enroll(ctx, engine.EnrollOptions{EntityType: "Challenge", EntityID: "c-1", OwnerID: "owner-1"})
	require.NoError(t, err)
	gi, err := eng.OpenGate(ctx, engine.OpenGateOptions{EntityType: "Challenge", EntityID: "c-1", Actor: engine.Actor{ID: "owner-1"}})
	require.NoError(t, err)

	n, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n) // gate.opened to the log sink and the webhook

	reqs := rec.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, string(domain.EventGateOpened), reqs[0].kind)
	assert.NotEmpty(t, reqs[0].delivery)
	assert.Equal(t, "sha256="+notify.Sign("s3cret", reqs[0].body), reqs[0].signature)

	var evt struct {
		Kind           string         `json:"kind"`
		EntityID       string         `json:"entity_id"`
		GateInstanceID string         `json:"gate_instance_id"`
		Payload        map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(reqs[0].body, &evt))
	assert.Equal(t, "c-1", evt.EntityID)
	assert.Equal(t, gi.ID, evt.GateInstanceID)
	assert.Equal(t, "challenge_submission", evt.Payload["gate_id"])

	n, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, rec.all(), 1)
}

func TestFailedDeliveryIsRetried(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	d := notify.NewDispatcher(eng.Repo, config.NotificationsConfig{
		Webhooks: []config.WebhookConfig{{URL: srv.URL}},
	}, discard)
	_, err := d.DispatchOnce(ctx)
	require.NoError(t, err)

	_, err = eng.Enroll(ctx, engine.EnrollOptions{EntityType: "Challenge", EntityID: "c-1", OwnerID: "owner-1"})
	require.NoError(t, err)
	_, err = eng.OpenGate(ctx, engine.OpenGateOptions{EntityType: "Challenge", EntityID: "c-1", Actor: engine.Actor{ID: "owner-1"}})
	require.NoError(t, err)

	rec.fail.Store(1)
	_, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, rec.all())

	_, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	reqs := rec.all()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].signature)
}

func TestSinkSelection(t *testing.T) {
	disabled := false
	d := notify.NewDispatcher(newEngine(t).Repo, config.NotificationsConfig{
		Events: []string{"gate.leadership_alert"},
		Webhooks: []config.WebhookConfig{
			{URL: "http://hooks.example/off", Enabled: &disabled},
			{URL: "http://hooks.example/all", Events: []string{"*"}},
			{URL: "http://hooks.example/default"},
		},
	}, discard)
	require.Len(t, d.Sinks, 3)

	names := make([]string, 0, len(d.Sinks))
	for _, s := range d.Sinks {
		names = append(names, s.Name())
	}
	assert.Equal(t, "log", names[0])
	assert.False(t, strings.Contains(strings.Join(names, " "), "/off"))

	assert.False(t, d.Sinks[0].Accepts(domain.EventGateOpened))
	assert.True(t, d.Sinks[0].Accepts(domain.EventLeadershipAlert))
	assert.True(t, d.Sinks[1].Accepts(domain.EventEnrolled))
	assert.False(t, d.Sinks[2].Accepts(domain.EventDecisionRecorded))
	assert.True(t, d.Sinks[2].Accepts(domain.EventLeadershipAlert))

	defaults := notify.NewLogSink(discard, notify.DefaultEvents)
	assert.True(t, defaults.Accepts(domain.EventDecisionRecorded))
	assert.False(t, defaults.Accepts(domain.EventSelfCheckUpdated))
}
