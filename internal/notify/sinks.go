package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gateflow/internal/config"
	"gateflow/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookSink POSTs each event as JSON. When a secret is configured the body
// is signed with HMAC-SHA256 in the X-Gateflow-Signature header.
type WebhookSink struct {
	hook   config.WebhookConfig
	filter eventFilter
	client *http.Client
}

func NewWebhookSink(hook config.WebhookConfig, events []string) *WebhookSink {
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	return &WebhookSink{hook: hook, filter: newEventFilter(events), client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSink) Name() string { return "webhook:" + s.hook.URL }

func (s *WebhookSink) Accepts(kind domain.EventKind) bool { return s.filter.match(kind) }

type webhookEvent struct {
	ID             int64           `json:"id"`
	Kind           string          `json:"kind"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	GateInstanceID string          `json:"gate_instance_id,omitempty"`
	ActorID        string          `json:"actor_id"`
	TS             time.Time       `json:"ts"`
	Payload        json.RawMessage `json:"payload"`
}

func (s *WebhookSink) Deliver(ctx context.Context, evt domain.AuditEvent) error {
	payload := evt.Payload
	if len(payload) == 0 || !json.Valid(payload) {
		payload = json.RawMessage(`{}`)
	}
	data, err := json.Marshal(webhookEvent{
		ID:             evt.ID,
		Kind:           string(evt.Kind),
		EntityType:     evt.EntityType,
		EntityID:       evt.EntityID,
		GateInstanceID: evt.GateInstanceID,
		ActorID:        evt.ActorID,
		TS:             evt.TS,
		Payload:        payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateflow-Event", string(evt.Kind))
	req.Header.Set("X-Gateflow-Delivery", strconv.FormatInt(evt.ID, 10))
	if secret := strings.TrimSpace(s.hook.Secret); secret != "" {
		req.Header.Set("X-Gateflow-Signature", "sha256="+Sign(secret, data))
	}
	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// LogSink writes notifiable events to the structured log.
type LogSink struct {
	logger *slog.Logger
	filter eventFilter
}

func NewLogSink(logger *slog.Logger, events []string) *LogSink {
	return &LogSink{logger: logger, filter: newEventFilter(events)}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Accepts(kind domain.EventKind) bool { return s.filter.match(kind) }

func (s *LogSink) Deliver(ctx context.Context, evt domain.AuditEvent) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "notification",
		slog.Int64("event_id", evt.ID),
		slog.String("kind", string(evt.Kind)),
		slog.String("entity_type", evt.EntityType),
		slog.String("entity_id", evt.EntityID),
		slog.String("gate_instance_id", evt.GateInstanceID),
		slog.String("actor_id", evt.ActorID),
	)
	return nil
}
