package gateflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal gateflow HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID and Roles are sent as dev headers when no bearer token is set.
	ActorID    string
	Roles      []string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// As returns a copy of the client acting as actorID through dev headers.
func (c *Client) As(actorID string, roles ...string) *Client {
	cp := *c
	cp.BearerToken = ""
	cp.ActorID = actorID
	cp.Roles = roles
	return &cp
}

type Workflow struct {
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	OwnerID    string    `json:"owner_id"`
	OpenGateID *string   `json:"open_gate_id,omitempty"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Answer struct {
	Done  bool   `json:"done"`
	Value string `json:"value,omitempty"`
}

type Advisory struct {
	Available   bool               `json:"available"`
	Role        string             `json:"role,omitempty"`
	Summary     string             `json:"summary,omitempty"`
	Suggestions []string           `json:"suggestions,omitempty"`
	Scores      map[string]float64 `json:"scores,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Source      string             `json:"source,omitempty"`
}

type Gate struct {
	ID              string            `json:"id"`
	EntityType      string            `json:"entity_type"`
	EntityID        string            `json:"entity_id"`
	GateID          string            `json:"gate_id"`
	Stage           string            `json:"stage"`
	RequesterID     string            `json:"requester_id"`
	ReviewerRole    string            `json:"reviewer_role,omitempty"`
	Status          string            `json:"status"`
	OpenedAt        time.Time         `json:"opened_at"`
	DueAt           *time.Time        `json:"due_at,omitempty"`
	EscalationLevel int               `json:"escalation_level"`
	SelfCheck       map[string]Answer `json:"self_check"`
	Reviewer        map[string]Answer `json:"reviewer"`
	Advisory        *Advisory         `json:"advisory,omitempty"`
	Decision        *string           `json:"decision,omitempty"`
	DecidedBy       string            `json:"decided_by,omitempty"`
	NextStage       string            `json:"next_stage,omitempty"`
}

type ReviewResult struct {
	Gate     Gate     `json:"gate"`
	Workflow Workflow `json:"workflow"`
}

type QueueItem struct {
	GateInstanceID   string     `json:"gate_instance_id"`
	EntityType       string     `json:"entity_type"`
	EntityID         string     `json:"entity_id"`
	Stage            string     `json:"stage"`
	GateID           string     `json:"gate_id"`
	GateLabel        string     `json:"gate_label,omitempty"`
	ReviewerRole     string     `json:"reviewer_role,omitempty"`
	DueAt            *time.Time `json:"due_at,omitempty"`
	EscalationLevel  int        `json:"escalation_level"`
	Overdue          bool       `json:"overdue"`
	SelfCheckMissing []string   `json:"self_check_missing,omitempty"`
}

type SweepReport struct {
	Checked   int `json:"checked"`
	Escalated int `json:"escalated"`
	Alerts    int `json:"alerts"`
}

// Event represents a log entry.
type Event struct {
	ID             int64          `json:"id"`
	TS             string         `json:"ts"`
	Kind           string         `json:"kind"`
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id"`
	GateInstanceID string         `json:"gate_instance_id,omitempty"`
	ActorID        string         `json:"actor_id"`
	Payload        map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type History struct {
	Workflow Workflow `json:"workflow"`
	Gates    []Gate   `json:"gates"`
	Events   []Event  `json:"events"`
}

// APIError wraps non-2xx responses. Code is the stable error code of the
// envelope, e.g. stale_write_conflict.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Enroll(ctx context.Context, entityType, entityID, ownerID string) (Workflow, error) {
	body := map[string]any{"entity_type": entityType, "entity_id": entityID}
	if ownerID != "" {
		body["owner_id"] = ownerID
	}
	var resp Workflow
	err := c.do(ctx, http.MethodPost, "v1/workflows", body, &resp)
	return resp, err
}

func (c *Client) Workflow(ctx context.Context, entityType, entityID string) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodGet, entityPath(entityType, entityID, ""), nil, &resp)
	return resp, err
}

// ListWorkflows lists workflows, optionally filtered by entity type and status.
func (c *Client) ListWorkflows(ctx context.Context, entityType, status string) ([]Workflow, error) {
	q := url.Values{}
	if entityType != "" {
		q.Set("entity_type", entityType)
	}
	if status != "" {
		q.Set("status", status)
	}
	endpoint := "v1/workflows"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Workflow
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Transition(ctx context.Context, entityType, entityID string, expectedVersion int64) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodPost, entityPath(entityType, entityID, "transition"), versioned(expectedVersion), &resp)
	return resp, err
}

func (c *Client) OpenGate(ctx context.Context, entityType, entityID string, expectedVersion int64) (Gate, error) {
	var resp Gate
	err := c.do(ctx, http.MethodPost, entityPath(entityType, entityID, "gate"), versioned(expectedVersion), &resp)
	return resp, err
}

func (c *Client) OpenGateFor(ctx context.Context, entityType, entityID string) (Gate, error) {
	var resp Gate
	err := c.do(ctx, http.MethodGet, entityPath(entityType, entityID, "gate"), nil, &resp)
	return resp, err
}

func (c *Client) SubmitSelfCheck(ctx context.Context, entityType, entityID string, answers map[string]Answer, expectedVersion int64) (Gate, error) {
	body := map[string]any{"answers": answers}
	if expectedVersion > 0 {
		body["expected_version"] = expectedVersion
	}
	var resp Gate
	err := c.do(ctx, http.MethodPut, entityPath(entityType, entityID, "gate/self-check"), body, &resp)
	return resp, err
}

func (c *Client) Review(ctx context.Context, entityType, entityID, decision string, answers map[string]Answer, comment string, expectedVersion int64) (ReviewResult, error) {
	return c.SubmitReview(ctx, entityType, entityID, ReviewInput{
		Decision:        decision,
		Answers:         answers,
		Comment:         comment,
		ExpectedVersion: expectedVersion,
	})
}

// ReviewInput is the body of a reviewer submission.
type ReviewInput struct {
	Decision        string            `json:"decision"`
	Answers         map[string]Answer `json:"answers,omitempty"`
	Comment         string            `json:"comment,omitempty"`
	ExpectedVersion int64             `json:"expected_version,omitempty"`
	GateInstanceID  string            `json:"gate_instance_id,omitempty"`
}

func (c *Client) SubmitReview(ctx context.Context, entityType, entityID string, in ReviewInput) (ReviewResult, error) {
	var resp ReviewResult
	err := c.do(ctx, http.MethodPost, entityPath(entityType, entityID, "gate/review"), in, &resp)
	return resp, err
}

func (c *Client) RequestAdvisory(ctx context.Context, entityType, entityID, role string) (Advisory, error) {
	var resp Advisory
	err := c.do(ctx, http.MethodPost, entityPath(entityType, entityID, "gate/advisory"), map[string]any{"role": role}, &resp)
	return resp, err
}

func (c *Client) History(ctx context.Context, entityType, entityID string) (History, error) {
	var resp History
	err := c.do(ctx, http.MethodGet, entityPath(entityType, entityID, "history"), nil, &resp)
	return resp, err
}

// Queue lists open gates, most urgent first.
func (c *Client) Queue(ctx context.Context, entityType, reviewerRole string, overdueOnly bool) ([]QueueItem, error) {
	q := url.Values{}
	if entityType != "" {
		q.Set("entity_type", entityType)
	}
	if reviewerRole != "" {
		q.Set("reviewer_role", reviewerRole)
	}
	if overdueOnly {
		q.Set("overdue_only", "true")
	}
	endpoint := "v1/queue"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []QueueItem
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Sweep(ctx context.Context) (SweepReport, error) {
	var resp SweepReport
	err := c.do(ctx, http.MethodPost, "v1/sla/sweep", nil, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v1/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
		if len(c.Roles) > 0 {
			req.Header.Set("X-Actor-Roles", strings.Join(c.Roles, ","))
		}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func entityPath(entityType, entityID, suffix string) string {
	p := fmt.Sprintf("v1/workflows/%s/%s", url.PathEscape(entityType), url.PathEscape(entityID))
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func versioned(expectedVersion int64) map[string]any {
	if expectedVersion > 0 {
		return map[string]any{"expected_version": expectedVersion}
	}
	return map[string]any{}
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
