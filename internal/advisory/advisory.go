// Package advisory runs best-effort AI assistance for gates. Nothing in this
// package can fail a workflow operation: every failure is reported as an
// unavailable advisory.
package advisory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"gateflow/internal/config"
	"gateflow/internal/domain"
	"gateflow/internal/metrics"
)

const (
	RoleRequester = "requester"
	RoleReviewer  = "reviewer"

	DefaultTimeout = 8 * time.Second
)

// Item is a checklist item as shown to the advisor.
type Item struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Done     bool   `json:"done"`
	Value    string `json:"value,omitempty"`
}

// Request is the gate context handed to an Advisor.
type Request struct {
	Role       string   `json:"role"`
	EntityType string   `json:"entity_type"`
	EntityID   string   `json:"entity_id"`
	Stage      string   `json:"stage"`
	GateID     string   `json:"gate_id"`
	GateLabel  string   `json:"gate_label,omitempty"`
	SelfCheck  []Item   `json:"self_check"`
	Reviewer   []Item   `json:"reviewer_checklist"`
	Decisions  []string `json:"decisions"`
}

// Result is what an advisor produced.
type Result struct {
	Summary     string             `json:"summary"`
	Suggestions []string           `json:"suggestions,omitempty"`
	Scores      map[string]float64 `json:"scores,omitempty"`
}

type Advisor interface {
	Name() string
	Advise(ctx context.Context, req Request) (Result, error)
}

var ErrDisabled = errors.New("advisory is not configured")

// Disabled is the advisor used when no provider is configured.
type Disabled struct{}

func (Disabled) Name() string { return "none" }

func (Disabled) Advise(context.Context, Request) (Result, error) {
	return Result{}, ErrDisabled
}

// Hook bounds an Advisor with a timeout and an optional rate limit and turns
// every failure into an unavailable advisory.
type Hook struct {
	Advisor Advisor
	Timeout time.Duration
	Limiter *rate.Limiter
	Logger  *slog.Logger
	Now     func() time.Time
}

// NewHook builds a hook from the registry advisory settings. apiKey is only
// used by the openai provider.
func NewHook(cfg config.AdvisoryConfig, apiKey string, logger *slog.Logger) *Hook {
	if logger == nil {
		logger = slog.Default()
	}
	var adv Advisor = Disabled{}
	if cfg.Provider == "openai" {
		if apiKey == "" {
			logger.Warn("advisory provider openai configured without an API key; advisory disabled")
		} else {
			adv = NewOpenAIAdvisor(apiKey, cfg.BaseURL, cfg.Model)
		}
	}
	h := &Hook{Advisor: adv, Logger: logger}
	if cfg.TimeoutMS > 0 {
		h.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	if cfg.RatePerMinute > 0 {
		h.Limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.RatePerMinute)
	}
	return h
}

func (h *Hook) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Hook) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Request asks the advisor for assistance. It returns within the hook timeout
// even when the advisor ignores cancellation.
func (h *Hook) Request(ctx context.Context, req Request) domain.Advisory {
	adv := h.Advisor
	if adv == nil {
		adv = Disabled{}
	}
	provider := adv.Name()
	start := time.Now()
	unavailable := func(outcome, reason string) domain.Advisory {
		metrics.Advisory(provider, outcome, time.Since(start))
		h.logger().Info("advisory unavailable", "provider", provider, "entity_type", req.EntityType, "entity_id", req.EntityID, "reason", reason)
		return domain.Advisory{Available: false, Role: req.Role, Reason: reason, Source: provider, GeneratedAt: h.now().UTC()}
	}
	if _, ok := adv.(Disabled); ok {
		return unavailable("unavailable", ErrDisabled.Error())
	}
	if h.Limiter != nil && !h.Limiter.Allow() {
		return unavailable("rate_limited", "advisory rate limit reached")
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("advisor panic: %v", r)}
			}
		}()
		res, err := adv.Advise(ctx, req)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(o.err, context.DeadlineExceeded) {
				return unavailable("timeout", "advisory timed out")
			}
			return unavailable("unavailable", o.err.Error())
		}
		metrics.Advisory(provider, "available", time.Since(start))
		return domain.Advisory{
			Available:   true,
			Role:        req.Role,
			Summary:     o.res.Summary,
			Suggestions: o.res.Suggestions,
			Scores:      o.res.Scores,
			Source:      provider,
			GeneratedAt: h.now().UTC(),
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return unavailable("timeout", "advisory timed out")
		}
		return unavailable("unavailable", "advisory cancelled")
	}
}
