// Package notify delivers notifiable audit events to external sinks. Events
// are read from the events table after a persisted per-sink cursor, so the
// engine never waits on delivery.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"gateflow/internal/config"
	"gateflow/internal/domain"
	"gateflow/internal/metrics"
	"gateflow/internal/repo"
)

const (
	DefaultInterval = 2 * time.Second
	defaultBatch    = 100
)

// DefaultEvents are delivered when the registry does not list any.
var DefaultEvents = []string{
	string(domain.EventGateOpened),
	string(domain.EventDecisionRecorded),
	string(domain.EventLeadershipAlert),
}

type Sink interface {
	// Name keys the sink's cursor; it must be stable across restarts.
	Name() string
	Accepts(kind domain.EventKind) bool
	Deliver(ctx context.Context, evt domain.AuditEvent) error
}

type Dispatcher struct {
	Repo     repo.Repo
	Sinks    []Sink
	Logger   *slog.Logger
	Interval time.Duration
	Batch    int
}

// NewDispatcher builds a dispatcher with a log sink plus one sink per enabled
// webhook of cfg.
func NewDispatcher(r repo.Repo, cfg config.NotificationsConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	events := cfg.Events
	if len(events) == 0 {
		events = DefaultEvents
	}
	d := &Dispatcher{Repo: r, Logger: logger, Interval: DefaultInterval, Batch: defaultBatch}
	d.Sinks = append(d.Sinks, NewLogSink(logger, events))
	for _, hook := range cfg.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		filter := hook.Events
		if len(filter) == 0 {
			filter = events
		}
		d.Sinks = append(d.Sinks, NewWebhookSink(hook, filter))
	}
	return d
}

// Run dispatches on every tick until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.Logger.Warn("notify: dispatch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce runs one delivery round for every sink and returns the number of
// delivered events. A sink that has never run starts at the newest event.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	var delivered atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, sink := range d.Sinks {
		g.Go(func() error {
			n, err := d.dispatchSink(gctx, sink)
			delivered.Add(int64(n))
			return err
		})
	}
	err := g.Wait()
	return int(delivered.Load()), err
}

func (d *Dispatcher) dispatchSink(ctx context.Context, sink Sink) (int, error) {
	cursor, ok, err := d.Repo.NotifyCursor(ctx, sink.Name())
	if err != nil {
		return 0, err
	}
	if !ok {
		latest, err := d.Repo.LatestEventID(ctx)
		if err != nil {
			return 0, err
		}
		return 0, d.Repo.SetNotifyCursor(ctx, sink.Name(), latest)
	}
	batch := d.Batch
	if batch <= 0 {
		batch = defaultBatch
	}
	evts, err := d.Repo.EventsAfter(ctx, cursor, batch)
	if err != nil {
		return 0, err
	}
	start := cursor
	delivered := 0
	for _, evt := range evts {
		if !sink.Accepts(evt.Kind) {
			cursor = evt.ID
			continue
		}
		if err := sink.Deliver(ctx, evt); err != nil {
			metrics.Notification(sink.Name(), false)
			d.Logger.Warn("notify: delivery failed", "sink", sink.Name(), "event_id", evt.ID, "kind", evt.Kind, "error", err)
			break
		}
		metrics.Notification(sink.Name(), true)
		cursor = evt.ID
		delivered++
	}
	if cursor != start {
		if err := d.Repo.SetNotifyCursor(ctx, sink.Name(), cursor); err != nil {
			return delivered, err
		}
	}
	return delivered, nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		if key == "*" {
			return eventFilter{all: true}
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(kind domain.EventKind) bool {
	if f.all {
		return true
	}
	_, ok := f.set[string(kind)]
	return ok
}
