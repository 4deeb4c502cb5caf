// Package monitor runs the availability sweep: check each product, notify
// on the unavailable-to-available transition, and keep the state ledger in
// sync so a product that stays in stock is announced exactly once.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("monitor")

type Checker interface {
	IsAvailable(ctx context.Context, productURL string) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, productName, productURL string) error
}

type StateStore interface {
	WasNotified(productURL string) bool
	MarkNotified(productURL string, ts time.Time) error
	ClearNotification(productURL string) error
}

type Product struct {
	Name string
	URL  string
}

type Service struct {
	checker Checker
	notify  Notifier
	state   StateStore
	metrics serviceMetrics
}

// Summary tallies one sweep. Errors counts products whose check failed,
// not failed notification deliveries.
type Summary struct {
	Checked         int
	Available       int
	Notified        int
	AlreadyNotified int
	Errors          int
}

func New(checker Checker, notifier Notifier, state StateStore) *Service {
	return &Service{
		checker: checker,
		notify:  notifier,
		state:   state,
		metrics: newServiceMetrics(),
	}
}

// CheckAndNotify sweeps the products in order. A failing product never
// aborts the sweep; its error is tallied and the loop moves on.
func (s *Service) CheckAndNotify(ctx context.Context, products []Product) Summary {
	ctx, span := tracer.Start(ctx, "monitor:CheckAndNotify")
	defer span.End()

	var summary Summary
	for _, product := range products {
		if err := ctx.Err(); err != nil {
			slog.WarnContext(ctx, "sweep interrupted", "err", err)
			break
		}
		summary.Checked++
		s.checkOne(ctx, product, &summary)
	}

	span.SetAttributes(
		attribute.Int("checked", summary.Checked),
		attribute.Int("available", summary.Available),
		attribute.Int("notified", summary.Notified),
		attribute.Int("errors", summary.Errors),
	)
	slog.InfoContext(ctx, "sweep complete",
		"checked", summary.Checked,
		"available", summary.Available,
		"notified", summary.Notified,
		"already_notified", summary.AlreadyNotified,
		"errors", summary.Errors,
	)
	return summary
}

func (s *Service) checkOne(ctx context.Context, product Product, summary *Summary) {
	ctx, span := tracer.Start(ctx, "monitor:checkOne")
	defer span.End()
	span.SetAttributes(attribute.String("product", product.Name))

	s.metrics.checks.Add(ctx, 1)

	available, err := s.checker.IsAvailable(ctx, product.URL)
	if err != nil {
		summary.Errors++
		s.metrics.errors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "availability check failed")
		slog.ErrorContext(ctx, "availability check failed",
			"product", product.Name, "url", product.URL, "err", err)
		return
	}

	if !available {
		slog.InfoContext(ctx, "product unavailable", "product", product.Name)
		// close any open streak so the next restock notifies again
		if err := s.state.ClearNotification(product.URL); err != nil {
			slog.ErrorContext(ctx, "could not clear notification state",
				"product", product.Name, "err", err)
		}
		return
	}

	summary.Available++
	s.metrics.available.Add(ctx, 1)

	if s.state.WasNotified(product.URL) {
		summary.AlreadyNotified++
		slog.DebugContext(ctx, "still available, streak already notified",
			"product", product.Name)
		return
	}

	if err := s.notify.Notify(ctx, product.Name, product.URL); err != nil {
		// do not mark: an undelivered notification should retry next sweep
		summary.Errors++
		s.metrics.errors.Add(ctx, 1)
		span.RecordError(err)
		slog.ErrorContext(ctx, "notification failed",
			"product", product.Name, "err", err)
		return
	}

	summary.Notified++
	s.metrics.notifications.Add(ctx, 1)
	slog.InfoContext(ctx, "notified", "product", product.Name, "url", product.URL)

	if err := s.state.MarkNotified(product.URL, time.Time{}); err != nil {
		slog.ErrorContext(ctx, "could not record notification state",
			"product", product.Name, "err", err)
	}
}

type serviceMetrics struct {
	checks        metric.Int64Counter
	available     metric.Int64Counter
	notifications metric.Int64Counter
	errors        metric.Int64Counter
}

func newServiceMetrics() serviceMetrics {
	meter := otel.Meter("monitor")
	checks, _ := meter.Int64Counter("monitor.checks",
		metric.WithDescription("availability checks attempted"))
	available, _ := meter.Int64Counter("monitor.available",
		metric.WithDescription("checks that found the product purchasable"))
	notifications, _ := meter.Int64Counter("monitor.notifications",
		metric.WithDescription("notifications delivered"))
	errors, _ := meter.Int64Counter("monitor.errors",
		metric.WithDescription("failed checks and notification deliveries"))
	return serviceMetrics{
		checks:        checks,
		available:     available,
		notifications: notifications,
		errors:        errors,
	}
}
