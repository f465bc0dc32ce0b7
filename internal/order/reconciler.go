package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/metrics"
	"go.uber.org/zap"
)

// Outcome describes what a reconcile call did to the store.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
)

// Entry points, used to label logs, metrics and events.
const (
	SourceWebhook = "webhook"
	SourceVerify  = "verify"
)

// Publisher is notified after an order becomes paid. Failures are logged and
// never roll back the reconciliation.
type Publisher interface {
	PublishOrderPaid(ctx context.Context, o Order, source string) error
}

// Input is one confirmed-paid payment to bring into the ledger.
type Input struct {
	Reference string
	Metadata  Metadata
	Price     float64
	Source    string
}

// Result carries the outcome and the order as read back from the store.
type Result struct {
	Outcome Outcome
	Order   Order
}

// Reconciler ensures exactly one paid order exists per payment reference.
type Reconciler struct {
	store          Store
	logger         *zap.Logger
	metrics        *metrics.Metrics
	publisher      Publisher
	timeout        time.Duration
	publishTimeout time.Duration
}

type Option func(*Reconciler)

func WithMetrics(m *metrics.Metrics) Option { return func(r *Reconciler) { r.metrics = m } }

func WithPublisher(p Publisher) Option { return func(r *Reconciler) { r.publisher = p } }

// WithTimeout bounds the store round-trips of a single Reconcile call.
func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewReconciler(store Store, logger *zap.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{
		store:          store,
		logger:         logger,
		timeout:        5 * time.Second,
		publishTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile inserts a paid order for the reference or moves an existing one to
// paid. A uniqueness conflict on insert means another writer got there first;
// it is resolved through the update path and never returned to the caller.
func (r *Reconciler) Reconcile(ctx context.Context, in Input) (Result, error) {
	in.Reference = strings.TrimSpace(in.Reference)
	if in.Reference == "" {
		return Result{}, ErrInvalidInput
	}
	if in.Source == "" {
		in.Source = "unknown"
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	log := r.logger.With(zap.String("reference", in.Reference), zap.String("source", in.Source))

	existing, err := r.store.FindByReference(ctx, in.Reference)
	switch {
	case err == nil:
		return r.confirm(ctx, log, in, existing)
	case errors.Is(err, ErrNotFound):
	default:
		return r.fail(log, in, "lookup", err)
	}

	created, err := r.store.Insert(ctx, Order{
		Reference:       in.Reference,
		UserID:          in.Metadata.UserID,
		ProviderName:    in.Metadata.ProviderName,
		BundleID:        in.Metadata.BundleID,
		RecipientNumber: in.Metadata.RecipientNumber,
		Price:           in.Price,
		PaymentNetwork:  PaymentNetwork,
		Status:          StatusPaid,
	})
	if err == nil {
		log.Info("order created", zap.String("order_id", created.ID), zap.Float64("price", created.Price))
		r.metrics.Reconciled(in.Source, string(OutcomeCreated))
		r.publish(ctx, log, created, in.Source)
		return Result{Outcome: OutcomeCreated, Order: created}, nil
	}
	if !errors.Is(err, ErrConflict) {
		return r.fail(log, in, "insert", err)
	}

	log.Info("concurrent insert detected, retrying as update")
	existing, err = r.store.FindByReference(ctx, in.Reference)
	if err != nil {
		return r.fail(log, in, "lookup after conflict", err)
	}
	return r.confirm(ctx, log, in, existing)
}

func (r *Reconciler) confirm(ctx context.Context, log *zap.Logger, in Input, existing Order) (Result, error) {
	if existing.Status == StatusPaid {
		log.Debug("order already paid")
		r.metrics.Reconciled(in.Source, string(OutcomeUnchanged))
		return Result{Outcome: OutcomeUnchanged, Order: existing}, nil
	}

	changed, err := r.store.MarkPaid(ctx, in.Reference)
	if err != nil {
		return r.fail(log, in, "mark paid", err)
	}

	current, err := r.store.FindByReference(ctx, in.Reference)
	if err != nil {
		return r.fail(log, in, "read back", err)
	}
	if !changed {
		// Lost the race to another writer that already flipped the status.
		r.metrics.Reconciled(in.Source, string(OutcomeUnchanged))
		return Result{Outcome: OutcomeUnchanged, Order: current}, nil
	}

	log.Info("order marked paid", zap.String("order_id", current.ID))
	r.metrics.Reconciled(in.Source, string(OutcomeUpdated))
	r.publish(ctx, log, current, in.Source)
	return Result{Outcome: OutcomeUpdated, Order: current}, nil
}

func (r *Reconciler) fail(log *zap.Logger, in Input, step string, err error) (Result, error) {
	log.Error("order reconciliation failed", zap.String("step", step), zap.Error(err))
	r.metrics.Reconciled(in.Source, string(OutcomeFailed))
	if !errors.Is(err, ErrStore) {
		err = fmt.Errorf("%w: %w", ErrStore, err)
	}
	return Result{}, fmt.Errorf("reconcile %s (%s): %w", in.Reference, step, err)
}

func (r *Reconciler) publish(ctx context.Context, log *zap.Logger, o Order, source string) {
	if r.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.publishTimeout)
	defer cancel()
	if err := r.publisher.PublishOrderPaid(pctx, o, source); err != nil {
		log.Warn("failed to publish OrderPaid event", zap.Error(err))
	}
}
