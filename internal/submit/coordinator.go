// Package submit serializes user-triggered mutating actions (fund, repay,
// force-default) against the ledger and then, best-effort, against the
// record store. Ledger truth always wins: a payment that succeeded on the
// ledger but failed to mirror is reported as succeeded with sync pending,
// never as a failure.
package submit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"credlock/agreement-portal/agreement-portal-backend/internal/agreement"
	"credlock/agreement-portal/agreement-portal-backend/internal/ledger"
	"credlock/agreement-portal/agreement-portal-backend/internal/metrics"
	"credlock/agreement-portal/agreement-portal-backend/internal/records"
)

// ViewProvider supplies the current reconciled view for local validation
// and triggers an immediate refresh after a successful submission. The
// reconcile.Manager satisfies it.
type ViewProvider interface {
	View(ctx context.Context, ref string) (agreement.ReconciledView, error)
	Refresh(ref string)
}

// Result reports a submission outcome. SyncPending means the ledger action
// succeeded but the record-store mirror did not; it is not retried
// automatically, since retrying could double-submit against the ledger.
type Result struct {
	ExternalRef string `json:"external_ref"`
	SyncPending bool   `json:"sync_pending"`
	Warning     string `json:"warning,omitempty"`
}

// Coordinator guards each reference with an in-progress flag: a second call
// while one is outstanding fails fast with ErrConflict before touching the
// ledger.
type Coordinator struct {
	ledger  ledger.Client
	records records.Store
	views   ViewProvider
	logger  *zap.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewCoordinator creates a submission coordinator.
func NewCoordinator(lc ledger.Client, rs records.Store, views ViewProvider, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		ledger:   lc,
		records:  rs,
		views:    views,
		logger:   logger,
		inFlight: make(map[string]bool),
	}
}

// Fund deposits the agreed amount into the contract. Valid only from status
// INITIALIZED.
func (c *Coordinator) Fund(ctx context.Context, ref string, amount float64) (*Result, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: fund amount must be positive", agreement.ErrValidation)
	}

	release, err := c.begin(ref, "fund")
	if err != nil {
		return nil, err
	}
	defer release()

	view, err := c.views.View(ctx, ref)
	if err != nil {
		return nil, err
	}
	if view.EffectiveStatus != agreement.StatusInitialized {
		metrics.Submissions.WithLabelValues("fund", "conflict").Inc()
		return nil, fmt.Errorf("%w: fund is valid only from INITIALIZED, current status %s",
			agreement.ErrConflict, view.EffectiveStatus)
	}

	externalRef, err := c.ledger.Fund(ctx, ref, amount)
	if err != nil {
		c.countFailure("fund", err)
		return nil, err
	}

	result := &Result{ExternalRef: externalRef}
	metrics.Submissions.WithLabelValues("fund", "ok").Inc()
	c.views.Refresh(ref)
	return result, nil
}

// Repay pays exactly the next unpaid installment. Months cannot be skipped;
// targeting any other month fails with ErrConflict before the ledger call.
func (c *Coordinator) Repay(ctx context.Context, ref string, month int, amount float64) (*Result, error) {
	if month < 1 {
		return nil, fmt.Errorf("%w: month must be positive", agreement.ErrValidation)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: repay amount must be positive", agreement.ErrValidation)
	}

	release, err := c.begin(ref, "repay")
	if err != nil {
		return nil, err
	}
	defer release()

	view, err := c.views.View(ctx, ref)
	if err != nil {
		return nil, err
	}

	if view.EffectiveStatus != agreement.StatusActive && view.EffectiveStatus != agreement.StatusPaid {
		metrics.Submissions.WithLabelValues("repay", "conflict").Inc()
		return nil, fmt.Errorf("%w: repay is not valid in status %s",
			agreement.ErrConflict, view.EffectiveStatus)
	}
	if view.NextUnpaidMonth == 0 {
		metrics.Submissions.WithLabelValues("repay", "conflict").Inc()
		return nil, fmt.Errorf("%w: schedule fully settled", agreement.ErrConflict)
	}
	if month != view.NextUnpaidMonth {
		metrics.Submissions.WithLabelValues("repay", "conflict").Inc()
		return nil, fmt.Errorf("%w: next unpaid month is %d, got %d",
			agreement.ErrConflict, view.NextUnpaidMonth, month)
	}

	externalRef, err := c.ledger.Repay(ctx, ref, month, amount)
	if err != nil {
		c.countFailure("repay", err)
		return nil, err
	}

	result := &Result{ExternalRef: externalRef}

	// Best-effort mirror. A failure here is downgraded to a warning and not
	// retried automatically.
	appendErr := c.records.AppendPayment(ctx, ref, agreement.PaymentEntry{
		Month:       month,
		Amount:      amount,
		ExternalRef: externalRef,
		RecordedAt:  time.Now().UTC(),
	})
	if appendErr != nil {
		c.logger.Warn("payment succeeded on ledger but record mirror failed",
			zap.String("reference", ref),
			zap.Int("month", month),
			zap.Error(appendErr))
		result.SyncPending = true
		result.Warning = "payment succeeded, record sync pending"
		metrics.Submissions.WithLabelValues("repay", "sync_pending").Inc()
	} else {
		metrics.Submissions.WithLabelValues("repay", "ok").Inc()
	}

	c.views.Refresh(ref)
	return result, nil
}

// ForceDefault is the administrative escape hatch, valid only once at least
// one payment cycle has occurred.
func (c *Coordinator) ForceDefault(ctx context.Context, ref string) (*Result, error) {
	release, err := c.begin(ref, "force_default")
	if err != nil {
		return nil, err
	}
	defer release()

	view, err := c.views.View(ctx, ref)
	if err != nil {
		return nil, err
	}

	if view.EffectiveStatus != agreement.StatusActive && view.EffectiveStatus != agreement.StatusPaid {
		metrics.Submissions.WithLabelValues("force_default", "conflict").Inc()
		return nil, fmt.Errorf("%w: default is not valid in status %s",
			agreement.ErrConflict, view.EffectiveStatus)
	}
	if !cycleOccurred(view) {
		metrics.Submissions.WithLabelValues("force_default", "conflict").Inc()
		return nil, fmt.Errorf("%w: no payment cycle has occurred yet", agreement.ErrConflict)
	}

	externalRef, err := c.ledger.ForceDefault(ctx, ref)
	if err != nil {
		c.countFailure("force_default", err)
		return nil, err
	}

	metrics.Submissions.WithLabelValues("force_default", "ok").Inc()
	c.views.Refresh(ref)
	return &Result{ExternalRef: externalRef}, nil
}

// begin claims the per-reference in-progress flag. The returned release must
// be called once the submission finishes.
func (c *Coordinator) begin(ref, action string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight[ref] {
		metrics.Submissions.WithLabelValues(action, "conflict").Inc()
		return nil, fmt.Errorf("%w: a submission for %s is already in flight",
			agreement.ErrConflict, ref)
	}
	c.inFlight[ref] = true

	return func() {
		c.mu.Lock()
		delete(c.inFlight, ref)
		c.mu.Unlock()
	}, nil
}

func (c *Coordinator) countFailure(action string, err error) {
	switch {
	case errors.Is(err, agreement.ErrLedgerRejected):
		metrics.Submissions.WithLabelValues(action, "rejected").Inc()
	case errors.Is(err, agreement.ErrLedgerUnavailable):
		metrics.Submissions.WithLabelValues(action, "unavailable").Inc()
	default:
		metrics.Submissions.WithLabelValues(action, "error").Inc()
	}
}

// cycleOccurred reports whether at least one payment cycle has happened:
// either a month was paid or the first installment has come due.
func cycleOccurred(view agreement.ReconciledView) bool {
	if view.LastPaidMonth >= 1 {
		return true
	}
	for _, p := range view.Schedule {
		if p.Month == 1 {
			return p.State != agreement.PaymentFuture
		}
	}
	return false
}
