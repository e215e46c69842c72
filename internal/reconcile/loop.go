// Package reconcile keeps a derived, human-usable view of an agreement
// consistent across two independently updated stores: the authoritative
// on-chain ledger and the off-chain record store. One loop runs per
// agreement reference; ticks within a loop are strictly sequential.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"credlock/agreement-portal/agreement-portal-backend/internal/agreement"
	"credlock/agreement-portal/agreement-portal-backend/internal/amortization"
	"credlock/agreement-portal/agreement-portal-backend/internal/audit"
	"credlock/agreement-portal/agreement-portal-backend/internal/ledger"
	"credlock/agreement-portal/agreement-portal-backend/internal/metrics"
	"credlock/agreement-portal/agreement-portal-backend/internal/records"
)

// DefaultInterval is the fixed polling interval. Transient ledger failures
// keep this cadence: no exponential backoff, no retry storm.
const DefaultInterval = 15 * time.Second

// AuditSink receives observed transitions and anomalies. Both calls are
// best-effort from the loop's perspective.
type AuditSink interface {
	RecordTransition(ctx context.Context, ref string, from, to agreement.Status) error
	RecordAnomaly(ctx context.Context, ref, kind string, detail map[string]any) error
}

// Publisher receives every newly published view.
type Publisher interface {
	Publish(ref string, view agreement.ReconciledView)
}

// Loop reconciles one agreement reference. It owns the only shared mutable
// artifact per reference, the current ReconciledView, and replaces it
// atomically under its mutex.
type Loop struct {
	ref       string
	ledger    ledger.Client
	records   records.Store
	audit     AuditSink
	publisher Publisher
	logger    *zap.Logger
	interval  time.Duration
	now       func() time.Time

	mu            sync.RWMutex
	view          *agreement.ReconciledView
	lastState     *ledger.State
	record        *agreement.Record
	startFallback time.Time

	refresh   chan struct{}
	cancel    context.CancelFunc
	stopped   chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewLoop creates a loop for one reference. audit and publisher may be nil.
func NewLoop(ref string, lc ledger.Client, rs records.Store, sink AuditSink, pub Publisher, interval time.Duration, logger *zap.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		ref:       ref,
		ledger:    lc,
		records:   rs,
		audit:     sink,
		publisher: pub,
		logger:    logger.With(zap.String("reference", ref)),
		interval:  interval,
		now:       time.Now,
		refresh:   make(chan struct{}, 1),
		stopped:   make(chan struct{}),
		ready:     make(chan struct{}),
	}
}

// Start begins polling. The first tick runs immediately; subsequent ticks
// follow the fixed interval. Start is idempotent.
func (l *Loop) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		l.cancel = cancel
		go l.run(runCtx)
	})
}

// Stop disposes the loop: the timer stops and in-flight results are
// discarded without publishing after disposal.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		if l.cancel != nil {
			l.cancel()
			<-l.stopped
		}
	})
}

// Refresh requests an immediate tick without waiting for the next interval.
// Non-blocking; a refresh already pending is enough.
func (l *Loop) Refresh() {
	select {
	case l.refresh <- struct{}{}:
	default:
	}
}

// View returns the current reconciled view, if one has been produced.
func (l *Loop) View() (agreement.ReconciledView, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.view == nil {
		return agreement.ReconciledView{}, false
	}
	return *l.view, true
}

// LastState returns the last successfully read ledger state.
func (l *Loop) LastState() (*ledger.State, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.lastState == nil {
		return nil, false
	}
	state := *l.lastState
	return &state, true
}

// WaitReady blocks until the first tick has completed or the context ends.
func (l *Loop) WaitReady(ctx context.Context) error {
	select {
	case <-l.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.stopped)

	metrics.ActiveLoops.Inc()
	defer metrics.ActiveLoops.Dec()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		case <-l.refresh:
			l.tick(ctx)
		}
	}
}

// tick performs one reconciliation pass. Ticks never overlap: run is the
// only caller and executes them sequentially.
func (l *Loop) tick(ctx context.Context) {
	defer l.readyOnce.Do(func() { close(l.ready) })

	state, err := l.ledger.ReadState(ctx, l.ref)
	if err != nil {
		l.handleReadFailure(ctx, err)
		return
	}

	// Record metadata is decoration only; a record-store failure never
	// blocks the ledger-derived truth.
	rec, recErr := l.records.Get(ctx, l.ref)
	if recErr != nil {
		l.logger.Warn("record store read failed, continuing with ledger truth",
			zap.Error(recErr))
		l.mu.RLock()
		rec = l.record
		l.mu.RUnlock()
	}

	effective := l.reconcileStatus(ctx, state)
	view := l.buildView(ctx, state, rec, effective)

	l.mu.Lock()
	if ctx.Err() != nil {
		// Disposed while the tick was in flight: discard, never publish.
		l.mu.Unlock()
		return
	}
	l.view = &view
	l.lastState = state
	if rec != nil {
		l.record = rec
	}
	l.mu.Unlock()

	metrics.ReconcileTicks.WithLabelValues("ok").Inc()
	l.publish(view)
}

// handleReadFailure keeps the previous view on a transient ledger failure:
// effectiveStatus is retained, staleness is shown rather than hidden, and
// the next tick follows the normal fixed interval.
func (l *Loop) handleReadFailure(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	l.logger.Warn("ledger read failed, keeping previous view", zap.Error(err))
	metrics.ReconcileTicks.WithLabelValues("stale").Inc()

	l.mu.Lock()
	if l.view != nil {
		stale := *l.view
		stale.Stale = true
		l.view = &stale
		l.mu.Unlock()
		l.publish(stale)
		return
	}
	l.mu.Unlock()

	// No view yet. Before the contract is deployed (or while the ledger is
	// down on the very first tick) the off-chain record still lets us show
	// something; the view is marked stale because it carries no ledger truth.
	if !errors.Is(err, agreement.ErrLedgerUnavailable) && !errors.Is(err, agreement.ErrNotFound) {
		return
	}
	rec, recErr := l.records.Get(ctx, l.ref)
	if recErr != nil {
		return
	}

	view := l.recordOnlyView(rec)
	l.mu.Lock()
	if ctx.Err() != nil {
		l.mu.Unlock()
		return
	}
	l.view = &view
	l.record = rec
	l.mu.Unlock()
	l.publish(view)
}

// reconcileStatus diffs the newly read status against the last known one,
// mirrors changes into the record store, and enforces terminal states. The
// ledger always wins except that a terminal status never regresses and an
// unparseable status never replaces a known one.
func (l *Loop) reconcileStatus(ctx context.Context, state *ledger.State) agreement.Status {
	l.mu.RLock()
	lastKnown := agreement.StatusUnknown
	if l.lastState != nil {
		lastKnown = l.lastState.Status
	} else if l.view != nil {
		lastKnown = l.view.EffectiveStatus
	}
	l.mu.RUnlock()

	observed := state.Status

	if observed == agreement.StatusUnknown {
		l.recordAnomaly(ctx, audit.KindUnknownStatus, map[string]any{
			"last_known": lastKnown.String(),
		})
		if lastKnown != agreement.StatusUnknown {
			return lastKnown
		}
		return observed
	}

	if observed == lastKnown {
		return observed
	}

	if lastKnown.Terminal() {
		// Terminal statuses accept no further transitions.
		l.recordAnomaly(ctx, audit.KindInvalidTransition, map[string]any{
			"from": lastKnown.String(),
			"to":   observed.String(),
		})
		return lastKnown
	}

	if lastKnown != agreement.StatusUnknown && !agreement.CanTransition(lastKnown, observed) {
		// The ledger is authoritative, so the observed status stands, but
		// the jump is reportable.
		l.recordAnomaly(ctx, audit.KindInvalidTransition, map[string]any{
			"from": lastKnown.String(),
			"to":   observed.String(),
		})
	}

	metrics.StatusTransitions.WithLabelValues(observed.String()).Inc()
	if l.audit != nil {
		if err := l.audit.RecordTransition(ctx, l.ref, lastKnown, observed); err != nil {
			l.logger.Warn("failed to record status transition", zap.Error(err))
		}
	}

	// Best effort: the status was already observed on the ledger and is not
	// reverted if the mirror fails.
	if err := l.records.MirrorStatus(ctx, l.ref, observed); err != nil {
		l.logger.Warn("failed to mirror status to record store",
			zap.String("status", observed.String()),
			zap.Error(err))
	}

	return observed
}

// buildView recomputes the projection from ledger truth, record metadata,
// and the amortization schedule.
func (l *Loop) buildView(ctx context.Context, state *ledger.State, rec *agreement.Record, effective agreement.Status) agreement.ReconciledView {
	terms := state.Terms()
	if terms.DurationMonths == 0 && rec != nil {
		// Ledger not reporting terms yet (pre-funding); fall back to the
		// negotiated record terms.
		terms = rec.Terms
	}

	startDate := l.startDate(rec)

	expected := amortization.MonthlyPayment(terms.Principal, terms.AnnualRatePercent, terms.DurationMonths)
	mismatch := state.MonthlyPayment > 0 && !amortization.WithinTolerance(expected, state.MonthlyPayment)
	if mismatch && !l.previousMismatch() {
		l.recordAnomaly(ctx, audit.KindPaymentMismatch, map[string]any{
			"ledger_monthly_payment":   state.MonthlyPayment,
			"computed_monthly_payment": expected,
			"tolerance":                amortization.PaymentTolerance,
		})
	}

	schedule := amortization.Schedule(terms, startDate, state.PaidMonths, l.now())
	decorate(schedule, rec)

	view := agreement.ReconciledView{
		Reference:        l.ref,
		EffectiveStatus:  effective,
		BorrowerID:       state.Borrower,
		LenderID:         state.Lender,
		Terms:            terms,
		Schedule:         schedule,
		MonthlyPayment:   state.MonthlyPayment,
		TotalRepayment:   amortization.TotalRepayment(terms),
		TotalInterest:    amortization.TotalInterest(terms),
		ProgressPercent:  amortization.ProgressPercent(state.LastPaidMonth, terms.DurationMonths),
		LastPaidMonth:    state.LastPaidMonth,
		CollateralAmount: state.CollateralAmount,
		PaymentMismatch:  mismatch,
		Stale:            false,
	}

	if rec != nil {
		if view.BorrowerID == "" {
			view.BorrowerID = rec.BorrowerID
		}
		if view.LenderID == "" {
			view.LenderID = rec.LenderID
		}
	}

	view.NextUnpaidMonth = view.NextUnpaid()
	view.MonthsOverdue = countOverdue(schedule)
	view.InGracePeriod = view.MonthsOverdue > 0 && view.MonthsOverdue <= terms.GraceMonths

	return view
}

// recordOnlyView projects the off-chain record alone, used before any
// ledger state exists. Months are never marked paid here: payment truth
// belongs to the ledger.
func (l *Loop) recordOnlyView(rec *agreement.Record) agreement.ReconciledView {
	terms := rec.Terms
	schedule := amortization.Schedule(terms, l.startDate(rec), nil, l.now())
	decorate(schedule, rec)

	view := agreement.ReconciledView{
		Reference:       l.ref,
		EffectiveStatus: rec.Status,
		BorrowerID:      rec.BorrowerID,
		LenderID:        rec.LenderID,
		Terms:           terms,
		Schedule:        schedule,
		TotalRepayment:  amortization.TotalRepayment(terms),
		TotalInterest:   amortization.TotalInterest(terms),
		Stale:           true,
	}
	view.NextUnpaidMonth = view.NextUnpaid()
	view.MonthsOverdue = countOverdue(schedule)
	view.InGracePeriod = view.MonthsOverdue > 0 && view.MonthsOverdue <= terms.GraceMonths
	return view
}

func (l *Loop) startDate(rec *agreement.Record) time.Time {
	if rec != nil && !rec.StartDate.IsZero() {
		return rec.StartDate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.record != nil && !l.record.StartDate.IsZero() {
		return l.record.StartDate
	}
	if l.startFallback.IsZero() {
		l.startFallback = l.now()
	}
	return l.startFallback
}

func (l *Loop) previousMismatch() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.view != nil && l.view.PaymentMismatch
}

func (l *Loop) recordAnomaly(ctx context.Context, kind string, detail map[string]any) {
	metrics.Anomalies.WithLabelValues(kind).Inc()
	l.logger.Warn("reconciliation anomaly",
		zap.String("kind", kind),
		zap.Any("detail", detail))
	if l.audit == nil {
		return
	}
	if err := l.audit.RecordAnomaly(ctx, l.ref, kind, detail); err != nil {
		l.logger.Warn("failed to persist anomaly", zap.Error(err))
	}
}

func (l *Loop) publish(view agreement.ReconciledView) {
	if l.publisher != nil {
		l.publisher.Publish(l.ref, view)
	}
}

// decorate merges record-store external references into the schedule by
// month. Decoration only: the record store never marks a month paid.
func decorate(schedule []agreement.ScheduledPayment, rec *agreement.Record) {
	if rec == nil || len(rec.PaymentHistory) == 0 {
		return
	}
	refs := make(map[int]string, len(rec.PaymentHistory))
	for _, entry := range rec.PaymentHistory {
		refs[entry.Month] = entry.ExternalRef
	}
	for i := range schedule {
		if ref, ok := refs[schedule[i].Month]; ok {
			schedule[i].ExternalRef = ref
		}
	}
}

func countOverdue(schedule []agreement.ScheduledPayment) int {
	overdue := 0
	for _, p := range schedule {
		if p.State == agreement.PaymentDue {
			overdue++
		}
	}
	return overdue
}
