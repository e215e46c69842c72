package submit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credlock/agreement-portal/agreement-portal-backend/internal/agreement"
	"credlock/agreement-portal/agreement-portal-backend/internal/ledger"
)

type stubViews struct {
	view      agreement.ReconciledView
	err       error
	refreshes atomic.Int64
}

func (s *stubViews) View(ctx context.Context, ref string) (agreement.ReconciledView, error) {
	if s.err != nil {
		return agreement.ReconciledView{}, s.err
	}
	return s.view, nil
}

func (s *stubViews) Refresh(ref string) {
	s.refreshes.Add(1)
}

// blockingLedger counts calls and can hold a call open until released, so a
// test can have one submission provably in flight while a second arrives.
type blockingLedger struct {
	calls   atomic.Int64
	hold    chan struct{}
	entered chan struct{}
	err     error
}

func (b *blockingLedger) invoke() (string, error) {
	b.calls.Add(1)
	if b.entered != nil {
		b.entered <- struct{}{}
	}
	if b.hold != nil {
		<-b.hold
	}
	if b.err != nil {
		return "", b.err
	}
	return "tx-ok", nil
}

func (b *blockingLedger) ReadState(ctx context.Context, ref string) (*ledger.State, error) {
	return nil, agreement.ErrLedgerUnavailable
}

func (b *blockingLedger) Fund(ctx context.Context, ref string, amount float64) (string, error) {
	return b.invoke()
}

func (b *blockingLedger) Repay(ctx context.Context, ref string, month int, amount float64) (string, error) {
	return b.invoke()
}

func (b *blockingLedger) ForceDefault(ctx context.Context, ref string) (string, error) {
	return b.invoke()
}

type stubRecords struct {
	appendErr error
	appended  []agreement.PaymentEntry
	mu        sync.Mutex
}

func (s *stubRecords) Create(ctx context.Context, rec *agreement.Record) error { return nil }

func (s *stubRecords) Get(ctx context.Context, ref string) (*agreement.Record, error) {
	return nil, agreement.ErrNotFound
}

func (s *stubRecords) MirrorStatus(ctx context.Context, ref string, status agreement.Status) error {
	return nil
}

func (s *stubRecords) AppendPayment(ctx context.Context, ref string, entry agreement.PaymentEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, entry)
	return nil
}

func (s *stubRecords) ListActiveReferences(ctx context.Context) ([]string, error) {
	return nil, nil
}

func activeView(nextUnpaid int) agreement.ReconciledView {
	return agreement.ReconciledView{
		Reference:       "AGR-1",
		EffectiveStatus: agreement.StatusActive,
		MonthlyPayment:  100,
		LastPaidMonth:   nextUnpaid - 1,
		NextUnpaidMonth: nextUnpaid,
		Schedule: []agreement.ScheduledPayment{
			{Month: 1, State: agreement.PaymentPaid},
			{Month: 2, State: agreement.PaymentDue},
			{Month: 3, State: agreement.PaymentFuture},
		},
	}
}

func TestRepayHappyPath(t *testing.T) {
	lc := &blockingLedger{}
	rs := &stubRecords{}
	views := &stubViews{view: activeView(2)}
	c := NewCoordinator(lc, rs, views, nil)

	result, err := c.Repay(context.Background(), "AGR-1", 2, 100)
	require.NoError(t, err)
	assert.Equal(t, "tx-ok", result.ExternalRef)
	assert.False(t, result.SyncPending)
	assert.Empty(t, result.Warning)

	require.Len(t, rs.appended, 1)
	assert.Equal(t, 2, rs.appended[0].Month)
	assert.Equal(t, "tx-ok", rs.appended[0].ExternalRef)
	assert.EqualValues(t, 1, views.refreshes.Load(), "a successful submission triggers a refresh")
}

func TestConcurrentRepayRejectedBeforeLedgerCall(t *testing.T) {
	lc := &blockingLedger{
		hold:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	rs := &stubRecords{}
	views := &stubViews{view: activeView(2)}
	c := NewCoordinator(lc, rs, views, nil)

	firstDone := make(chan error, 1)
	go func() {
		_, err := c.Repay(context.Background(), "AGR-1", 2, 100)
		firstDone <- err
	}()

	// Wait until the first call is inside the ledger.
	select {
	case <-lc.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first submission never reached the ledger")
	}

	_, err := c.Repay(context.Background(), "AGR-1", 2, 100)
	assert.ErrorIs(t, err, agreement.ErrConflict)
	assert.EqualValues(t, 1, lc.calls.Load(),
		"the duplicate must be rejected before any ledger call")

	close(lc.hold)
	require.NoError(t, <-firstDone)

	// Once the first submission released the reference, a new one may proceed.
	views.view = activeView(3)
	_, err = c.Repay(context.Background(), "AGR-1", 3, 100)
	assert.NoError(t, err)
}

func TestConcurrentSubmissionsOnDifferentReferencesProceed(t *testing.T) {
	lc := &blockingLedger{
		hold:    make(chan struct{}),
		entered: make(chan struct{}, 2),
	}
	rs := &stubRecords{}
	views := &stubViews{view: activeView(2)}
	c := NewCoordinator(lc, rs, views, nil)

	done := make(chan error, 2)
	go func() {
		_, err := c.Repay(context.Background(), "AGR-1", 2, 100)
		done <- err
	}()
	go func() {
		_, err := c.Repay(context.Background(), "AGR-2", 2, 100)
		done <- err
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-lc.entered:
		case <-time.After(2 * time.Second):
			t.Fatal("submissions on distinct references must not serialize")
		}
	}

	close(lc.hold)
	require.NoError(t, <-done)
	require.NoError(t, <-done)
}

func TestRepayWrongMonthConflicts(t *testing.T) {
	lc := &blockingLedger{}
	views := &stubViews{view: activeView(2)}
	c := NewCoordinator(lc, &stubRecords{}, views, nil)

	for _, month := range []int{1, 3, 12} {
		_, err := c.Repay(context.Background(), "AGR-1", month, 100)
		assert.ErrorIs(t, err, agreement.ErrConflict, "month %d", month)
	}
	assert.Zero(t, lc.calls.Load(), "month validation happens before the ledger call")
}

func TestRepayValidation(t *testing.T) {
	lc := &blockingLedger{}
	c := NewCoordinator(lc, &stubRecords{}, &stubViews{view: activeView(2)}, nil)

	_, err := c.Repay(context.Background(), "AGR-1", 0, 100)
	assert.ErrorIs(t, err, agreement.ErrValidation)

	_, err = c.Repay(context.Background(), "AGR-1", 2, 0)
	assert.ErrorIs(t, err, agreement.ErrValidation)

	_, err = c.Repay(context.Background(), "AGR-1", 2, -50)
	assert.ErrorIs(t, err, agreement.ErrValidation)

	assert.Zero(t, lc.calls.Load())
}

func TestRepayInvalidStatusConflicts(t *testing.T) {
	lc := &blockingLedger{}
	view := activeView(2)
	view.EffectiveStatus = agreement.StatusInitialized
	c := NewCoordinator(lc, &stubRecords{}, &stubViews{view: view}, nil)

	_, err := c.Repay(context.Background(), "AGR-1", 2, 100)
	assert.ErrorIs(t, err, agreement.ErrConflict)
	assert.Zero(t, lc.calls.Load())
}

func TestRepaySettledScheduleConflicts(t *testing.T) {
	lc := &blockingLedger{}
	view := activeView(2)
	view.NextUnpaidMonth = 0
	c := NewCoordinator(lc, &stubRecords{}, &stubViews{view: view}, nil)

	_, err := c.Repay(context.Background(), "AGR-1", 2, 100)
	assert.ErrorIs(t, err, agreement.ErrConflict)
	assert.Zero(t, lc.calls.Load())
}

func TestRepayMirrorFailureIsSyncPendingNotError(t *testing.T) {
	lc := &blockingLedger{}
	rs := &stubRecords{appendErr: fmt.Errorf("%w: append", agreement.ErrRecordStoreUnavailable)}
	views := &stubViews{view: activeView(2)}
	c := NewCoordinator(lc, rs, views, nil)

	result, err := c.Repay(context.Background(), "AGR-1", 2, 100)
	require.NoError(t, err, "ledger truth wins: the payment succeeded")
	assert.Equal(t, "tx-ok", result.ExternalRef)
	assert.True(t, result.SyncPending)
	assert.Equal(t, "payment succeeded, record sync pending", result.Warning)
}

func TestRepayLedgerErrorPropagates(t *testing.T) {
	lc := &blockingLedger{err: fmt.Errorf("%w: gateway down", agreement.ErrLedgerUnavailable)}
	views := &stubViews{view: activeView(2)}
	c := NewCoordinator(lc, &stubRecords{}, views, nil)

	_, err := c.Repay(context.Background(), "AGR-1", 2, 100)
	assert.ErrorIs(t, err, agreement.ErrLedgerUnavailable)
	assert.Zero(t, views.refreshes.Load(), "no refresh after a failed submission")
}

func TestFundOnlyFromInitialized(t *testing.T) {
	lc := &blockingLedger{}
	view := activeView(1)
	view.EffectiveStatus = agreement.StatusInitialized
	views := &stubViews{view: view}
	c := NewCoordinator(lc, &stubRecords{}, views, nil)

	result, err := c.Fund(context.Background(), "AGR-1", 600)
	require.NoError(t, err)
	assert.Equal(t, "tx-ok", result.ExternalRef)

	views.view.EffectiveStatus = agreement.StatusActive
	_, err = c.Fund(context.Background(), "AGR-1", 600)
	assert.ErrorIs(t, err, agreement.ErrConflict)

	_, err = c.Fund(context.Background(), "AGR-1", 0)
	assert.ErrorIs(t, err, agreement.ErrValidation)
}

func TestForceDefaultRequiresPaymentCycle(t *testing.T) {
	lc := &blockingLedger{}

	// No payment made and the first installment is still in the future.
	fresh := agreement.ReconciledView{
		EffectiveStatus: agreement.StatusActive,
		Schedule: []agreement.ScheduledPayment{
			{Month: 1, State: agreement.PaymentFuture},
			{Month: 2, State: agreement.PaymentFuture},
		},
	}
	c := NewCoordinator(lc, &stubRecords{}, &stubViews{view: fresh}, nil)
	_, err := c.ForceDefault(context.Background(), "AGR-1")
	assert.ErrorIs(t, err, agreement.ErrConflict)
	assert.Zero(t, lc.calls.Load())

	// First installment has come due: default becomes valid.
	overdue := fresh
	overdue.Schedule = []agreement.ScheduledPayment{
		{Month: 1, State: agreement.PaymentDue},
		{Month: 2, State: agreement.PaymentFuture},
	}
	c = NewCoordinator(lc, &stubRecords{}, &stubViews{view: overdue}, nil)
	result, err := c.ForceDefault(context.Background(), "AGR-1")
	require.NoError(t, err)
	assert.Equal(t, "tx-ok", result.ExternalRef)
}

func TestForceDefaultInvalidStatus(t *testing.T) {
	lc := &blockingLedger{}
	view := activeView(2)
	view.EffectiveStatus = agreement.StatusCompleted
	c := NewCoordinator(lc, &stubRecords{}, &stubViews{view: view}, nil)

	_, err := c.ForceDefault(context.Background(), "AGR-1")
	assert.ErrorIs(t, err, agreement.ErrConflict)
	assert.Zero(t, lc.calls.Load())
}

func TestViewErrorPropagatesWithoutLedgerCall(t *testing.T) {
	lc := &blockingLedger{}
	views := &stubViews{err: fmt.Errorf("%w: no view available", agreement.ErrLedgerUnavailable)}
	c := NewCoordinator(lc, &stubRecords{}, views, nil)

	_, err := c.Repay(context.Background(), "AGR-1", 2, 100)
	assert.ErrorIs(t, err, agreement.ErrLedgerUnavailable)
	assert.Zero(t, lc.calls.Load())
}
