package amortization

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credlock/agreement-portal/agreement-portal-backend/internal/agreement"
)

func TestMonthlyPaymentZeroRate(t *testing.T) {
	// No interest degenerates to pure linear division.
	assert.Equal(t, 0.1, MonthlyPayment(1.2, 0, 12))
	assert.Equal(t, 100.0, MonthlyPayment(1200, 0, 12))
}

func TestMonthlyPaymentStandardCase(t *testing.T) {
	// principal=1.0, 12% annual, 12 months -> ~0.08885 per the level-payment
	// formula; total repayment exceeds the principal.
	payment := MonthlyPayment(1.0, 12, 12)
	assert.InDelta(t, 0.08885, payment, 0.0001)

	terms := agreement.Terms{Principal: 1.0, AnnualRatePercent: 12, DurationMonths: 12}
	total := TotalRepayment(terms)
	assert.InDelta(t, payment*12, total, 1e-9)
	assert.Greater(t, total, terms.Principal)
	assert.InDelta(t, total-1.0, TotalInterest(terms), 1e-9)
}

func TestMonthlyPaymentSentinels(t *testing.T) {
	assert.Zero(t, MonthlyPayment(0, 5, 12))
	assert.Zero(t, MonthlyPayment(-100, 5, 12))
	assert.Zero(t, MonthlyPayment(100, 5, 0))
	assert.Zero(t, MonthlyPayment(100, 5, -1))
}

func TestScheduleDenseMonths(t *testing.T) {
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	now := start

	for _, duration := range []int{1, 6, 12, 36, 360} {
		terms := agreement.Terms{Principal: 5000, AnnualRatePercent: 7.5, DurationMonths: duration}
		schedule := Schedule(terms, start, nil, now)

		require.Len(t, schedule, duration)
		for i, p := range schedule {
			assert.Equal(t, i+1, p.Month, "months must be a dense 1..N sequence")
		}
	}
}

func TestScheduleStates(t *testing.T) {
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	// Three months in: months 1-3 are due, rest future.
	now := start.AddDate(0, 3, 0)

	terms := agreement.Terms{Principal: 1200, AnnualRatePercent: 0, DurationMonths: 12}
	schedule := Schedule(terms, start, []int{1, 2}, now)

	require.Len(t, schedule, 12)
	assert.Equal(t, agreement.PaymentPaid, schedule[0].State)
	assert.Equal(t, agreement.PaymentPaid, schedule[1].State)
	assert.Equal(t, agreement.PaymentDue, schedule[2].State)
	for _, p := range schedule[3:] {
		assert.Equal(t, agreement.PaymentFuture, p.State)
	}
}

func TestSchedulePaidOnlyFromLedger(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	terms := agreement.Terms{Principal: 1200, AnnualRatePercent: 0, DurationMonths: 12}

	// A paid month beyond the ledger set never appears paid.
	schedule := Schedule(terms, start, []int{5}, start)
	for _, p := range schedule {
		if p.Month == 5 {
			assert.Equal(t, agreement.PaymentPaid, p.State)
		} else {
			assert.NotEqual(t, agreement.PaymentPaid, p.State)
		}
	}
}

func TestScheduleDueDates(t *testing.T) {
	start := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	terms := agreement.Terms{Principal: 100, AnnualRatePercent: 0, DurationMonths: 3}

	schedule := Schedule(terms, start, nil, start)
	require.Len(t, schedule, 3)
	assert.Equal(t, start.AddDate(0, 1, 0), schedule[0].DueDate)
	assert.Equal(t, start.AddDate(0, 2, 0), schedule[1].DueDate)
	assert.Equal(t, start.AddDate(0, 3, 0), schedule[2].DueDate)
}

func TestProgressPercent(t *testing.T) {
	assert.Equal(t, 0.0, ProgressPercent(0, 12))
	assert.Equal(t, 25.0, ProgressPercent(3, 12))
	assert.Equal(t, 100.0, ProgressPercent(12, 12))
	assert.Equal(t, 100.0, ProgressPercent(15, 12))
	assert.Equal(t, 0.0, ProgressPercent(3, 0))
}

func TestWithinTolerance(t *testing.T) {
	assert.True(t, WithinTolerance(0.08885, 0.0889))
	assert.True(t, WithinTolerance(100.0, 100.01))
	assert.False(t, WithinTolerance(100.0, 100.02))
}
