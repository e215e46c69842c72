// Package amortization computes level-payment schedules and derived amounts
// from agreement terms. All functions are pure: the reconciliation loop and
// the HTTP surface both depend on them for correctness.
package amortization

import (
	"math"
	"time"

	"credlock/agreement-portal/agreement-portal-backend/internal/agreement"
)

// PaymentTolerance is the rounding tolerance when comparing the
// ledger-reported monthly payment against the locally computed one.
// Divergence beyond this is a reportable anomaly.
const PaymentTolerance = 0.01

// MonthlyPayment computes the level monthly payment for the given principal,
// annual rate (percent), and duration in months:
//
//	P * r * (1+r)^n / ((1+r)^n - 1), r = rate/100/12
//
// A zero rate degenerates to pure linear division (the formula would divide
// by zero). Non-positive principal or months returns zero as a defined
// sentinel, not an error.
func MonthlyPayment(principal, annualRatePercent float64, months int) float64 {
	if principal <= 0 || months <= 0 {
		return 0
	}
	if annualRatePercent == 0 {
		return principal / float64(months)
	}
	r := annualRatePercent / 100 / 12
	factor := math.Pow(1+r, float64(months))
	return principal * r * factor / (factor - 1)
}

// Schedule generates the dense 1..N amortization schedule for the terms.
// Each entry is due one month interval after the previous, offset from
// startDate. A month is paid only if the ledger reports it paid; otherwise
// it is due when its due date is not after now, else future.
func Schedule(terms agreement.Terms, startDate time.Time, ledgerPaidMonths []int, now time.Time) []agreement.ScheduledPayment {
	if terms.DurationMonths < 1 {
		return nil
	}

	paid := make(map[int]bool, len(ledgerPaidMonths))
	for _, m := range ledgerPaidMonths {
		paid[m] = true
	}

	amount := MonthlyPayment(terms.Principal, terms.AnnualRatePercent, terms.DurationMonths)
	schedule := make([]agreement.ScheduledPayment, 0, terms.DurationMonths)

	for month := 1; month <= terms.DurationMonths; month++ {
		dueDate := startDate.AddDate(0, month, 0)

		state := agreement.PaymentFuture
		switch {
		case paid[month]:
			state = agreement.PaymentPaid
		case !dueDate.After(now):
			state = agreement.PaymentDue
		}

		schedule = append(schedule, agreement.ScheduledPayment{
			Month:   month,
			DueDate: dueDate,
			Amount:  amount,
			State:   state,
		})
	}

	return schedule
}

// TotalRepayment is the sum of all scheduled installments.
func TotalRepayment(terms agreement.Terms) float64 {
	return MonthlyPayment(terms.Principal, terms.AnnualRatePercent, terms.DurationMonths) * float64(terms.DurationMonths)
}

// TotalInterest is the repayment total in excess of the principal.
func TotalInterest(terms agreement.Terms) float64 {
	total := TotalRepayment(terms)
	if total <= terms.Principal {
		return 0
	}
	return total - terms.Principal
}

// ProgressPercent is the share of the schedule already satisfied.
func ProgressPercent(lastPaidMonth, durationMonths int) float64 {
	if durationMonths <= 0 || lastPaidMonth <= 0 {
		return 0
	}
	if lastPaidMonth >= durationMonths {
		return 100
	}
	return float64(lastPaidMonth) / float64(durationMonths) * 100
}

// WithinTolerance reports whether two amounts agree within PaymentTolerance.
func WithinTolerance(a, b float64) bool {
	return math.Abs(a-b) <= PaymentTolerance
}
