package agreement

import (
	"fmt"
	"time"
)

// Terms holds the negotiated agreement terms. Immutable once the agreement
// is funded on the ledger.
type Terms struct {
	Principal         float64 `json:"principal" bson:"principal"`
	AnnualRatePercent float64 `json:"annual_rate_percent" bson:"annual_rate_percent"`
	DurationMonths    int     `json:"duration_months" bson:"duration_months"`
	GraceMonths       int     `json:"grace_months" bson:"grace_months"`
}

// Validate checks terms before any remote call is made.
func (t Terms) Validate() error {
	if t.Principal <= 0 {
		return fmt.Errorf("%w: principal must be positive", ErrValidation)
	}
	if t.AnnualRatePercent < 0 {
		return fmt.Errorf("%w: annual rate cannot be negative", ErrValidation)
	}
	if t.DurationMonths < 1 {
		return fmt.Errorf("%w: duration must be at least one month", ErrValidation)
	}
	if t.GraceMonths < 0 {
		return fmt.Errorf("%w: grace months cannot be negative", ErrValidation)
	}
	return nil
}

// PaymentEntry is one record-store payment decoration. The record store
// never supplies payment truth, only the external transaction reference.
type PaymentEntry struct {
	Month       int       `json:"month" bson:"month"`
	Amount      float64   `json:"amount" bson:"amount"`
	ExternalRef string    `json:"external_ref" bson:"external_ref"`
	RecordedAt  time.Time `json:"recorded_at" bson:"recorded_at"`
}

// Record is the off-chain persisted agreement record. It is created when a
// negotiation is accepted, before any ledger contract exists.
type Record struct {
	Reference      string         `json:"reference" bson:"reference"`
	BorrowerID     string         `json:"borrower_id" bson:"borrower_id"`
	LenderID       string         `json:"lender_id" bson:"lender_id"`
	NegotiationID  string         `json:"negotiation_id" bson:"negotiation_id"`
	StartDate      time.Time      `json:"start_date" bson:"start_date"`
	Status         Status         `json:"status" bson:"-"`
	StatusName     string         `json:"-" bson:"status"`
	Terms          Terms          `json:"terms" bson:"terms"`
	PaymentHistory []PaymentEntry `json:"payment_history" bson:"payment_history"`
	CreatedAt      time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" bson:"updated_at"`
}

// PaymentState classifies a scheduled installment.
type PaymentState string

const (
	PaymentPaid   PaymentState = "paid"
	PaymentDue    PaymentState = "due"
	PaymentFuture PaymentState = "future"
)

// ScheduledPayment is one row of the amortization schedule.
type ScheduledPayment struct {
	Month       int          `json:"month"`
	DueDate     time.Time    `json:"due_date"`
	Amount      float64      `json:"amount"`
	State       PaymentState `json:"state"`
	ExternalRef string       `json:"external_ref,omitempty"`
}

// ReconciledView is the merged read model combining ledger truth, record
// metadata, and the computed schedule. It is a projection: recomputed on
// every tick, never persisted.
type ReconciledView struct {
	Reference        string             `json:"reference"`
	EffectiveStatus  Status             `json:"effective_status"`
	BorrowerID       string             `json:"borrower_id,omitempty"`
	LenderID         string             `json:"lender_id,omitempty"`
	Terms            Terms              `json:"terms"`
	Schedule         []ScheduledPayment `json:"schedule"`
	MonthlyPayment   float64            `json:"monthly_payment"`
	TotalRepayment   float64            `json:"total_repayment"`
	TotalInterest    float64            `json:"total_interest"`
	ProgressPercent  float64            `json:"progress_percent"`
	LastPaidMonth    int                `json:"last_paid_month"`
	NextUnpaidMonth  int                `json:"next_unpaid_month"`
	MonthsOverdue    int                `json:"months_overdue"`
	InGracePeriod    bool               `json:"in_grace_period"`
	CollateralAmount float64            `json:"collateral_amount"`
	PaymentMismatch  bool               `json:"payment_mismatch"`
	Stale            bool               `json:"stale"`
}

// NextUnpaid returns the lowest month number not yet paid, or 0 when the
// whole schedule is settled.
func (v ReconciledView) NextUnpaid() int {
	for _, p := range v.Schedule {
		if p.State != PaymentPaid {
			return p.Month
		}
	}
	return 0
}
