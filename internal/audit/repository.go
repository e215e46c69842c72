// Package audit persists reconciliation observations: ledger status
// transitions and anomalies (payment mismatches, invalid transitions,
// unknown statuses). Divergence between the ledger and the local computation
// is never silently ignored.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"credlock/agreement-portal/agreement-portal-backend/internal/agreement"
)

// Anomaly kinds recorded by the reconciliation loop.
const (
	KindPaymentMismatch   = "payment_mismatch"
	KindInvalidTransition = "invalid_transition"
	KindUnknownStatus     = "unknown_status"
)

// StatusTransition is one observed ledger status change.
type StatusTransition struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Reference  string    `gorm:"index;size:128" json:"reference"`
	FromStatus string    `gorm:"size:32" json:"from_status"`
	ToStatus   string    `gorm:"size:32" json:"to_status"`
	ObservedAt time.Time `json:"observed_at"`
}

// Anomaly is one reconciliation anomaly with a structured detail payload.
type Anomaly struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Reference  string         `gorm:"index;size:128" json:"reference"`
	Kind       string         `gorm:"index;size:64" json:"kind"`
	Detail     datatypes.JSON `json:"detail"`
	DetectedAt time.Time      `json:"detected_at"`
}

// Repository stores transitions and anomalies in Postgres.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates an audit repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// AutoMigrate creates the audit tables.
func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&StatusTransition{}, &Anomaly{})
}

// RecordTransition logs an observed ledger status change.
func (r *Repository) RecordTransition(ctx context.Context, ref string, from, to agreement.Status) error {
	transition := &StatusTransition{
		Reference:  ref,
		FromStatus: from.String(),
		ToStatus:   to.String(),
		ObservedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(transition).Error; err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// RecordAnomaly logs a reconciliation anomaly.
func (r *Repository) RecordAnomaly(ctx context.Context, ref, kind string, detail map[string]any) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to marshal anomaly detail: %w", err)
	}
	anomaly := &Anomaly{
		Reference:  ref,
		Kind:       kind,
		Detail:     datatypes.JSON(payload),
		DetectedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(anomaly).Error; err != nil {
		return fmt.Errorf("failed to record anomaly: %w", err)
	}
	return nil
}

// ListAnomalies returns the most recent anomalies for a reference.
func (r *Repository) ListAnomalies(ctx context.Context, ref string, limit int) ([]Anomaly, error) {
	query := r.db.WithContext(ctx).
		Where("reference = ?", ref).
		Order("detected_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var anomalies []Anomaly
	if err := query.Find(&anomalies).Error; err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	return anomalies, nil
}

// ListTransitions returns the observed transition history for a reference.
func (r *Repository) ListTransitions(ctx context.Context, ref string, limit int) ([]StatusTransition, error) {
	query := r.db.WithContext(ctx).
		Where("reference = ?", ref).
		Order("observed_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var transitions []StatusTransition
	if err := query.Find(&transitions).Error; err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	return transitions, nil
}
