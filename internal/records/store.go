// Package records is the gateway to the off-chain agreement record store.
// The record store holds metadata the ledger does not (party identities,
// linked negotiation, payment decoration) and mirrors ledger status
// best-effort. It never supplies payment truth.
package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"credlock/agreement-portal/agreement-portal-backend/internal/agreement"
)

// Store is the record store surface used by the reconciliation loop and the
// submission coordinator.
type Store interface {
	Create(ctx context.Context, rec *agreement.Record) error
	Get(ctx context.Context, ref string) (*agreement.Record, error)
	MirrorStatus(ctx context.Context, ref string, status agreement.Status) error
	AppendPayment(ctx context.Context, ref string, entry agreement.PaymentEntry) error
	ListActiveReferences(ctx context.Context) ([]string, error)
}

// MongoStore persists agreement records as documents with embedded payment
// history.
type MongoStore struct {
	col    *mongo.Collection
	logger *zap.Logger
}

// CollectionName is the agreements collection.
const CollectionName = "agreements"

// NewMongoStore creates a record store on the given database.
func NewMongoStore(db *mongo.Database, logger *zap.Logger) *MongoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{
		col:    db.Collection(CollectionName),
		logger: logger,
	}
}

// EnsureIndexes creates the unique reference index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "reference", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("%w: create index: %v", agreement.ErrRecordStoreUnavailable, err)
	}
	return nil
}

// Create inserts a new agreement record. Records are created when a
// negotiation is accepted, before any ledger contract exists.
func (s *MongoStore) Create(ctx context.Context, rec *agreement.Record) error {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == agreement.StatusUnknown {
		rec.Status = agreement.StatusInitialized
	}
	rec.StatusName = rec.Status.String()
	if rec.PaymentHistory == nil {
		rec.PaymentHistory = []agreement.PaymentEntry{}
	}

	if _, err := s.col.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: reference already exists", agreement.ErrConflict)
		}
		return fmt.Errorf("%w: insert: %v", agreement.ErrRecordStoreUnavailable, err)
	}
	return nil
}

// Get fetches the agreement record by reference.
func (s *MongoStore) Get(ctx context.Context, ref string) (*agreement.Record, error) {
	var rec agreement.Record
	err := s.col.FindOne(ctx, bson.M{"reference": ref}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, agreement.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find: %v", agreement.ErrRecordStoreUnavailable, err)
	}
	rec.Status = agreement.ParseStatus(rec.StatusName)
	return &rec, nil
}

// MirrorStatus mirrors a ledger-observed status into the record. Best
// effort: failures are reported but never block or revert a ledger action.
func (s *MongoStore) MirrorStatus(ctx context.Context, ref string, status agreement.Status) error {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"reference": ref},
		bson.M{"$set": bson.M{
			"status":     status.String(),
			"updated_at": time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("%w: mirror status: %v", agreement.ErrRecordStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return agreement.ErrNotFound
	}
	return nil
}

// AppendPayment appends a payment decoration entry. The month filter keeps
// the append idempotent: a month already present is left untouched.
func (s *MongoStore) AppendPayment(ctx context.Context, ref string, entry agreement.PaymentEntry) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	res, err := s.col.UpdateOne(ctx,
		bson.M{
			"reference":             ref,
			"payment_history.month": bson.M{"$ne": entry.Month},
		},
		bson.M{
			"$push": bson.M{"payment_history": entry},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("%w: append payment: %v", agreement.ErrRecordStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		// Either the reference is unknown or the month was already recorded.
		exists, existsErr := s.exists(ctx, ref)
		if existsErr != nil {
			return existsErr
		}
		if !exists {
			return agreement.ErrNotFound
		}
		s.logger.Debug("payment already recorded",
			zap.String("reference", ref),
			zap.Int("month", entry.Month))
	}
	return nil
}

// ListActiveReferences returns references whose mirrored status is not
// terminal. Used by the worker sweep to (re)start reconciliation loops.
func (s *MongoStore) ListActiveReferences(ctx context.Context) ([]string, error) {
	cursor, err := s.col.Find(ctx,
		bson.M{"status": bson.M{"$nin": bson.A{
			agreement.StatusCompleted.String(),
			agreement.StatusDefaulted.String(),
		}}},
		options.Find().SetProjection(bson.M{"reference": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", agreement.ErrRecordStoreUnavailable, err)
	}
	defer cursor.Close(ctx)

	var refs []string
	for cursor.Next(ctx) {
		var doc struct {
			Reference string `bson:"reference"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode: %v", agreement.ErrRecordStoreUnavailable, err)
		}
		refs = append(refs, doc.Reference)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: cursor: %v", agreement.ErrRecordStoreUnavailable, err)
	}
	return refs, nil
}

func (s *MongoStore) exists(ctx context.Context, ref string) (bool, error) {
	count, err := s.col.CountDocuments(ctx, bson.M{"reference": ref}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("%w: count: %v", agreement.ErrRecordStoreUnavailable, err)
	}
	return count > 0, nil
}
