// Package mongodb implements storage interfaces using MongoDB
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-customs/internal/storage"
	"github.com/sirosfoundation/go-customs/pkg/ledger"
	"github.com/sirosfoundation/go-customs/pkg/token"
)

var _ storage.Store = (*Store)(nil)

// Store implements storage.Store using MongoDB
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	// Collections
	transactions *mongo.Collection
	identifiers  *mongo.Collection
	errors       *mongo.Collection
	steps        *mongo.Collection
	tokens       *mongo.Collection
}

// Config holds MongoDB connection settings
type Config struct {
	URI      string
	Database string
}

// NewStore creates a new MongoDB store
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "customs"
	}
	db := client.Database(database)

	s := &Store{
		client:       client,
		db:           db,
		transactions: db.Collection("transactions"),
		identifiers:  db.Collection("track_identifiers"),
		errors:       db.Collection("transaction_errors"),
		steps:        db.Collection("transaction_steps"),
		tokens:       db.Collection("auth_tokens"),
	}

	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.transactions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}}},
		{Keys: bson.D{{Key: "parent_id", Value: 1}}},
		{Keys: bson.D{{Key: "linked_domain_ids", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating transaction indexes: %w", err)
	}

	_, err = s.identifiers.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "transaction_id", Value: 1}, {Key: "shipment_id", Value: 1}, {Key: "value", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "value", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating identifier indexes: %w", err)
	}

	_, err = s.errors.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "transaction_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "code", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating error indexes: %w", err)
	}

	_, err = s.steps.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "transaction_id", Value: 1}, {Key: "name", Value: 1}, {Key: "shipment_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("creating step indexes: %w", err)
	}

	_, err = s.tokens.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "company_id", Value: 1}, {Key: "service", Value: 1}, {Key: "environment", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("creating token indexes: %w", err)
	}

	return nil
}

// Close closes the MongoDB connection
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Transaction store implementation

func (s *Store) CreateTransaction(ctx context.Context, tx *ledger.Transaction) error {
	_, err := s.transactions.InsertOne(ctx, tx)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	return err
}

func (s *Store) UpdateTransaction(ctx context.Context, tx *ledger.Transaction) error {
	res, err := s.transactions.ReplaceOne(ctx, bson.M{"_id": tx.ID}, tx)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	var tx ledger.Transaction
	err := s.transactions.FindOne(ctx, bson.M{"_id": id}).Decode(&tx)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, filter ledger.Filter) ([]*ledger.Transaction, error) {
	query := bson.M{}
	if filter.CompanyID != "" {
		query["company_id"] = filter.CompanyID
	}
	if filter.Operation != "" {
		query["operation"] = filter.Operation
	}
	if len(filter.Statuses) > 0 {
		query["status"] = bson.M{"$in": filter.Statuses}
	}
	created := bson.M{}
	if !filter.Since.IsZero() {
		created["$gte"] = filter.Since
	}
	if !filter.Until.IsZero() {
		created["$lt"] = filter.Until
	}
	if len(created) > 0 {
		query["created_at"] = created
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.transactions.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var txs []*ledger.Transaction
	if err := cursor.All(ctx, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// Identifier store implementation

func (s *Store) AddIdentifiers(ctx context.Context, ids []ledger.TrackIdentifier) error {
	if len(ids) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(ids))
	for _, id := range ids {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"transaction_id": id.TransactionID, "shipment_id": id.ShipmentID, "value": id.Value}).
			SetUpdate(bson.M{"$setOnInsert": id}).
			SetUpsert(true))
	}
	_, err := s.identifiers.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	return err
}

func (s *Store) ListIdentifiers(ctx context.Context, txID string) ([]ledger.TrackIdentifier, error) {
	return findAll[ledger.TrackIdentifier](ctx, s.identifiers, txID)
}

// Error store implementation

func (s *Store) AddError(ctx context.Context, rec *ledger.ErrorRecord) error {
	_, err := s.errors.InsertOne(ctx, rec)
	return err
}

func (s *Store) ListErrors(ctx context.Context, txID string) ([]ledger.ErrorRecord, error) {
	return findAll[ledger.ErrorRecord](ctx, s.errors, txID)
}

// Step store implementation

func (s *Store) PutStep(ctx context.Context, step *ledger.StepRecord) error {
	_, err := s.steps.ReplaceOne(ctx,
		bson.M{"transaction_id": step.TransactionID, "name": step.Name, "shipment_id": step.ShipmentID},
		step,
		options.Replace().SetUpsert(true))
	return err
}

func (s *Store) ListSteps(ctx context.Context, txID string) ([]ledger.StepRecord, error) {
	cursor, err := s.steps.Find(ctx, bson.M{"transaction_id": txID},
		options.Find().SetSort(bson.D{{Key: "completed_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var steps []ledger.StepRecord
	if err := cursor.All(ctx, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, txID string) ([]T, error) {
	cursor, err := coll.Find(ctx, bson.M{"transaction_id": txID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []T
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Token store implementation

func tokenFilter(key token.Key) bson.M {
	return bson.M{"company_id": key.CompanyID, "service": key.Service, "environment": key.Environment}
}

func (s *Store) GetToken(ctx context.Context, key token.Key, now time.Time) (*token.AuthToken, error) {
	var tok token.AuthToken
	err := s.tokens.FindOne(ctx, tokenFilter(key)).Decode(&tok)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !tok.Usable(now) {
		return nil, nil
	}
	return &tok, nil
}

func (s *Store) PutToken(ctx context.Context, tok *token.AuthToken) error {
	_, err := s.tokens.ReplaceOne(ctx, tokenFilter(tok.Key()), tok, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) TouchToken(ctx context.Context, key token.Key, at time.Time) error {
	_, err := s.tokens.UpdateOne(ctx, tokenFilter(key), bson.M{
		"$inc": bson.M{"usage_count": 1},
		"$set": bson.M{"last_used_at": at},
	})
	return err
}

func (s *Store) ExpireToken(ctx context.Context, key token.Key, at time.Time) error {
	filter := tokenFilter(key)
	filter["expires_at"] = bson.M{"$gt": at}
	_, err := s.tokens.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"expires_at": at}})
	return err
}
