// Package mongo stores orders in a MongoDB collection with a unique index on
// the payment reference.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/order"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const referenceIndex = "paystack_reference_unique"

// Connect initializes the MongoDB client using the provided URI and pings the primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

type orderDocument struct {
	ID              string    `bson:"_id"`
	Reference       string    `bson:"paystack_reference"`
	UserID          string    `bson:"user_id"`
	ProviderName    string    `bson:"provider_name"`
	BundleID        string    `bson:"bundle_id"`
	RecipientNumber string    `bson:"recipient_number"`
	Price           float64   `bson:"price"`
	PaymentNetwork  string    `bson:"payment_network"`
	Status          string    `bson:"status"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func (d orderDocument) toOrder() order.Order {
	return order.Order{
		ID:              d.ID,
		Reference:       d.Reference,
		UserID:          d.UserID,
		ProviderName:    d.ProviderName,
		BundleID:        d.BundleID,
		RecipientNumber: d.RecipientNumber,
		Price:           d.Price,
		PaymentNetwork:  d.PaymentNetwork,
		Status:          order.Status(d.Status),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// Store implements order.Store on a single collection.
type Store struct {
	Collection *mongo.Collection
}

func NewStore(collection *mongo.Collection) *Store {
	return &Store{Collection: collection}
}

// EnsureIndexes creates the unique reference index that backs ErrConflict.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.Collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "paystack_reference", Value: 1}},
		Options: options.Index().SetUnique(true).SetName(referenceIndex),
	})
	if err != nil {
		return fmt.Errorf("create %s index: %w", referenceIndex, err)
	}
	return nil
}

func (s *Store) FindByReference(ctx context.Context, reference string) (order.Order, error) {
	var doc orderDocument
	err := s.Collection.FindOne(ctx, bson.M{"paystack_reference": reference}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return order.Order{}, order.ErrNotFound
	}
	if err != nil {
		return order.Order{}, fmt.Errorf("find order: %w: %w", order.ErrStore, err)
	}
	return doc.toOrder(), nil
}

func (s *Store) Insert(ctx context.Context, o order.Order) (order.Order, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	doc := orderDocument{
		ID:              o.ID,
		Reference:       o.Reference,
		UserID:          o.UserID,
		ProviderName:    o.ProviderName,
		BundleID:        o.BundleID,
		RecipientNumber: o.RecipientNumber,
		Price:           o.Price,
		PaymentNetwork:  o.PaymentNetwork,
		Status:          string(o.Status),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := s.Collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return order.Order{}, order.ErrConflict
		}
		return order.Order{}, fmt.Errorf("insert order: %w: %w", order.ErrStore, err)
	}
	return doc.toOrder(), nil
}

func (s *Store) MarkPaid(ctx context.Context, reference string) (bool, error) {
	paid := string(order.StatusPaid)
	res, err := s.Collection.UpdateOne(ctx,
		bson.M{"paystack_reference": reference, "status": bson.M{"$ne": paid}},
		bson.M{"$set": bson.M{"status": paid, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w: %w", order.ErrStore, err)
	}
	return res.ModifiedCount > 0, nil
}
