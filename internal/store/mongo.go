package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"telebridge/internal/config"
)

// CollectionSettings holds one document per persisted entry.
const CollectionSettings = "settings"

// mongoClient captures the subset of mongo.Client behavior we rely on to allow
// lightweight stubbing in tests without a live Mongo deployment.
type mongoClient interface {
	Ping(context.Context, *readpref.ReadPref) error
	Database(string, ...*options.DatabaseOptions) *mongo.Database
	Disconnect(context.Context) error
}

// connectMongo is overridable for tests.
var connectMongo = func(ctx context.Context, opts *options.ClientOptions) (mongoClient, error) {
	return mongo.Connect(ctx, opts)
}

// createIndexes is overridable for tests.
var createIndexes = func(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) ([]string, error) {
	return coll.Indexes().CreateMany(ctx, models)
}

// Manager owns a MongoDB client and the configured database handle.
type Manager struct {
	client mongoClient
	db     *mongo.Database
}

// NewManager initializes the Mongo client using the supplied configuration and
// verifies connectivity with a ping.
func NewManager(ctx context.Context, cfg config.Config) (*Manager, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	client, err := connectMongo(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Manager{
		client: client,
		db:     client.Database(cfg.MongoDB),
	}, nil
}

// Database returns the configured database handle.
func (m *Manager) Database() *mongo.Database {
	return m.db
}

// Settings returns the settings collection handle.
func (m *Manager) Settings() *mongo.Collection {
	return m.db.Collection(CollectionSettings)
}

// EnsureBaseIndexes creates the unique key index on the settings collection.
// The collection is created implicitly if it does not already exist.
func (m *Manager) EnsureBaseIndexes(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.db == nil {
		return errors.New("store manager is not initialized")
	}

	settingIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "key", Value: 1}},
			Options: options.Index().
				SetName("key_unique").
				SetUnique(true),
		},
	}

	if _, err := createIndexes(ctx, m.Settings(), settingIndexes); err != nil {
		return fmt.Errorf("create settings indexes: %w", err)
	}

	return nil
}

// Ping verifies the primary is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.client == nil {
		return errors.New("store manager is not initialized")
	}

	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

// Close disconnects the Mongo client.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return m.client.Disconnect(ctx)
}

type settingsCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

type connection interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type settingDocument struct {
	Key       string    `bson:"key"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoKV stores each entry as a document in the settings collection.
type MongoKV struct {
	conn     connection
	settings settingsCollection
}

// NewMongoKV builds a KV over the manager's settings collection.
func NewMongoKV(manager *Manager) *MongoKV {
	return &MongoKV{conn: manager, settings: manager.Settings()}
}

func (k *MongoKV) Get(ctx context.Context, key string) (string, bool, error) {
	if err := k.ready(ctx); err != nil {
		return "", false, err
	}

	result := k.settings.FindOne(ctx, bson.M{"key": key})
	if result == nil {
		return "", false, errors.New("find setting returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("find setting: %w", err)
	}

	var doc settingDocument
	if err := result.Decode(&doc); err != nil {
		return "", false, fmt.Errorf("decode setting: %w", err)
	}

	return doc.Value, true, nil
}

func (k *MongoKV) Set(ctx context.Context, key, value string) error {
	if err := k.ready(ctx); err != nil {
		return err
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	update := bson.M{
		"$set": bson.M{
			"value":      value,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"key": key,
		},
	}

	if _, err := k.settings.UpdateOne(ctx, bson.M{"key": key}, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}

func (k *MongoKV) Delete(ctx context.Context, key string) error {
	if err := k.ready(ctx); err != nil {
		return err
	}

	if _, err := k.settings.DeleteOne(ctx, bson.M{"key": key}); err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}
	return nil
}

func (k *MongoKV) Ping(ctx context.Context) error {
	if k == nil || k.conn == nil {
		return errors.New("mongo store is not initialized")
	}
	return k.conn.Ping(ctx)
}

func (k *MongoKV) Close(ctx context.Context) error {
	if k == nil || k.conn == nil {
		return nil
	}
	return k.conn.Close(ctx)
}

func (k *MongoKV) ready(ctx context.Context) error {
	if k == nil || k.settings == nil {
		return errors.New("mongo store is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
