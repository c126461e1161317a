package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/spendauth"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Collection names.
const (
	CollUsers        = "users"
	CollSessions     = "sessions"
	CollLoginHistory = "loginhistories"
	CollSecurityLogs = "securitylogs"
)

// DB owns a client and the database the stores share.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri and pings the primary before returning.
func Connect(ctx context.Context, uri, database string) (*DB, error) {
	if database == "" {
		return nil, errors.New("mongodb: database name is required")
	}
	client, err := mongo.Connect(options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("mongodb: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb: ping: %w", err)
	}
	return &DB{client: client, db: client.Database(database)}, nil
}

// Close disconnects the client.
func (d *DB) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// Database exposes the underlying handle.
func (d *DB) Database() *mongo.Database { return d.db }

// Users returns the user store.
func (d *DB) Users() *Users { return &Users{coll: d.db.Collection(CollUsers)} }

// Sessions returns the session store.
func (d *DB) Sessions() *Sessions { return &Sessions{coll: d.db.Collection(CollSessions)} }

// Recorder returns the audit recorder.
func (d *DB) Recorder() *Recorder {
	return &Recorder{
		logins:   d.db.Collection(CollLoginHistory),
		security: d.db.Collection(CollSecurityLogs),
	}
}

// EnsureIndexes creates the indexes the stores rely on. It is idempotent.
func (d *DB) EnsureIndexes(ctx context.Context) error {
	sets := map[string][]mongo.IndexModel{
		CollUsers: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		CollSessions: {
			{Keys: bson.D{{Key: "accessTokenHash", Value: 1}}},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "refreshTokenHash", Value: 1}, {Key: "isActive", Value: 1}}},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "isActive", Value: 1}, {Key: "updatedAt", Value: -1}}},
			// Expired sessions are purged a day after they stop being usable.
			{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(86400)},
		},
		CollLoginHistory: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "at", Value: -1}}},
		},
		CollSecurityLogs: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "at", Value: -1}}},
		},
	}
	for coll, models := range sets {
		if _, err := d.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongodb: indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// Ping checks the primary.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %v", spendauth.ErrStoreUnavailable, err)
	}
	return nil
}
