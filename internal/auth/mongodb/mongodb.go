// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mongodb implements the auth repositories on MongoDB.
//
// Multi-document transactions need a replica set; Transactor fails on a
// standalone server.
package mongodb

import (
	"context"
	"time"

	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Collection names.
const (
	AccountsCollection     = "accounts"
	SessionsCollection     = "refresh_sessions"
	JobsCollection         = "jobs"
	PropertiesCollection   = "properties"
	ApplicationsCollection = "applications"
)

// Connect opens a client for uri, pings the primary and returns the named database.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetServerSelectionTimeout(5 * time.Second))
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("driver", "mongo").Wrap(err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background()) //nolint:errcheck // ping error takes precedence
		return nil, oops.Code("DB_CONNECT_FAILED").With("driver", "mongo").With("operation", "ping").Wrap(err)
	}
	return client.Database(database), nil
}

// EnsureIndexes creates the unique and lookup indexes. It is idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	unique := options.Index().SetUnique(true)
	indexes := map[string][]mongo.IndexModel{
		AccountsCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "contact_no", Value: 1}, {Key: "email", Value: 1}}, Options: unique},
		},
		SessionsCollection: {
			{Keys: bson.D{{Key: "account_id", Value: 1}}, Options: unique},
		},
		JobsCollection: {
			{Keys: bson.D{{Key: "owner_id", Value: 1}}},
		},
		PropertiesCollection: {
			{Keys: bson.D{{Key: "owner_id", Value: 1}}},
		},
		ApplicationsCollection: {
			{Keys: bson.D{{Key: "account_id", Value: 1}}},
			{Keys: bson.D{{Key: "job_id", Value: 1}}},
			{Keys: bson.D{{Key: "property_id", Value: 1}}},
		},
	}
	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return oops.Code("DB_INDEX_FAILED").With("collection", name).Wrap(err)
		}
	}
	return nil
}

// Transactor implements auth.Transactor with a client session. The session
// travels in the context, so repository calls made by fn join it.
type Transactor struct {
	client *mongo.Client
}

// NewTransactor creates a Transactor for db's client.
func NewTransactor(db *mongo.Database) *Transactor {
	return &Transactor{client: db.Client()}
}

// InTransaction runs fn in a transaction. A nested call reuses the outer one.
// fn runs exactly once; a transient transaction error aborts and is
// returned rather than replaying fn, which may already have sent mail.
func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}
	sess, err := t.client.StartSession()
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").With("driver", "mongo").Wrap(err)
	}
	defer sess.EndSession(context.Background())

	if err := sess.StartTransaction(); err != nil {
		return oops.Code("TX_BEGIN_FAILED").With("driver", "mongo").Wrap(err)
	}
	txCtx := mongo.NewSessionContext(ctx, sess)
	if err := fn(txCtx); err != nil {
		_ = sess.AbortTransaction(context.WithoutCancel(ctx))
		return err
	}
	if err := sess.CommitTransaction(txCtx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").With("driver", "mongo").Wrap(err)
	}
	return nil
}
