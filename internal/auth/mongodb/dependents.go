// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mongodb

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/holomush/keyhold/internal/cascade"
)

// DependentStore deletes the job, property and application documents owned
// by an account. Run it inside the account deletion transaction.
type DependentStore struct {
	db *mongo.Database
}

var _ cascade.DependentStore = (*DependentStore)(nil)

// NewDependentStore creates a new DependentStore.
func NewDependentStore(db *mongo.Database) *DependentStore {
	return &DependentStore{db: db}
}

type ownedDoc struct {
	ID       string `bson:"_id"`
	ImageKey string `bson:"image_key"`
}

// DeleteOwnedBy removes the account's session, its applications, the
// applications made against its listings, and the listings themselves.
func (s *DependentStore) DeleteOwnedBy(ctx context.Context, accountID ulid.ULID) (cascade.Removed, error) {
	id := accountID.String()
	owner := bson.D{{Key: "owner_id", Value: id}}
	var removed cascade.Removed

	res, err := s.db.Collection(SessionsCollection).DeleteMany(ctx, bson.D{{Key: "account_id", Value: id}})
	if err != nil {
		return removed, wrapCascade(err, "delete sessions", id)
	}
	removed.Sessions = res.DeletedCount

	jobs, err := s.owned(ctx, JobsCollection, owner)
	if err != nil {
		return removed, wrapCascade(err, "list jobs", id)
	}
	properties, err := s.owned(ctx, PropertiesCollection, owner)
	if err != nil {
		return removed, wrapCascade(err, "list properties", id)
	}

	res, err = s.db.Collection(ApplicationsCollection).DeleteMany(ctx, bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "account_id", Value: id}},
		bson.D{{Key: "job_id", Value: bson.D{{Key: "$in", Value: ids(jobs)}}}},
		bson.D{{Key: "property_id", Value: bson.D{{Key: "$in", Value: ids(properties)}}}},
	}}})
	if err != nil {
		return removed, wrapCascade(err, "delete applications", id)
	}
	removed.Applications = res.DeletedCount

	res, err = s.db.Collection(JobsCollection).DeleteMany(ctx, owner)
	if err != nil {
		return removed, wrapCascade(err, "delete jobs", id)
	}
	removed.Jobs = res.DeletedCount

	res, err = s.db.Collection(PropertiesCollection).DeleteMany(ctx, owner)
	if err != nil {
		return removed, wrapCascade(err, "delete properties", id)
	}
	removed.Properties = res.DeletedCount
	for _, p := range properties {
		if p.ImageKey != "" {
			removed.AssetKeys = append(removed.AssetKeys, p.ImageKey)
		}
	}
	return removed, nil
}

func (s *DependentStore) owned(ctx context.Context, collection string, filter bson.D) ([]ownedDoc, error) {
	cur, err := s.db.Collection(collection).Find(ctx, filter,
		options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}, {Key: "image_key", Value: 1}}))
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with operation
	}
	var docs []ownedDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with operation
	}
	return docs, nil
}

func ids(docs []ownedDoc) bson.A {
	out := bson.A{}
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}

func wrapCascade(err error, operation, accountID string) error {
	return oops.Code("DEPENDENTS_DELETE_FAILED").
		With("driver", "mongo").
		With("operation", operation).
		With("account_id", accountID).
		Wrap(err)
}
