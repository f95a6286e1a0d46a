// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/holomush/keyhold/internal/auth"
)

type sessionDoc struct {
	ID           string    `bson:"_id"`
	AccountID    string    `bson:"account_id"`
	SecretDigest string    `bson:"secret_digest"`
	Valid        bool      `bson:"valid"`
	UserAgent    string    `bson:"user_agent"`
	IPAddress    string    `bson:"ip_address"`
	CreatedAt    time.Time `bson:"created_at"`
	RotatedAt    time.Time `bson:"rotated_at"`
}

// RefreshSessionRepository implements auth.RefreshSessionRepository on MongoDB.
// The unique index on account_id keeps one document per account.
type RefreshSessionRepository struct {
	coll *mongo.Collection
}

var _ auth.RefreshSessionRepository = (*RefreshSessionRepository)(nil)

// NewRefreshSessionRepository creates a new RefreshSessionRepository.
func NewRefreshSessionRepository(db *mongo.Database) *RefreshSessionRepository {
	return &RefreshSessionRepository{coll: db.Collection(SessionsCollection)}
}

// Create stores a new refresh session.
func (r *RefreshSessionRepository) Create(ctx context.Context, s *auth.RefreshSession) error {
	_, err := r.coll.InsertOne(ctx, sessionDoc{
		ID:           s.ID.String(),
		AccountID:    s.AccountID.String(),
		SecretDigest: s.SecretDigest,
		Valid:        s.Valid,
		UserAgent:    s.UserAgent,
		IPAddress:    s.IPAddress,
		CreatedAt:    s.CreatedAt,
		RotatedAt:    s.RotatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return oops.With("account_id", s.AccountID.String()).
			Wrap(auth.NewConflict("SESSION_EXISTS", "Session already exists"))
	}
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert refresh_session").
			With("account_id", s.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// GetByAccount retrieves the account's session.
func (r *RefreshSessionRepository) GetByAccount(ctx context.Context, accountID ulid.ULID) (*auth.RefreshSession, error) {
	var doc sessionDoc
	err := r.coll.FindOne(ctx, bson.D{{Key: "account_id", Value: accountID.String()}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, oops.Code("SESSION_NOT_FOUND").With("account_id", accountID.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").With("account_id", accountID.String()).Wrap(err)
	}

	s := &auth.RefreshSession{
		SecretDigest: doc.SecretDigest,
		Valid:        doc.Valid,
		UserAgent:    doc.UserAgent,
		IPAddress:    doc.IPAddress,
		CreatedAt:    doc.CreatedAt,
		RotatedAt:    doc.RotatedAt,
	}
	if s.ID, err = ulid.Parse(doc.ID); err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").With("id", doc.ID).Wrap(err)
	}
	if s.AccountID, err = ulid.Parse(doc.AccountID); err != nil {
		return nil, oops.Code("SESSION_INVALID_ACCOUNT_ID").With("account_id", doc.AccountID).Wrap(err)
	}
	return s, nil
}

// Rotate swaps the secret digest when the session is valid and still carries expectedDigest.
func (r *RefreshSessionRepository) Rotate(ctx context.Context, accountID ulid.ULID, expectedDigest, newDigest string, at time.Time) error {
	filter := bson.D{
		{Key: "account_id", Value: accountID.String()},
		{Key: "valid", Value: true},
		{Key: "secret_digest", Value: expectedDigest},
	}
	res, err := r.coll.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: bson.D{
		{Key: "secret_digest", Value: newDigest},
		{Key: "rotated_at", Value: at},
	}}})
	if err != nil {
		return sessionErr(err, "rotate secret", accountID)
	}
	return matchedOne(res.MatchedCount, "rotate secret", accountID)
}

// SetValid sets the validity flag.
func (r *RefreshSessionRepository) SetValid(ctx context.Context, accountID ulid.ULID, valid bool) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "account_id", Value: accountID.String()}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "valid", Value: valid}}}})
	if err != nil {
		return sessionErr(err, "set valid", accountID)
	}
	return matchedOne(res.MatchedCount, "set valid", accountID)
}

// DeleteByAccount removes the account's session.
func (r *RefreshSessionRepository) DeleteByAccount(ctx context.Context, accountID ulid.ULID) error {
	res, err := r.coll.DeleteOne(ctx, bson.D{{Key: "account_id", Value: accountID.String()}})
	if err != nil {
		return sessionErr(err, "delete session", accountID)
	}
	return matchedOne(res.DeletedCount, "delete session", accountID)
}

func sessionErr(err error, operation string, accountID ulid.ULID) error {
	return oops.Code("SESSION_UPDATE_FAILED").
		With("operation", operation).
		With("account_id", accountID.String()).
		Wrap(err)
}

func matchedOne(n int64, operation string, accountID ulid.ULID) error {
	if n == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("operation", operation).
			With("account_id", accountID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}
