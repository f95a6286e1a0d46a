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

type accountDoc struct {
	ID                    string     `bson:"_id"`
	Email                 string     `bson:"email"`
	FirstName             string     `bson:"first_name"`
	LastName              string     `bson:"last_name"`
	ContactNo             string     `bson:"contact_no"`
	CompanyName           string     `bson:"company_name,omitempty"`
	Role                  string     `bson:"role"`
	PasswordHash          string     `bson:"password_hash"`
	Status                string     `bson:"status"`
	Verified              bool       `bson:"verified"`
	VerifiedAt            *time.Time `bson:"verified_at"`
	VerificationDigest    string     `bson:"verification_digest"`
	VerificationExpiresAt *time.Time `bson:"verification_expires_at"`
	ResetDigest           string     `bson:"reset_digest"`
	ResetExpiresAt        *time.Time `bson:"reset_expires_at"`
	ProfileImageKey       string     `bson:"profile_image_key,omitempty"`
	ResumeKey             string     `bson:"resume_key,omitempty"`
	CreatedAt             time.Time  `bson:"created_at"`
	UpdatedAt             time.Time  `bson:"updated_at"`
}

func toAccountDoc(a *auth.Account) accountDoc {
	return accountDoc{
		ID:                    a.ID.String(),
		Email:                 a.Email,
		FirstName:             a.FirstName,
		LastName:              a.LastName,
		ContactNo:             a.ContactNo,
		CompanyName:           a.CompanyName,
		Role:                  string(a.Role),
		PasswordHash:          a.PasswordHash,
		Status:                string(a.Status),
		Verified:              a.Verified,
		VerifiedAt:            a.VerifiedAt,
		VerificationDigest:    a.VerificationDigest,
		VerificationExpiresAt: a.VerificationExpiresAt,
		ResetDigest:           a.ResetDigest,
		ResetExpiresAt:        a.ResetExpiresAt,
		ProfileImageKey:       a.ProfileImageKey,
		ResumeKey:             a.ResumeKey,
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             a.UpdatedAt,
	}
}

func (d accountDoc) account() (*auth.Account, error) {
	id, err := ulid.Parse(d.ID)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").With("id", d.ID).Wrap(err)
	}
	return &auth.Account{
		ID:                    id,
		Email:                 d.Email,
		FirstName:             d.FirstName,
		LastName:              d.LastName,
		ContactNo:             d.ContactNo,
		CompanyName:           d.CompanyName,
		Role:                  auth.Role(d.Role),
		PasswordHash:          d.PasswordHash,
		Status:                auth.Status(d.Status),
		Verified:              d.Verified,
		VerifiedAt:            d.VerifiedAt,
		VerificationDigest:    d.VerificationDigest,
		VerificationExpiresAt: d.VerificationExpiresAt,
		ResetDigest:           d.ResetDigest,
		ResetExpiresAt:        d.ResetExpiresAt,
		ProfileImageKey:       d.ProfileImageKey,
		ResumeKey:             d.ResumeKey,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}, nil
}

// AccountRepository implements auth.AccountRepository on a MongoDB collection.
type AccountRepository struct {
	coll *mongo.Collection
}

var _ auth.AccountRepository = (*AccountRepository)(nil)

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db *mongo.Database) *AccountRepository {
	return &AccountRepository{coll: db.Collection(AccountsCollection)}
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, a *auth.Account) error {
	_, err := r.coll.InsertOne(ctx, toAccountDoc(a))
	if mongo.IsDuplicateKeyError(err) {
		return oops.With("email", a.Email).Wrap(auth.NewConflict("ACCOUNT_EMAIL_TAKEN", "Email already exists"))
	}
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("account_id", a.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id.String()}}, "get account by id")
}

// GetByEmail retrieves an account by normalized email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	return r.findOne(ctx, bson.D{{Key: "email", Value: email}}, "get account by email")
}

func (r *AccountRepository) findOne(ctx context.Context, filter bson.D, operation string) (*auth.Account, error) {
	var doc accountDoc
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("operation", operation).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").With("operation", operation).Wrap(err)
	}
	return doc.account()
}

// MarkVerified flips an unverified account whose digest matches. The
// redeemed digest is kept so a repeated verify can be told apart from a
// wrong secret.
func (r *AccountRepository) MarkVerified(ctx context.Context, id ulid.ULID, digest string, now time.Time) error {
	if digest == "" {
		return notFound("mark verified", id)
	}
	return r.update(ctx, "mark verified", id, markVerifiedFilter(id, digest, now), bson.D{{Key: "$set", Value: bson.D{
		{Key: "verified", Value: true},
		{Key: "verified_at", Value: now},
		{Key: "verification_expires_at", Value: nil},
		{Key: "updated_at", Value: now},
	}}})
}

func markVerifiedFilter(id ulid.ULID, digest string, now time.Time) bson.D {
	return bson.D{
		{Key: "_id", Value: id.String()},
		{Key: "verified", Value: false},
		{Key: "verification_digest", Value: digest},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "verification_expires_at", Value: nil}},
			bson.D{{Key: "verification_expires_at", Value: bson.D{{Key: "$gt", Value: now}}}},
		}},
	}
}

// BeginReset stores a reset challenge unless an unexpired one is pending.
func (r *AccountRepository) BeginReset(ctx context.Context, id ulid.ULID, digest string, expiresAt, now time.Time) error {
	res, err := r.coll.UpdateOne(ctx, beginResetFilter(id, now), bson.D{{Key: "$set", Value: bson.D{
		{Key: "reset_digest", Value: digest},
		{Key: "reset_expires_at", Value: expiresAt},
		{Key: "updated_at", Value: now},
	}}})
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "begin reset").
			With("account_id", id.String()).
			Wrap(err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := r.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: id.String()}})
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "classify begin reset").
			With("account_id", id.String()).
			Wrap(err)
	}
	if n > 0 {
		return oops.With("account_id", id.String()).
			Wrap(auth.NewConflict("RESET_ALREADY_PENDING", "Password reset already requested"))
	}
	return notFound("begin reset", id)
}

func beginResetFilter(id ulid.ULID, now time.Time) bson.D {
	return bson.D{
		{Key: "_id", Value: id.String()},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "reset_digest", Value: ""}},
			bson.D{{Key: "reset_expires_at", Value: nil}},
			bson.D{{Key: "reset_expires_at", Value: bson.D{{Key: "$lte", Value: now}}}},
		}},
	}
}

// CompleteReset replaces the password hash if the reset digest matches and is unexpired.
func (r *AccountRepository) CompleteReset(ctx context.Context, id ulid.ULID, digest, passwordHash string, now time.Time) error {
	if digest == "" {
		return notFound("complete reset", id)
	}
	filter := bson.D{
		{Key: "_id", Value: id.String()},
		{Key: "reset_digest", Value: digest},
		{Key: "reset_expires_at", Value: bson.D{{Key: "$gt", Value: now}}},
	}
	return r.update(ctx, "complete reset", id, filter, bson.D{{Key: "$set", Value: bson.D{
		{Key: "password_hash", Value: passwordHash},
		{Key: "reset_digest", Value: ""},
		{Key: "reset_expires_at", Value: nil},
		{Key: "updated_at", Value: now},
	}}})
}

// ClearExpiredReset removes an expired reset challenge that still carries digest.
func (r *AccountRepository) ClearExpiredReset(ctx context.Context, id ulid.ULID, digest string, now time.Time) error {
	if digest == "" {
		return notFound("clear expired reset", id)
	}
	return r.update(ctx, "clear expired reset", id, clearExpiredResetFilter(id, digest, now), bson.D{{Key: "$set", Value: bson.D{
		{Key: "reset_digest", Value: ""},
		{Key: "reset_expires_at", Value: nil},
	}}})
}

func clearExpiredResetFilter(id ulid.ULID, digest string, now time.Time) bson.D {
	return bson.D{
		{Key: "_id", Value: id.String()},
		{Key: "reset_digest", Value: digest},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "reset_expires_at", Value: nil}},
			bson.D{{Key: "reset_expires_at", Value: bson.D{{Key: "$lte", Value: now}}}},
		}},
	}
}

// UpdatePasswordHash replaces the stored password hash.
func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return r.set(ctx, "update password hash", id, bson.D{
		{Key: "password_hash", Value: passwordHash},
		{Key: "updated_at", Value: time.Now()},
	})
}

// UpdateProfile writes the mutable profile fields.
func (r *AccountRepository) UpdateProfile(ctx context.Context, a *auth.Account) error {
	return r.set(ctx, "update profile", a.ID, bson.D{
		{Key: "first_name", Value: a.FirstName},
		{Key: "last_name", Value: a.LastName},
		{Key: "contact_no", Value: a.ContactNo},
		{Key: "company_name", Value: a.CompanyName},
		{Key: "updated_at", Value: a.UpdatedAt},
	})
}

// SetStatus changes the active/inactive flag.
func (r *AccountRepository) SetStatus(ctx context.Context, id ulid.ULID, status auth.Status) error {
	return r.set(ctx, "set status", id, bson.D{
		{Key: "status", Value: string(status)},
		{Key: "updated_at", Value: time.Now()},
	})
}

// Delete removes an account.
func (r *AccountRepository) Delete(ctx context.Context, id ulid.ULID) error {
	res, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id.String()}})
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "delete account").
			With("account_id", id.String()).
			Wrap(err)
	}
	if res.DeletedCount == 0 {
		return notFound("delete account", id)
	}
	return nil
}

func (r *AccountRepository) set(ctx context.Context, operation string, id ulid.ULID, fields bson.D) error {
	return r.update(ctx, operation, id, bson.D{{Key: "_id", Value: id.String()}}, bson.D{{Key: "$set", Value: fields}})
}

// update applies a single-document conditional update. No match means the
// document is missing or its precondition failed.
func (r *AccountRepository) update(ctx context.Context, operation string, id ulid.ULID, filter, update bson.D) error {
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", operation).
			With("account_id", id.String()).
			Wrap(err)
	}
	if res.MatchedCount == 0 {
		return notFound(operation, id)
	}
	return nil
}

func notFound(operation string, id ulid.ULID) error {
	return oops.Code("ACCOUNT_NOT_FOUND").
		With("operation", operation).
		With("account_id", id.String()).
		Wrap(auth.ErrNotFound)
}
