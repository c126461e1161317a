package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/spendauth"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

type userDoc struct {
	ID            string `bson:"_id"`
	Email         string `bson:"email"`
	Name          string `bson:"name,omitempty"`
	PasswordHash  string `bson:"passwordHash"`
	Role          string `bson:"role"`
	EmailVerified bool   `bson:"emailVerified"`

	MFAEnabled       bool     `bson:"mfaEnabled"`
	MFASecret        string   `bson:"mfaSecret,omitempty"`
	BackupCodeHashes []string `bson:"backupCodes,omitempty"`

	AccountLocked       bool      `bson:"accountLocked"`
	LockedUntil         time.Time `bson:"lockedUntil,omitempty"`
	LockReason          string    `bson:"lockReason,omitempty"`
	FailedLoginAttempts int       `bson:"failedLoginAttempts"`

	PasswordChangedAt time.Time `bson:"passwordChangedAt,omitempty"`
	CreatedAt         time.Time `bson:"createdAt"`
	UpdatedAt         time.Time `bson:"updatedAt"`
}

func toUserDoc(u *spendauth.User) userDoc {
	return userDoc{
		ID:                  u.ID,
		Email:               u.Email,
		Name:                u.Name,
		PasswordHash:        u.PasswordHash,
		Role:                u.Role,
		EmailVerified:       u.EmailVerified,
		MFAEnabled:          u.MFAEnabled,
		MFASecret:           u.MFASecret,
		BackupCodeHashes:    u.BackupCodeHashes,
		AccountLocked:       u.AccountLocked,
		LockedUntil:         u.LockedUntil,
		LockReason:          u.LockReason,
		FailedLoginAttempts: u.FailedLoginAttempts,
		PasswordChangedAt:   u.PasswordChangedAt,
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
}

func (d userDoc) user() *spendauth.User {
	return &spendauth.User{
		ID:                  d.ID,
		Email:               d.Email,
		Name:                d.Name,
		PasswordHash:        d.PasswordHash,
		Role:                d.Role,
		EmailVerified:       d.EmailVerified,
		MFAEnabled:          d.MFAEnabled,
		MFASecret:           d.MFASecret,
		BackupCodeHashes:    d.BackupCodeHashes,
		AccountLocked:       d.AccountLocked,
		LockedUntil:         d.LockedUntil,
		LockReason:          d.LockReason,
		FailedLoginAttempts: d.FailedLoginAttempts,
		PasswordChangedAt:   d.PasswordChangedAt,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
}

// Users implements [spendauth.UserStore] over the users collection.
type Users struct {
	coll *mongo.Collection
}

func userUnavailable(err error) error {
	return fmt.Errorf("%w: %v", spendauth.ErrStoreUnavailable, err)
}

func (s *Users) findOne(ctx context.Context, filter bson.D) (*spendauth.User, error) {
	var doc userDoc
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, spendauth.ErrUserNotFound
	}
	if err != nil {
		return nil, userUnavailable(err)
	}
	return doc.user(), nil
}

func (s *Users) GetUserByEmail(ctx context.Context, email string) (*spendauth.User, error) {
	return s.findOne(ctx, bson.D{{Key: "email", Value: email}})
}

func (s *Users) GetUserByID(ctx context.Context, id string) (*spendauth.User, error) {
	return s.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

// CreateUser inserts u, assigning an id when it has none. The unique email
// index turns a duplicate into [spendauth.ErrEmailTaken].
func (s *Users) CreateUser(ctx context.Context, u *spendauth.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if _, err := s.coll.InsertOne(ctx, toUserDoc(u)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return spendauth.ErrEmailTaken
		}
		return userUnavailable(err)
	}
	return nil
}

// updateOne applies update to the user with id.
func (s *Users) updateOne(ctx context.Context, id string, update bson.D) error {
	res, err := s.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return spendauth.ErrEmailTaken
		}
		return userUnavailable(err)
	}
	if res.MatchedCount == 0 {
		return spendauth.ErrUserNotFound
	}
	return nil
}

func (s *Users) UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) error {
	return s.updateOne(ctx, id, bson.D{{Key: "$set", Value: bson.D{
		{Key: "passwordHash", Value: hash},
		{Key: "passwordChangedAt", Value: at},
		{Key: "updatedAt", Value: at},
	}}})
}

// UpdateProfile sets the provided fields. A new email clears the verified
// flag.
func (s *Users) UpdateProfile(ctx context.Context, id string, changes spendauth.ProfileChanges, at time.Time) error {
	set := bson.D{{Key: "updatedAt", Value: at}}
	if changes.Name != nil {
		set = append(set, bson.E{Key: "name", Value: *changes.Name})
	}
	if changes.Email != nil {
		set = append(set,
			bson.E{Key: "email", Value: *changes.Email},
			bson.E{Key: "emailVerified", Value: false},
		)
	}
	return s.updateOne(ctx, id, bson.D{{Key: "$set", Value: set}})
}

// IncrementFailedLogins bumps the counter atomically and returns the new
// value.
func (s *Users) IncrementFailedLogins(ctx context.Context, id string) (int, error) {
	var doc struct {
		FailedLoginAttempts int `bson:"failedLoginAttempts"`
	}
	err := s.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "failedLoginAttempts", Value: 1}}}},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.D{{Key: "failedLoginAttempts", Value: 1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, spendauth.ErrUserNotFound
	}
	if err != nil {
		return 0, userUnavailable(err)
	}
	return doc.FailedLoginAttempts, nil
}

func (s *Users) LockAccount(ctx context.Context, id string, until time.Time, reason string) error {
	return s.updateOne(ctx, id, bson.D{{Key: "$set", Value: bson.D{
		{Key: "accountLocked", Value: true},
		{Key: "lockedUntil", Value: until},
		{Key: "lockReason", Value: reason},
	}}})
}

func (s *Users) ClearLockout(ctx context.Context, id string) error {
	return s.updateOne(ctx, id, bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "accountLocked", Value: false},
			{Key: "failedLoginAttempts", Value: 0},
		}},
		{Key: "$unset", Value: bson.D{
			{Key: "lockedUntil", Value: ""},
			{Key: "lockReason", Value: ""},
		}},
	})
}

func (s *Users) EnableMFA(ctx context.Context, id, secret string, hashes []string) error {
	if hashes == nil {
		hashes = []string{}
	}
	return s.updateOne(ctx, id, bson.D{{Key: "$set", Value: bson.D{
		{Key: "mfaEnabled", Value: true},
		{Key: "mfaSecret", Value: secret},
		{Key: "backupCodes", Value: hashes},
	}}})
}

func (s *Users) DisableMFA(ctx context.Context, id string) error {
	return s.updateOne(ctx, id, bson.D{
		{Key: "$set", Value: bson.D{{Key: "mfaEnabled", Value: false}}},
		{Key: "$unset", Value: bson.D{
			{Key: "mfaSecret", Value: ""},
			{Key: "backupCodes", Value: ""},
		}},
	})
}

// ConsumeBackupCode pulls codeHash in a single update filtered on its
// presence, so two concurrent uses of one code cannot both succeed.
func (s *Users) ConsumeBackupCode(ctx context.Context, id, codeHash string) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "backupCodes", Value: codeHash}},
		bson.D{{Key: "$pull", Value: bson.D{{Key: "backupCodes", Value: codeHash}}}},
	)
	if err != nil {
		return false, userUnavailable(err)
	}
	return res.ModifiedCount == 1, nil
}

func (s *Users) Ping(ctx context.Context) error {
	if err := s.coll.Database().Client().Ping(ctx, readpref.Primary()); err != nil {
		return userUnavailable(err)
	}
	return nil
}

var _ spendauth.UserStore = (*Users)(nil)
