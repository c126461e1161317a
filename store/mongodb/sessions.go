package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/spendauth/session"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

type deviceDoc struct {
	Browser    string `bson:"browser"`
	OS         string `bson:"os"`
	DeviceType string `bson:"deviceType"`
}

type locationDoc struct {
	City    string `bson:"city,omitempty"`
	Country string `bson:"country,omitempty"`
}

type sessionDoc struct {
	ID               string       `bson:"_id"`
	UserID           string       `bson:"userId"`
	AccessTokenHash  string       `bson:"accessTokenHash"`
	RefreshTokenHash string       `bson:"refreshTokenHash"`
	Device           deviceDoc    `bson:"deviceInfo"`
	Location         *locationDoc `bson:"location,omitempty"`

	IsActive   bool  `bson:"isActive"`
	RememberMe bool  `bson:"rememberMe"`
	Policy     uint8 `bson:"policy"`

	CreatedAt         time.Time `bson:"createdAt"`
	UpdatedAt         time.Time `bson:"updatedAt"`
	LastActivityAt    time.Time `bson:"lastActivity"`
	ExpiresAt         time.Time `bson:"expiresAt"`
	OriginalExpiresAt time.Time `bson:"originalExpiresAt"`

	ReplacedBy   string     `bson:"replacedBy,omitempty"`
	ReplacedAt   *time.Time `bson:"replacedAt,omitempty"`
	LoggedOutAt  *time.Time `bson:"loggedOutAt,omitempty"`
	LogoutReason string     `bson:"logoutReason,omitempty"`
}

func toSessionDoc(s *session.Session) sessionDoc {
	d := sessionDoc{
		ID:                s.ID,
		UserID:            string(s.UserID),
		AccessTokenHash:   s.AccessTokenHash,
		RefreshTokenHash:  s.RefreshTokenHash,
		Device:            deviceDoc(s.Device),
		IsActive:          s.IsActive,
		RememberMe:        s.RememberMe,
		Policy:            uint8(s.Policy),
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
		LastActivityAt:    s.LastActivityAt,
		ExpiresAt:         s.ExpiresAt,
		OriginalExpiresAt: s.OriginalExpiresAt,
		ReplacedBy:        s.ReplacedBy,
		ReplacedAt:        s.ReplacedAt,
		LoggedOutAt:       s.LoggedOutAt,
		LogoutReason:      s.LogoutReason,
	}
	if s.Location != nil {
		loc := locationDoc(*s.Location)
		d.Location = &loc
	}
	return d
}

func (d sessionDoc) session() *session.Session {
	s := &session.Session{
		ID:                d.ID,
		UserID:            session.UserID(d.UserID),
		AccessTokenHash:   d.AccessTokenHash,
		RefreshTokenHash:  d.RefreshTokenHash,
		Device:            session.Device(d.Device),
		IsActive:          d.IsActive,
		RememberMe:        d.RememberMe,
		Policy:            session.ExpiryPolicy(d.Policy),
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
		LastActivityAt:    d.LastActivityAt,
		ExpiresAt:         d.ExpiresAt,
		OriginalExpiresAt: d.OriginalExpiresAt,
		ReplacedBy:        d.ReplacedBy,
		ReplacedAt:        d.ReplacedAt,
		LoggedOutAt:       d.LoggedOutAt,
		LogoutReason:      d.LogoutReason,
	}
	if d.Location != nil {
		loc := session.Location(*d.Location)
		s.Location = &loc
	}
	return s
}

// Sessions implements [session.Store] over the sessions collection. Each
// mutation is a single-document update, so it is atomic per session.
type Sessions struct {
	coll *mongo.Collection
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", session.ErrUnavailable, err)
}

var newestFirst = bson.D{{Key: "updatedAt", Value: -1}}

func (s *Sessions) findOne(ctx context.Context, filter bson.D, opts ...options.Lister[options.FindOneOptions]) (*session.Session, error) {
	var doc sessionDoc
	err := s.coll.FindOne(ctx, filter, opts...).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return doc.session(), nil
}

func (s *Sessions) find(ctx context.Context, filter bson.D) ([]*session.Session, error) {
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(newestFirst))
	if err != nil {
		return nil, unavailable(err)
	}
	var docs []sessionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable(err)
	}
	out := make([]*session.Session, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.session())
	}
	return out, nil
}

// update applies update to the session matching filter and returns the
// document after the change. No match yields [session.ErrNotFound].
func (s *Sessions) update(ctx context.Context, filter, update bson.D) (*session.Session, error) {
	var doc sessionDoc
	err := s.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return doc.session(), nil
}

func (s *Sessions) Create(ctx context.Context, sess *session.Session) error {
	if _, err := s.coll.InsertOne(ctx, toSessionDoc(sess)); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Sessions) Get(ctx context.Context, id string) (*session.Session, error) {
	return s.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func (s *Sessions) FindByAccessToken(ctx context.Context, accessToken string) (*session.Session, error) {
	return s.findOne(ctx, bson.D{{Key: "accessTokenHash", Value: session.HashToken(accessToken)}})
}

func (s *Sessions) FindActiveByRefreshToken(ctx context.Context, userID session.UserID, refreshToken string) (*session.Session, error) {
	return s.findOne(ctx, bson.D{
		{Key: "userId", Value: string(userID)},
		{Key: "refreshTokenHash", Value: session.HashToken(refreshToken)},
		{Key: "isActive", Value: true},
	})
}

func (s *Sessions) FindRecentlyUpdated(ctx context.Context, userID session.UserID, since, now time.Time) (*session.Session, error) {
	return s.findOne(ctx, bson.D{
		{Key: "userId", Value: string(userID)},
		{Key: "isActive", Value: true},
		{Key: "updatedAt", Value: bson.D{{Key: "$gte", Value: since}}},
		{Key: "expiresAt", Value: bson.D{{Key: "$gt", Value: now}}},
	}, options.FindOne().SetSort(newestFirst))
}

func (s *Sessions) FindAnyActive(ctx context.Context, userID session.UserID, now time.Time) (*session.Session, error) {
	return s.findOne(ctx, bson.D{
		{Key: "userId", Value: string(userID)},
		{Key: "isActive", Value: true},
		{Key: "expiresAt", Value: bson.D{{Key: "$gt", Value: now}}},
	}, options.FindOne().SetSort(newestFirst))
}

func (s *Sessions) ListActive(ctx context.Context, userID session.UserID, now time.Time) ([]*session.Session, error) {
	return s.find(ctx, bson.D{
		{Key: "userId", Value: string(userID)},
		{Key: "isActive", Value: true},
		{Key: "expiresAt", Value: bson.D{{Key: "$gt", Value: now}}},
	})
}

func deactivation(reason string, at time.Time, extra ...bson.E) bson.D {
	set := bson.D{
		{Key: "isActive", Value: false},
		{Key: "updatedAt", Value: at},
		{Key: "loggedOutAt", Value: at},
		{Key: "logoutReason", Value: reason},
	}
	return bson.D{{Key: "$set", Value: append(set, extra...)}}
}

// InvalidateSameDevice matches devices case-insensitively in process; the
// candidate set is one user's active sessions.
func (s *Sessions) InvalidateSameDevice(ctx context.Context, next *session.Session) ([]*session.Session, error) {
	active, err := s.find(ctx, bson.D{
		{Key: "userId", Value: string(next.UserID)},
		{Key: "isActive", Value: true},
		{Key: "_id", Value: bson.D{{Key: "$ne", Value: next.ID}}},
	})
	if err != nil {
		return nil, err
	}
	at := next.CreatedAt
	var replaced []*session.Session
	for _, candidate := range active {
		if !candidate.Device.SameAs(next.Device) {
			continue
		}
		updated, err := s.update(ctx,
			bson.D{{Key: "_id", Value: candidate.ID}, {Key: "isActive", Value: true}},
			deactivation("replaced", at,
				bson.E{Key: "replacedBy", Value: next.ID},
				bson.E{Key: "replacedAt", Value: at},
			),
		)
		if errors.Is(err, session.ErrNotFound) {
			continue
		}
		if err != nil {
			return replaced, err
		}
		replaced = append(replaced, updated)
	}
	return replaced, nil
}

// Rotate applies only while the session is active and still carries the
// expected refresh digest; the filter makes it a compare-and-swap.
func (s *Sessions) Rotate(ctx context.Context, id string, r session.Rotation) (*session.Session, error) {
	updated, err := s.update(ctx,
		bson.D{
			{Key: "_id", Value: id},
			{Key: "isActive", Value: true},
			{Key: "refreshTokenHash", Value: r.ExpectedRefreshHash},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "accessTokenHash", Value: session.HashToken(r.AccessToken)},
			{Key: "refreshTokenHash", Value: session.HashToken(r.RefreshToken)},
			{Key: "updatedAt", Value: r.At},
			{Key: "lastActivity", Value: r.At},
			{Key: "expiresAt", Value: r.ExpiresAt},
		}}},
	)
	if !errors.Is(err, session.ErrNotFound) {
		return updated, err
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsActive {
		return nil, session.ErrInactive
	}
	return nil, session.ErrTokenMismatch
}

func (s *Sessions) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: id},
			{Key: "isActive", Value: true},
			{Key: "lastActivity", Value: bson.D{{Key: "$lt", Value: at}}},
		},
		bson.D{{Key: "$set", Value: bson.D{{Key: "lastActivity", Value: at}}}},
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Sessions) Deactivate(ctx context.Context, id, reason string, at time.Time) (*session.Session, error) {
	updated, err := s.update(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "isActive", Value: true}},
		deactivation(reason, at),
	)
	if errors.Is(err, session.ErrNotFound) {
		return s.Get(ctx, id)
	}
	return updated, err
}

func (s *Sessions) DeactivateAll(ctx context.Context, userID session.UserID, exceptID, reason string, at time.Time) ([]*session.Session, error) {
	filter := bson.D{
		{Key: "userId", Value: string(userID)},
		{Key: "isActive", Value: true},
	}
	if exceptID != "" {
		filter = append(filter, bson.E{Key: "_id", Value: bson.D{{Key: "$ne", Value: exceptID}}})
	}
	active, err := s.find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var revoked []*session.Session
	for _, candidate := range active {
		updated, err := s.update(ctx,
			bson.D{{Key: "_id", Value: candidate.ID}, {Key: "isActive", Value: true}},
			deactivation(reason, at),
		)
		if errors.Is(err, session.ErrNotFound) {
			continue
		}
		if err != nil {
			return revoked, err
		}
		revoked = append(revoked, updated)
	}
	return revoked, nil
}

func (s *Sessions) Ping(ctx context.Context) error {
	if err := s.coll.Database().Client().Ping(ctx, readpref.Primary()); err != nil {
		return unavailable(err)
	}
	return nil
}

var _ session.Store = (*Sessions)(nil)
