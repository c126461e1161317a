package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrEnrollmentNotFound    = errors.New("mfa enrollment not found")
	ErrEnrollmentUnavailable = errors.New("mfa enrollment backend unavailable")
)

// MFAEnrollment is a TOTP setup awaiting its first verified code.
type MFAEnrollment struct {
	Secret       string   `json:"secret"`
	BackupHashes []string `json:"backup"`
	CreatedAt    int64    `json:"at"`
}

// MFAEnrollmentStore keeps at most one pending enrollment per user.
type MFAEnrollmentStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewMFAEnrollmentStore(redisClient redis.UniversalClient, prefix string) *MFAEnrollmentStore {
	if prefix == "" {
		prefix = "sme"
	}
	return &MFAEnrollmentStore{redis: redisClient, prefix: prefix}
}

func (s *MFAEnrollmentStore) key(userID string) string { return s.prefix + ":" + userID }

// Save replaces any pending enrollment for userID.
func (s *MFAEnrollmentStore) Save(ctx context.Context, userID string, e *MFAEnrollment, ttl time.Duration) error {
	encoded, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(userID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrEnrollmentUnavailable, err)
	}
	return nil
}

// Get returns the pending enrollment for userID.
func (s *MFAEnrollmentStore) Get(ctx context.Context, userID string) (*MFAEnrollment, error) {
	data, err := s.redis.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrEnrollmentUnavailable, err)
	}
	var e MFAEnrollment
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, ErrEnrollmentNotFound
	}
	return &e, nil
}

// Delete drops the pending enrollment. Missing records are not an error.
func (s *MFAEnrollmentStore) Delete(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrEnrollmentUnavailable, err)
	}
	return nil
}
