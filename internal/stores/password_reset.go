package stores

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrResetNotFound         = errors.New("reset record not found")
	ErrResetSecretMismatch   = errors.New("reset secret mismatch")
	ErrResetAttemptsExceeded = errors.New("reset attempts exceeded")
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

// PasswordResetRecord is one outstanding reset request.
type PasswordResetRecord struct {
	UserID     string   `json:"uid"`
	SecretHash [32]byte `json:"h"`
	ExpiresAt  int64    `json:"exp"`
	Attempts   int      `json:"n"`
}

// PasswordResetStore keeps reset records under "{prefix}:{resetID}" and a
// per-user pointer "{prefix}:u:{userID}" so a newer request supersedes any
// older one.
type PasswordResetStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewPasswordResetStore(redisClient redis.UniversalClient, prefix string) *PasswordResetStore {
	if prefix == "" {
		prefix = "spr"
	}
	return &PasswordResetStore{redis: redisClient, prefix: prefix}
}

func (s *PasswordResetStore) key(resetID string) string    { return s.prefix + ":" + resetID }
func (s *PasswordResetStore) userKey(userID string) string { return s.prefix + ":u:" + userID }

// Save stores record and revokes any earlier outstanding reset for the user.
func (s *PasswordResetStore) Save(ctx context.Context, resetID string, record *PasswordResetRecord, ttl time.Duration) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}

	previous, err := s.redis.Get(ctx, s.userKey(record.UserID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != "" && previous != resetID {
			pipe.Del(ctx, s.key(previous))
		}
		pipe.Set(ctx, s.key(resetID), encoded, ttl)
		pipe.Set(ctx, s.userKey(record.UserID), resetID, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return nil
}

// Peek validates a reset secret without consuming it or counting an attempt.
func (s *PasswordResetStore) Peek(ctx context.Context, resetID string, providedHash [32]byte, now time.Time) (*PasswordResetRecord, error) {
	data, err := s.redis.Get(ctx, s.key(resetID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrResetNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	var record PasswordResetRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, ErrResetNotFound
	}
	if now.Unix() > record.ExpiresAt {
		return nil, ErrResetNotFound
	}
	if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
		return nil, ErrResetSecretMismatch
	}
	return &record, nil
}

// Consume verifies and deletes a reset record in one transaction. A wrong
// secret counts an attempt; reaching maxAttempts deletes the record.
func (s *PasswordResetStore) Consume(
	ctx context.Context,
	resetID string,
	providedHash [32]byte,
	maxAttempts int,
	now time.Time,
) (*PasswordResetRecord, error) {
	const maxRetries = 4
	key := s.key(resetID)

	for i := 0; i < maxRetries; i++ {
		var matched *PasswordResetRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrResetNotFound
				}
				return err
			}

			var record PasswordResetRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return ErrResetNotFound
			}

			if now.Unix() > record.ExpiresAt {
				return deleteIn(ctx, tx, ErrResetNotFound, key)
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if record.Attempts >= maxAttempts {
					return deleteIn(ctx, tx, ErrResetAttemptsExceeded, key)
				}
				updated, err := json.Marshal(&record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.SetArgs(ctx, key, updated, redis.SetArgs{KeepTTL: true})
					return nil
				})
				if err != nil {
					return err
				}
				return ErrResetSecretMismatch
			}

			if err := deleteIn(ctx, tx, nil, key, s.userKey(record.UserID)); err != nil {
				return err
			}
			matched = &record
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, ErrResetNotFound), errors.Is(err, ErrResetSecretMismatch), errors.Is(err, ErrResetAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
			}
		}
		return matched, nil
	}

	return nil, ErrResetNotFound
}

// deleteIn deletes keys inside the watched transaction and then returns
// result, or the pipeline error if the delete failed.
func deleteIn(ctx context.Context, tx *redis.Tx, result error, keys ...string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return err
	}
	return result
}
