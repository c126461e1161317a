package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxRetries = 4

// errNoChange aborts a mutation without writing.
var errNoChange = errors.New("no change")

// RedisStore keeps sessions as versioned JSON records with per-user and
// per-token indices:
//
//	{prefix}:s:{id}          session record
//	{prefix}:u:{userID}      set of session ids
//	{prefix}:a:{accessHash}  session id
//	{prefix}:r:{refreshHash} session id
//
// Keys expire with the session. Mutations use WATCH/MULTI on the record key
// and retry on contention.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store rooted at prefix ("ss" when empty).
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ss"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) key(id string) string          { return s.prefix + ":s:" + id }
func (s *RedisStore) userKey(userID UserID) string  { return s.prefix + ":u:" + string(userID) }
func (s *RedisStore) accessKey(hash string) string  { return s.prefix + ":a:" + hash }
func (s *RedisStore) refreshKey(hash string) string { return s.prefix + ":r:" + hash }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func ttlUntil(exp, now time.Time) time.Duration {
	if ttl := exp.Sub(now); ttl > time.Second {
		return ttl
	}
	return time.Second
}

// Create implements [Store].
func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}
	ttl := ttlUntil(sess.ExpiresAt, sess.CreatedAt)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
		if sess.AccessTokenHash != "" {
			pipe.Set(ctx, s.accessKey(sess.AccessTokenHash), sess.ID, ttl)
		}
		if sess.RefreshTokenHash != "" {
			pipe.Set(ctx, s.refreshKey(sess.RefreshTokenHash), sess.ID, ttl)
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Get implements [Store].
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	return Decode(data)
}

// FindByAccessToken implements [Store].
func (s *RedisStore) FindByAccessToken(ctx context.Context, accessToken string) (*Session, error) {
	hash := HashToken(accessToken)
	id, err := s.redis.Get(ctx, s.accessKey(hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(sess.AccessTokenHash), []byte(hash)) != 1 {
		return nil, ErrNotFound
	}
	return sess, nil
}

// FindActiveByRefreshToken implements [Store].
func (s *RedisStore) FindActiveByRefreshToken(ctx context.Context, userID UserID, refreshToken string) (*Session, error) {
	hash := HashToken(refreshToken)
	id, err := s.redis.Get(ctx, s.refreshKey(hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID || !sess.IsActive ||
		subtle.ConstantTimeCompare([]byte(sess.RefreshTokenHash), []byte(hash)) != 1 {
		return nil, ErrNotFound
	}
	return sess, nil
}

// FindRecentlyUpdated implements [Store].
func (s *RedisStore) FindRecentlyUpdated(ctx context.Context, userID UserID, since, now time.Time) (*Session, error) {
	active, err := s.ListActive(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	for _, sess := range active {
		if !sess.UpdatedAt.Before(since) {
			return sess, nil
		}
	}
	return nil, ErrNotFound
}

// FindAnyActive implements [Store].
func (s *RedisStore) FindAnyActive(ctx context.Context, userID UserID, now time.Time) (*Session, error) {
	active, err := s.ListActive(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, ErrNotFound
	}
	return active[0], nil
}

// ListActive implements [Store]. Results are ordered by UpdatedAt, newest
// first. Index entries whose record has expired are pruned.
func (s *RedisStore) ListActive(ctx context.Context, userID UserID, now time.Time) ([]*Session, error) {
	all, err := s.listAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	active := make([]*Session, 0, len(all))
	for _, sess := range all {
		if sess.Usable(now) {
			active = append(active, sess)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].UpdatedAt.After(active[j].UpdatedAt)
	})
	return active, nil
}

func (s *RedisStore) listAll(ctx context.Context, userID UserID) ([]*Session, error) {
	userKey := s.userKey(userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}

	out := make([]*Session, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				stale = append(stale, ids[i])
				continue
			}
			return nil, unavailable(err)
		}
		sess, err := Decode(data)
		if err != nil {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, sess)
	}
	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, userKey, stale...).Err(); err != nil {
			return nil, unavailable(err)
		}
	}
	return out, nil
}

// InvalidateSameDevice implements [Store]. Each matching session is revoked
// with its own transaction; a session created concurrently on the same
// device may survive until the next login.
func (s *RedisStore) InvalidateSameDevice(ctx context.Context, next *Session) ([]*Session, error) {
	all, err := s.listAll(ctx, next.UserID)
	if err != nil {
		return nil, err
	}
	at := next.CreatedAt
	var replaced []*Session
	for _, candidate := range all {
		if candidate.ID == next.ID || !candidate.IsActive || !candidate.Device.SameAs(next.Device) {
			continue
		}
		updated, err := s.mutate(ctx, candidate.ID, func(sess *Session) error {
			if !sess.IsActive {
				return errNoChange
			}
			deactivate(sess, "replaced", at)
			sess.ReplacedBy = next.ID
			sess.ReplacedAt = &at
			return nil
		})
		if errors.Is(err, ErrNotFound) || errors.Is(err, errNoChange) {
			continue
		}
		if err != nil {
			return replaced, err
		}
		replaced = append(replaced, updated)
	}
	return replaced, nil
}

// Rotate implements [Store].
func (s *RedisStore) Rotate(ctx context.Context, id string, r Rotation) (*Session, error) {
	return s.mutate(ctx, id, func(sess *Session) error {
		if !sess.IsActive {
			return ErrInactive
		}
		if subtle.ConstantTimeCompare([]byte(sess.RefreshTokenHash), []byte(r.ExpectedRefreshHash)) != 1 {
			return ErrTokenMismatch
		}
		sess.BindTokens(r.AccessToken, r.RefreshToken)
		sess.UpdatedAt = r.At
		sess.LastActivityAt = r.At
		sess.ExpiresAt = r.ExpiresAt
		return nil
	})
}

// Touch implements [Store].
func (s *RedisStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.mutate(ctx, id, func(sess *Session) error {
		if !sess.IsActive || !at.After(sess.LastActivityAt) {
			return errNoChange
		}
		sess.LastActivityAt = at
		return nil
	})
	if errors.Is(err, errNoChange) || errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Deactivate implements [Store].
func (s *RedisStore) Deactivate(ctx context.Context, id, reason string, at time.Time) (*Session, error) {
	sess, err := s.mutate(ctx, id, func(sess *Session) error {
		if !sess.IsActive {
			return errNoChange
		}
		deactivate(sess, reason, at)
		return nil
	})
	if errors.Is(err, errNoChange) {
		return s.Get(ctx, id)
	}
	return sess, err
}

// DeactivateAll implements [Store].
func (s *RedisStore) DeactivateAll(ctx context.Context, userID UserID, exceptID, reason string, at time.Time) ([]*Session, error) {
	all, err := s.listAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	var revoked []*Session
	for _, candidate := range all {
		if candidate.ID == exceptID || !candidate.IsActive {
			continue
		}
		updated, err := s.mutate(ctx, candidate.ID, func(sess *Session) error {
			if !sess.IsActive {
				return errNoChange
			}
			deactivate(sess, reason, at)
			return nil
		})
		if errors.Is(err, ErrNotFound) || errors.Is(err, errNoChange) {
			continue
		}
		if err != nil {
			return revoked, err
		}
		revoked = append(revoked, updated)
	}
	return revoked, nil
}

// Ping implements [Store].
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func deactivate(sess *Session, reason string, at time.Time) {
	sess.IsActive = false
	sess.UpdatedAt = at
	sess.LoggedOutAt = &at
	sess.LogoutReason = reason
}

// mutate applies fn to the stored record under WATCH and keeps the token
// indices in step with the result. fn returning an error aborts without
// writing; that error is returned as is.
func (s *RedisStore) mutate(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		var updated *Session

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrNotFound
				}
				return err
			}
			sess, err := Decode(data)
			if err != nil {
				return err
			}
			before := *sess
			if err := fn(sess); err != nil {
				return err
			}
			encoded, err := Encode(sess)
			if err != nil {
				return err
			}

			ttl, err := tx.PTTL(ctx, key).Result()
			if err != nil {
				return err
			}
			if sess.ExpiresAt != before.ExpiresAt || ttl <= 0 {
				ttl = ttlUntil(sess.ExpiresAt, sess.UpdatedAt)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				s.syncIndices(ctx, pipe, &before, sess, ttl)
				return nil
			})
			if err != nil {
				return err
			}
			updated = sess
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, ErrNotFound), errors.Is(err, ErrTokenMismatch), errors.Is(err, ErrInactive),
				errors.Is(err, errNoChange), errors.Is(err, ErrCorruptRecord):
				return nil, err
			default:
				return nil, unavailable(err)
			}
		}
		return updated, nil
	}

	return nil, ErrTokenMismatch
}

func (s *RedisStore) syncIndices(ctx context.Context, pipe redis.Pipeliner, before, after *Session, ttl time.Duration) {
	if before.AccessTokenHash != "" && (before.AccessTokenHash != after.AccessTokenHash || !after.IsActive) {
		pipe.Del(ctx, s.accessKey(before.AccessTokenHash))
	}
	if before.RefreshTokenHash != "" && (before.RefreshTokenHash != after.RefreshTokenHash || !after.IsActive) {
		pipe.Del(ctx, s.refreshKey(before.RefreshTokenHash))
	}
	if !after.IsActive {
		pipe.SRem(ctx, s.userKey(after.UserID), after.ID)
		return
	}
	if after.AccessTokenHash != before.AccessTokenHash {
		pipe.Set(ctx, s.accessKey(after.AccessTokenHash), after.ID, ttl)
	}
	if after.RefreshTokenHash != before.RefreshTokenHash {
		pipe.Set(ctx, s.refreshKey(after.RefreshTokenHash), after.ID, ttl)
	}
}
