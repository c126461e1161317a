package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrEthical07/spendauth"
	"github.com/google/uuid"
)

// Users is an in-memory [spendauth.UserStore]. It is safe for concurrent
// use.
type Users struct {
	mu      sync.RWMutex
	byID    map[string]*spendauth.User
	byEmail map[string]string
}

// NewUsers returns an empty store.
func NewUsers() *Users {
	return &Users{
		byID:    make(map[string]*spendauth.User),
		byEmail: make(map[string]string),
	}
}

func clone(u *spendauth.User) *spendauth.User {
	c := *u
	c.BackupCodeHashes = slices.Clone(u.BackupCodeHashes)
	return &c
}

func (s *Users) GetUserByEmail(_ context.Context, email string) (*spendauth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, spendauth.ErrUserNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *Users) GetUserByID(_ context.Context, id string) (*spendauth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, spendauth.ErrUserNotFound
	}
	return clone(u), nil
}

// CreateUser stores u, assigning an id when it has none.
func (s *Users) CreateUser(_ context.Context, u *spendauth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[u.Email]; taken {
		return spendauth.ErrEmailTaken
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.byID[u.ID] = clone(u)
	s.byEmail[u.Email] = u.ID
	return nil
}

// update applies fn to the stored user under the write lock.
func (s *Users) update(id string, fn func(u *spendauth.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return spendauth.ErrUserNotFound
	}
	return fn(u)
}

func (s *Users) UpdatePasswordHash(_ context.Context, id, hash string, at time.Time) error {
	return s.update(id, func(u *spendauth.User) error {
		u.PasswordHash = hash
		u.PasswordChangedAt = at
		u.UpdatedAt = at
		return nil
	})
}

func (s *Users) UpdateProfile(_ context.Context, id string, changes spendauth.ProfileChanges, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return spendauth.ErrUserNotFound
	}
	if changes.Email != nil && *changes.Email != u.Email {
		if _, taken := s.byEmail[*changes.Email]; taken {
			return spendauth.ErrEmailTaken
		}
		delete(s.byEmail, u.Email)
		s.byEmail[*changes.Email] = id
		u.Email = *changes.Email
		u.EmailVerified = false
	}
	if changes.Name != nil {
		u.Name = *changes.Name
	}
	u.UpdatedAt = at
	return nil
}

func (s *Users) IncrementFailedLogins(_ context.Context, id string) (int, error) {
	var n int
	err := s.update(id, func(u *spendauth.User) error {
		u.FailedLoginAttempts++
		n = u.FailedLoginAttempts
		return nil
	})
	return n, err
}

func (s *Users) LockAccount(_ context.Context, id string, until time.Time, reason string) error {
	return s.update(id, func(u *spendauth.User) error {
		u.AccountLocked = true
		u.LockedUntil = until
		u.LockReason = reason
		return nil
	})
}

func (s *Users) ClearLockout(_ context.Context, id string) error {
	return s.update(id, func(u *spendauth.User) error {
		u.AccountLocked = false
		u.LockedUntil = time.Time{}
		u.LockReason = ""
		u.FailedLoginAttempts = 0
		return nil
	})
}

func (s *Users) EnableMFA(_ context.Context, id, secret string, hashes []string) error {
	return s.update(id, func(u *spendauth.User) error {
		u.MFAEnabled = true
		u.MFASecret = secret
		u.BackupCodeHashes = slices.Clone(hashes)
		return nil
	})
}

func (s *Users) DisableMFA(_ context.Context, id string) error {
	return s.update(id, func(u *spendauth.User) error {
		u.MFAEnabled = false
		u.MFASecret = ""
		u.BackupCodeHashes = nil
		return nil
	})
}

func (s *Users) ConsumeBackupCode(_ context.Context, id, codeHash string) (bool, error) {
	var consumed bool
	err := s.update(id, func(u *spendauth.User) error {
		i := slices.Index(u.BackupCodeHashes, codeHash)
		if i < 0 {
			return nil
		}
		u.BackupCodeHashes = slices.Delete(u.BackupCodeHashes, i, i+1)
		consumed = true
		return nil
	})
	return consumed, err
}

func (s *Users) Ping(context.Context) error { return nil }

var _ spendauth.UserStore = (*Users)(nil)
