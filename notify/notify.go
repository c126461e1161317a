package notify

import (
	"context"
	"time"
)

// Kind identifies a notification template.
type Kind string

const (
	KindNewLogin        Kind = "new_login"
	KindAccountLocked   Kind = "account_locked"
	KindPasswordChanged Kind = "password_changed"
	KindPasswordReset   Kind = "password_reset_requested"
	KindMFAEnabled      Kind = "mfa_enabled"
	KindMFADisabled     Kind = "mfa_disabled"
	KindSessionsRevoked Kind = "sessions_revoked"
	KindEmailChanged    Kind = "email_changed"
)

// Channel selects where a message goes.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
)

// Message is one notification. Data carries template values; secrets other
// than one-time links never appear in it.
type Message struct {
	Kind     Kind              `json:"kind"`
	Channels []Channel         `json:"channels"`
	UserID   string            `json:"userId"`
	Email    string            `json:"email,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
	At       time.Time         `json:"at"`
}

// Notifier sends messages.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// Nop discards messages.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }

// Func adapts a function to Notifier.
type Func func(ctx context.Context, m Message) error

func (f Func) Notify(ctx context.Context, m Message) error { return f(ctx, m) }
