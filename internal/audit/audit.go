package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Security log event types.
const (
	EventLogin           = "login"
	EventLogout          = "logout"
	EventPasswordChanged = "password_changed"
	EventPasswordReset   = "password_reset"
	EventMFAEnabled      = "mfa_enabled"
	EventMFADisabled     = "mfa_disabled"
	EventSessionRevoked  = "session_revoked"
	EventSessionsRevoked = "sessions_revoked"
	EventAccountLocked   = "account_locked"
	EventEmailChanged    = "email_changed"
	EventBackupCodeUsed  = "backup_code_used"
)

// Login failure reasons.
const (
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonAccountLocked      = "account_locked"
	ReasonInvalidMFA         = "invalid_mfa"
)

// Device is the client descriptor copied onto audit entries.
type Device struct {
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	DeviceType string `json:"deviceType"`
}

// LoginHistoryEntry is one login attempt, successful or not.
type LoginHistoryEntry struct {
	UserID        string    `json:"userId,omitempty"`
	Email         string    `json:"email"`
	Success       bool      `json:"success"`
	FailureReason string    `json:"failureReason,omitempty"`
	IP            string    `json:"ip,omitempty"`
	Device        Device    `json:"device"`
	City          string    `json:"city,omitempty"`
	Country       string    `json:"country,omitempty"`
	SessionID     string    `json:"sessionId,omitempty"`
	At            time.Time `json:"at"`
}

// SecurityLogEntry is one security-relevant event.
type SecurityLogEntry struct {
	UserID    string            `json:"userId"`
	EventType string            `json:"eventType"`
	SessionID string            `json:"sessionId,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	At        time.Time         `json:"at"`
}

// Recorder persists audit entries. Implementations append only.
type Recorder interface {
	RecordLogin(ctx context.Context, e LoginHistoryEntry) error
	RecordSecurityEvent(ctx context.Context, e SecurityLogEntry) error
}

// NopRecorder drops everything.
type NopRecorder struct{}

func (NopRecorder) RecordLogin(context.Context, LoginHistoryEntry) error       { return nil }
func (NopRecorder) RecordSecurityEvent(context.Context, SecurityLogEntry) error { return nil }

// LogRecorder writes entries as structured log lines. It suits single-node
// deployments without a document store.
type LogRecorder struct {
	Log *zap.Logger
}

func (r LogRecorder) RecordLogin(_ context.Context, e LoginHistoryEntry) error {
	r.Log.Info("login attempt",
		zap.String("user_id", e.UserID),
		zap.Bool("success", e.Success),
		zap.String("reason", e.FailureReason),
		zap.String("ip", e.IP),
		zap.String("browser", e.Device.Browser),
		zap.String("os", e.Device.OS),
		zap.String("session_id", e.SessionID),
		zap.Time("at", e.At),
	)
	return nil
}

func (r LogRecorder) RecordSecurityEvent(_ context.Context, e SecurityLogEntry) error {
	fields := []zap.Field{
		zap.String("user_id", e.UserID),
		zap.String("event", e.EventType),
		zap.String("session_id", e.SessionID),
		zap.String("ip", e.IP),
		zap.Time("at", e.At),
	}
	if len(e.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", e.Metadata))
	}
	r.Log.Info("security event", fields...)
	return nil
}
