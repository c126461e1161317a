package spendauth

import (
	"context"
	"time"

	"github.com/MrEthical07/spendauth/internal/audit"
	"github.com/MrEthical07/spendauth/notify"
	"go.uber.org/zap"
)

const notifyTimeout = 5 * time.Second

func (e *Engine) recordLogin(ctx context.Context, userID, email, sessionID, failure string) {
	if e.audit == nil {
		return
	}
	client := ClientFromContext(ctx)
	entry := audit.LoginHistoryEntry{
		UserID:        userID,
		Email:         email,
		Success:       failure == "",
		FailureReason: failure,
		IP:            client.IP,
		Device: audit.Device{
			Browser:    client.Device.Browser,
			OS:         client.Device.OS,
			DeviceType: client.Device.DeviceType,
		},
		SessionID: sessionID,
		At:        e.now(),
	}
	if client.Location != nil {
		entry.City = client.Location.City
		entry.Country = client.Location.Country
	}
	e.audit.Login(ctx, entry)
}

func (e *Engine) securityEvent(ctx context.Context, userID, event, sessionID string, metadata map[string]string) {
	if e.audit == nil {
		return
	}
	client := ClientFromContext(ctx)
	e.audit.Security(ctx, audit.SecurityLogEntry{
		UserID:    userID,
		EventType: event,
		SessionID: sessionID,
		IP:        client.IP,
		UserAgent: client.UserAgent,
		Metadata:  metadata,
		At:        e.now(),
	})
}

// notify sends m in the background. Failures are logged and dropped.
func (e *Engine) notify(ctx context.Context, m notify.Message) {
	if m.At.IsZero() {
		m.At = e.now()
	}
	ctx = context.WithoutCancel(ctx)

	// Add must not race with Wait in Close.
	e.bgMu.Lock()
	if e.closed {
		e.bgMu.Unlock()
		e.metrics.dropped("notify")
		e.log.Warn("notification dropped after close",
			zap.String("kind", string(m.Kind)),
			zap.String("user_id", m.UserID),
		)
		return
	}
	e.background.Add(1)
	e.bgMu.Unlock()

	go func() {
		defer e.background.Done()

		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		if err := e.notifier.Notify(ctx, m); err != nil {
			e.log.Warn("notification failed",
				zap.String("kind", string(m.Kind)),
				zap.String("user_id", m.UserID),
				zap.Error(err),
			)
		}
	}()
}
