package mongodb

import (
	"context"
	"time"

	"github.com/MrEthical07/spendauth"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

type loginDoc struct {
	UserID        string    `bson:"userId,omitempty"`
	Email         string    `bson:"email"`
	Success       bool      `bson:"success"`
	FailureReason string    `bson:"failureReason,omitempty"`
	IP            string    `bson:"ipAddress,omitempty"`
	Device        deviceDoc `bson:"deviceInfo"`
	City          string    `bson:"city,omitempty"`
	Country       string    `bson:"country,omitempty"`
	SessionID     string    `bson:"sessionId,omitempty"`
	At            time.Time `bson:"at"`
}

type securityDoc struct {
	UserID    string            `bson:"userId"`
	EventType string            `bson:"eventType"`
	SessionID string            `bson:"sessionId,omitempty"`
	IP        string            `bson:"ipAddress,omitempty"`
	UserAgent string            `bson:"userAgent,omitempty"`
	Metadata  map[string]string `bson:"metadata,omitempty"`
	At        time.Time         `bson:"at"`
}

// Recorder implements [spendauth.AuditRecorder] with two append-only
// collections.
type Recorder struct {
	logins   *mongo.Collection
	security *mongo.Collection
}

func (r *Recorder) RecordLogin(ctx context.Context, e spendauth.LoginHistoryEntry) error {
	_, err := r.logins.InsertOne(ctx, loginDoc{
		UserID:        e.UserID,
		Email:         e.Email,
		Success:       e.Success,
		FailureReason: e.FailureReason,
		IP:            e.IP,
		Device:        deviceDoc(e.Device),
		City:          e.City,
		Country:       e.Country,
		SessionID:     e.SessionID,
		At:            e.At,
	})
	return err
}

func (r *Recorder) RecordSecurityEvent(ctx context.Context, e spendauth.SecurityLogEntry) error {
	_, err := r.security.InsertOne(ctx, securityDoc{
		UserID:    e.UserID,
		EventType: e.EventType,
		SessionID: e.SessionID,
		IP:        e.IP,
		UserAgent: e.UserAgent,
		Metadata:  e.Metadata,
		At:        e.At,
	})
	return err
}

var _ spendauth.AuditRecorder = (*Recorder)(nil)
