package memory

import (
	"context"
	"sync"

	"github.com/MrEthical07/spendauth"
)

// Recorder keeps audit entries in memory, newest last.
type Recorder struct {
	mu       sync.Mutex
	logins   []spendauth.LoginHistoryEntry
	security []spendauth.SecurityLogEntry
}

func (r *Recorder) RecordLogin(_ context.Context, e spendauth.LoginHistoryEntry) error {
	r.mu.Lock()
	r.logins = append(r.logins, e)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) RecordSecurityEvent(_ context.Context, e spendauth.SecurityLogEntry) error {
	r.mu.Lock()
	r.security = append(r.security, e)
	r.mu.Unlock()
	return nil
}

// Logins returns a copy of the login history.
func (r *Recorder) Logins() []spendauth.LoginHistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]spendauth.LoginHistoryEntry(nil), r.logins...)
}

// SecurityEvents returns a copy of the security log.
func (r *Recorder) SecurityEvents() []spendauth.SecurityLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]spendauth.SecurityLogEntry(nil), r.security...)
}

var _ spendauth.AuditRecorder = (*Recorder)(nil)
