package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

const recordVersionCurrent = 1

// ErrCorruptRecord is returned when a stored record cannot be decoded.
var ErrCorruptRecord = errors.New("session record corrupt")

type record struct {
	Version int `json:"v"`
	*Session
}

// Encode serializes a session with its record version.
func Encode(s *Session) ([]byte, error) {
	if s == nil || s.ID == "" || s.UserID == "" {
		return nil, errors.New("session id and user id are required")
	}
	return json.Marshal(record{Version: recordVersionCurrent, Session: s})
}

// Decode parses a record written by [Encode].
func Decode(data []byte) (*Session, error) {
	rec := record{Session: &Session{}}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if rec.Version != recordVersionCurrent {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptRecord, rec.Version)
	}
	if rec.ID == "" || rec.UserID == "" {
		return nil, fmt.Errorf("%w: missing identity", ErrCorruptRecord)
	}
	return rec.Session, nil
}
