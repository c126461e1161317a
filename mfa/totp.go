package mfa

import (
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Config tunes TOTP and backup-code generation.
type Config struct {
	Issuer           string
	Period           uint
	Skew             uint
	BackupCodeCount  int
	BackupCodeLength int
}

// DefaultConfig returns 6-digit SHA1 codes on a 30s period with one step of
// skew, and 10 backup codes of 10 characters.
func DefaultConfig() Config {
	return Config{
		Issuer:           "Spendwise",
		Period:           30,
		Skew:             1,
		BackupCodeCount:  10,
		BackupCodeLength: 10,
	}
}

// CodeKind classifies a submitted second-factor code.
type CodeKind int

const (
	// KindInvalid is neither a TOTP nor a backup code shape.
	KindInvalid CodeKind = iota
	// KindTOTP is a 6-digit numeric code.
	KindTOTP
	// KindBackup contains the "-" separator.
	KindBackup
)

// Classify decides how a login code should be verified.
func Classify(code string) CodeKind {
	code = strings.TrimSpace(code)
	switch {
	case strings.Contains(code, "-"):
		return KindBackup
	case len(code) == 6 && isDigits(code):
		return KindTOTP
	default:
		return KindInvalid
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// Enrollment is a pending MFA setup shown to the user once.
type Enrollment struct {
	Secret       string
	URL          string
	BackupCodes  []string
	BackupHashes []string
}

// ErrInvalidSecret is returned when a stored secret cannot be used.
var ErrInvalidSecret = errors.New("invalid totp secret")

// Service generates and verifies second-factor material. It is stateless and
// safe for concurrent use.
type Service struct {
	config Config
	now    func() time.Time
}

// NewService returns a Service. now may be nil.
func NewService(cfg Config, now func() time.Time) *Service {
	def := DefaultConfig()
	if cfg.Issuer == "" {
		cfg.Issuer = def.Issuer
	}
	if cfg.Period == 0 {
		cfg.Period = def.Period
	}
	if cfg.BackupCodeCount <= 0 {
		cfg.BackupCodeCount = def.BackupCodeCount
	}
	if cfg.BackupCodeLength < 8 {
		cfg.BackupCodeLength = def.BackupCodeLength
	}
	if now == nil {
		now = time.Now
	}
	return &Service{config: cfg, now: now}
}

func (s *Service) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    s.config.Period,
		Skew:      s.config.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Enroll creates a new TOTP secret and backup codes for account. Nothing is
// persisted here.
func (s *Service) Enroll(userID, account string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.config.Issuer,
		AccountName: account,
		Period:      s.config.Period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}

	codes, hashes, err := s.GenerateBackupCodes(userID)
	if err != nil {
		return nil, err
	}

	return &Enrollment{
		Secret:       key.Secret(),
		URL:          key.URL(),
		BackupCodes:  codes,
		BackupHashes: hashes,
	}, nil
}

// VerifyTOTP checks a 6-digit code against secret at the current time.
func (s *Service) VerifyTOTP(secret, code string) (bool, error) {
	if secret == "" {
		return false, ErrInvalidSecret
	}
	code = strings.TrimSpace(code)
	if Classify(code) != KindTOTP {
		return false, nil
	}
	ok, err := totp.ValidateCustom(code, secret, s.now(), s.validateOpts())
	if err != nil {
		if errors.Is(err, otp.ErrValidateInputInvalidLength) {
			return false, nil
		}
		return false, ErrInvalidSecret
	}
	return ok, nil
}

// GenerateCode returns the current code for secret. Used by tests and the
// load generator.
func (s *Service) GenerateCode(secret string) (string, error) {
	return totp.GenerateCodeCustom(secret, s.now(), s.validateOpts())
}
