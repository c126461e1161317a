package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MrEthical07/spendauth"
)

// Envelope is the body of every response.
type Envelope struct {
	Success     bool              `json:"success"`
	Data        any               `json:"data,omitempty"`
	Error       string            `json:"error,omitempty"`
	Errors      map[string]string `json:"errors,omitempty"`
	RequiresMFA bool              `json:"requiresMfa,omitempty"`
	RetryAfter  int               `json:"retryAfter,omitempty"`
}

// Respond writes a success envelope carrying data.
func Respond(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, Envelope{Success: true, Data: data})
}

// RespondMFARequired tells the client to resubmit the login with a second
// factor.
func RespondMFARequired(w http.ResponseWriter) {
	writeEnvelope(w, http.StatusOK, Envelope{
		Success:     false,
		RequiresMFA: true,
		Error:       "MFA code required",
	})
}

// StatusOf maps an engine error to its HTTP status.
func StatusOf(err error) int {
	switch spendauth.KindOf(err) {
	case spendauth.KindValidation:
		return http.StatusBadRequest
	case spendauth.KindAuthentication:
		return http.StatusUnauthorized
	case spendauth.KindAuthorization:
		return http.StatusForbidden
	case spendauth.KindRateLimit:
		return http.StatusTooManyRequests
	case spendauth.KindNotFound:
		return http.StatusNotFound
	case spendauth.KindConflict:
		return http.StatusConflict
	case spendauth.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes the failure envelope for err. Rate-limit errors set
// Retry-After in seconds.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	env := Envelope{Success: false, Error: publicMessage(err, status)}

	var verr *spendauth.ValidationError
	if errors.As(err, &verr) {
		env.Errors = verr.Fields
	}

	var rl *spendauth.RateLimitError
	if errors.As(err, &rl) {
		secs := int((rl.RetryAfter + time.Second - 1) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		env.RetryAfter = secs
	}

	writeEnvelope(w, status, env)
}

func publicMessage(err error, status int) string {
	var (
		verr   *spendauth.ValidationError
		locked *spendauth.LockedError
		gate   *spendauth.AgeGateError
	)
	switch {
	case errors.As(err, &verr):
		if len(verr.Fields) == 1 {
			for _, msg := range verr.Fields {
				return msg
			}
		}
		return "Validation failed"
	case errors.As(err, &locked):
		return locked.Error()
	case errors.As(err, &gate):
		return gate.Error()
	case errors.Is(err, spendauth.ErrRateLimited):
		return "Too many requests, please try again later"
	case status == http.StatusServiceUnavailable:
		return capitalize(spendauth.ErrStoreUnavailable.Error())
	case status == http.StatusInternalServerError:
		return "Internal server error"
	default:
		return capitalize(err.Error())
	}
}

func capitalize(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}
