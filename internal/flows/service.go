package flows

import (
	"context"

	"github.com/MrEthical07/spendauth/session"
)

// Service is the flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Validate.VerifyAccess != nil && s.deps.Refresh.VerifyRefresh != nil
}

func (s Service) Login(ctx context.Context, req LoginRequest) LoginResult {
	return RunLogin(ctx, req, s.deps.Login)
}

func (s Service) Validate(ctx context.Context, accessToken string) ValidateResult {
	return RunValidate(ctx, accessToken, s.deps.Validate)
}

// Refresh runs the refresh flow for a client presenting device d.
func (s Service) Refresh(ctx context.Context, refreshToken string, d session.Device) RefreshResult {
	deps := s.deps.Refresh
	deps.Device = d
	return RunRefresh(ctx, refreshToken, deps)
}

// OpenSession opens a session using the login wiring.
func (s Service) OpenSession(ctx context.Context, req OpenSessionRequest) (OpenSessionResult, error) {
	return OpenSession(ctx, req, s.deps.Login)
}
