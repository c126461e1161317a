package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/spendauth"
	"github.com/MrEthical07/spendauth/middleware"
)

type authResponse struct {
	User      *spendauth.UserView `json:"user,omitempty"`
	SessionID string              `json:"sessionId"`
	ExpiresAt time.Time           `json:"accessTokenExpiresAt"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.engine.Login(r.Context(), spendauth.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		MFACode:    req.MFAToken,
		RememberMe: req.RememberMe,
	})
	if err != nil {
		if errors.Is(err, spendauth.ErrMFARequired) {
			middleware.RespondMFARequired(w)
			return
		}
		h.fail(w, r, err)
		return
	}

	middleware.SetAuthCookies(w, h.cookies, res.Tokens)
	middleware.Respond(w, http.StatusOK, authResponse{
		User:      res.User,
		SessionID: res.SessionID,
		ExpiresAt: res.Tokens.AccessExpiresAt,
	})
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.engine.Signup(r.Context(), spendauth.SignupRequest{
		Email:      req.Email,
		Password:   req.Password,
		Name:       req.Name,
		RememberMe: req.RememberMe,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	middleware.SetAuthCookies(w, h.cookies, res.Tokens)
	middleware.Respond(w, http.StatusCreated, authResponse{
		User:      res.User,
		SessionID: res.SessionID,
		ExpiresAt: res.Tokens.AccessExpiresAt,
	})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Refresh(r.Context(), middleware.RefreshToken(r, h.cookies))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	middleware.SetAuthCookies(w, h.cookies, res.Tokens)
	middleware.Respond(w, http.StatusOK, authResponse{
		SessionID: res.SessionID,
		ExpiresAt: res.Tokens.AccessExpiresAt,
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.engine.Logout(r.Context(), middleware.AccessToken(r, h.cookies), middleware.RefreshToken(r, h.cookies))
	middleware.ClearAuthCookies(w, h.cookies)
	middleware.Respond(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	user, err := h.engine.Me(r.Context(), authOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.Respond(w, http.StatusOK, map[string]any{"user": user})
}

/*
====================================
PASSWORD RESET
====================================
*/

func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.Respond(w, http.StatusOK, map[string]string{
		"message": "If an account exists for that email, a reset link has been sent",
	})
}

func (h *Handler) validateResetToken(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		h.fail(w, r, &spendauth.ValidationError{Fields: map[string]string{"token": "token is required"}})
		return
	}
	if err := h.engine.ValidateResetToken(r.Context(), token); err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.Respond(w, http.StatusOK, map[string]bool{"valid": true})
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.ClearAuthCookies(w, h.cookies)
	middleware.Respond(w, http.StatusOK, map[string]string{"message": "Password has been reset"})
}
