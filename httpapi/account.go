package httpapi

import (
	"net/http"
	"strconv"

	"github.com/MrEthical07/spendauth"
	"github.com/MrEthical07/spendauth/middleware"
)

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.engine.ListSessions(r.Context(), authOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.Respond(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// revokeSessions revokes ?sessionId=, or every other session with ?all=true.
func (h *Handler) revokeSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	auth := authOf(r)

	if all, _ := strconv.ParseBool(q.Get("all")); all {
		n, err := h.engine.RevokeOtherSessions(r.Context(), auth)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		middleware.Respond(w, http.StatusOK, map[string]int{"revoked": n})
		return
	}

	if err := h.engine.RevokeSession(r.Context(), auth, q.Get("sessionId")); err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.Respond(w, http.StatusOK, map[string]int{"revoked": 1})
}

/*
====================================
MFA
====================================
*/

func (h *Handler) setupMFA(w http.ResponseWriter, r *http.Request) {
	setup, err := h.engine.SetupMFA(r.Context(), authOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.Respond(w, http.StatusOK, setup)
}

func (h *Handler) verifyMFA(w http.ResponseWriter, r *http.Request) {
	var req mfaCodeRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.VerifyMFA(r.Context(), authOf(r), req.Code); err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.Respond(w, http.StatusOK, map[string]bool{"mfaEnabled": true})
}

func (h *Handler) disableMFA(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.DisableMFA(r.Context(), authOf(r), req.Password); err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.Respond(w, http.StatusOK, map[string]bool{"mfaEnabled": false})
}

/*
====================================
ACCOUNT
====================================
*/

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.ChangePassword(r.Context(), authOf(r), req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.Respond(w, http.StatusOK, map[string]string{"message": "Password updated"})
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.engine.UpdateProfile(r.Context(), authOf(r), spendauth.ProfileChanges{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.Respond(w, http.StatusOK, map[string]any{"user": user})
}
