package httpapi

import (
	"errors"
	"net/http"

	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type otpRequestBody struct {
	Email string `json:"email"`
}

type otpVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type tokenResponse struct {
	session.TokenPair
	User *identity.User `json:"user"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, user, err := a.sessions.Authenticate(r.Context(), req.Email, req.Password, requestMeta(r))
	obs.ObserveLogin("password", err == nil)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{TokenPair: pair, User: user})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, user, err := a.sessions.Rotate(r.Context(), req.RefreshToken)
	switch {
	case err == nil:
		obs.ObserveRotation("success")
	case errors.Is(err, identity.ErrReplayDetected):
		obs.ObserveRotation("replay")
		obs.ObserveReplay()
	case errors.Is(err, identity.ErrTokenExpired):
		obs.ObserveRotation("expired")
	default:
		obs.ObserveRotation("failure")
	}
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{TokenPair: pair, User: user})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.sessions.Revoke(r.Context(), req.RefreshToken); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleOTPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req otpRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.sessions.RequestOneTimeCode(r.Context(), req.Email, requestMeta(r)); err != nil {
		handleError(w, r, err)
		return
	}
	// Uniform response: existence of the email never leaks.
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

func (a *API) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req otpVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, user, err := a.sessions.VerifyOneTimeCode(r.Context(), req.Email, req.Code, requestMeta(r))
	obs.ObserveLogin("otp", err == nil)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{TokenPair: pair, User: user})
}

func (a *API) handleTOTPVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req otpVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, user, err := a.sessions.VerifyTOTP(r.Context(), req.Email, req.Code, requestMeta(r))
	obs.ObserveLogin("totp", err == nil)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{TokenPair: pair, User: user})
}
