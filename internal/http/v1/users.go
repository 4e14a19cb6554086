package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kemeter/ring/internal/controlplane/deployments"
	"github.com/kemeter/ring/internal/security/auth"
)

type credentialsReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResp struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// login handles POST /login. The issued token replaces the previous one, so
// logging in again invalidates older sessions.
func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	u, err := a.Users.FindUserByUsername(r.Context(), req.Username)
	if err != nil && !errors.Is(err, deployments.ErrNotFound) {
		a.fail(w, r, err)
		return
	}
	if err != nil || u.Status != deployments.UserStatusActive || auth.CheckPassword(u.PasswordHash, req.Password) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	tok, err := auth.IssueToken(a.JWTSecret, u.ID, u.Username, a.TokenTTL)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	now := time.Now().UTC()
	u.Token = tok
	u.LoginAt = &now
	if err := a.Users.UpdateUser(r.Context(), u); err != nil {
		a.fail(w, r, err)
		return
	}
	a.log.Info("user logged in", "user", u.Username)
	writeJSON(w, http.StatusOK, loginResp{Token: tok, ExpiresAt: now.Add(a.TokenTTL)})
}

// listUsers handles GET /users
func (a *api) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.Users.FindAllUsers(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// createUser handles POST /users
func (a *api) createUser(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	u, err := a.Users.CreateUser(r.Context(), deployments.NewUser(req.Username, hash))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// updateUser handles PUT /users/{id}. Empty fields are left unchanged; a new
// password also revokes the current token.
func (a *api) updateUser(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	u, err := a.Users.FindUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if name := strings.TrimSpace(req.Username); name != "" {
		u.Username = name
	}
	if req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		u.PasswordHash = hash
		u.Token = ""
	}
	if err := a.Users.UpdateUser(r.Context(), u); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// deleteUser handles DELETE /users/{id}
func (a *api) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := a.Users.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
