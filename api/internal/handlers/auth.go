package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"water-infra-dashboard/api/internal/models"
	"water-infra-dashboard/api/internal/repos"
	"water-infra-dashboard/shared/authx"
	"water-infra-dashboard/shared/httpx"
	"water-infra-dashboard/shared/rbac"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required,min=8,max=128"`
	FullName string  `json:"full_name" validate:"required,max=200"`
	Region   *string `json:"region,omitempty" validate:"omitempty,max=100"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httpx.DecodeJSON(w, r, &req) {
		return
	}
	if s.Issuer == nil {
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "local login not configured", nil)
		return
	}

	user, err := s.Users.GetByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, repos.ErrNotFound) {
		s.writeStoreError(w, r, err, "user")
		return
	}
	if err != nil || user.PasswordHash == nil || authx.CheckPassword(req.Password, *user.PasswordHash) != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid email or password", nil)
		return
	}
	if !user.IsActive {
		httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", "account is deactivated", nil)
		return
	}

	if err := s.Users.TouchLogin(r.Context(), user.UserID); err != nil {
		s.Logger.Warn(r.Context(), "touch_login_failed", "failed to record login",
			slog.String("user_id", user.UserID.String()),
			slog.String("error", err.Error()),
		)
	}
	s.writeTokens(w, r, http.StatusOK, user)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httpx.DecodeJSON(w, r, &req) {
		return
	}
	if s.Issuer == nil {
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "local login not configured", nil)
		return
	}

	hash, err := authx.HashPassword(req.Password)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	user, err := s.Users.Create(r.Context(), models.User{
		Email:        req.Email,
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: &hash,
		Role:         string(rbac.RolePublic),
		Region:       req.Region,
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, repos.ErrConflict) {
			httpx.WriteError(w, r, http.StatusConflict, "ALREADY_EXISTS", "email already registered", nil)
			return
		}
		s.writeStoreError(w, r, err, "user")
		return
	}
	s.writeTokens(w, r, http.StatusCreated, user)
}

// refresh re-reads the user so role changes and deactivation take effect.
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httpx.DecodeJSON(w, r, &req) {
		return
	}
	if s.Issuer == nil {
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "local login not configured", nil)
		return
	}
	auth, err := s.Issuer.VerifyRefresh(r.Context(), req.RefreshToken)
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid refresh token", nil)
		return
	}
	id, err := uuid.Parse(auth.Subject)
	if err != nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid refresh token", nil)
		return
	}
	user, err := s.Users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid refresh token", nil)
			return
		}
		s.writeStoreError(w, r, err, "user")
		return
	}
	if !user.IsActive {
		httpx.WriteError(w, r, http.StatusForbidden, "FORBIDDEN", "account is deactivated", nil)
		return
	}
	s.writeTokens(w, r, http.StatusOK, user)
}

func (s *Server) writeTokens(w http.ResponseWriter, r *http.Request, status int, user models.User) {
	pair, err := s.Issuer.Issue(user.UserID.String(), user.Email, user.Role)
	if err != nil {
		s.writeStoreError(w, r, err, "token")
		return
	}
	httpx.WriteJSON(w, status, pair)
}

type meResponse struct {
	models.User
	Permissions []rbac.Permission `json:"permissions"`
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	id := actorID(r)
	if id == nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", nil)
		return
	}
	user, err := s.Users.GetByID(r.Context(), *id)
	if err != nil {
		s.writeStoreError(w, r, err, "user")
		return
	}
	role, _ := rbac.ParseRole(user.Role)
	httpx.WriteJSON(w, http.StatusOK, meResponse{User: user, Permissions: s.Evaluator.Matrix().Permissions(role)})
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	skip, err := httpx.QueryInt(r, "skip", 0, 0, 1_000_000)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit", 50, 1, 200)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	users, err := s.Users.List(r.Context(), skip, limit)
	if err != nil {
		s.writeStoreError(w, r, err, "user")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, users)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "user_id")
	if !ok {
		return
	}
	user, err := s.Users.GetByID(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err, "user")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}

type userPatchRequest struct {
	FullName *string    `json:"full_name,omitempty" validate:"omitempty,max=200"`
	Role     *string    `json:"role,omitempty" validate:"omitempty,oneof=minister ceo manager operator analyst public"`
	Region   *string    `json:"region,omitempty" validate:"omitempty,max=100"`
	IsActive *bool      `json:"is_active,omitempty"`
	TenantID *uuid.UUID `json:"tenant_id,omitempty"`
}

func (s *Server) patchUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "user_id")
	if !ok {
		return
	}
	var req userPatchRequest
	if !httpx.DecodeJSON(w, r, &req) {
		return
	}
	user, err := s.Users.Patch(r.Context(), id, models.UserPatch{
		FullName: req.FullName,
		Role:     req.Role,
		Region:   req.Region,
		IsActive: req.IsActive,
		TenantID: req.TenantID,
	})
	if err != nil {
		s.writeStoreError(w, r, err, "user")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}
