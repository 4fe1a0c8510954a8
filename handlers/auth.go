package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"wavecrate.app/server/internal/auth"
	"wavecrate.app/server/internal/logger"
	"wavecrate.app/server/models"
)

type contextKey string

const userKey contextKey = "user"

func userFrom(ctx context.Context) *models.User {
	user, _ := ctx.Value(userKey).(*models.User)
	return user
}

// withUser resolves the bearer token to a user and stores it on the request
// context. The core trusts this identity for every downstream decision.
func (s *Server) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeErrorResponse(w, http.StatusUnauthorized, "Please login to continue")
			return
		}

		session, err := s.Storage.GetSession(r.Context(), token)
		if err != nil {
			writeErrorResponse(w, http.StatusServiceUnavailable, "Session lookup failed")
			return
		}
		if session == nil || session.Expired(time.Now()) {
			writeErrorResponse(w, http.StatusUnauthorized, "Please login to continue")
			return
		}

		user, err := s.Storage.GetUser(r.Context(), session.UserID)
		if err != nil || user == nil {
			writeErrorResponse(w, http.StatusUnauthorized, "Please login to continue")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFrom(r.Context())
		if user == nil || !user.IsAdmin {
			writeErrorResponse(w, http.StatusForbidden, "Access denied. Admins only.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.Password == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Name and password are required")
		return
	}

	existing, err := s.Storage.FindUserByName(r.Context(), req.Name)
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}
	if existing != nil {
		writeErrorResponse(w, http.StatusConflict, "Username already taken")
		return
	}

	salt, hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to create account")
		return
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Salt:         salt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Storage.SaveUser(r.Context(), user); err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Failed to create account")
		return
	}

	logger.Info("user registered", map[string]interface{}{
		"user_id": user.ID,
		"name":    user.Name,
	})
	writeJSON(w, http.StatusCreated, user)
}

type LoginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := s.Storage.FindUserByName(r.Context(), req.Name)
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Database error")
		return
	}
	if user == nil || !auth.VerifyPassword(req.Password, user.Salt, user.PasswordHash) {
		writeErrorResponse(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	token, err := auth.NewToken()
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	now := time.Now().UTC()
	session := &models.Session{
		Token:     token,
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.Storage.SaveSession(r.Context(), session); err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: session.ExpiresAt,
		User:      user,
	})
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		if err := s.Storage.DeleteSession(r.Context(), token); err != nil {
			logger.Warn("failed to delete session", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}
