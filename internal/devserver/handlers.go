package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/zhouzirui/realtime-chat/client/internal/model/chat"
	"github.com/zhouzirui/realtime-chat/client/internal/model/profile"
	"github.com/zhouzirui/realtime-chat/client/pkg/utils"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
	avatarRoute         = "/static/uploads/avatars/"
)

type ctxKey struct{}

type credentials struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required"`
}

type registration struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,min=6"`
}

type historyRow struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	Nickname  string `json:"nickname,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registration
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request data")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Username and a password of at least 6 characters are required")
		return
	}

	if err := s.store.Register(req.Username, req.Password); err != nil {
		if errors.Is(err, ErrUserExists) {
			utils.RespondError(w, http.StatusConflict, "Username already exists")
			return
		}
		s.log.Error().Err(err).Msg("[auth] register failed")
		utils.RespondError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	s.log.Info().Str("user", req.Username).Msg("[auth] registered")
	utils.RespondMessage(w, http.StatusCreated, "User registered successfully")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request data")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	userID, err := s.store.Authenticate(req.Username, req.Password)
	if err != nil {
		utils.RespondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	token, err := s.tokens.Issue(req.Username, userID)
	if err != nil {
		s.log.Error().Err(err).Msg("[auth] sign token failed")
		utils.RespondError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"token":    token,
		"username": req.Username,
	})
}

// historyLimit parses ?limit=, falling back to the default when absent or out of range.
func historyLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxHistoryLimit {
		return defaultHistoryLimit
	}
	return n
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := historyLimit(r.URL.Query().Get("limit"))
	rows := lo.Map(s.store.Recent(limit), func(m storedMessage, _ int) historyRow {
		display, avatar := s.store.Identity(m.Username)
		row := historyRow{
			ID:        m.ID,
			Username:  display,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.Format(chat.ServerTimeLayout),
			Avatar:    avatar,
		}
		if display != m.Username {
			row.Nickname = display
		}
		return row
	})

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"messages": rows,
		"count":    len(rows),
	})
}

func (s *Server) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	users := lo.Map(s.hub.Online(), func(name string, _ int) chat.OnlineUser {
		_, avatar := s.store.Identity(name)
		return chat.OnlineUser{Username: name, Avatar: avatar}
	})
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := utils.BearerToken(r)
		if raw == "" {
			utils.RespondError(w, http.StatusUnauthorized, "Authorization required")
			return
		}
		claims, err := s.tokens.Parse(raw)
		if err != nil {
			utils.RespondError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
	})
}

func claimsFrom(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ctxKey{}).(*Claims)
	return claims
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.Profile(claimsFrom(r.Context()).Username)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "User not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profile.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request data")
		return
	}

	p, err := s.store.UpdateProfile(claimsFrom(r.Context()).Username, req)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "User not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, profile.UpdateResponse{
		Message: "Profile updated successfully",
		Profile: p,
	})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req profile.PasswordChange
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request data")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, fmt.Sprintf("New password must be at least %d characters", profile.MinPasswordLength))
		return
	}

	err := s.store.ChangePassword(claimsFrom(r.Context()).Username, req.CurrentPassword, req.NewPassword)
	switch {
	case errors.Is(err, ErrWrongPassword):
		utils.RespondError(w, http.StatusBadRequest, "Current password is incorrect")
	case errors.Is(err, ErrUserNotFound):
		utils.RespondError(w, http.StatusNotFound, "User not found")
	case err != nil:
		s.log.Error().Err(err).Msg("[profile] change password failed")
		utils.RespondError(w, http.StatusInternalServerError, "Failed to update password")
	default:
		utils.RespondMessage(w, http.StatusOK, "Password updated successfully")
	}
}

func (s *Server) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, profile.MaxAvatarSize+1<<20)
	file, header, err := r.FormFile(profile.AvatarFormField)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, profile.MaxAvatarSize+1))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Failed to read file")
		return
	}
	if len(data) > profile.MaxAvatarSize {
		utils.RespondError(w, http.StatusBadRequest, "File too large (max 5MB)")
		return
	}
	detected := mimetype.Detect(data)
	if !lo.Contains(profile.AllowedAvatarTypes, detected.String()) {
		utils.RespondError(w, http.StatusBadRequest, "Only JPG, PNG, GIF and WebP images are allowed")
		return
	}

	claims := claimsFrom(r.Context())
	ext := path.Ext(header.Filename)
	if ext == "" {
		ext = detected.Extension()
	}
	name := fmt.Sprintf("avatar_%s_%d%s", claims.UserID, s.now().Unix(), ext)
	url := avatarRoute + name

	p, err := s.store.SaveAvatar(claims.Username, name, url, detected.String(), data)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "User not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, profile.UpdateResponse{
		Message:   "Avatar uploaded successfully",
		AvatarURL: url,
		Profile:   p,
	})
}

func (s *Server) handleAvatarFile(w http.ResponseWriter, r *http.Request) {
	f, ok := s.store.Avatar(chi.URLParam(r, "name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(24*time.Hour/time.Second)))
	_, _ = w.Write(f.Data)
}

func (s *Server) handleUserProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.Profile(chi.URLParam(r, "username"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "User not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, p)
}
