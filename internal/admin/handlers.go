package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/foxseedlab/lecturerelay/internal/config"
	"github.com/foxseedlab/lecturerelay/internal/registry"
	"github.com/foxseedlab/lecturerelay/internal/repository"
	"github.com/foxseedlab/lecturerelay/internal/telegram"
	"github.com/gin-gonic/gin"
)

const (
	defaultDeliveryLimit = 50
	maxDeliveryLimit     = 500
)

type passwordRequest struct {
	Password string `json:"password" binding:"required"`
}

// configRequest fields left out of the body keep their stored value.
type configRequest struct {
	TelegramSession *string `json:"telegramSession"`
	ScheduleToken   *string `json:"pwToken"`
	ConverterToken  *string `json:"styStrkToken"`
}

type channelRequest struct {
	ChannelID string `json:"channelId" binding:"required"`
	BatchID   string `json:"batchId" binding:"required"`
	Name      string `json:"name"`
}

type dataResponse struct {
	Config        config.Credentials        `json:"config"`
	Channels      []registry.ChannelMapping `json:"channels"`
	SessionActive bool                      `json:"session_active"`
	LastError     string                    `json:"last_error,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	ok(c, gin.H{"status": "ok", "worker_active": s.controller.Active()})
}

func (s *Server) setup(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "password is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		fail(c, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		slog.Error("failed to hash admin password", "error", err)
		fail(c, http.StatusInternalServerError, "failed to store password")
		return
	}
	created, err := s.store.CreatePasswordHash(c.Request.Context(), hash)
	if err != nil {
		slog.Error("failed to store admin password", "error", err)
		fail(c, http.StatusInternalServerError, "failed to store password")
		return
	}
	if !created {
		fail(c, http.StatusConflict, "already set up")
		return
	}
	slog.Info("admin password configured")
	ok(c, nil)
}

func (s *Server) login(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "password is required")
		return
	}
	hash, err := s.store.GetPasswordHash(c.Request.Context())
	if err != nil {
		slog.Error("failed to load admin password", "error", err)
		fail(c, http.StatusInternalServerError, "failed to load password")
		return
	}
	if hash == "" {
		fail(c, http.StatusConflict, "not set up")
		return
	}
	if !checkPassword(req.Password, hash) {
		slog.Warn("admin login rejected", "client_ip", c.ClientIP())
		fail(c, http.StatusUnauthorized, "incorrect password")
		return
	}
	token, err := s.tokens.issue()
	if err != nil {
		slog.Error("failed to issue admin session", "error", err)
		fail(c, http.StatusInternalServerError, "failed to create session")
		return
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(sessionCookieName, token, int(s.opts.SessionTTL.Seconds()), "/", "", s.opts.SecureCookie, true)
	ok(c, nil)
}

func (s *Server) logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(sessionCookieName, "", -1, "/", "", s.opts.SecureCookie, true)
	ok(c, nil)
}

func (s *Server) data(c *gin.Context) {
	ctx := c.Request.Context()
	creds, err := s.store.GetCredentials(ctx)
	if err != nil {
		slog.Error("failed to load credentials", "error", err)
		fail(c, http.StatusInternalServerError, "failed to load configuration")
		return
	}
	channels, err := s.store.ListChannels(ctx)
	if err != nil {
		slog.Error("failed to list channels", "error", err)
		fail(c, http.StatusInternalServerError, "failed to load channels")
		return
	}
	resp := dataResponse{
		Config:        creds.Masked(),
		Channels:      channels,
		SessionActive: s.controller.Active(),
	}
	if err := s.controller.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	ok(c, resp)
}

func (s *Server) saveConfig(c *gin.Context) {
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid configuration body")
		return
	}
	ctx := c.Request.Context()
	creds, err := s.store.GetCredentials(ctx)
	if err != nil {
		slog.Error("failed to load credentials", "error", err)
		fail(c, http.StatusInternalServerError, "failed to load configuration")
		return
	}
	if req.TelegramSession != nil {
		creds.TelegramSession = strings.TrimSpace(*req.TelegramSession)
	}
	if req.ScheduleToken != nil {
		creds.ScheduleToken = strings.TrimSpace(*req.ScheduleToken)
	}
	if req.ConverterToken != nil {
		creds.ConverterToken = strings.TrimSpace(*req.ConverterToken)
	}
	if err := s.store.SaveCredentials(ctx, creds); err != nil {
		slog.Error("failed to save credentials", "error", err)
		fail(c, http.StatusInternalServerError, "failed to save configuration")
		return
	}
	s.controller.Configure(creds)
	slog.Info("credentials updated")
	ok(c, gin.H{"config": creds.Masked()})
}

func (s *Server) session(c *gin.Context) {
	ctx := c.Request.Context()
	switch c.Param("action") {
	case "activate":
		creds, err := s.store.GetCredentials(ctx)
		if err != nil {
			slog.Error("failed to load credentials", "error", err)
			fail(c, http.StatusInternalServerError, "failed to load configuration")
			return
		}
		if creds.TelegramSession == "" {
			fail(c, http.StatusBadRequest, "session string not configured")
			return
		}
		s.controller.Configure(creds)
		if err := s.controller.Activate(ctx); err != nil {
			slog.Error("failed to activate worker", "error", err)
			fail(c, http.StatusInternalServerError, "failed to activate session")
			return
		}
		slog.Info("worker activated")
	case "deactivate":
		if err := s.controller.Deactivate(ctx); err != nil {
			slog.Error("failed to deactivate worker", "error", err)
			fail(c, http.StatusInternalServerError, "failed to deactivate session")
			return
		}
		slog.Info("worker deactivated")
	default:
		fail(c, http.StatusBadRequest, "unknown session action")
		return
	}
	ok(c, gin.H{"session_active": s.controller.Active()})
}

func (s *Server) addChannel(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "channelId and batchId are required")
		return
	}
	if telegram.NormalizeChatKey(req.ChannelID) == "" || strings.TrimSpace(req.BatchID) == "" {
		fail(c, http.StatusBadRequest, "channelId and batchId are required")
		return
	}
	_, err := s.store.CreateChannel(c.Request.Context(), repository.CreateChannelInput{
		ChannelID: strings.TrimSpace(req.ChannelID),
		BatchID:   strings.TrimSpace(req.BatchID),
		Name:      strings.TrimSpace(req.Name),
	})
	if err != nil {
		slog.Error("failed to create channel", "error", err)
		fail(c, http.StatusInternalServerError, "failed to create channel")
		return
	}
	slog.Info("channel added", "channel_id", req.ChannelID, "batch_id", req.BatchID)
	s.respondChannels(c)
}

func (s *Server) deleteChannel(c *gin.Context) {
	id := c.Param("id")
	if err := s.store.DeleteChannel(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			fail(c, http.StatusNotFound, "channel not found")
			return
		}
		slog.Error("failed to delete channel", "error", err, "id", id)
		fail(c, http.StatusInternalServerError, "failed to delete channel")
		return
	}
	slog.Info("channel deleted", "id", id)
	s.respondChannels(c)
}

func (s *Server) toggleChannel(c *gin.Context) {
	id := c.Param("id")
	ch, err := s.store.ToggleChannel(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			fail(c, http.StatusNotFound, "channel not found")
			return
		}
		slog.Error("failed to toggle channel", "error", err, "id", id)
		fail(c, http.StatusInternalServerError, "failed to toggle channel")
		return
	}
	slog.Info("channel toggled", "id", id, "active", ch.Active)
	s.respondChannels(c)
}

// respondChannels pushes the current channel list to the worker and returns it.
func (s *Server) respondChannels(c *gin.Context) {
	channels, err := s.store.ListChannels(c.Request.Context())
	if err != nil {
		slog.Error("failed to list channels", "error", err)
		fail(c, http.StatusInternalServerError, "failed to load channels")
		return
	}
	s.controller.SetChannels(channels)
	ok(c, gin.H{"channels": channels})
}

func (s *Server) deliveries(c *gin.Context) {
	limit := defaultDeliveryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fail(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxDeliveryLimit)
	}
	items, err := s.store.ListRecentDeliveries(c.Request.Context(), limit)
	if err != nil {
		slog.Error("failed to list deliveries", "error", err)
		fail(c, http.StatusInternalServerError, "failed to load deliveries")
		return
	}
	ok(c, gin.H{"deliveries": items})
}
