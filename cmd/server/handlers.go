package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/loan-decision/internal/account"
	"github.com/ZanzyTHEbar/loan-decision/internal/database"
	apperrors "github.com/ZanzyTHEbar/loan-decision/internal/errors"
	"github.com/ZanzyTHEbar/loan-decision/internal/resilience"
	"github.com/ZanzyTHEbar/loan-decision/internal/security"
	"github.com/ZanzyTHEbar/loan-decision/internal/types"
)

const (
	serviceVersion      = "1.0.0"
	defaultHistoryLimit = 20
)

// bindPayload reads a JSON object body. An empty body is treated as {}.
func bindPayload(c *gin.Context) (map[string]interface{}, error) {
	if c.Request.Body == nil {
		return map[string]interface{}{}, nil
	}

	var payload map[string]interface{}
	if err := c.ShouldBindJSON(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]interface{}{}, nil
		}
		return nil, apperrors.NewValidationError("request body must be a JSON object", err)
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return payload, nil
}

// handlePredict godoc
// @Summary Predict a loan decision
// @Tags prediction
// @Accept json
// @Produce json
// @Success 200 {object} types.PredictResponse
// @Router /api/predict [post]
func (s *server) handlePredict(c *gin.Context) {
	payload, err := bindPayload(c)
	if err != nil {
		apperrors.Abort(c, err)
		return
	}

	result := s.service.Predict(c.Request.Context(), security.UserID(c), payload)
	c.JSON(http.StatusOK, types.NewPredictResponse(result))
}

// handleUpdateProfile godoc
// @Summary Update the caller's stored profile and re-predict
// @Tags profile
// @Security BearerAuth
// @Router /api/update_profile [post]
func (s *server) handleUpdateProfile(c *gin.Context) {
	payload, err := bindPayload(c)
	if err != nil {
		apperrors.Abort(c, err)
		return
	}

	result, err := s.service.UpdateProfile(c.Request.Context(), security.UserID(c), payload)
	if err != nil {
		apperrors.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, types.UpdateProfileResponse{Status: "ok", Prediction: result})
}

func (s *server) handleHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > database.MaxHistoryLimit {
			apperrors.Abort(c, apperrors.NewValidationError("limit must be between 1 and "+strconv.Itoa(database.MaxHistoryLimit)))
			return
		}
		limit = n
	}

	records, err := s.service.History(c.Request.Context(), security.UserID(c), limit)
	if err != nil {
		apperrors.Abort(c, err)
		return
	}
	if records == nil {
		records = []database.HistoryRecord{}
	}

	c.JSON(http.StatusOK, types.HistoryResponse{Predictions: records, Count: len(records)})
}

func (s *server) handleModel(c *gin.Context) {
	c.JSON(http.StatusOK, types.NewModelStatusResponse(s.service.Bundle()))
}

func (s *server) handleReload(c *gin.Context) {
	bundle := s.service.Reload()
	logArtifacts(s.logger, bundle)
	s.logger.SecurityLogger("artifacts_reloaded", c.ClientIP(), map[string]interface{}{
		"user_id":    security.UserID(c),
		"generation": bundle.Generation,
	})

	c.JSON(http.StatusOK, types.NewModelStatusResponse(bundle))
}

// handleSignup godoc
// @Summary Register a user, optionally with profile fields
// @Tags auth
// @Accept json
// @Produce json
// @Success 201 {object} account.Session
// @Router /api/signup [post]
func (s *server) handleSignup(c *gin.Context) {
	payload, err := bindPayload(c)
	if err != nil {
		apperrors.Abort(c, err)
		return
	}

	session, err := s.accounts.Signup(c.Request.Context(), payload)
	if err != nil {
		apperrors.Abort(c, err)
		return
	}

	s.logger.SecurityLogger("user_signup", c.ClientIP(), map[string]interface{}{"user_id": session.UserID})
	c.JSON(http.StatusCreated, session)
}

// handleLogin godoc
// @Summary Exchange a username and password for tokens
// @Tags auth
// @Accept json
// @Produce json
// @Success 200 {object} account.Session
// @Router /api/login [post]
func (s *server) handleLogin(c *gin.Context) {
	payload, err := bindPayload(c)
	if err != nil {
		apperrors.Abort(c, err)
		return
	}

	creds := account.CredentialsFromPayload(payload)
	session, err := s.accounts.Login(c.Request.Context(), creds)
	if err != nil {
		if apperrors.IsCategory(err, apperrors.CategoryAuth) {
			s.logger.SecurityLogger("login_failed", c.ClientIP(), map[string]interface{}{"username": creds.Username})
		}
		apperrors.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// handleRefresh godoc
// @Summary Exchange a refresh token for a new access token
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} account.Session
// @Router /api/refresh [post]
func (s *server) handleRefresh(c *gin.Context) {
	token, ok := security.BearerToken(c)
	if !ok {
		apperrors.Abort(c, apperrors.NewAuthError("missing refresh token", nil))
		return
	}

	session, err := s.accounts.Refresh(c.Request.Context(), token)
	if err != nil {
		apperrors.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// handleChat godoc
// @Summary Send a chat message
// @Tags chat
// @Accept json
// @Produce json
// @Success 200 {object} types.ChatResponse
// @Router /api/chat [post]
func (s *server) handleChat(c *gin.Context) {
	payload, err := bindPayload(c)
	if err != nil {
		apperrors.Abort(c, err)
		return
	}

	message, _ := payload["message"].(string)
	reply, err := s.chat.Reply(c.Request.Context(), security.UserID(c), message)
	if err != nil {
		apperrors.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, types.ChatResponse{Reply: reply})
}

func (s *server) handleListUsers(c *gin.Context) {
	users, err := s.accounts.ListUsers(c.Request.Context())
	if err != nil {
		apperrors.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, types.NewUsersResponse(users))
}

// handleHealth reports 503 only when a dependency is in emergency. Missing artifacts
// degrade the mode, not the health.
func (s *server) handleHealth(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if s.health.WorstLevel() == resilience.LevelEmergency {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	stats := map[string]interface{}{
		"requests":    s.metrics.GetStats(),
		"service":     s.service.Stats(),
		"compression": s.compression.GetStats(),
		"rate_limit":  s.limiter.GetStats(),
	}
	if s.db != nil {
		stats["database"] = s.db.GetPoolStats()
	}

	c.JSON(code, types.HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   serviceVersion,
		Mode:      s.service.Bundle().Mode(),
		Services:  s.health.GetAllServiceHealth(),
		Metrics:   stats,
	})
}
