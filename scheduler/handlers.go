package scheduler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fiscaldata/reconciler_backend/config"
	"github.com/fiscaldata/reconciler_backend/models"
)

type configResponse struct {
	Mode              models.SchedulerMode `json:"mode"`
	TriggerExpression string               `json:"triggerExpression"`
}

type configRequest struct {
	Mode              string `json:"mode" binding:"required"`
	TriggerExpression string `json:"triggerExpression"`
}

// GetConfigHandler serves GET /scheduler/config.
func GetConfigHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := models.LoadSchedulerState(s.DB)
		if err != nil {
			config.LogError(s.Logger, "handlers.go", "GetConfigHandler", "loading scheduler state", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load scheduler state"})
			return
		}
		c.JSON(http.StatusOK, configResponse{
			Mode:              state.Mode,
			TriggerExpression: state.TriggerExpression,
		})
	}
}

// SetConfigHandler serves POST /scheduler/config. Mode and expression are
// validated up front (400 on bad input); once they pass, the state update
// always succeeds or fails as a whole; trigger installation problems are
// logged, never surfaced here.
func SetConfigHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req configRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		mode := models.SchedulerMode(req.Mode)
		state, err := s.Reconfigure(mode, req.TriggerExpression)
		if errors.Is(err, ErrInvalidMode) || errors.Is(err, ErrInvalidExpression) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			config.LogError(s.Logger, "handlers.go", "SetConfigHandler", "saving scheduler state", req, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save scheduler state"})
			return
		}
		c.JSON(http.StatusOK, configResponse{
			Mode:              state.Mode,
			TriggerExpression: state.TriggerExpression,
		})
	}
}
