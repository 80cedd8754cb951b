package api

import (
	"net/http"
	"strconv"

	"diagnosai/backend/ai"
	"diagnosai/backend/internal/models"
	"diagnosai/backend/internal/repository"
	"diagnosai/backend/internal/service"
	"diagnosai/backend/pkg/errors"
	"diagnosai/backend/pkg/logger"
	"diagnosai/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// DiagnosisController serves the diagnosis conversation endpoints
type DiagnosisController struct {
	service *service.DiagnosisService
}

// NewDiagnosisController creates a new diagnosis controller
func NewDiagnosisController(service *service.DiagnosisService) *DiagnosisController {
	return &DiagnosisController{service: service}
}

// RegisterRoutes registers the diagnosis routes behind auth
func (h *DiagnosisController) RegisterRoutes(router gin.IRouter, auth gin.HandlerFunc) {
	router.POST("/diagnosis", auth, h.Submit)
	router.GET("/api/sessions/:id/messages", auth, h.History)
}

// Submit handles POST /diagnosis?session_id=<optional>
func (h *DiagnosisController) Submit(c *gin.Context) {
	callerID, ok := middleware.CallerID(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "Not authenticated"))
		return
	}

	var req models.DiagnosisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeInvalidRequest, "Invalid request format").WithDetails(err.Error()))
		return
	}

	input := service.DiagnosisInput{
		Prompt:     *req.Prompt,
		HealthData: req.HealthData,
		Images:     req.Images,
	}
	if raw, present := c.GetQuery("session_id"); present {
		id, err := parseID(raw)
		if err != nil {
			c.Error(MapError(err))
			return
		}
		input.SessionID = &id
	}

	result, err := h.service.Submit(c.Request.Context(), input, callerID)
	if err != nil {
		c.Error(MapError(err))
		return
	}

	logger.FromContext(c).WithSessionID(result.SessionID).Info("Diagnosis returned")
	c.JSON(http.StatusCreated, models.DiagnosisResponse{
		DiagnosisText: result.DiagnosisText,
		RecordID:      result.SessionID,
	})
}

// History handles GET /api/sessions/:id/messages
func (h *DiagnosisController) History(c *gin.Context) {
	callerID, ok := middleware.CallerID(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "Not authenticated"))
		return
	}

	sessionID, err := parseID(c.Param("id"))
	if err != nil {
		c.Error(MapError(err))
		return
	}

	messages, err := h.service.History(c.Request.Context(), sessionID, callerID)
	if err != nil {
		c.Error(MapError(err))
		return
	}

	out := make([]models.MessageResponse, 0, len(messages))
	for _, m := range messages {
		text := m.Content
		if m.Role == models.RoleModel {
			text = ai.Normalize(ai.RawReply(m.Content)).Text
		}
		out = append(out, models.MessageResponse{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Text:      text,
			CreatedAt: m.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, models.SessionHistoryResponse{SessionID: sessionID, Messages: out})
}

// parseID accepts any integer. Ids below 1 can never name a session and are
// reported as not found.
func parseID(raw string) (uint, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.NewBadRequestError(errors.CodeInvalidRequest, "Session id must be an integer").
			WithDetails(raw)
	}
	if id < 1 {
		return 0, repository.ErrSessionNotFound
	}
	return uint(id), nil
}
