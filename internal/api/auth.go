package api

import (
	"net/http"

	"diagnosai/backend/internal/models"
	"diagnosai/backend/internal/service"
	"diagnosai/backend/pkg/errors"
	"diagnosai/backend/pkg/jwt"
	"diagnosai/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AuthController handles registration and token issuance
type AuthController struct {
	service *service.UserService
}

// NewAuthController creates a new auth controller
func NewAuthController(service *service.UserService) *AuthController {
	return &AuthController{service: service}
}

// RegisterRoutes registers the public user routes
func (h *AuthController) RegisterRoutes(router gin.IRouter) {
	users := router.Group("/api/users")
	users.POST("/register", h.Register)
	users.POST("/token", h.Token)
}

// Register handles POST /api/users/register
func (h *AuthController) Register(c *gin.Context) {
	var req models.CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeInvalidRequest, "Invalid request format").WithDetails(err.Error()))
		return
	}

	user, err := h.service.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.Error(MapError(err))
		return
	}

	logger.FromContext(c).Info("User registered", "user_id", user.ID)
	c.JSON(http.StatusCreated, models.RegisterResponse{Email: user.Email})
}

// Token handles POST /api/users/token. Besides a JSON body it accepts the
// OAuth2 password form (username, password).
func (h *AuthController) Token(c *gin.Context) {
	var req models.CredentialsRequest
	if c.ContentType() == "application/x-www-form-urlencoded" || c.ContentType() == "multipart/form-data" {
		req.Email = c.PostForm("username")
		req.Password = c.PostForm("password")
	} else if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeInvalidRequest, "Invalid request format").WithDetails(err.Error()))
		return
	}

	if req.Email == "" || req.Password == "" {
		c.Error(errors.NewBadRequestError(errors.CodeInvalidRequest, "Email and password are required"))
		return
	}

	token, err := h.service.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.Error(MapError(err))
		return
	}

	c.JSON(http.StatusOK, models.TokenResponse{AccessToken: token, TokenType: jwt.TokenType})
}
