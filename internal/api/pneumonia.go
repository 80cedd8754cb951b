package api

import (
	"io"
	"net/http"

	"diagnosai/backend/internal/service"
	"diagnosai/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

// PneumoniaController serves the X-ray classifier
type PneumoniaController struct {
	service   *service.PneumoniaService
	maxUpload int64
}

// NewPneumoniaController creates a new pneumonia controller
func NewPneumoniaController(service *service.PneumoniaService, maxUpload int64) *PneumoniaController {
	return &PneumoniaController{service: service, maxUpload: maxUpload}
}

// RegisterRoutes registers the classifier route
func (h *PneumoniaController) RegisterRoutes(router gin.IRouter) {
	router.POST("/pneumonia/predict", h.Predict)
}

// Predict handles POST /pneumonia/predict with a multipart "file" field
func (h *PneumoniaController) Predict(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeInvalidRequest, "A file field is required"))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if !service.IsAllowedImageType(contentType) {
		c.Error(MapError(service.ErrUnsupportedImageType))
		return
	}
	if h.maxUpload > 0 && header.Size > h.maxUpload {
		c.Error(errors.NewError(http.StatusRequestEntityTooLarge, errors.CodeInvalidImage, "Image is too large"))
		return
	}

	file, err := header.Open()
	if err != nil {
		c.Error(MapError(service.ErrInvalidImage))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.Error(MapError(service.ErrInvalidImage))
		return
	}

	prediction, err := h.service.Predict(c.Request.Context(), contentType, data)
	if err != nil {
		c.Error(MapError(err))
		return
	}

	c.JSON(http.StatusOK, prediction)
}
