package service

import (
	"context"
	"errors"

	"diagnosai/backend/ai"
	"diagnosai/backend/pkg/logger"
)

var (
	ErrUnsupportedImageType = errors.New("invalid image format. Use JPEG or PNG")
	ErrInvalidImage         = errors.New("invalid image file")
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
}

// PneumoniaService classifies chest X-ray uploads
type PneumoniaService struct {
	model     ai.ProbabilityModel
	threshold float64
	log       *logger.Logger
}

// NewPneumoniaService creates a new pneumonia service
func NewPneumoniaService(model ai.ProbabilityModel, threshold float64, log *logger.Logger) *PneumoniaService {
	return &PneumoniaService{model: model, threshold: threshold, log: log}
}

// Predict validates and preprocesses the image, then asks the model
func (s *PneumoniaService) Predict(ctx context.Context, contentType string, data []byte) (*ai.Prediction, error) {
	if !allowedImageTypes[contentType] {
		return nil, ErrUnsupportedImageType
	}

	tensor, err := ai.PreprocessImage(data)
	if err != nil {
		s.log.Warn("Rejected undecodable image", "content_type", contentType, "size", len(data))
		return nil, ErrInvalidImage
	}

	prediction, err := ai.Classify(ctx, s.model, tensor, s.threshold)
	if err != nil {
		s.log.LogError(err, "Pneumonia model failed")
		return nil, err
	}
	return prediction, nil
}

// IsAllowedImageType reports whether contentType is accepted by Predict
func IsAllowedImageType(contentType string) bool {
	return allowedImageTypes[contentType]
}
