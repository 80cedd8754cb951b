package api

import (
	stderrors "errors"

	"diagnosai/backend/ai"
	"diagnosai/backend/internal/repository"
	"diagnosai/backend/internal/service"
	"diagnosai/backend/pkg/errors"
)

// MapError maps domain errors to the HTTP error envelope. Unknown errors
// become opaque 500s and keep their cause for the logs.
func MapError(err error) *errors.AppError {
	switch {
	case stderrors.Is(err, repository.ErrSessionNotFound):
		return errors.NewNotFoundError(errors.CodeSessionNotFound, "Session not found").
			WithDetails("Session not found")
	case stderrors.Is(err, service.ErrSessionForbidden):
		return errors.NewForbiddenError(errors.CodeSessionForbidden, "Session belongs to another user")
	case stderrors.Is(err, ai.ErrProviderUnavailable):
		return errors.NewBadGatewayError(errors.CodeProviderUnavailable, "Diagnosis provider is unavailable, please retry later").Wrap(err)
	case stderrors.Is(err, service.ErrUserAlreadyExists):
		return errors.NewBadRequestError(errors.CodeEmailRegistered, "Email already registered")
	case stderrors.Is(err, service.ErrInvalidCredentials):
		return errors.NewBadRequestError(errors.CodeBadCredentials, "Incorrect email or password")
	case stderrors.Is(err, service.ErrUnsupportedImageType):
		return errors.NewBadRequestError(errors.CodeInvalidImage, "Invalid image format. Use JPEG or PNG.")
	case stderrors.Is(err, service.ErrInvalidImage):
		return errors.NewBadRequestError(errors.CodeInvalidImage, "Invalid image file.")
	case stderrors.Is(err, ai.ErrModelUnavailable):
		return errors.NewServiceUnavailableError(errors.CodeModelUnavailable, "Pneumonia model is unavailable").Wrap(err)
	case stderrors.Is(err, service.ErrInvalidQuery):
		return errors.NewBadRequestError(errors.CodeInvalidRequest, "Query must be a country code")
	case stderrors.Is(err, service.ErrHealthDataUnavailable):
		return errors.NewBadGatewayError(errors.CodeUpstreamFailure, "Health statistics are unavailable").Wrap(err)
	default:
		return errors.FromError(err)
	}
}
