package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	notFound := NewNotFoundError(CodeSessionNotFound, "Session not found")
	wrapped := fmt.Errorf("lookup: %w", notFound)
	assert.Same(t, notFound, FromError(wrapped))
	assert.Equal(t, http.StatusNotFound, GetStatusCode(wrapped))
	assert.True(t, Is(wrapped, NewNotFoundError(CodeSessionNotFound, "")))

	cause := stderrors.New("disk full")
	internal := FromError(cause)
	assert.Equal(t, http.StatusInternalServerError, internal.StatusCode)
	assert.Equal(t, CodeInternal, internal.Code)
	assert.ErrorIs(t, internal, cause)
	assert.NotContains(t, internal.Message, "disk full")
}

func TestErrorHandlerRendersEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/fail", func(c *gin.Context) {
		c.Error(NewBadGatewayError(CodeProviderUnavailable, "Provider down").
			WithDetails("retry later").
			Wrap(stderrors.New("timeout after 10s")))
	})
	r.GET("/panic", RecoveryWithLogger(), func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"error":{"code":"PROVIDER_UNAVAILABLE","message":"Provider down","details":"retry later"}}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "SERVER_ERROR")
}
