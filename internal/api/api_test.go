package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"diagnosai/backend/ai"
	"diagnosai/backend/internal/repository"
	"diagnosai/backend/internal/service"
	"diagnosai/backend/pkg/cache"
	"diagnosai/backend/pkg/errors"
	"diagnosai/backend/pkg/jwt"
	"diagnosai/backend/pkg/logger"
	"diagnosai/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type stubProvider struct {
	reply string
	err   error
}

func (p *stubProvider) Send(context.Context, []ai.Turn) (ai.RawReply, error) {
	if p.err != nil {
		return nil, p.err
	}
	return ai.RawReply(p.reply), nil
}

type stubModel struct {
	probability float64
	err         error
}

func (m *stubModel) Predict(context.Context, ai.Tensor) (float64, error) {
	return m.probability, m.err
}

type stubWHO struct{}

func (stubWHO) Countries(context.Context) ([]service.Country, error) {
	return []service.Country{{Code: "KEN", Title: "Kenya"}}, nil
}

func (stubWHO) Indicators(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`[{"SpatialDim":"KEN","NumericValue":61.4}]`), nil
}

type ownerPolicy struct{}

func (ownerPolicy) AllowSession(_ context.Context, owner, caller uint) (bool, error) {
	return owner == caller, nil
}

type testServer struct {
	engine   *gin.Engine
	tokens   *jwt.Service
	provider *stubProvider
	model    *stubModel
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, repository.Migrate(db))

	store, err := cache.NewStore(cache.StoreTypeMemory)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logger.Discard()
	srv := &testServer{
		tokens:   jwt.NewService("test-secret", time.Hour),
		provider: &stubProvider{reply: `{"content":{"parts":[{"text":"Rest and hydrate."}]}}`},
		model:    &stubModel{probability: 0.9},
	}

	users := service.NewUserService(repository.NewGormUserRepository(db), srv.tokens)
	diagnosis := service.NewDiagnosisService(repository.NewGormConversationStore(db), srv.provider, ownerPolicy{}, log)
	pneumonia := service.NewPneumoniaService(srv.model, 0.5, log)
	stats := service.NewHealthStatsService(stubWHO{}, store, time.Minute, log)

	engine := gin.New()
	engine.Use(logger.Middleware(log), errors.ErrorHandler())
	auth := middleware.JWTAuthMiddleware(srv.tokens)

	NewAuthController(users).RegisterRoutes(engine)
	NewDiagnosisController(diagnosis).RegisterRoutes(engine, auth)
	NewPneumoniaController(pneumonia, 1<<20).RegisterRoutes(engine)
	NewHealthDataController(stats).RegisterRoutes(engine)
	NewHealthController(nil).RegisterRoutes(engine)

	srv.engine = engine
	return srv
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) login(t *testing.T, email string) string {
	t.Helper()
	creds := map[string]string{"email": email, "password": "s3cret-pass"}
	w := s.do(t, http.MethodPost, "/api/users/register", creds, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/users/token", creds, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "bearer", resp.TokenType)
	return resp.AccessToken
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestRegisterDuplicateEmail(t *testing.T) {
	srv := newTestServer(t)
	srv.login(t, "ann@example.com")

	w := srv.do(t, http.MethodPost, "/api/users/register",
		map[string]string{"email": "ann@example.com", "password": "other"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.CodeEmailRegistered, errorCode(t, w))
	assert.Contains(t, w.Body.String(), "Email already registered")
}

func TestTokenWrongPassword(t *testing.T) {
	srv := newTestServer(t)
	srv.login(t, "ann@example.com")

	w := srv.do(t, http.MethodPost, "/api/users/token",
		map[string]string{"email": "ann@example.com", "password": "wrong"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.CodeBadCredentials, errorCode(t, w))
}

func TestTokenAcceptsPasswordForm(t *testing.T) {
	srv := newTestServer(t)
	srv.login(t, "ann@example.com")

	req := httptest.NewRequest(http.MethodPost, "/api/users/token",
		bytes.NewBufferString("username=ann%40example.com&password=s3cret-pass"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "access_token")
}

func TestDiagnosisRequiresAuth(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodPost, "/diagnosis", map[string]string{"prompt": "fever"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, errors.CodeUnauthorized, errorCode(t, w))
}

func TestDiagnosisConversation(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "ann@example.com")

	w := srv.do(t, http.MethodPost, "/diagnosis", map[string]string{"prompt": "I have a fever"}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var first struct {
		DiagnosisText string `json:"diagnosis_text"`
		RecordID      uint   `json:"record_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, "Rest and hydrate.", first.DiagnosisText)
	require.NotZero(t, first.RecordID)

	srv.provider.reply = `{"text":"See a doctor if it persists."}`
	w = srv.do(t, http.MethodPost, fmt.Sprintf("/diagnosis?session_id=%d", first.RecordID),
		map[string]string{"prompt": "It has lasted three days"}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "See a doctor if it persists.")
	assert.Contains(t, w.Body.String(), fmt.Sprintf(`"record_id":%d`, first.RecordID))

	w = srv.do(t, http.MethodGet, fmt.Sprintf("/api/sessions/%d/messages", first.RecordID), nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var history struct {
		Messages []struct {
			Role string `json:"role"`
			Text string `json:"text"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Messages, 4)
	assert.Equal(t, "user", history.Messages[0].Role)
	assert.Equal(t, "I have a fever", history.Messages[0].Text)
	assert.Equal(t, "model", history.Messages[1].Role)
	assert.Equal(t, "Rest and hydrate.", history.Messages[1].Text)
	assert.Equal(t, "See a doctor if it persists.", history.Messages[3].Text)
}

func TestDiagnosisUnknownSession(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "ann@example.com")

	w := srv.do(t, http.MethodPost, "/diagnosis?session_id=999", map[string]string{"prompt": "hi"}, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errors.CodeSessionNotFound, errorCode(t, w))
	assert.Contains(t, w.Body.String(), "Session not found")
}

func TestDiagnosisNonPositiveSessionIDNotFound(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "ann@example.com")

	for _, raw := range []string{"0", "-3"} {
		w := srv.do(t, http.MethodPost, "/diagnosis?session_id="+raw, map[string]string{"prompt": "hi"}, token)
		assert.Equal(t, http.StatusNotFound, w.Code, raw)
		assert.Equal(t, errors.CodeSessionNotFound, errorCode(t, w), raw)

		w = srv.do(t, http.MethodGet, "/api/sessions/"+raw+"/messages", nil, token)
		assert.Equal(t, http.StatusNotFound, w.Code, raw)
		assert.Equal(t, errors.CodeSessionNotFound, errorCode(t, w), raw)
	}
}

func TestDiagnosisMalformedSessionID(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "ann@example.com")

	for _, raw := range []string{"abc", "", "1.5"} {
		w := srv.do(t, http.MethodPost, "/diagnosis?session_id="+raw, map[string]string{"prompt": "hi"}, token)
		assert.Equal(t, http.StatusBadRequest, w.Code, raw)
		assert.Equal(t, errors.CodeInvalidRequest, errorCode(t, w), raw)
	}

	w := srv.do(t, http.MethodGet, "/api/sessions/abc/messages", nil, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDiagnosisEmptyPromptAccepted(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "ann@example.com")

	w := srv.do(t, http.MethodPost, "/diagnosis", map[string]string{"prompt": ""}, token)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestDiagnosisMissingPrompt(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "ann@example.com")

	w := srv.do(t, http.MethodPost, "/diagnosis", map[string]string{}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.CodeInvalidRequest, errorCode(t, w))
}

func TestDiagnosisOtherUsersSession(t *testing.T) {
	srv := newTestServer(t)
	owner := srv.login(t, "ann@example.com")
	intruder := srv.login(t, "bob@example.com")

	w := srv.do(t, http.MethodPost, "/diagnosis", map[string]string{"prompt": "fever"}, owner)
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		RecordID uint `json:"record_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = srv.do(t, http.MethodPost, fmt.Sprintf("/diagnosis?session_id=%d", resp.RecordID),
		map[string]string{"prompt": "what did they say?"}, intruder)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, errors.CodeSessionForbidden, errorCode(t, w))

	w = srv.do(t, http.MethodGet, fmt.Sprintf("/api/sessions/%d/messages", resp.RecordID), nil, intruder)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDiagnosisProviderUnavailable(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "ann@example.com")
	srv.provider.err = fmt.Errorf("%w: timeout", ai.ErrProviderUnavailable)

	w := srv.do(t, http.MethodPost, "/diagnosis", map[string]string{"prompt": "fever"}, token)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, errors.CodeProviderUnavailable, errorCode(t, w))
	assert.NotContains(t, w.Body.String(), "timeout")
}

func pngUpload(t *testing.T, contentType string, payload []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="xray.png"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/pneumonia/predict", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 40, 30))
	for x := 0; x < 40; x++ {
		img.SetGray(x, x%30, color.Gray{Y: 200})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPneumoniaPredict(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, pngUpload(t, "image/png", pngBytes(t)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"pneumonia_probability":0.9,"diagnosis":"Pneumonia likely"}`, w.Body.String())
}

func TestPneumoniaRejectsUploads(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, pngUpload(t, "application/pdf", []byte("%PDF-1.4")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid image format. Use JPEG or PNG.")

	w = httptest.NewRecorder()
	srv.engine.ServeHTTP(w, pngUpload(t, "image/png", []byte("not an image")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid image file.")
}

func TestPneumoniaModelDown(t *testing.T) {
	srv := newTestServer(t)
	srv.model.err = fmt.Errorf("%w: connection refused", ai.ErrModelUnavailable)

	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, pngUpload(t, "image/png", pngBytes(t)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, errors.CodeModelUnavailable, errorCode(t, w))
}

func TestHealthInfoAndCountries(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodGet, "/api/health-info/ken", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"source":"WHO_API","data":[{"SpatialDim":"KEN","NumericValue":61.4}]}`, w.Body.String())

	w = srv.do(t, http.MethodGet, "/api/health-info/KEN", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"source":"cache"`)

	w = srv.do(t, http.MethodGet, "/api/countries", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Kenya")
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}
