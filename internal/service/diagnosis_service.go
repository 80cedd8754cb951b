package service

import (
	"context"
	"errors"
	"fmt"

	"diagnosai/backend/ai"
	"diagnosai/backend/internal/models"
	"diagnosai/backend/internal/repository"
	"diagnosai/backend/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// SystemInstruction is prepended to the prompt in the final user turn
const SystemInstruction = "You are a doctor providing a clear diagnosis based on symptoms. " +
	"Respond concisely, avoid mentioning you are AI or disclaimers. " +
	"Make it sound like a real doctor-patient conversation."

// ErrSessionForbidden is returned when the access policy denies the caller
var ErrSessionForbidden = errors.New("session belongs to another user")

// SessionPolicy decides whether a caller may use a session
type SessionPolicy interface {
	AllowSession(ctx context.Context, owner, caller uint) (bool, error)
}

// DiagnosisInput is one diagnosis request. A nil SessionID opens a new session.
type DiagnosisInput struct {
	Prompt     string
	SessionID  *uint
	HealthData string
	Images     []string
}

// DiagnosisResult is returned to the caller after a successful exchange
type DiagnosisResult struct {
	DiagnosisText string
	SessionID     uint
}

// DiagnosisService runs the multi-turn diagnosis conversation
type DiagnosisService struct {
	store    repository.ConversationStore
	provider ai.Provider
	policy   SessionPolicy
	locks    *sessionLocks
	log      *logger.Logger
	requests metric.Int64Counter
	tracer   trace.Tracer
}

// NewDiagnosisService creates a diagnosis service
func NewDiagnosisService(store repository.ConversationStore, provider ai.Provider, policy SessionPolicy, log *logger.Logger) *DiagnosisService {
	requests, _ := otel.Meter("diagnosai/service").Int64Counter("diagnosis_requests_total",
		metric.WithDescription("Diagnosis requests by outcome"))

	return &DiagnosisService{
		store:    store,
		provider: provider,
		policy:   policy,
		locks:    newSessionLocks(),
		log:      log,
		requests: requests,
		tracer:   otel.Tracer("diagnosai/service"),
	}
}

// Submit resolves or opens the session, records the prompt, asks the provider
// with the full history and records its reply. Work continues even if ctx is
// cancelled: writes already made are kept and there is no rollback.
func (s *DiagnosisService) Submit(ctx context.Context, in DiagnosisInput, callerID uint) (result *DiagnosisResult, err error) {
	ctx, span := s.tracer.Start(context.WithoutCancel(ctx), "diagnosis.submit",
		trace.WithAttributes(attribute.Bool("new_session", in.SessionID == nil)))
	defer func() {
		label := outcome(err)
		s.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", label)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, label)
		}
		span.End()
	}()

	session, err := s.resolveSession(ctx, in.SessionID, callerID)
	if err != nil {
		return nil, err
	}
	log := s.log.WithSessionID(session.ID)

	unlock := s.locks.Lock(session.ID)
	defer unlock()

	if _, err := s.store.AppendMessage(ctx, session.ID, models.RoleUser, in.Prompt); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	history, err := s.store.ListMessages(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	if len(in.Images) > 0 {
		log.Info("Images are not forwarded to the provider", "count", len(in.Images))
	}

	raw, err := s.provider.Send(ctx, buildTurns(history, in.Prompt, in.HealthData))
	if err != nil {
		log.LogError(err, "Diagnosis provider failed")
		return nil, err
	}

	reply := ai.Normalize(raw)
	if reply.Shape == ai.ShapeUnrecognized {
		log.Warn("Unrecognized provider reply", "raw", raw.String())
	}

	if _, err := s.store.AppendMessage(ctx, session.ID, models.RoleModel, raw.String()); err != nil {
		return nil, fmt.Errorf("append model message: %w", err)
	}

	if _, err := s.store.CreateDiagnosisRecord(ctx, callerID, in.Prompt, raw.String()); err != nil {
		return nil, fmt.Errorf("create diagnosis record: %w", err)
	}

	log.Debug("Diagnosis completed", "shape", reply.Shape.String(), "turns", len(history)+1)
	return &DiagnosisResult{DiagnosisText: reply.Text, SessionID: session.ID}, nil
}

// History returns the messages of a session the caller may access, oldest first
func (s *DiagnosisService) History(ctx context.Context, sessionID, callerID uint) ([]models.Message, error) {
	if _, err := s.resolveSession(ctx, &sessionID, callerID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, sessionID)
}

func (s *DiagnosisService) resolveSession(ctx context.Context, sessionID *uint, callerID uint) (*models.Session, error) {
	if sessionID == nil {
		session, err := s.store.CreateSession(ctx, callerID)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		return session, nil
	}

	session, err := s.store.GetSession(ctx, *sessionID)
	if err != nil {
		return nil, err
	}

	allowed, err := s.policy.AllowSession(ctx, session.UserID, callerID)
	if err != nil {
		return nil, fmt.Errorf("evaluate session policy: %w", err)
	}
	if !allowed {
		return nil, ErrSessionForbidden
	}
	return session, nil
}

// buildTurns passes every stored message through verbatim and appends the
// instruction and prompt as the final user turn.
func buildTurns(history []models.Message, prompt, healthData string) []ai.Turn {
	turns := make([]ai.Turn, 0, len(history)+1)
	for _, m := range history {
		turns = append(turns, ai.Turn{Role: ai.Role(m.Role), Text: m.Content})
	}

	final := SystemInstruction + "\n\nSymptoms:\n" + prompt
	if healthData != "" {
		final += "\n\nHealth data:\n" + healthData
	}
	return append(turns, ai.Turn{Role: ai.RoleUser, Text: final})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, repository.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrSessionForbidden):
		return "forbidden"
	case errors.Is(err, ai.ErrProviderUnavailable):
		return "provider_unavailable"
	default:
		return "error"
	}
}
