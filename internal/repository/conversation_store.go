package repository

import (
	"context"
	"errors"

	"diagnosai/backend/internal/models"

	"gorm.io/gorm"
)

// ErrSessionNotFound is returned when a session id does not exist
var ErrSessionNotFound = errors.New("session not found")

// ConversationStore is the durable, ordered message log behind diagnosis
// sessions. Every method is its own atomic unit.
type ConversationStore interface {
	CreateSession(ctx context.Context, ownerID uint) (*models.Session, error)
	GetSession(ctx context.Context, id uint) (*models.Session, error)
	AppendMessage(ctx context.Context, sessionID uint, role models.Role, content string) (*models.Message, error)
	// ListMessages returns the messages of a session oldest first
	ListMessages(ctx context.Context, sessionID uint) ([]models.Message, error)
	CreateDiagnosisRecord(ctx context.Context, ownerID uint, prompt, diagnosis string) (*models.DiagnosisRecord, error)
}

type GormConversationStore struct {
	db *gorm.DB
}

func NewGormConversationStore(db *gorm.DB) *GormConversationStore {
	return &GormConversationStore{db: db}
}

func (s *GormConversationStore) CreateSession(ctx context.Context, ownerID uint) (*models.Session, error) {
	session := &models.Session{UserID: ownerID}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

func (s *GormConversationStore) GetSession(ctx context.Context, id uint) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).First(&session, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *GormConversationStore) AppendMessage(ctx context.Context, sessionID uint, role models.Role, content string) (*models.Message, error) {
	msg := &models.Message{SessionID: sessionID, Role: role, Content: content}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *GormConversationStore) ListMessages(ctx context.Context, sessionID uint) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error
	return messages, err
}

func (s *GormConversationStore) CreateDiagnosisRecord(ctx context.Context, ownerID uint, prompt, diagnosis string) (*models.DiagnosisRecord, error) {
	record := &models.DiagnosisRecord{UserID: ownerID, Prompt: prompt, Diagnosis: diagnosis}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}
