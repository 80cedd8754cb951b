package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"diagnosai/backend/ai"
	"diagnosai/backend/internal/models"
	"diagnosai/backend/internal/repository"
)

type memoryStore struct {
	mu       sync.Mutex
	sessions map[uint]*models.Session
	messages []models.Message
	records  []models.DiagnosisRecord
	nextID   uint
	failOn   string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[uint]*models.Session)}
}

func (s *memoryStore) id() uint {
	s.nextID++
	return s.nextID
}

func (s *memoryStore) CreateSession(_ context.Context, ownerID uint) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := &models.Session{ID: s.id(), UserID: ownerID, CreatedAt: time.Now()}
	s.sessions[session.ID] = session
	return session, nil
}

func (s *memoryStore) GetSession(_ context.Context, id uint) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return session, nil
}

func (s *memoryStore) AppendMessage(_ context.Context, sessionID uint, role models.Role, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == "append:"+string(role) {
		return nil, errors.New("disk full")
	}
	msg := models.Message{ID: s.id(), SessionID: sessionID, Role: role, Content: content, CreatedAt: time.Now()}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *memoryStore) ListMessages(_ context.Context, sessionID uint) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memoryStore) CreateDiagnosisRecord(_ context.Context, ownerID uint, prompt, diagnosis string) (*models.DiagnosisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := models.DiagnosisRecord{ID: s.id(), UserID: ownerID, Prompt: prompt, Diagnosis: diagnosis}
	s.records = append(s.records, record)
	return &record, nil
}

func (s *memoryStore) messagesFor(sessionID uint) []models.Message {
	msgs, _ := s.ListMessages(context.Background(), sessionID)
	return msgs
}

type fakeProvider struct {
	mu    sync.Mutex
	reply string
	err   error
	calls [][]ai.Turn
	hook  func()
}

func (p *fakeProvider) Send(_ context.Context, turns []ai.Turn) (ai.RawReply, error) {
	if p.hook != nil {
		p.hook()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, turns)
	if p.err != nil {
		return nil, p.err
	}
	return ai.RawReply(p.reply), nil
}

type ownerOnly struct{}

func (ownerOnly) AllowSession(_ context.Context, owner, caller uint) (bool, error) {
	return owner == caller, nil
}

type fakeWHO struct {
	countries []Country
	data      json.RawMessage
	err       error
	calls     int
}

func (f *fakeWHO) Countries(context.Context) ([]Country, error) {
	f.calls++
	return f.countries, f.err
}

func (f *fakeWHO) Indicators(context.Context, string) (json.RawMessage, error) {
	f.calls++
	return f.data, f.err
}
