package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"diagnosai/backend/ai"
	"diagnosai/backend/internal/models"
	"diagnosai/backend/internal/repository"
	"diagnosai/backend/pkg/logger"
	"diagnosai/backend/pkg/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const viralReply = `{"content":{"parts":[{"text":"You likely have a viral infection."}]}}`

func newDiagnosisService(store *memoryStore, provider *fakeProvider) *DiagnosisService {
	return NewDiagnosisService(store, provider, ownerOnly{}, logger.Discard())
}

func TestSubmitNewSession(t *testing.T) {
	store := newMemoryStore()
	provider := &fakeProvider{reply: viralReply}
	svc := newDiagnosisService(store, provider)

	result, err := svc.Submit(context.Background(), DiagnosisInput{Prompt: "I have a fever and cough"}, 1)
	require.NoError(t, err)

	assert.Equal(t, "You likely have a viral infection.", result.DiagnosisText)
	assert.NotZero(t, result.SessionID)

	msgs := store.messagesFor(result.SessionID)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "I have a fever and cough", msgs[0].Content)
	assert.Equal(t, models.RoleModel, msgs[1].Role)
	assert.JSONEq(t, viralReply, msgs[1].Content)

	require.Len(t, store.records, 1)
	assert.Equal(t, uint(1), store.records[0].UserID)
	assert.Equal(t, "I have a fever and cough", store.records[0].Prompt)
	assert.JSONEq(t, viralReply, store.records[0].Diagnosis)
}

func TestSubmitExistingSessionAppendsOnePair(t *testing.T) {
	store := newMemoryStore()
	provider := &fakeProvider{reply: viralReply}
	svc := newDiagnosisService(store, provider)

	first, err := svc.Submit(context.Background(), DiagnosisInput{Prompt: "I have a fever"}, 1)
	require.NoError(t, err)

	provider.reply = `{"text":"Drink fluids."}`
	sessionID := first.SessionID
	second, err := svc.Submit(context.Background(), DiagnosisInput{Prompt: "and a cough", SessionID: &sessionID}, 1)
	require.NoError(t, err)

	assert.Equal(t, sessionID, second.SessionID)
	assert.Equal(t, "Drink fluids.", second.DiagnosisText)

	msgs := store.messagesFor(sessionID)
	require.Len(t, msgs, 4)
	assert.Equal(t, models.RoleUser, msgs[2].Role)
	assert.Equal(t, models.RoleModel, msgs[3].Role)
}

func TestSubmitBuildsTurnsFromHistory(t *testing.T) {
	store := newMemoryStore()
	provider := &fakeProvider{reply: viralReply}
	svc := newDiagnosisService(store, provider)

	first, err := svc.Submit(context.Background(), DiagnosisInput{Prompt: "headache"}, 1)
	require.NoError(t, err)
	sessionID := first.SessionID

	_, err = svc.Submit(context.Background(), DiagnosisInput{
		Prompt:     "still there",
		SessionID:  &sessionID,
		HealthData: "bp 120/80",
		Images:     []string{"xray.png"},
	}, 1)
	require.NoError(t, err)

	turns := provider.calls[1]
	require.Len(t, turns, 4)
	assert.Equal(t, ai.Turn{Role: ai.RoleUser, Text: "headache"}, turns[0])
	// the previous raw reply is re-sent verbatim
	assert.Equal(t, ai.Turn{Role: ai.RoleModel, Text: viralReply}, turns[1])
	assert.Equal(t, ai.Turn{Role: ai.RoleUser, Text: "still there"}, turns[2])

	final := turns[3]
	assert.Equal(t, ai.RoleUser, final.Role)
	assert.True(t, strings.HasPrefix(final.Text, SystemInstruction+"\n\nSymptoms:\nstill there"))
	assert.True(t, strings.HasSuffix(final.Text, "\n\nHealth data:\nbp 120/80"))
	assert.NotContains(t, final.Text, "xray.png")
}

func TestSubmitSessionNotFound(t *testing.T) {
	store := newMemoryStore()
	provider := &fakeProvider{reply: viralReply}
	svc := newDiagnosisService(store, provider)

	missing := uint(404)
	_, err := svc.Submit(context.Background(), DiagnosisInput{Prompt: "hi", SessionID: &missing}, 1)

	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
	assert.Empty(t, store.messages)
	assert.Empty(t, provider.calls)
}

func TestSubmitForbiddenSession(t *testing.T) {
	store := newMemoryStore()
	provider := &fakeProvider{reply: viralReply}
	svc := newDiagnosisService(store, provider)

	owned, err := svc.Submit(context.Background(), DiagnosisInput{Prompt: "mine"}, 1)
	require.NoError(t, err)

	sessionID := owned.SessionID
	_, err = svc.Submit(context.Background(), DiagnosisInput{Prompt: "not mine", SessionID: &sessionID}, 2)

	assert.ErrorIs(t, err, ErrSessionForbidden)
	assert.Len(t, store.messagesFor(sessionID), 2)
}

func TestSubmitSharedSessionsWithOPAPolicy(t *testing.T) {
	engine, err := policy.NewEngine(context.Background(), policy.SharedSessionPolicy)
	require.NoError(t, err)

	store := newMemoryStore()
	svc := NewDiagnosisService(store, &fakeProvider{reply: viralReply}, engine, logger.Discard())

	owned, err := svc.Submit(context.Background(), DiagnosisInput{Prompt: "mine"}, 1)
	require.NoError(t, err)

	sessionID := owned.SessionID
	_, err = svc.Submit(context.Background(), DiagnosisInput{Prompt: "shared", SessionID: &sessionID}, 2)
	require.NoError(t, err)
	assert.Len(t, store.messagesFor(sessionID), 4)
}

func TestSubmitProviderFailureKeepsUserMessage(t *testing.T) {
	store := newMemoryStore()
	provider := &fakeProvider{err: fmt.Errorf("%w: timeout", ai.ErrProviderUnavailable)}
	svc := newDiagnosisService(store, provider)

	_, err := svc.Submit(context.Background(), DiagnosisInput{Prompt: "hello"}, 1)
	assert.ErrorIs(t, err, ai.ErrProviderUnavailable)

	require.Len(t, store.messages, 1)
	assert.Equal(t, models.RoleUser, store.messages[0].Role)
	assert.Empty(t, store.records)
}

func TestSubmitUnrecognizedReplyUsesSentinel(t *testing.T) {
	store := newMemoryStore()
	svc := newDiagnosisService(store, &fakeProvider{reply: `{}`})

	result, err := svc.Submit(context.Background(), DiagnosisInput{Prompt: "hello"}, 1)
	require.NoError(t, err)
	assert.Equal(t, ai.NoDiagnosisText, result.DiagnosisText)
	assert.Equal(t, "{}", store.messagesFor(result.SessionID)[1].Content)
}

func TestSubmitStorageFailurePropagates(t *testing.T) {
	store := newMemoryStore()
	store.failOn = "append:model"
	svc := newDiagnosisService(store, &fakeProvider{reply: viralReply})

	_, err := svc.Submit(context.Background(), DiagnosisInput{Prompt: "hello"}, 1)
	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, store.records)
}

func TestSubmitIgnoresCallerCancellation(t *testing.T) {
	store := newMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	provider := &fakeProvider{reply: viralReply, hook: cancel}
	svc := newDiagnosisService(store, provider)

	result, err := svc.Submit(ctx, DiagnosisInput{Prompt: "hello"}, 1)
	require.NoError(t, err)
	assert.Len(t, store.messagesFor(result.SessionID), 2)
}

func TestSubmitSerializesSameSession(t *testing.T) {
	store := newMemoryStore()
	svc := newDiagnosisService(store, &fakeProvider{reply: viralReply, hook: func() { time.Sleep(5 * time.Millisecond) }})

	first, err := svc.Submit(context.Background(), DiagnosisInput{Prompt: "start"}, 1)
	require.NoError(t, err)
	sessionID := first.SessionID

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Submit(context.Background(), DiagnosisInput{Prompt: fmt.Sprintf("q%d", i), SessionID: &sessionID}, 1)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs := store.messagesFor(sessionID)
	require.Len(t, msgs, 12)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, models.RoleUser, msgs[i].Role, "message %d", i)
		assert.Equal(t, models.RoleModel, msgs[i+1].Role, "message %d", i+1)
	}
	assert.Zero(t, svc.locks.len())
}

func TestHistory(t *testing.T) {
	store := newMemoryStore()
	svc := newDiagnosisService(store, &fakeProvider{reply: viralReply})

	result, err := svc.Submit(context.Background(), DiagnosisInput{Prompt: "hello"}, 1)
	require.NoError(t, err)

	msgs, err := svc.History(context.Background(), result.SessionID, 1)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	_, err = svc.History(context.Background(), result.SessionID, 2)
	assert.ErrorIs(t, err, ErrSessionForbidden)

	_, err = svc.History(context.Background(), 999, 1)
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
}

func TestSessionLocksRelease(t *testing.T) {
	locks := newSessionLocks()
	unlock := locks.Lock(1)
	assert.Equal(t, 1, locks.len())

	done := make(chan struct{})
	go func() {
		defer close(done)
		locks.Lock(1)()
	}()

	select {
	case <-done:
		t.Fatal("second lock acquired while first is held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	<-done
	assert.Zero(t, locks.len())
}
