package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"pdfchat/internal/ai"
	"pdfchat/internal/chunk"
	"pdfchat/internal/fingerprint"
	"pdfchat/internal/index"
	"pdfchat/internal/loader"
	"pdfchat/internal/model"
	"pdfchat/internal/pkg/retry"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrQuestionEmpty   = errors.New("question is empty")
	ErrSessionNotFound = errors.New("session not found")
)

const (
	answerSystemPrompt = "You are a helpful assistant. Answer the user's question based only on the " +
		"provided document context and the conversation so far. If the context does not contain " +
		"enough information, say so. Do not make up facts."

	condenseSystemPrompt = "Given the following conversation and a follow up question, rephrase the " +
		"follow up question to be a standalone question, preserving every name and reference " +
		"mentioned in the conversation."

	// historyFetchLimit bounds the storage read backing the history cache.
	// The cache always holds the untrimmed fetch so a small-limit request
	// cannot pin a truncated copy for later readers.
	historyFetchLimit = 200
)

// DocumentIndexStore hands out the index for a fingerprint, building it on
// first use.
type DocumentIndexStore interface {
	GetOrBuild(ctx context.Context, fp string, textFn func(ctx context.Context) (string, error)) (*index.DocumentIndex, error)
}

// Retriever returns the grounding chunks for a query against an index.
type Retriever interface {
	Retrieve(ctx context.Context, idx *index.DocumentIndex, query string, k int) ([]chunk.Chunk, error)
}

// Generator is the chat-completion capability.
type Generator interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (string, error)
}

// TurnPublisher enqueues committed turns for durable persistence.
type TurnPublisher interface {
	Publish(ctx context.Context, turn model.Turn) error
}

// HistoryCache is the read-path cache over persisted turns.
type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID string) ([]model.Turn, bool, error)
	SetHistory(ctx context.Context, sessionID string, turns []model.Turn) error
	DeleteHistory(ctx context.Context, sessionID string) error
	MarkDirty(ctx context.Context, sessionID string) error
	IsDirty(ctx context.Context, sessionID string) (bool, error)
}

// SessionStore persists session rows.
type SessionStore interface {
	Create(ctx context.Context, session *model.Session) error
	GetByID(ctx context.Context, id string) (*model.Session, error)
}

// TurnStore reads persisted turns.
type TurnStore interface {
	ListBySessionID(ctx context.Context, sessionID string, limit int) ([]model.Turn, error)
}

// ChatService drives the conversational retrieval loop: resolve the
// session, ensure the document index, rewrite the question against history,
// retrieve grounding chunks, generate, and commit the turn.
type ChatService struct {
	sessions     *SessionManager
	sessionStore SessionStore
	turnStore    TurnStore
	indexStore   DocumentIndexStore
	retriever    Retriever
	generator    Generator
	docLoader    loader.Loader
	publisher    TurnPublisher
	historyCache HistoryCache
	logger       *zap.Logger

	topK            int
	maxHistoryTurns int
	maxRetries      int
}

type ChatServiceConfig struct {
	TopK            int
	MaxHistoryTurns int
	MaxRetries      int
}

func NewChatService(
	sessions *SessionManager,
	sessionStore SessionStore,
	turnStore TurnStore,
	indexStore DocumentIndexStore,
	retriever Retriever,
	generator Generator,
	docLoader loader.Loader,
	publisher TurnPublisher,
	historyCache HistoryCache,
	logger *zap.Logger,
	cfg ChatServiceConfig,
) *ChatService {
	if cfg.TopK <= 0 {
		cfg.TopK = index.DefaultTopK
	}
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = 20
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = retry.DefaultAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		sessions:        sessions,
		sessionStore:    sessionStore,
		turnStore:       turnStore,
		indexStore:      indexStore,
		retriever:       retriever,
		generator:       generator,
		docLoader:       docLoader,
		publisher:       publisher,
		historyCache:    historyCache,
		logger:          logger,
		topK:            cfg.TopK,
		maxHistoryTurns: cfg.MaxHistoryTurns,
		maxRetries:      cfg.MaxRetries,
	}
}

type ConverseInput struct {
	SessionID string // empty starts a new session; Locator is then required
	Locator   string
	Question  string
	Subject   string
}

type ConverseResult struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

// Converse answers one user message grounded in the session's document.
// The turn is committed only after generation succeeds; any failure leaves
// the session's history exactly as it was.
func (s *ChatService) Converse(ctx context.Context, input ConverseInput) (*ConverseResult, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, ErrQuestionEmpty
	}

	session, err := s.resolveSession(ctx, input)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	idx, err := s.indexStore.GetOrBuild(ctx, session.Fingerprint, func(ctx context.Context) (string, error) {
		return s.docLoader.Load(ctx, session.Locator)
	})
	if err != nil {
		return nil, err
	}

	rewritten := s.rewriteQuestion(ctx, session.turns, question)

	grounding, err := s.retriever.Retrieve(ctx, idx, rewritten, s.topK)
	if err != nil {
		return nil, err
	}

	messages := s.buildPromptMessages(grounding, session.turns, question)

	var answer string
	err = retry.Do(ctx, s.maxRetries, 500*time.Millisecond, ai.IsTransient, func() error {
		var genErr error
		answer, genErr = s.generator.Complete(ctx, messages)
		return genErr
	})
	if err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = "The model returned an empty response."
	}

	s.commitTurn(ctx, session, question, answer)

	return &ConverseResult{SessionID: session.ID, Answer: answer}, nil
}

// resolveSession looks up an existing session or creates one bound to the
// locator's fingerprint.
func (s *ChatService) resolveSession(ctx context.Context, input ConverseInput) (*Session, error) {
	if id := strings.TrimSpace(input.SessionID); id != "" {
		session, ok := s.sessions.Get(id)
		if !ok {
			return nil, ErrSessionNotFound
		}
		return session, nil
	}

	locator := strings.TrimSpace(input.Locator)
	if locator == "" {
		return nil, fmt.Errorf("%w: locator required for a new session", ErrInvalidInput)
	}

	fp := fingerprint.New(locator)
	session := s.sessions.Create(fp, locator, input.Subject)

	if s.sessionStore != nil {
		if err := s.sessionStore.Create(ctx, &model.Session{
			ID:          session.ID,
			Fingerprint: fp,
			Locator:     locator,
			Subject:     input.Subject,
			CreatedAt:   session.CreatedAt,
		}); err != nil {
			s.logger.Warn("persist session failed", zap.String("session_id", session.ID), zap.Error(err))
		}
	}

	s.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("fingerprint", fp))
	return session, nil
}

// rewriteQuestion condenses the question plus the full prior history into a
// standalone retrieval query. With no history the question passes through.
// If the condense call fails, the history is concatenated in order instead,
// so earlier references are never dropped.
func (s *ChatService) rewriteQuestion(ctx context.Context, turns []model.Turn, question string) string {
	if len(turns) == 0 {
		return question
	}

	var b strings.Builder
	for _, t := range turns {
		b.WriteString("Human: ")
		b.WriteString(t.Question)
		b.WriteString("\nAssistant: ")
		b.WriteString(t.Answer)
		b.WriteString("\n")
	}
	transcript := b.String()

	prompt := []ai.ChatMessage{
		{Role: ai.RoleSystem, Content: condenseSystemPrompt},
		{Role: ai.RoleUser, Content: transcript + "\nFollow up question: " + question + "\nStandalone question:"},
	}

	rewritten, err := s.generator.Complete(ctx, prompt)
	if err != nil || strings.TrimSpace(rewritten) == "" {
		s.logger.Warn("question condense failed, falling back to transcript query", zap.Error(err))
		return transcript + "\n" + question
	}
	return strings.TrimSpace(rewritten)
}

// buildPromptMessages assembles system instructions, the grounding context
// block, the recent history and the current question.
func (s *ChatService) buildPromptMessages(grounding []chunk.Chunk, turns []model.Turn, question string) []ai.ChatMessage {
	var contextBlock strings.Builder
	for _, c := range grounding {
		contextBlock.WriteString("\n---\n")
		contextBlock.WriteString(c.Text)
	}
	if len(grounding) > 0 {
		contextBlock.WriteString("\n---")
	}

	recent := turns
	if len(recent) > s.maxHistoryTurns {
		recent = recent[len(recent)-s.maxHistoryTurns:]
	}

	messages := make([]ai.ChatMessage, 0, 2*len(recent)+2)
	messages = append(messages, ai.ChatMessage{
		Role:    ai.RoleSystem,
		Content: answerSystemPrompt + "\n\nContext:" + contextBlock.String(),
	})
	for _, t := range recent {
		messages = append(messages,
			ai.ChatMessage{Role: ai.RoleUser, Content: t.Question},
			ai.ChatMessage{Role: ai.RoleAssistant, Content: t.Answer},
		)
	}
	messages = append(messages, ai.ChatMessage{Role: ai.RoleUser, Content: question})
	return messages
}

// commitTurn appends the finished exchange and hands it to the durable
// persistence path. Queue or cache hiccups never fail a served answer.
func (s *ChatService) commitTurn(ctx context.Context, session *Session, question, answer string) {
	turn := model.Turn{
		SessionID: session.ID,
		Question:  question,
		Answer:    answer,
		CreatedAt: time.Now(),
	}
	session.turns = append(session.turns, turn)

	if s.historyCache != nil {
		if err := s.historyCache.MarkDirty(ctx, session.ID); err != nil {
			s.logger.Warn("mark history dirty failed", zap.String("session_id", session.ID), zap.Error(err))
		}
		if err := s.historyCache.DeleteHistory(ctx, session.ID); err != nil {
			s.logger.Warn("invalidate history cache failed", zap.String("session_id", session.ID), zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, turn); err != nil {
			s.logger.Error("publish turn for persistence failed",
				zap.String("session_id", session.ID), zap.Error(err))
		}
	}
}

// GetHistory serves persisted turns through the cache-aside path. The dirty
// marker keeps the cache honest while committed turns drain from the queue.
func (s *ChatService) GetHistory(ctx context.Context, sessionID string, limit int) ([]model.Turn, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidInput
	}
	if _, ok := s.sessions.Get(sessionID); !ok {
		if s.sessionStore == nil {
			return nil, ErrSessionNotFound
		}
		row, err := s.sessionStore.GetByID(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, ErrSessionNotFound
		}
	}

	if s.historyCache != nil {
		if dirty, err := s.historyCache.IsDirty(ctx, sessionID); err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, sessionID); cacheErr == nil && hit {
				return trimTurns(cached, limit), nil
			}
		}
	}

	turns, err := s.turnStore.ListBySessionID(ctx, sessionID, historyFetchLimit)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, sessionID); dirtyErr == nil && !dirty {
			if err := s.historyCache.SetHistory(ctx, sessionID, turns); err != nil {
				s.logger.Warn("set history cache failed", zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}
	return trimTurns(turns, limit), nil
}

func trimTurns(turns []model.Turn, limit int) []model.Turn {
	if limit <= 0 || limit >= len(turns) {
		return turns
	}
	return turns[len(turns)-limit:]
}
