package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/gemini-chat/internal/llm"
	"github.com/zhouzirui/gemini-chat/internal/logging"
	"github.com/zhouzirui/gemini-chat/internal/model/chat"
	"github.com/zhouzirui/gemini-chat/internal/model/profile"
	"github.com/zhouzirui/gemini-chat/internal/service/transcript"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrSessionNotFound = errors.New("session not found")
)

type entry struct {
	session    chat.Session
	controller *transcript.Controller
}

// Service keeps one transcript controller per open chat. Nothing outlives the process.
type Service struct {
	provider llm.Provider
	profiles profile.Store
	defaults llm.GenerationConfig
	log      zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewService wires the registry to a model provider. defaults supplies every
// generation setting a profile leaves unset.
func NewService(provider llm.Provider, profiles profile.Store, defaults llm.GenerationConfig) *Service {
	return &Service{
		provider: provider,
		profiles: profiles,
		defaults: defaults,
		log:      logging.Component("chat"),
		sessions: make(map[string]*entry),
	}
}

// CreateSession opens a chat bound to a profile; an empty profileID selects the default profile.
func (s *Service) CreateSession(_ context.Context, profileID string) (chat.Session, error) {
	if profileID == "" {
		profileID = profile.DefaultID
	}
	p, ok := s.profiles.FindByID(profileID)
	if !ok {
		return chat.Session{}, errors.Wrapf(ErrProfileNotFound, "profile %q", profileID)
	}

	session := chat.Session{
		ID:        uuid.NewString(),
		ProfileID: p.ID,
		CreatedAt: time.Now().UTC(),
	}
	ctrl := transcript.New(s.provider, GenerationConfig(s.defaults, p))

	s.mu.Lock()
	s.sessions[session.ID] = &entry{session: session, controller: ctrl}
	s.mu.Unlock()

	s.log.Info().Str("session", session.ID).Str("profile", p.ID).Msg("chat opened")
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return e.session, nil
}

// Controller returns the transcript controller of a session.
func (s *Service) Controller(sessionID string) (*transcript.Controller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.controller, nil
}

// CloseSession cancels the session's stream and forgets it.
func (s *Service) CloseSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	e.controller.Close()
	s.log.Info().Str("session", sessionID).Msg("chat closed")
	return nil
}

// Count returns the number of open chats.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// EvictIdle closes chats whose last activity is older than ttl and that are
// not generating. It returns the number of evicted chats.
func (s *Service) EvictIdle(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}

	s.mu.Lock()
	var stale []*entry
	for id, e := range s.sessions {
		if e.controller.Phase().Generating() {
			continue
		}
		if now.Sub(e.controller.LastActivity()) > ttl {
			stale = append(stale, e)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, e := range stale {
		e.controller.Close()
		s.log.Info().Str("session", e.session.ID).Msg("idle chat evicted")
	}
	return len(stale)
}

// RunJanitor evicts idle chats every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval, ttl time.Duration) error {
	if interval <= 0 || ttl <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			s.EvictIdle(t, ttl)
		}
	}
}

// Shutdown closes every open chat.
func (s *Service) Shutdown() {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range all {
		e.controller.Close()
	}
}

// GenerationConfig overlays a profile on the configured defaults.
func GenerationConfig(defaults llm.GenerationConfig, p profile.Profile) llm.GenerationConfig {
	cfg := defaults
	if p.Temperature != nil {
		cfg.Temperature = *p.Temperature
	}
	if p.TopK != nil {
		cfg.TopK = *p.TopK
	}
	if p.TopP != nil {
		cfg.TopP = *p.TopP
	}
	if p.MaxOutputTokens != nil {
		cfg.MaxOutputTokens = *p.MaxOutputTokens
	}
	if p.SystemInstruction != "" {
		cfg.SystemInstruction = p.SystemInstruction
	}
	return cfg
}
