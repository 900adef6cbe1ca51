// Package app assembles the services shared by the HTTP server and the terminal client.
package app

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/gemini-chat/internal/config"
	"github.com/zhouzirui/gemini-chat/internal/llm"
	"github.com/zhouzirui/gemini-chat/internal/llm/ark"
	"github.com/zhouzirui/gemini-chat/internal/llm/gemini"
	"github.com/zhouzirui/gemini-chat/internal/model/profile"
	"github.com/zhouzirui/gemini-chat/internal/presenter"
	"github.com/zhouzirui/gemini-chat/internal/render/markdown"
	"github.com/zhouzirui/gemini-chat/internal/service/chat"
)

// App holds the wired services.
type App struct {
	Provider  llm.Provider
	Profiles  profile.Store
	Chats     *chat.Service
	Presenter *presenter.Presenter
}

// New builds the provider selected by cfg and the services on top of it.
// Missing credentials do not fail startup: every reply then becomes an error turn.
func New(ctx context.Context, cfg config.AIConfig) (*App, error) {
	provider, err := NewProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	profiles := profile.NewMemoryStore(profile.Seed())
	return &App{
		Provider:  provider,
		Profiles:  profiles,
		Chats:     chat.NewService(provider, profiles, Defaults(cfg)),
		Presenter: presenter.New(markdown.New()),
	}, nil
}

// NewProvider returns the configured model backend.
func NewProvider(ctx context.Context, cfg config.AIConfig) (llm.Provider, error) {
	if !cfg.Enabled() {
		log.Warn().Str("provider", cfg.Provider).Msg("AI credentials not configured, replies will fail until they are set")
		return unavailable{name: cfg.Provider}, nil
	}

	switch cfg.Provider {
	case config.ProviderGemini:
		p, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, errors.Wrap(err, "init gemini provider")
		}
		log.Info().Str("model", cfg.GeminiModel).Msg("gemini provider ready")
		return p, nil
	case config.ProviderArk:
		p, err := ark.New(ctx, cfg)
		if err != nil {
			return nil, errors.Wrap(err, "init ark provider")
		}
		log.Info().Str("model", cfg.ArkModel).Msg("ark provider ready")
		return p, nil
	default:
		return nil, errors.Errorf("unknown AI provider %q", cfg.Provider)
	}
}

// Defaults converts the configured sampling settings into generation defaults.
func Defaults(cfg config.AIConfig) llm.GenerationConfig {
	return llm.GenerationConfig{
		Temperature:     cfg.Temperature,
		TopK:            cfg.TopK,
		TopP:            cfg.TopP,
		MaxOutputTokens: cfg.MaxOutputTokens,
		HistoryLimit:    cfg.HistoryLimit,
	}
}

// ErrProviderUnavailable is returned for every session when credentials are missing.
var ErrProviderUnavailable = errors.New("AI provider is not configured")

type unavailable struct {
	name string
}

func (u unavailable) Name() string { return u.name + ":unavailable" }

func (u unavailable) NewSession(context.Context, llm.GenerationConfig) (llm.Session, error) {
	return nil, ErrProviderUnavailable
}
