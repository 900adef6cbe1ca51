// Package ark implements llm.Provider with a CloudWeGo Eino chain over the
// Volcengine Ark chat model.
package ark

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/gemini-chat/internal/config"
	"github.com/zhouzirui/gemini-chat/internal/llm"
	"github.com/zhouzirui/gemini-chat/internal/logging"
)

// defaultSystemPrompt fills the template slot when a profile has no instruction.
const defaultSystemPrompt = "You are a helpful assistant. Format answers in Markdown."

// Provider encapsulates the compiled chat chain shared by all sessions.
type Provider struct {
	chatModel model.BaseChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
	log       zerolog.Logger
}

var _ llm.Provider = (*Provider)(nil)

// New creates the Ark chat model from configuration and compiles the chain.
func New(ctx context.Context, cfg config.AIConfig) (*Provider, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create chat model")
	}
	return NewWithModel(ctx, chatModel)
}

// NewWithModel compiles the chain around an existing chat model.
func NewWithModel(ctx context.Context, chatModel model.BaseChatModel) (*Provider, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile chat chain")
	}

	return &Provider{
		chatModel: chatModel,
		chain:     runnable,
		log:       logging.Component("ark"),
	}, nil
}

func (p *Provider) Name() string { return "ark" }

// NewSession implements llm.Provider.
func (p *Provider) NewSession(_ context.Context, cfg llm.GenerationConfig) (llm.Session, error) {
	system := strings.TrimSpace(cfg.SystemInstruction)
	if system == "" {
		system = defaultSystemPrompt
	}

	if cfg.TopK > 1 {
		p.log.Debug().Float32("top_k", cfg.TopK).Msg("ark does not support top-k sampling, ignoring")
	}

	opts := []model.Option{model.WithTemperature(cfg.Temperature), model.WithTopP(cfg.TopP)}
	if cfg.MaxOutputTokens > 0 {
		opts = append(opts, model.WithMaxTokens(int(cfg.MaxOutputTokens)))
	}

	return &session{
		id:      uuid.NewString(),
		chain:   p.chain,
		system:  system,
		options: opts,
		history: llm.NewHistory(cfg.HistoryLimit),
		log:     p.log,
	}, nil
}

type session struct {
	id      string
	chain   compose.Runnable[map[string]any, *schema.Message]
	system  string
	options []model.Option
	log     zerolog.Logger

	mu      sync.Mutex
	history *llm.History
}

func (s *session) ID() string { return s.id }

// SendStream implements llm.Session.
func (s *session) SendStream(ctx context.Context, text string) (llm.Stream, error) {
	s.mu.Lock()
	input := s.buildChainInput(text)
	s.mu.Unlock()

	reader, err := s.chain.Stream(ctx, input, compose.WithChatModelOption(s.options...))
	if err != nil {
		return nil, errors.Wrap(err, "failed to stream AI chain output")
	}

	s.log.Debug().Str("session", s.id).Msg("stream opened")
	return &stream{session: s, prompt: text, reader: reader}, nil
}

// buildChainInput must be called with s.mu held.
func (s *session) buildChainInput(query string) map[string]any {
	return map[string]any{
		"system":  s.system,
		"history": historyMessages(s.history.Messages()),
		"query":   query,
	}
}

func historyMessages(messages []llm.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleUser:
			history = append(history, schema.UserMessage(msg.Text))
		case llm.RoleModel:
			history = append(history, schema.AssistantMessage(msg.Text, nil))
		}
	}
	return history
}

type stream struct {
	session *session
	prompt  string
	reader  *schema.StreamReader[*schema.Message]
	acc     llm.Accumulator
}

// Recv implements llm.Stream.
func (st *stream) Recv() (llm.Chunk, error) {
	for {
		msg, err := st.reader.Recv()
		if errors.Is(err, io.EOF) {
			st.session.mu.Lock()
			st.session.history.Record(st.prompt, st.acc.String())
			st.session.mu.Unlock()
			return llm.Chunk{}, io.EOF
		}
		if err != nil {
			return llm.Chunk{}, errors.Wrap(err, "ark stream recv")
		}
		if msg == nil || msg.Content == "" {
			continue
		}

		c := llm.Chunk{Text: msg.Content}
		st.acc.Add(c)
		return c, nil
	}
}

// Close implements llm.Stream.
func (st *stream) Close() {
	st.reader.Close()
}
