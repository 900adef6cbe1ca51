// Package gemini implements llm.Provider on top of the Google Gen AI SDK.
package gemini

import (
	"context"
	"encoding/base64"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/zhouzirui/gemini-chat/internal/llm"
	"github.com/zhouzirui/gemini-chat/internal/logging"
	"github.com/zhouzirui/gemini-chat/internal/model/chat"
)

// contentStreamer is the subset of *genai.Models used here.
type contentStreamer interface {
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Provider creates Gemini chat sessions.
type Provider struct {
	models contentStreamer
	model  string
	log    zerolog.Logger
}

var _ llm.Provider = (*Provider)(nil)

// New builds a provider backed by the Gemini Developer API.
func New(ctx context.Context, apiKey, model string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if model == "" {
		return nil, errors.New("gemini model is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gemini client")
	}

	return newProvider(client.Models, model), nil
}

func newProvider(models contentStreamer, model string) *Provider {
	return &Provider{models: models, model: model, log: logging.Component("gemini")}
}

func (p *Provider) Name() string { return "gemini:" + p.model }

// NewSession implements llm.Provider. No request is made until the first send.
func (p *Provider) NewSession(_ context.Context, cfg llm.GenerationConfig) (llm.Session, error) {
	s := &session{
		id:      uuid.NewString(),
		models:  p.models,
		model:   p.model,
		config:  generateConfig(cfg),
		history: llm.NewHistory(cfg.HistoryLimit),
		log:     p.log,
	}
	p.log.Debug().Str("session", s.id).Str("model", p.model).Msg("session created")
	return s, nil
}

func generateConfig(cfg llm.GenerationConfig) *genai.GenerateContentConfig {
	out := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(cfg.Temperature),
		TopK:            genai.Ptr(cfg.TopK),
		TopP:            genai.Ptr(cfg.TopP),
		MaxOutputTokens: cfg.MaxOutputTokens,
	}
	if strings.TrimSpace(cfg.SystemInstruction) != "" {
		out.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.SystemInstruction}}}
	}
	return out
}

type session struct {
	id     string
	models contentStreamer
	model  string
	config *genai.GenerateContentConfig
	log    zerolog.Logger

	mu      sync.Mutex
	history *llm.History
}

func (s *session) ID() string { return s.id }

// SendStream implements llm.Session.
func (s *session) SendStream(ctx context.Context, text string) (llm.Stream, error) {
	s.mu.Lock()
	contents := toContents(s.history.Messages())
	s.mu.Unlock()
	contents = append(contents, &genai.Content{Role: string(llm.RoleUser), Parts: []*genai.Part{{Text: text}}})

	next, stop := iter.Pull2(s.models.GenerateContentStream(ctx, s.model, contents, s.config))
	s.log.Debug().Str("session", s.id).Int("contents", len(contents)).Msg("stream opened")
	return &stream{session: s, prompt: text, next: next, stop: stop}, nil
}

func (s *session) record(prompt, reply string) {
	s.mu.Lock()
	s.history.Record(prompt, reply)
	s.mu.Unlock()
}

func toContents(messages []llm.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages)+1)
	for _, m := range messages {
		contents = append(contents, &genai.Content{Role: string(m.Role), Parts: []*genai.Part{{Text: m.Text}}})
	}
	return contents
}

type stream struct {
	session *session
	prompt  string
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	pending []llm.Chunk
	acc     llm.Accumulator
	done    bool
}

// Recv implements llm.Stream.
func (st *stream) Recv() (llm.Chunk, error) {
	for len(st.pending) == 0 {
		if st.done {
			return llm.Chunk{}, io.EOF
		}
		resp, err, ok := st.next()
		if !ok {
			st.done = true
			st.session.record(st.prompt, st.acc.String())
			return llm.Chunk{}, io.EOF
		}
		if err != nil {
			st.done = true
			return llm.Chunk{}, errors.Wrap(err, "gemini stream")
		}
		st.pending = responseChunks(resp)
	}

	c := st.pending[0]
	st.pending = st.pending[1:]
	st.acc.Add(c)
	return c, nil
}

// Close implements llm.Stream.
func (st *stream) Close() {
	st.stop()
}

// responseChunks flattens the first candidate into one text chunk followed by
// one chunk per image part. Thought parts are dropped.
func responseChunks(resp *genai.GenerateContentResponse) []llm.Chunk {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return nil
	}

	var text strings.Builder
	var images []llm.Chunk
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		switch {
		case part.InlineData != nil && len(part.InlineData.Data) > 0:
			images = append(images, llm.Chunk{Image: &chat.Image{
				URL:      dataURL(part.InlineData.MIMEType, part.InlineData.Data),
				MIMEType: part.InlineData.MIMEType,
			}})
		case part.FileData != nil && part.FileData.FileURI != "":
			images = append(images, llm.Chunk{Image: &chat.Image{
				URL:      part.FileData.FileURI,
				MIMEType: part.FileData.MIMEType,
			}})
		default:
			text.WriteString(part.Text)
		}
	}

	chunks := make([]llm.Chunk, 0, len(images)+1)
	if text.Len() > 0 {
		chunks = append(chunks, llm.Chunk{Text: text.String()})
	}
	return append(chunks, images...)
}

func dataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
