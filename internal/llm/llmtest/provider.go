// Package llmtest provides a scripted in-memory llm.Provider for tests.
package llmtest

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/gemini-chat/internal/llm"
)

type event struct {
	chunk llm.Chunk
	err   error
}

type reply struct {
	chunks []llm.Chunk
	err    error
}

// Provider hands out sessions whose streams are either pre-scripted with
// QueueReply/QueueFailure or driven by hand through the returned *Stream.
type Provider struct {
	mu sync.Mutex

	// NewSessionErr makes NewSession fail.
	NewSessionErr error
	// SendErr makes SendStream fail before any stream exists.
	SendErr error

	replies  []reply
	sessions []*Session
	streams  []*Stream
	sends    []string
}

var _ llm.Provider = (*Provider)(nil)

// New returns an empty scripted provider.
func New() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string { return "llmtest" }

// QueueReply scripts the next stream to deliver texts then end normally.
func (p *Provider) QueueReply(texts ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, reply{chunks: textChunks(texts), err: io.EOF})
}

// QueueChunks scripts the next stream with arbitrary chunks.
func (p *Provider) QueueChunks(chunks ...llm.Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, reply{chunks: chunks, err: io.EOF})
}

// QueueFailure scripts the next stream to deliver texts then fail with err.
func (p *Provider) QueueFailure(err error, texts ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, reply{chunks: textChunks(texts), err: err})
}

// NewSession implements llm.Provider.
func (p *Provider) NewSession(_ context.Context, cfg llm.GenerationConfig) (llm.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NewSessionErr != nil {
		return nil, p.NewSessionErr
	}
	s := &Session{provider: p, id: uuid.NewString(), Config: cfg, history: llm.NewHistory(cfg.HistoryLimit)}
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Sessions returns every session created so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// Sends returns the texts passed to SendStream, in order.
func (p *Provider) Sends() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sends...)
}

// LastStream returns the most recently opened stream, or nil.
func (p *Provider) LastStream() *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}

// Session is a scripted llm.Session.
type Session struct {
	provider *Provider
	id       string
	Config   llm.GenerationConfig

	mu      sync.Mutex
	history *llm.History
}

func (s *Session) ID() string { return s.id }

// History returns the messages recorded after completed streams.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Messages()
}

// SendStream implements llm.Session.
func (s *Session) SendStream(ctx context.Context, text string) (llm.Stream, error) {
	p := s.provider
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sends = append(p.sends, text)
	if p.SendErr != nil {
		return nil, p.SendErr
	}

	size := 64
	if len(p.replies) > 0 {
		size = max(size, len(p.replies[0].chunks)+1)
	}
	st := &Stream{ctx: ctx, session: s, prompt: text, events: make(chan event, size), closed: make(chan struct{})}
	if len(p.replies) > 0 {
		r := p.replies[0]
		p.replies = p.replies[1:]
		for _, c := range r.chunks {
			st.events <- event{chunk: c}
		}
		st.events <- event{err: r.err}
	}
	p.streams = append(p.streams, st)
	return st, nil
}

// Stream is a scripted llm.Stream. Unscripted streams block in Recv until
// Push, Finish or Fail is called, or the context is canceled.
type Stream struct {
	ctx     context.Context
	session *Session
	prompt  string
	events  chan event
	acc     llm.Accumulator

	closeOnce sync.Once
	closed    chan struct{}
}

// Push delivers a text chunk.
func (s *Stream) Push(text string) { s.events <- event{chunk: llm.Chunk{Text: text}} }

// PushChunk delivers an arbitrary chunk.
func (s *Stream) PushChunk(c llm.Chunk) { s.events <- event{chunk: c} }

// Finish ends the stream normally.
func (s *Stream) Finish() { s.events <- event{err: io.EOF} }

// Fail ends the stream with err.
func (s *Stream) Fail(err error) { s.events <- event{err: err} }

// Closed reports whether the consumer closed the stream.
func (s *Stream) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Recv implements llm.Stream.
func (s *Stream) Recv() (llm.Chunk, error) {
	select {
	case <-s.ctx.Done():
		return llm.Chunk{}, s.ctx.Err()
	case ev := <-s.events:
		if ev.err == io.EOF {
			s.session.mu.Lock()
			s.session.history.Record(s.prompt, s.acc.String())
			s.session.mu.Unlock()
		}
		if ev.err != nil {
			return llm.Chunk{}, ev.err
		}
		s.acc.Add(ev.chunk)
		return ev.chunk, nil
	}
}

// Close implements llm.Stream.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func textChunks(texts []string) []llm.Chunk {
	chunks := make([]llm.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = llm.Chunk{Text: t}
	}
	return chunks
}
