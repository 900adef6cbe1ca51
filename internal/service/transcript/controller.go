// Package transcript owns the chat transcript and the model session behind it.
//
// A Controller appends the user's turn and an agent placeholder on Submit,
// then merges streamed chunks into that placeholder until the stream ends or
// fails. Every mutation publishes a Snapshot to subscribers.
package transcript

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/gemini-chat/internal/llm"
	"github.com/zhouzirui/gemini-chat/internal/logging"
	"github.com/zhouzirui/gemini-chat/internal/model/chat"
)

// ErrGenerationInProgress is returned by Submit while the previous reply is still streaming.
var ErrGenerationInProgress = errors.New("a reply is still being generated")

// Phase is the per-submission state.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseAwaitingFirstChunk Phase = "awaiting_first_chunk"
	PhaseStreaming          Phase = "streaming"
	PhaseDone               Phase = "done"
	PhaseErrored            Phase = "errored"
)

// Generating reports whether a turn is currently open.
func (p Phase) Generating() bool {
	return p == PhaseAwaitingFirstChunk || p == PhaseStreaming
}

// Snapshot is an immutable copy of the controller state.
type Snapshot struct {
	Turns    []chat.Turn
	Phase    Phase
	HandleID string
	// Version increases with every published change.
	Version uint64
}

// Controller holds one chat's transcript and model session. Its methods are safe for concurrent use.
type Controller struct {
	provider llm.Provider
	config   llm.GenerationConfig
	log      zerolog.Logger
	now      func() time.Time

	mu           sync.Mutex
	session      llm.Session
	turns        []chat.Turn
	buffer       strings.Builder
	phase        Phase
	epoch        uint64
	version      uint64
	cancel       context.CancelFunc
	done         chan struct{}
	lastErr      error
	lastActivity time.Time
	closed       bool
	subscribers  map[chan Snapshot]struct{}
}

// New returns an empty controller. The model session is created on first use.
func New(provider llm.Provider, cfg llm.GenerationConfig) *Controller {
	c := &Controller{
		provider:    provider,
		config:      cfg,
		log:         logging.Component("transcript"),
		now:         time.Now,
		phase:       PhaseIdle,
		subscribers: make(map[chan Snapshot]struct{}),
	}
	c.lastActivity = c.now()
	return c
}

// Submit sends text to the model. Blank text is ignored. The reply streams
// in the background; ctx values are kept but its cancellation is not, so the
// stream outlives the caller (for example an HTTP request).
func (c *Controller) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("transcript controller is closed")
	}
	if c.phase.Generating() {
		c.mu.Unlock()
		return ErrGenerationInProgress
	}

	c.turns = append(c.turns, chat.UserTurn(text), chat.PendingAgentTurn())
	c.buffer.Reset()
	c.phase = PhaseAwaitingFirstChunk
	c.epoch++
	epoch := c.epoch

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done
	c.touchLocked()
	c.publishLocked()
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		c.run(streamCtx, epoch, text)
	}()
	return nil
}

// run establishes and consumes one stream on its own goroutine.
func (c *Controller) run(ctx context.Context, epoch uint64, text string) {
	session, err := c.ensureSession(ctx, epoch)
	if err != nil {
		c.fail(epoch, err)
		return
	}

	stream, err := session.SendStream(ctx, text)
	if err != nil {
		c.fail(epoch, err)
		return
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			c.complete(epoch)
			return
		}
		if err != nil {
			c.fail(epoch, err)
			return
		}
		if !c.apply(epoch, chunk) {
			// Discarded by a reset; stop reading.
			return
		}
	}
}

func (c *Controller) ensureSession(ctx context.Context, epoch uint64) (llm.Session, error) {
	c.mu.Lock()
	if c.session != nil {
		s := c.session
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	s, err := c.provider.NewSession(ctx, c.config)
	if err != nil {
		return nil, errors.Wrap(err, "create model session")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return nil, context.Canceled
	}
	if c.session == nil {
		c.session = s
		c.log.Debug().Str("handle", s.ID()).Msg("model session created")
	}
	return c.session, nil
}

// OnChunk merges partial text into the generating turn.
func (c *Controller) OnChunk(partial string) {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	c.apply(epoch, llm.Chunk{Text: partial})
}

// OnStreamComplete closes the generating turn.
func (c *Controller) OnStreamComplete() {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	c.complete(epoch)
}

// OnStreamError replaces the generating turn with the fixed error reply.
func (c *Controller) OnStreamError(err error) {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	c.fail(epoch, err)
}

// apply reports false when the chunk belongs to a discarded stream.
func (c *Controller) apply(epoch uint64, chunk llm.Chunk) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.generatingTurnLocked(epoch)
	if !ok {
		return false
	}

	c.buffer.WriteString(chunk.Text)
	last.Text = c.buffer.String()
	if chunk.Image != nil {
		last.Images = append(last.Images, *chunk.Image)
	}
	c.phase = PhaseStreaming
	c.touchLocked()
	c.publishLocked()
	return true
}

func (c *Controller) complete(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.generatingTurnLocked(epoch)
	if !ok {
		return
	}

	last.IsGenerating = false
	c.phase = PhaseDone
	c.lastErr = nil
	c.touchLocked()
	c.publishLocked()
}

func (c *Controller) fail(epoch uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.generatingTurnLocked(epoch)
	if !ok {
		return
	}

	failure := &StreamFailure{Kind: classify(err), Err: err}
	c.log.Warn().Err(err).Str("kind", string(failure.Kind)).Int("partial_len", c.buffer.Len()).Msg("stream failed")

	*last = chat.FailedAgentTurn()
	c.buffer.Reset()
	c.phase = PhaseErrored
	c.lastErr = failure
	c.touchLocked()
	c.publishLocked()
}

// generatingTurnLocked returns the open agent turn if epoch is still current.
func (c *Controller) generatingTurnLocked(epoch uint64) (*chat.Turn, bool) {
	if epoch != c.epoch || !c.phase.Generating() || len(c.turns) == 0 {
		return nil, false
	}
	last := &c.turns[len(c.turns)-1]
	if last.Sender != chat.SenderAgent || !last.IsGenerating {
		return nil, false
	}
	return last, true
}

// Reset clears the transcript, cancels any in-flight stream and replaces the
// model session. If the new session cannot be created the error is returned
// and creation is retried on the next Submit; the transcript is cleared either way.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.abortLocked()
	c.turns = nil
	c.buffer.Reset()
	c.phase = PhaseIdle
	c.session = nil
	c.lastErr = nil
	c.epoch++
	epoch := c.epoch
	c.touchLocked()
	c.publishLocked()
	c.mu.Unlock()

	s, err := c.provider.NewSession(ctx, c.config)
	if err != nil {
		return errors.Wrap(err, "create model session")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch == c.epoch && c.session == nil {
		c.session = s
		c.log.Debug().Str("handle", s.ID()).Msg("model session replaced")
		c.publishLocked()
	}
	return nil
}

func (c *Controller) abortLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Wait blocks until the current stream goroutine, if any, has exited or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any stream and closes all subscriber channels.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.abortLocked()
	c.epoch++
	for ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, ch)
	}
}

// Turns returns a copy of the transcript.
func (c *Controller) Turns() []chat.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return chat.CloneTurns(c.turns)
}

// Phase returns the state of the latest submission.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// HandleID identifies the current model session, or "" before one exists.
func (c *Controller) HandleID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.ID()
}

// LastError returns the cause of the most recent stream failure, if the latest submission failed.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LastActivity returns the time of the latest mutation.
func (c *Controller) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{Turns: chat.CloneTurns(c.turns), Phase: c.phase, Version: c.version}
	if c.session != nil {
		s.HandleID = c.session.ID()
	}
	return s
}

// Subscribe returns a channel that always holds the latest snapshot; older
// unread snapshots are replaced. The current state is delivered immediately.
// The channel is closed by cancel or Close.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subscribers[ch] = struct{}{}
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subscribers[ch]; ok {
				delete(c.subscribers, ch)
				close(ch)
			}
		})
	}
}

func (c *Controller) publishLocked() {
	c.version++
	if len(c.subscribers) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for ch := range c.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (c *Controller) touchLocked() {
	c.lastActivity = c.now()
}
