package llm

import "strings"

// Role of a history entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is a completed history entry.
type Message struct {
	Role Role
	Text string
}

// History is the rolling conversation record kept by session implementations.
// It is not safe for concurrent use; sessions guard it with their own lock.
type History struct {
	limit    int
	messages []Message
}

// NewHistory returns an empty history that keeps at most limit messages.
func NewHistory(limit int) *History {
	if limit < 0 {
		limit = 0
	}
	return &History{limit: limit}
}

// Messages returns a copy of the retained messages, oldest first.
func (h *History) Messages() []Message {
	return append([]Message(nil), h.messages...)
}

// Record appends a completed exchange and trims to the limit. The trimmed
// window always starts with a user message so backends never see a dangling
// model reply. Exchanges without reply text (blocked or image-only replies)
// are dropped, since providers reject empty parts.
func (h *History) Record(user, model string) {
	if h.limit == 0 || strings.TrimSpace(model) == "" {
		return
	}
	h.messages = append(h.messages, Message{Role: RoleUser, Text: user}, Message{Role: RoleModel, Text: model})
	if len(h.messages) <= h.limit {
		return
	}
	start := len(h.messages) - h.limit
	for start < len(h.messages) && h.messages[start].Role != RoleUser {
		start++
	}
	h.messages = append([]Message(nil), h.messages[start:]...)
}

// Accumulator concatenates streamed text so a session can record the final reply.
type Accumulator struct {
	b strings.Builder
}

// Add appends a chunk's text.
func (a *Accumulator) Add(c Chunk) { a.b.WriteString(c.Text) }

// String returns the concatenated text.
func (a *Accumulator) String() string { return a.b.String() }
