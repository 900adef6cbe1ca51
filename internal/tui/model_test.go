package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/gemini-chat/internal/llm"
	"github.com/zhouzirui/gemini-chat/internal/llm/llmtest"
	"github.com/zhouzirui/gemini-chat/internal/model/chat"
	"github.com/zhouzirui/gemini-chat/internal/service/transcript"
)

func newModel(t *testing.T) (Model, *transcript.Controller, *llmtest.Provider) {
	t.Helper()
	provider := llmtest.New()
	ctrl := transcript.New(provider, llm.GenerationConfig{HistoryLimit: 10})
	t.Cleanup(ctrl.Close)

	m := New(ctrl, Options{Style: "notty"})
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return updated.(Model), ctrl, provider
}

func typeText(m Model, text string) Model {
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return updated.(Model)
}

// drain applies the snapshot the pending subscription delivers.
func drain(t *testing.T, m Model) Model {
	t.Helper()
	select {
	case snap := <-m.snapshots:
		updated, _ := m.Update(snapshotMsg(snap))
		return updated.(Model)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
		return m
	}
}

func TestViewBeforeSize(t *testing.T) {
	ctrl := transcript.New(llmtest.New(), llm.GenerationConfig{})
	t.Cleanup(ctrl.Close)

	m := New(ctrl, Options{})
	assert.Contains(t, m.View(), "Initializing")
}

func TestViewShowsHeaderAndPlaceholder(t *testing.T) {
	m, _, _ := newModel(t)

	view := m.View()
	assert.Contains(t, view, "Gemini Chat")
	assert.Contains(t, view, "Type a Message...")
}

func TestEnterSubmitsAndShowsThinking(t *testing.T) {
	m, _, provider := newModel(t)
	m = drain(t, m)

	m = typeText(m, "hello there")
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	assert.Empty(t, m.input.Value())

	require.Eventually(t, func() bool { return len(provider.Sends()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "hello there", provider.Sends()[0])

	m = drain(t, m)
	view := m.View()
	assert.Contains(t, view, "hello there")
	assert.Contains(t, view, "Thinking...")
	assert.Contains(t, view, "Typing...")
}

func TestEnterWithBlankInputDoesNothing(t *testing.T) {
	m, _, provider := newModel(t)

	m = typeText(m, "   ")
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)

	assert.Empty(t, provider.Sends())
	assert.Equal(t, "   ", m.input.Value())
}

func TestSubmitWhileGeneratingShowsStatus(t *testing.T) {
	m, _, _ := newModel(t)

	m = typeText(m, "one")
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)

	m = typeText(m, "two")
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)

	assert.Equal(t, transcript.ErrGenerationInProgress.Error(), m.status)
	assert.Equal(t, "two", m.input.Value())
}

func TestCompletedReplyRendersMarkdown(t *testing.T) {
	m, _, _ := newModel(t)

	updated, _ := m.Update(snapshotMsg(transcript.Snapshot{
		Phase: transcript.PhaseDone,
		Turns: []chat.Turn{
			chat.UserTurn("list please"),
			{Sender: chat.SenderAgent, Text: "# Title\n\n- first\n- second"},
		},
	}))
	m = updated.(Model)

	view := m.View()
	assert.Contains(t, view, "Title")
	assert.Contains(t, view, "first")
	assert.NotContains(t, view, "Typing...")
}

func TestImagesAreListed(t *testing.T) {
	m, _, _ := newModel(t)

	updated, _ := m.Update(snapshotMsg(transcript.Snapshot{
		Phase: transcript.PhaseDone,
		Turns: []chat.Turn{
			chat.UserTurn("draw"),
			{Sender: chat.SenderAgent, Text: "here", Images: []chat.Image{{MIMEType: "image/png", Data: []byte{1}}}},
		},
	}))
	m = updated.(Model)

	assert.Contains(t, m.View(), "[image image/png]")
}

func TestCtrlNResets(t *testing.T) {
	m, ctrl, _ := newModel(t)

	m = typeText(m, "one")
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	require.Len(t, ctrl.Turns(), 2)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlN})
	require.NotNil(t, cmd)
	msg := cmd()
	done, ok := msg.(resetDoneMsg)
	require.True(t, ok)
	assert.NoError(t, done.err)
	assert.Empty(t, ctrl.Turns())
}

func TestResetFailureShowsStatus(t *testing.T) {
	m, _, _ := newModel(t)

	updated, _ := m.Update(resetDoneMsg{err: assert.AnError})
	m = updated.(Model)
	assert.Contains(t, m.View(), "model session will be retried")
}

func TestCtrlCQuits(t *testing.T) {
	m, _, _ := newModel(t)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestClosedSubscriptionQuits(t *testing.T) {
	m, ctrl, _ := newModel(t)
	ctrl.Close()

	msg := waitForSnapshot(m.snapshots)
	for {
		got := msg()
		if _, ok := got.(closedMsg); ok {
			break
		}
	}
	_, cmd := m.Update(closedMsg{})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
