// Package tui is a Bubble Tea front end over a transcript controller.
package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/gemini-chat/internal/model/chat"
	"github.com/zhouzirui/gemini-chat/internal/presenter"
	"github.com/zhouzirui/gemini-chat/internal/service/transcript"
)

const (
	defaultTitle = "Gemini Chat"
	headerHeight = 1
	footerHeight = 2
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#1A73E8")).Padding(0, 1)
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#1A73E8"))
	agentStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#34A853"))
	statusStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#888888"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EA4335"))
)

// Controller is the part of transcript.Controller the UI drives.
type Controller interface {
	Submit(ctx context.Context, text string) error
	Reset(ctx context.Context) error
	Subscribe() (<-chan transcript.Snapshot, func())
}

// Options tune presentation.
type Options struct {
	// Title replaces the header text.
	Title string
	// Style is a glamour standard style name; empty selects the terminal's style.
	Style string
}

type snapshotMsg transcript.Snapshot

type closedMsg struct{}

type resetDoneMsg struct{ err error }

// Model is the Bubble Tea model of one chat.
type Model struct {
	ctrl        Controller
	snapshots   <-chan transcript.Snapshot
	unsubscribe func()

	opts     Options
	input    textinput.Model
	viewport viewport.Model
	renderer *glamour.TermRenderer

	snap   transcript.Snapshot
	status string
	width  int
	ready  bool
}

// New subscribes to ctrl and returns the model.
func New(ctrl Controller, opts Options) Model {
	if opts.Title == "" {
		opts.Title = defaultTitle
	}

	input := textinput.New()
	input.Placeholder = "Type a Message..."
	input.Prompt = "> "
	input.Focus()

	vp := viewport.New(80, 20)
	vp.KeyMap = viewport.KeyMap{
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
		Up:       key.NewBinding(key.WithKeys("up")),
		Down:     key.NewBinding(key.WithKeys("down")),
	}

	snapshots, unsubscribe := ctrl.Subscribe()
	return Model{
		ctrl:        ctrl,
		snapshots:   snapshots,
		unsubscribe: unsubscribe,
		opts:        opts,
		input:       input,
		viewport:    vp,
	}
}

func waitForSnapshot(ch <-chan transcript.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForSnapshot(m.snapshots))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-headerHeight-footerHeight, 1)
		m.input.Width = max(msg.Width-len(m.input.Prompt)-1, 1)
		m.renderer = nil
		m.ready = true
		m.refresh()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.unsubscribe()
			return m, tea.Quit
		case "ctrl+n":
			m.status = ""
			ctrl := m.ctrl
			return m, func() tea.Msg {
				return resetDoneMsg{err: ctrl.Reset(context.Background())}
			}
		case "enter":
			text := m.input.Value()
			if strings.TrimSpace(text) == "" {
				return m, nil
			}
			if err := m.ctrl.Submit(context.Background(), text); err != nil {
				m.status = err.Error()
				return m, nil
			}
			m.status = ""
			m.input.Reset()
			return m, nil
		}

	case snapshotMsg:
		m.snap = transcript.Snapshot(msg)
		m.refresh()
		return m, waitForSnapshot(m.snapshots)

	case closedMsg:
		return m, tea.Quit

	case resetDoneMsg:
		if msg.err != nil {
			m.status = "new chat started, model session will be retried: " + msg.err.Error()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	var status string
	switch {
	case m.status != "":
		status = errorStyle.Render(m.status)
	case m.snap.Phase.Generating():
		status = statusStyle.Render("Typing...")
	default:
		status = statusStyle.Render("enter send · ctrl+n new chat · ctrl+c quit")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(m.opts.Title),
		m.viewport.View(),
		status,
		m.input.View(),
	)
}

// refresh re-renders the transcript and follows the tail.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.render())
	m.viewport.GotoBottom()
}

func (m *Model) render() string {
	var b strings.Builder
	for i, turn := range m.snap.Turns {
		if i > 0 {
			b.WriteString("\n")
		}
		switch turn.Sender {
		case chat.SenderUser:
			b.WriteString(userStyle.Render("You"))
			b.WriteString("\n")
			b.WriteString(lipgloss.NewStyle().Width(m.width).Render(turn.Text))
			b.WriteString("\n")
		default:
			b.WriteString(agentStyle.Render("Gemini"))
			b.WriteString("\n")
			b.WriteString(m.markdown(presenter.DisplayText(turn)))
			for _, img := range turn.Images {
				b.WriteString(statusStyle.Render("[image " + imageLabel(img) + "]"))
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

func (m *Model) markdown(text string) string {
	if m.renderer == nil {
		opts := []glamour.TermRendererOption{glamour.WithWordWrap(max(m.width-4, 20))}
		if m.opts.Style != "" {
			opts = append(opts, glamour.WithStandardStyle(m.opts.Style))
		} else {
			opts = append(opts, glamour.WithAutoStyle())
		}
		r, err := glamour.NewTermRenderer(opts...)
		if err != nil {
			return text + "\n"
		}
		m.renderer = r
	}

	out, err := m.renderer.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}

func imageLabel(img chat.Image) string {
	if img.URL == "" || strings.HasPrefix(img.URL, "data:") {
		if img.MIMEType != "" {
			return img.MIMEType
		}
		return "inline"
	}
	return img.URL
}
