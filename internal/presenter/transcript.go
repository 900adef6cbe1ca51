// Package presenter turns controller snapshots into the view model consumed by the UIs.
package presenter

import (
	"encoding/base64"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/gemini-chat/internal/logging"
	"github.com/zhouzirui/gemini-chat/internal/model/chat"
	"github.com/zhouzirui/gemini-chat/internal/service/transcript"
)

// ThinkingPlaceholder is shown for an agent turn that has not received text yet.
const ThinkingPlaceholder = "Thinking..."

// MarkdownRenderer renders agent text to HTML.
type MarkdownRenderer interface {
	Render(text string) (string, error)
}

// TurnView is one rendered transcript entry.
type TurnView struct {
	Sender       chat.Sender `json:"sender"`
	Text         string      `json:"text"`
	HTML         string      `json:"html,omitempty"`
	IsGenerating bool        `json:"isGenerating"`
	Images       []ImageView `json:"images,omitempty"`
}

// ImageView references an attached image by URL (remote or data URL).
type ImageView struct {
	URL      string `json:"url"`
	MIMEType string `json:"mimeType,omitempty"`
}

// TranscriptView is the full render input for one chat.
type TranscriptView struct {
	SessionID string           `json:"sessionId"`
	HandleID  string           `json:"handleId,omitempty"`
	Phase     transcript.Phase `json:"phase"`
	Typing    bool             `json:"typing"`
	Version   uint64           `json:"version"`
	Turns     []TurnView       `json:"turns"`
}

// Presenter builds views; a nil renderer leaves HTML empty.
type Presenter struct {
	renderer MarkdownRenderer
	log      zerolog.Logger
}

// New returns a presenter using renderer for agent turns.
func New(renderer MarkdownRenderer) *Presenter {
	return &Presenter{renderer: renderer, log: logging.Component("presenter")}
}

// Build converts a snapshot into a view.
func (p *Presenter) Build(sessionID string, snap transcript.Snapshot) TranscriptView {
	view := TranscriptView{
		SessionID: sessionID,
		HandleID:  snap.HandleID,
		Phase:     snap.Phase,
		Typing:    snap.Phase.Generating(),
		Version:   snap.Version,
		Turns:     make([]TurnView, 0, len(snap.Turns)),
	}
	for _, turn := range snap.Turns {
		view.Turns = append(view.Turns, p.turn(turn))
	}
	return view
}

func (p *Presenter) turn(turn chat.Turn) TurnView {
	tv := TurnView{
		Sender:       turn.Sender,
		Text:         turn.Text,
		IsGenerating: turn.IsGenerating,
	}
	for _, img := range turn.Images {
		src := imageSource(img)
		if src == "" {
			continue
		}
		tv.Images = append(tv.Images, ImageView{URL: src, MIMEType: img.MIMEType})
	}

	if turn.Sender != chat.SenderAgent {
		return tv
	}

	source := DisplayText(turn)
	if p.renderer == nil {
		return tv
	}
	html, err := p.renderer.Render(source)
	if err != nil {
		p.log.Warn().Err(err).Msg("markdown render failed, falling back to plain text")
		return tv
	}
	tv.HTML = html
	return tv
}

// DisplayText is the markdown source to show for a turn.
func DisplayText(turn chat.Turn) string {
	if turn.Sender == chat.SenderAgent && turn.Text == "" && turn.IsGenerating {
		return ThinkingPlaceholder
	}
	return turn.Text
}

// imageSource returns a URL the browser can load, inlining raw bytes as a
// data URL. Images with neither are skipped.
func imageSource(img chat.Image) string {
	if img.URL != "" {
		return img.URL
	}
	if len(img.Data) == 0 {
		return ""
	}
	mime := img.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
