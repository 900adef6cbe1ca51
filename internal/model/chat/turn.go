package chat

// Sender identifies who authored a turn.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// ErrorReply replaces an agent turn whose stream failed.
const ErrorReply = "Sorry, there was an error."

// Image is a structured image attachment delivered by the model collaborator.
// Exactly one of URL or Data is expected to be set.
type Image struct {
	URL      string `json:"url,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// Turn is one entry of the transcript.
type Turn struct {
	Sender       Sender  `json:"sender"`
	Text         string  `json:"text"`
	IsGenerating bool    `json:"isGenerating"`
	Images       []Image `json:"images,omitempty"`
}

// UserTurn returns a completed turn authored by the user.
func UserTurn(text string) Turn {
	return Turn{Sender: SenderUser, Text: text}
}

// PendingAgentTurn returns the placeholder appended before the first chunk arrives.
func PendingAgentTurn() Turn {
	return Turn{Sender: SenderAgent, IsGenerating: true}
}

// FailedAgentTurn returns the terminal turn shown after a stream failure.
func FailedAgentTurn() Turn {
	return Turn{Sender: SenderAgent, Text: ErrorReply}
}

// Clone returns a deep copy so snapshots never alias controller state.
func (t Turn) Clone() Turn {
	if len(t.Images) == 0 {
		t.Images = nil
		return t
	}
	images := make([]Image, len(t.Images))
	for i, img := range t.Images {
		if img.Data != nil {
			img.Data = append([]byte(nil), img.Data...)
		}
		images[i] = img
	}
	t.Images = images
	return t
}

// CloneTurns deep-copies a transcript.
func CloneTurns(turns []Turn) []Turn {
	if len(turns) == 0 {
		return []Turn{}
	}
	out := make([]Turn, len(turns))
	for i, turn := range turns {
		out[i] = turn.Clone()
	}
	return out
}
