package profile

// DefaultID is the profile used when a chat is opened without one.
const DefaultID = "default"

// Profile is a named generation preset exposed to the frontend.
// Nil fields fall back to the configured defaults.
type Profile struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	SystemInstruction string   `json:"systemInstruction,omitempty"`
	Temperature       *float32 `json:"temperature,omitempty"`
	TopK              *float32 `json:"topK,omitempty"`
	TopP              *float32 `json:"topP,omitempty"`
	MaxOutputTokens   *int32   `json:"maxOutputTokens,omitempty"`
}

// Seed provides the built-in profiles. The default one keeps the configured generation settings untouched.
func Seed() []Profile {
	return []Profile{
		{
			ID:          DefaultID,
			Name:        "Gemini Chat",
			Description: "General purpose assistant using the configured generation settings.",
		},
		{
			ID:                "concise",
			Name:              "Concise",
			Description:       "Short, direct answers.",
			SystemInstruction: "Answer as briefly as possible. Prefer bullet lists and code over prose.",
			Temperature:       float32Ptr(0.2),
			MaxOutputTokens:   int32Ptr(512),
		},
		{
			ID:                "creative",
			Name:              "Creative",
			Description:       "Looser sampling for brainstorming and writing.",
			SystemInstruction: "You are an imaginative writing partner. Offer several distinct ideas when asked.",
			Temperature:       float32Ptr(1.3),
			TopK:              float32Ptr(40),
			TopP:              float32Ptr(0.95),
		},
	}
}

func float32Ptr(v float32) *float32 { return &v }

func int32Ptr(v int32) *int32 { return &v }
