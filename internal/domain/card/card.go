// Package card holds the trading-card domain model: the prompt template
// fed to the image model and the request/result types flowing through the
// generation pipeline.
package card

import "fmt"

// PromptTemplate is the full card design brief. The upstream image model
// receives it verbatim, wrapped by an edit or generate preamble depending
// on which endpoint serves the request.
const PromptTemplate = `
Create a RIZO digital trading card using the uploaded meme image as the main character.

Design guidelines:
- Always invent a unique, creative character name that matches the personality or vibe of the uploaded image.
- ALWAYS add the word "RIZO" at the end of the character name.
- Maintain a balanced layout with well-spaced elements.
- Include all standard card elements: name, HP, element, two attacks, flavor text, and themed background/frame.

Layout & spacing rules:
- Top bar: Place the character name on the left, and always render “HP” followed by the number (e.g. HP100) on the right side.
  The HP text must be completely visible, never cropped, never stylized, and always use a clean card font.
  Place the elemental icon beside the HP number, leaving at least 15% horizontal spacing so they do not touch or overlap.
- Main art: Use the uploaded meme image as the character art, dynamically styled without changing the underlying character in the meme.
- Attack boxes: Include two creative attacks with names, icons, and damage numbers.
- Flavor text: Include EXACTLY ONE short, unique line beneath the attacks (no repetition or duplication).
- Footer: Weakness/resistance icons should be on the left. Leave a clear empty area in the bottom-right corner for an official foil stamp.
- The foil stamp area must stay completely blank — do not draw or add any art or borders there.
- The foil stamp is a subtle circular authenticity mark that will be imprinted later.
- Overall aesthetic: vintage, realistic, collectible, with slight texture and warmth, but without altering any provided logos.
`

// EditPrompt wraps the template for the image-edit endpoint, where the
// meme is attached as the base image.
func EditPrompt() string {
	return fmt.Sprintf("Use this meme image as the main character for a RIZO card.\n\n%s", PromptTemplate)
}

// GeneratePrompt wraps the template for the text-only generate endpoint,
// used when the edit endpoint rejects the request.
func GeneratePrompt() string {
	return fmt.Sprintf("%s\nUse the uploaded meme image as a reference (if available) and produce a RIZO trading card.", PromptTemplate)
}

// Size is the card canvas in pixels, serialized as "WxH" for the API.
type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Request is one card generation job: a validated meme image plus the
// identifiers needed to reply and to record history.
type Request struct {
	RequestID string
	UserID    int64
	ChatID    int64
	Meme      []byte
}

// Result is the finished card as PNG bytes plus the attempt trail the
// dispatcher walked to produce it.
type Result struct {
	PNG      []byte
	Attempts []Attempt
}

// Attempt records one upstream call for the history trail.
type Attempt struct {
	Number     int    `json:"number"`
	Credential string `json:"credential"`
	Endpoint   string `json:"endpoint"`
	Err        string `json:"error,omitempty"`
}
