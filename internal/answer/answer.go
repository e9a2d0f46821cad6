// ABOUTME: Answer-generator contract consumed by the gateway
// ABOUTME: A generator returns side-channel metadata plus a lazy stream of text and state chunks

package answer

import (
	"context"
	"errors"
	"strings"

	"github.com/2389/persona-gateway/internal/persona"
)

// ErrEmptyStream is returned when a generator finishes without producing any text.
var ErrEmptyStream = errors.New("generator produced no content")

// Attachment describes an uploaded file. Contents are never passed downstream.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// HistoryMessage is one prior transcript entry supplied as context.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Turn is the input to one generation.
type Turn struct {
	RequestID    string           `json:"requestId,omitempty"`
	SessionID    string           `json:"sessionId"`
	UserID       string           `json:"userId"`
	Message      string           `json:"message"`
	Persona      persona.Metadata `json:"persona"`
	PersonaFound bool             `json:"personaFound"`
	Attachments  []Attachment     `json:"attachments,omitempty"`
	History      []HistoryMessage `json:"history,omitempty"`
}

// State is a coarse progress update shown to the user while an answer is produced.
type State struct {
	Type     string `json:"stateType"`
	Message  string `json:"message"`
	Progress int    `json:"progress"`
}

// Common state types.
const (
	StateSearching = "searching"
	StateTool      = "tool"
	StateComposing = "composing"
)

// Chunk is one element of a generation stream. Exactly one field is set.
type Chunk struct {
	Text  string
	State *State
	Err   error
}

// Result is what a generator returns once it has started producing.
// Stream is closed by the generator when production ends.
type Result struct {
	SessionID string
	Sources   []string
	ToolsUsed []string
	Stream    <-chan *Chunk
}

// Generator produces answers for turns.
type Generator interface {
	Generate(ctx context.Context, turn *Turn) (*Result, error)
}

// Collect drains a result's stream and returns the full text.
// State chunks are discarded. The first error chunk ends collection.
func Collect(ctx context.Context, res *Result) (string, error) {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return b.String(), ctx.Err()
		case chunk, ok := <-res.Stream:
			if !ok {
				if b.Len() == 0 {
					return "", ErrEmptyStream
				}
				return b.String(), nil
			}
			if chunk.Err != nil {
				return b.String(), chunk.Err
			}
			b.WriteString(chunk.Text)
		}
	}
}
