// ABOUTME: Echo generator for development and tests
// ABOUTME: Streams a canned reply word by word with progress states and attachment sources

package answer

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AttachmentTool is reported in ToolsUsed when a turn carries attachments.
const AttachmentTool = "attachment-reader"

// Echo is a Generator that replies by echoing the message back.
type Echo struct {
	// Delay is slept between word tokens.
	Delay time.Duration

	// Reply overrides the reply text when set.
	Reply func(turn *Turn) string
}

// NewEcho creates an Echo generator with the given per-token delay.
func NewEcho(delay time.Duration) *Echo {
	return &Echo{Delay: delay}
}

// Generate implements Generator.
func (e *Echo) Generate(ctx context.Context, turn *Turn) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reply := e.reply(turn)

	var sources, tools []string
	states := []*State{{Type: StateSearching, Message: "Searching", Progress: 10}}
	if len(turn.Attachments) > 0 {
		tools = []string{AttachmentTool}
		for _, a := range turn.Attachments {
			sources = append(sources, a.Name)
		}
		states = append(states, &State{Type: StateTool, Message: "Invoking tool " + AttachmentTool, Progress: 40})
	}
	states = append(states, &State{Type: StateComposing, Message: "Composing", Progress: 70})

	stream := make(chan *Chunk)
	go func() {
		defer close(stream)

		for _, s := range states {
			if !send(ctx, stream, &Chunk{State: s}) {
				return
			}
		}
		for _, tok := range Tokenize(reply) {
			if e.Delay > 0 {
				select {
				case <-time.After(e.Delay):
				case <-ctx.Done():
					return
				}
			}
			if !send(ctx, stream, &Chunk{Text: tok}) {
				return
			}
		}
	}()

	return &Result{
		SessionID: turn.SessionID,
		Sources:   sources,
		ToolsUsed: tools,
		Stream:    stream,
	}, nil
}

func (e *Echo) reply(turn *Turn) string {
	if e.Reply != nil {
		return e.Reply(turn)
	}
	if turn.PersonaFound {
		return fmt.Sprintf("[%s] You said: %s", turn.Persona.Key(), turn.Message)
	}
	return "You said: " + turn.Message
}

// Tokenize splits text into word tokens, keeping the trailing space on each
// word so concatenating the tokens reproduces the original text.
func Tokenize(text string) []string {
	var tokens []string
	for len(text) > 0 {
		i := strings.IndexByte(text, ' ')
		if i < 0 {
			tokens = append(tokens, text)
			break
		}
		tokens = append(tokens, text[:i+1])
		text = text[i+1:]
	}
	return tokens
}

// send delivers a chunk unless ctx ends first.
func send(ctx context.Context, ch chan<- *Chunk, c *Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
