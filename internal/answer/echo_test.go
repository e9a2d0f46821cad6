// ABOUTME: Tests for the Echo generator and stream collection helpers
// ABOUTME: Checks state ordering, attachment sources, tokenization, and cancellation

package answer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/persona-gateway/internal/persona"
)

func drain(t *testing.T, res *Result) ([]*State, string) {
	t.Helper()
	var states []*State
	var b strings.Builder
	for c := range res.Stream {
		require.NoError(t, c.Err)
		if c.State != nil {
			states = append(states, c.State)
			continue
		}
		b.WriteString(c.Text)
	}
	return states, b.String()
}

func TestEcho_Generate(t *testing.T) {
	e := NewEcho(0)
	turn := &Turn{SessionID: "s1", Message: "hello there world"}

	res, err := e.Generate(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, "s1", res.SessionID)
	assert.Empty(t, res.Sources)
	assert.Empty(t, res.ToolsUsed)

	states, text := drain(t, res)
	assert.Equal(t, "You said: hello there world", text)
	require.Len(t, states, 2)
	assert.Equal(t, StateSearching, states[0].Type)
	assert.Equal(t, StateComposing, states[1].Type)
}

func TestEcho_AttachmentsBecomeSources(t *testing.T) {
	e := NewEcho(0)
	turn := &Turn{
		SessionID:   "s1",
		Message:     "see attached",
		Attachments: []Attachment{{Name: "policy.pdf", MimeType: "application/pdf", Size: 10}},
	}

	res, err := e.Generate(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, []string{"policy.pdf"}, res.Sources)
	assert.Equal(t, []string{AttachmentTool}, res.ToolsUsed)

	states, _ := drain(t, res)
	require.Len(t, states, 3)
	assert.Equal(t, StateTool, states[1].Type)

	last := 0
	for _, s := range states {
		assert.GreaterOrEqual(t, s.Progress, last)
		last = s.Progress
	}
}

func TestEcho_PersonaPrefix(t *testing.T) {
	e := NewEcho(0)
	turn := &Turn{
		Message:      "hi",
		Persona:      persona.Metadata{CustomerPersonaID: "CUST-001"},
		PersonaFound: true,
	}

	res, err := e.Generate(context.Background(), turn)
	require.NoError(t, err)
	text, err := Collect(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, "[customer:CUST-001] You said: hi", text)
}

func TestEcho_CancelStopsStream(t *testing.T) {
	e := NewEcho(50 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	res, err := e.Generate(ctx, &Turn{Message: strings.Repeat("word ", 100)})
	require.NoError(t, err)
	cancel()

	closed := make(chan struct{})
	go func() {
		for range res.Stream {
		}
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("stream was not closed after cancel")
	}
}

func TestEcho_CancelledBeforeGenerate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEcho(0).Generate(ctx, &Turn{Message: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"one", []string{"one"}},
		{"one two", []string{"one ", "two"}},
		{"a  b ", []string{"a ", " ", "b "}},
	}
	for _, tt := range tests {
		got := Tokenize(tt.in)
		assert.Equal(t, tt.want, got, "Tokenize(%q)", tt.in)
		assert.Equal(t, tt.in, strings.Join(got, ""))
	}
}

func TestCollect(t *testing.T) {
	stream := func(chunks ...*Chunk) *Result {
		ch := make(chan *Chunk, len(chunks))
		for _, c := range chunks {
			ch <- c
		}
		close(ch)
		return &Result{Stream: ch}
	}

	text, err := Collect(context.Background(), stream(&Chunk{State: &State{Type: StateSearching}}, &Chunk{Text: "a"}, &Chunk{Text: "b"}))
	require.NoError(t, err)
	assert.Equal(t, "ab", text)

	_, err = Collect(context.Background(), stream())
	assert.ErrorIs(t, err, ErrEmptyStream)

	boom := errors.New("boom")
	text, err = Collect(context.Background(), stream(&Chunk{Text: "partial"}, &Chunk{Err: boom}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", text)
}
