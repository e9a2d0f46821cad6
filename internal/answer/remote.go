// ABOUTME: Remote generator that delegates to an HTTP answer service streaming SSE
// ABOUTME: Adapts meta/state/token/error frames into answer Chunks

package answer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const maxFrameSize = 1 << 20

// Remote is a Generator backed by an HTTP service. The turn is POSTed as JSON
// and the response is an SSE stream of frames:
//
//	data: {"type":"meta","sessionId":"...","sources":[...],"toolsUsed":[...]}
//	data: {"type":"state","stateType":"searching","message":"...","progress":10}
//	data: {"type":"token","content":"Hello "}
//	data: {"type":"error","error":"..."}
//	data: [DONE]
type Remote struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewRemote creates a Remote generator. A nil client uses a client with no
// overall timeout, since responses are long-lived streams.
func NewRemote(url string, client *http.Client, logger *slog.Logger) *Remote {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		url:    url,
		client: client,
		logger: logger.With("component", "answer.remote"),
	}
}

type remoteFrame struct {
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId,omitempty"`
	Sources   []string `json:"sources,omitempty"`
	ToolsUsed []string `json:"toolsUsed,omitempty"`
	StateType string   `json:"stateType,omitempty"`
	Message   string   `json:"message,omitempty"`
	Progress  int      `json:"progress,omitempty"`
	Content   string   `json:"content,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Generate implements Generator. It returns once the service has sent its
// meta frame (or its first token), so failures before that are plain errors.
func (r *Remote) Generate(ctx context.Context, turn *Turn) (*Result, error) {
	body, err := json.Marshal(turn)
	if err != nil {
		return nil, fmt.Errorf("encoding turn: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if turn.RequestID != "" {
		req.Header.Set("X-Request-Id", turn.RequestID)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("answer service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	frames := newFrameReader(resp.Body)
	res := &Result{SessionID: turn.SessionID}

	// Buffer anything that arrives before the meta frame.
	var pending []*Chunk
	done := false
head:
	for {
		f, err := frames.next()
		if errors.Is(err, io.EOF) {
			done = true
			break
		}
		if err != nil {
			resp.Body.Close()
			return nil, err
		}

		switch f.Type {
		case "meta":
			if f.SessionID != "" {
				res.SessionID = f.SessionID
			}
			res.Sources = f.Sources
			res.ToolsUsed = f.ToolsUsed
			break head
		case "error":
			resp.Body.Close()
			return nil, fmt.Errorf("answer service: %s", f.Error)
		default:
			if c := toChunk(f); c != nil {
				pending = append(pending, c)
				if c.Text != "" {
					break head
				}
			}
		}
	}

	stream := make(chan *Chunk)
	go func() {
		defer close(stream)
		defer resp.Body.Close()

		for _, c := range pending {
			if !send(ctx, stream, c) {
				return
			}
		}
		if done {
			return
		}

		for {
			f, err := frames.next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				send(ctx, stream, &Chunk{Err: err})
				return
			}
			if f.Type == "meta" {
				r.logger.Debug("ignoring late meta frame")
				continue
			}
			c := toChunk(f)
			if c == nil {
				continue
			}
			if !send(ctx, stream, c) {
				return
			}
			if c.Err != nil {
				return
			}
		}
	}()

	res.Stream = stream
	return res, nil
}

func toChunk(f *remoteFrame) *Chunk {
	switch f.Type {
	case "state":
		return &Chunk{State: &State{Type: f.StateType, Message: f.Message, Progress: f.Progress}}
	case "token":
		if f.Content == "" {
			return nil
		}
		return &Chunk{Text: f.Content}
	case "error":
		return &Chunk{Err: fmt.Errorf("answer service: %s", f.Error)}
	default:
		return nil
	}
}

// frameReader parses SSE events from a response body.
type frameReader struct {
	scanner *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &frameReader{scanner: scanner}
}

// next returns the next frame, or io.EOF at end of stream or on [DONE].
func (fr *frameReader) next() (*remoteFrame, error) {
	var dataLines []string
	for {
		if !fr.scanner.Scan() {
			if err := fr.scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading stream: %w", err)
			}
			if len(dataLines) > 0 {
				return parseFrame(strings.Join(dataLines, "\n"))
			}
			return nil, io.EOF
		}

		line := fr.scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if len(dataLines) == 0 {
				continue
			}
			return parseFrame(strings.Join(dataLines, "\n"))
		}

		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

func parseFrame(data string) (*remoteFrame, error) {
	if data == "[DONE]" {
		return nil, io.EOF
	}
	var f remoteFrame
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return nil, fmt.Errorf("parsing frame: %w", err)
	}
	return &f, nil
}
