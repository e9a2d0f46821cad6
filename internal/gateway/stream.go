// ABOUTME: SSE framing for streamed chat answers
// ABOUTME: A producer goroutine orders frames into a bounded channel drained by the transport writer

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/persona-gateway/internal/answer"
)

// streamBuffer bounds how far the producer may run ahead of the client.
const streamBuffer = 8

// Frame types on the wire.
const (
	FrameSession  = "session"
	FrameState    = "state"
	FrameMetadata = "metadata"
	FrameContent  = "content"
	FrameError    = "error"
)

// doneSentinel terminates every stream.
const doneSentinel = "[DONE]"

type sessionFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type stateFrame struct {
	Type      string `json:"type"`
	StateType string `json:"stateType"`
	Message   string `json:"message"`
	Progress  int    `json:"progress"`
}

type metadataFrame struct {
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId"`
	Sources   []string `json:"sources"`
	ToolsUsed []string `json:"toolsUsed"`
}

type contentFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// setSSEHeaders commits the response as an event stream.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func writeFrame(w io.Writer, data []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// streamAnswer writes the frames of one answer. Headers must not be committed
// yet. The sentinel is always attempted last; its write error is ignored.
func (g *Gateway) streamAnswer(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sessionID string, res *answer.Result) {
	setSSEHeaders(w)

	frames := make(chan []byte, streamBuffer)
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		defer close(frames)
		return g.produceFrames(egCtx, sessionID, res, frames)
	})

	eg.Go(func() error {
		for data := range frames {
			if err := writeFrame(w, data); err != nil {
				return fmt.Errorf("writing frame: %w", err)
			}
			flusher.Flush()
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		g.logger.Debug("stream ended early", "session_id", sessionID, "error", err)
	}

	_ = writeFrame(w, []byte(doneSentinel))
	flusher.Flush()
}

// frameEmitter marshals frames onto the output channel, blocking while the
// channel is full.
type frameEmitter struct {
	ctx context.Context
	out chan<- []byte
}

func (e *frameEmitter) emit(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}
	select {
	case e.out <- data:
		return nil
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

// produceFrames emits session, state*, metadata, content*, in that order.
// State chunks arriving after content has started are dropped. Progress never
// decreases and stays within 0..100. A failure chunk ends the stream with an
// error frame, sent after metadata, as does a stream that goes quiet for longer
// than the generation timeout.
func (g *Gateway) produceFrames(ctx context.Context, sessionID string, res *answer.Result, out chan<- []byte) error {
	e := &frameEmitter{ctx: ctx, out: out}

	if err := e.emit(sessionFrame{Type: FrameSession, SessionID: sessionID}); err != nil {
		return err
	}

	metadataSent := false
	sendMetadata := func() error {
		if metadataSent {
			return nil
		}
		metadataSent = true
		return e.emit(metadataFrame{
			Type:      FrameMetadata,
			SessionID: sessionID,
			Sources:   nonNil(res.Sources),
			ToolsUsed: nonNil(res.ToolsUsed),
		})
	}

	idleTimeout := g.config.Generation.Timeout
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	progress := 0
	for {
		var chunk *answer.Chunk
		var ok bool
		select {
		case chunk, ok = <-res.Stream:
		case <-idle.C:
			g.logger.Warn("generation stalled mid-stream", "session_id", sessionID, "idle", idleTimeout)
			if err := sendMetadata(); err != nil {
				return err
			}
			msg := g.publicMessage(timeoutError(fmt.Errorf("no chunk within %s", idleTimeout)))
			return e.emit(errorFrame{Type: FrameError, Message: msg})
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			break
		}
		idle.Reset(idleTimeout)

		switch {
		case chunk.Err != nil:
			g.logger.Warn("generation failed mid-stream", "session_id", sessionID, "error", chunk.Err)
			if err := sendMetadata(); err != nil {
				return err
			}
			msg := g.publicMessage(&Error{Kind: KindUpstream, Message: msgUpstream, Err: chunk.Err})
			return e.emit(errorFrame{Type: FrameError, Message: msg})

		case chunk.State != nil:
			if metadataSent {
				g.logger.Debug("dropping late state", "session_id", sessionID, "state", chunk.State.Type)
				continue
			}
			progress = max(progress, min(chunk.State.Progress, 100))
			if err := e.emit(stateFrame{
				Type:      FrameState,
				StateType: chunk.State.Type,
				Message:   chunk.State.Message,
				Progress:  progress,
			}); err != nil {
				return err
			}

		case chunk.Text != "":
			if err := sendMetadata(); err != nil {
				return err
			}
			if err := e.emit(contentFrame{Type: FrameContent, Content: chunk.Text}); err != nil {
				return err
			}
		}
	}

	return sendMetadata()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
