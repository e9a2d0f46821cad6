// ABOUTME: Chat request parsing for JSON and multipart bodies
// ABOUTME: Reduces attachments to descriptors and validates the message text

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/2389/persona-gateway/internal/answer"
	"github.com/2389/persona-gateway/internal/persona"
)

// ChatRequest is the JSON request body for POST /api/chat and /api/chat/stream.
type ChatRequest struct {
	Message   string           `json:"message"`
	SessionID string           `json:"sessionId,omitempty"`
	Metadata  persona.Metadata `json:"metadata"`

	// Attachments are only populated from multipart bodies.
	Attachments []answer.Attachment `json:"-"`
}

// parseChatRequest decodes a JSON or multipart/form-data body.
// The body is capped at maxBytes.
func parseChatRequest(w http.ResponseWriter, r *http.Request, maxBytes int64) (*ChatRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mediaType := "application/json"
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return nil, clientError("invalid Content-Type header")
		}
		mediaType = mt
	}

	switch mediaType {
	case "application/json":
		return parseJSONRequest(r.Body)
	case "multipart/form-data":
		return parseMultipartRequest(r)
	default:
		return nil, clientError("unsupported content type %q", mediaType)
	}
}

func parseJSONRequest(body io.Reader) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if isBodyTooLarge(err) {
			return nil, clientError("request body too large")
		}
		return nil, clientError("invalid JSON body")
	}
	return &req, nil
}

// parseMultipartRequest streams the parts without buffering files. File
// contents are counted and discarded.
func parseMultipartRequest(r *http.Request) (*ChatRequest, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, clientError("invalid multipart body")
	}

	var req ChatRequest
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if isBodyTooLarge(err) {
				return nil, clientError("request body too large")
			}
			return nil, clientError("invalid multipart body")
		}

		if err := readPart(&req, part.FormName(), part.FileName(), part.Header.Get("Content-Type"), part); err != nil {
			_ = part.Close()
			return nil, err
		}
		_ = part.Close()
	}
	return &req, nil
}

func readPart(req *ChatRequest, field, filename, contentType string, part io.Reader) error {
	if filename != "" {
		size, err := io.Copy(io.Discard, part)
		if err != nil {
			if isBodyTooLarge(err) {
				return clientError("request body too large")
			}
			return clientError("failed to read attachment %q", filename)
		}
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		req.Attachments = append(req.Attachments, answer.Attachment{
			Name:     filename,
			MimeType: contentType,
			Size:     size,
		})
		return nil
	}

	value, err := io.ReadAll(part)
	if err != nil {
		if isBodyTooLarge(err) {
			return clientError("request body too large")
		}
		return clientError("failed to read field %q", field)
	}

	switch field {
	case "message":
		req.Message = string(value)
	case "sessionId":
		req.SessionID = string(value)
	case "metadata":
		if len(strings.TrimSpace(string(value))) == 0 {
			return nil
		}
		if err := json.Unmarshal(value, &req.Metadata); err != nil {
			return clientError("metadata must be a JSON object")
		}
	}
	return nil
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// validate trims the message and session hint and checks the message length in characters.
func (req *ChatRequest) validate(maxLength int) error {
	req.Message = strings.TrimSpace(req.Message)
	req.SessionID = strings.TrimSpace(req.SessionID)

	if req.Message == "" {
		return clientError("message is required")
	}
	if n := utf8.RuneCountInString(req.Message); n > maxLength {
		return clientError("message is too long (%d characters, maximum %d)", n, maxLength)
	}
	return nil
}

// String is used in debug logs and never includes message text.
func (req *ChatRequest) String() string {
	return fmt.Sprintf("ChatRequest{len=%d session=%q attachments=%d}",
		utf8.RuneCountInString(req.Message), req.SessionID, len(req.Attachments))
}
