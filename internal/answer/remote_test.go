// ABOUTME: Tests for the Remote generator against an httptest SSE server
// ABOUTME: Covers meta handling, state/token adaptation, upstream errors, and bad status codes

package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var turn Turn
		if err := json.NewDecoder(r.Body).Decode(&turn); err != nil {
			http.Error(w, "bad turn", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemote_Generate(t *testing.T) {
	srv := sseServer(t,
		`{"type":"state","stateType":"searching","message":"Searching","progress":10}`,
		`{"type":"meta","sessionId":"s1","sources":["doc-a"],"toolsUsed":["search"]}`,
		`{"type":"state","stateType":"composing","message":"Composing","progress":80}`,
		`{"type":"token","content":"Hello "}`,
		`{"type":"token","content":"world"}`,
		`[DONE]`,
	)

	r := NewRemote(srv.URL, nil, nil)
	res, err := r.Generate(context.Background(), &Turn{SessionID: "s1", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, []string{"doc-a"}, res.Sources)
	assert.Equal(t, []string{"search"}, res.ToolsUsed)

	states, text := drain(t, res)
	assert.Equal(t, "Hello world", text)
	require.Len(t, states, 2)
	assert.Equal(t, "searching", states[0].Type)
	assert.Equal(t, 80, states[1].Progress)
}

func TestRemote_TokensWithoutMeta(t *testing.T) {
	srv := sseServer(t,
		`{"type":"token","content":"just "}`,
		`{"type":"token","content":"text"}`,
	)

	res, err := NewRemote(srv.URL, nil, nil).Generate(context.Background(), &Turn{SessionID: "s9", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "s9", res.SessionID)

	text, err := Collect(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, "just text", text)
}

func TestRemote_ErrorBeforeMeta(t *testing.T) {
	srv := sseServer(t, `{"type":"error","error":"model unavailable"}`)

	_, err := NewRemote(srv.URL, nil, nil).Generate(context.Background(), &Turn{Message: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestRemote_ErrorMidStream(t *testing.T) {
	srv := sseServer(t,
		`{"type":"meta"}`,
		`{"type":"token","content":"partial"}`,
		`{"type":"error","error":"connection reset"}`,
		`{"type":"token","content":"never"}`,
	)

	res, err := NewRemote(srv.URL, nil, nil).Generate(context.Background(), &Turn{Message: "hi"})
	require.NoError(t, err)

	text, err := Collect(context.Background(), res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, "partial", text)
}

func TestRemote_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewRemote(srv.URL, nil, nil).Generate(context.Background(), &Turn{Message: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "overloaded")
}

func TestRemote_MalformedFrame(t *testing.T) {
	srv := sseServer(t, `{not json`)

	_, err := NewRemote(srv.URL, nil, nil).Generate(context.Background(), &Turn{Message: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing frame")
}
