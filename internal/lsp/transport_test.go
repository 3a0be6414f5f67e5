package lsp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(payload string) string {
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(payload), payload)
}

func TestReadFrame(t *testing.T) {
	r := NewFrameReader(strings.NewReader(frame(`{"jsonrpc":"2.0"}`)))
	payload, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0"}`, string(payload))

	_, err = r.ReadFrame()
	assert.Equal(t, io.EOF, err)
}

func TestReadFrameWithContentType(t *testing.T) {
	payload := `{"jsonrpc":"2.0","method":"x"}`
	raw := fmt.Sprintf("Content-Length: %d\r\nContent-Type: application/vscode-jsonrpc; charset=utf-8\r\n\r\n%s", len(payload), payload)
	r := NewFrameReader(strings.NewReader(raw))

	got, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
}

func TestReadFrameMalformedHeaderRecovers(t *testing.T) {
	good := `{"jsonrpc":"2.0","method":"ok"}`
	raw := "this is not a header\r\n" + frame(good)
	r := NewFrameReader(strings.NewReader(raw))

	_, err := r.ReadFrame()
	require.ErrorIs(t, err, ErrMalformedFrame)

	// The reader resumes at the next frame
	payload, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, good, string(payload))
}

func TestReadFrameBadContentLength(t *testing.T) {
	raw := "Content-Length: banana\r\n\r\n{}"
	r := NewFrameReader(strings.NewReader(raw))
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestReadFrameMissingContentLength(t *testing.T) {
	raw := "Content-Type: application/json\r\n\r\n{}"
	r := NewFrameReader(strings.NewReader(raw))
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestReadFrameOversizeRejected(t *testing.T) {
	raw := fmt.Sprintf("Content-Length: %d\r\n\r\n", maxFrameSize+1)
	r := NewFrameReader(strings.NewReader(raw))
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	raw := "Content-Length: 100\r\n\r\n{\"short\":true}"
	r := NewFrameReader(strings.NewReader(raw))
	_, err := r.ReadFrame()
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrMalformedFrame), "truncation is a transport error, not a recoverable frame error")
}

func TestWriteFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	require.NoError(t, w.Write(newNotification("window/logMessage", map[string]any{"message": "hi"})))

	r := NewFrameReader(&buf)
	payload, err := r.ReadFrame()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, "window/logMessage", msg.Method)
	assert.Equal(t, "2.0", msg.JSONRPC)
}

func TestMessageClassification(t *testing.T) {
	req := Message{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "m"}
	assert.True(t, req.IsRequest())
	assert.False(t, req.IsNotification())

	note := Message{JSONRPC: "2.0", Method: "m"}
	assert.False(t, note.IsRequest())
	assert.True(t, note.IsNotification())

	resp := Message{JSONRPC: "2.0", ID: json.RawMessage("1"), Result: "x"}
	assert.False(t, resp.IsRequest())
	assert.False(t, resp.IsNotification())
}
