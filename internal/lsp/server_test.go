package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.lsp.dev/uri"

	"github.com/camelscope/camelscope/internal/perlerr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// fsnotify's kernel-event reader winds down asynchronously
		goleak.IgnoreTopFunction("github.com/fsnotify/fsnotify.(*Watcher).readEvents"),
		goleak.IgnoreTopFunction("github.com/fsnotify/fsnotify.(*inotify).readEvents"),
	)
}

// testClient drives a server over in-memory pipes.
type testClient struct {
	t      *testing.T
	in     io.WriteCloser
	reader *FrameReader
	writer *FrameWriter
	done   chan int
}

func startServer(t *testing.T) *testClient {
	t.Helper()
	clientToServer, clientWrite := io.Pipe()
	serverRead := clientToServer
	serverToClient, serverWrite := io.Pipe()

	srv := NewServer(serverRead, serverWrite)
	done := make(chan int, 1)
	go func() {
		done <- srv.Run(context.Background())
		_ = serverWrite.Close()
	}()

	return &testClient{
		t:      t,
		in:     clientWrite,
		reader: NewFrameReader(serverToClient),
		writer: NewFrameWriter(clientWrite),
		done:   done,
	}
}

func (c *testClient) request(id int, method string, params any) {
	raw, err := json.Marshal(params)
	require.NoError(c.t, err)
	require.NoError(c.t, c.writer.Write(Message{
		JSONRPC: "2.0",
		ID:      json.RawMessage(fmt.Sprintf("%d", id)),
		Method:  method,
		Params:  raw,
	}))
}

func (c *testClient) notify(method string, params any) {
	raw, err := json.Marshal(params)
	require.NoError(c.t, err)
	require.NoError(c.t, c.writer.Write(Message{JSONRPC: "2.0", Method: method, Params: raw}))
}

// response reads frames until the response with the given ID arrives,
// collecting any notifications along the way.
func (c *testClient) response(id int) Message {
	c.t.Helper()
	deadline := time.After(10 * time.Second)
	result := make(chan Message, 1)
	go func() {
		for {
			payload, err := c.reader.ReadFrame()
			if err != nil {
				return
			}
			var msg Message
			if json.Unmarshal(payload, &msg) != nil {
				continue
			}
			if string(msg.ID) == fmt.Sprintf("%d", id) && msg.Method == "" {
				result <- msg
				return
			}
		}
	}()
	select {
	case msg := <-result:
		return msg
	case <-deadline:
		c.t.Fatalf("no response for request %d", id)
		return Message{}
	}
}

func (c *testClient) initialize(root string) Message {
	c.request(1, "initialize", map[string]any{
		"rootUri":      string(uri.File(root)),
		"capabilities": map[string]any{},
	})
	resp := c.response(1)
	c.notify("initialized", map[string]any{})
	return resp
}

func (c *testClient) shutdownAndExit() int {
	c.request(99, "shutdown", nil)
	c.response(99)
	c.notify("exit", nil)
	select {
	case code := <-c.done:
		return code
	case <-time.After(10 * time.Second):
		c.t.Fatal("server did not exit")
		return -1
	}
}

func resultMap(t *testing.T, msg Message) map[string]any {
	t.Helper()
	raw, err := json.Marshal(msg.Result)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestInitializeAdvertisesCapabilities(t *testing.T) {
	c := startServer(t)
	resp := c.initialize(t.TempDir())
	require.Nil(t, resp.Error)

	result := resultMap(t, resp)
	caps, ok := result["capabilities"].(map[string]any)
	require.True(t, ok)

	sync, ok := caps["textDocumentSync"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, sync["change"], "incremental sync")

	assert.NotNil(t, caps["completionProvider"])
	assert.Equal(t, true, caps["definitionProvider"])
	assert.Equal(t, true, caps["referencesProvider"])
	assert.NotNil(t, caps["semanticTokensProvider"])

	assert.Equal(t, 0, c.shutdownAndExit())
}

func TestRequestBeforeInitializeRejected(t *testing.T) {
	c := startServer(t)
	c.request(1, "textDocument/hover", map[string]any{})
	resp := c.response(1)
	require.NotNil(t, resp.Error)
	assert.EqualValues(t, -32002, resp.Error.Code)

	c.request(2, "initialize", map[string]any{"capabilities": map[string]any{}})
	c.response(2)
	assert.Equal(t, 0, c.shutdownAndExit())
}

func TestDefinitionEndToEnd(t *testing.T) {
	c := startServer(t)
	c.initialize(t.TempDir())

	docURI := string(uri.File("/w/a.pl"))
	c.notify("textDocument/didOpen", map[string]any{
		"textDocument": map[string]any{
			"uri":        docURI,
			"languageId": "perl",
			"version":    1,
			"text":       "my $x = 42;\nprint $x;",
		},
	})
	c.request(2, "textDocument/definition", map[string]any{
		"textDocument": map[string]any{"uri": docURI},
		"position":     map[string]any{"line": 1, "character": 6},
	})
	resp := c.response(2)
	require.Nil(t, resp.Error)

	raw, _ := json.Marshal(resp.Result)
	var locs []struct {
		URI   string `json:"uri"`
		Range struct {
			Start struct {
				Line      int `json:"line"`
				Character int `json:"character"`
			} `json:"start"`
			End struct {
				Line      int `json:"line"`
				Character int `json:"character"`
			} `json:"end"`
		} `json:"range"`
	}
	require.NoError(t, json.Unmarshal(raw, &locs))
	require.Len(t, locs, 1)
	assert.Equal(t, 0, locs[0].Range.Start.Line)
	assert.Equal(t, 3, locs[0].Range.Start.Character)
	assert.Equal(t, 5, locs[0].Range.End.Character)

	assert.Equal(t, 0, c.shutdownAndExit())
}

func TestDidChangeThenRequestSeesNewText(t *testing.T) {
	c := startServer(t)
	c.initialize(t.TempDir())

	docURI := string(uri.File("/w/b.pl"))
	c.notify("textDocument/didOpen", map[string]any{
		"textDocument": map[string]any{
			"uri": docURI, "languageId": "perl", "version": 1,
			"text": "my $a = 1;\n",
		},
	})
	// Insert a second statement, then immediately ask for symbols
	c.notify("textDocument/didChange", map[string]any{
		"textDocument":   map[string]any{"uri": docURI, "version": 2},
		"contentChanges": []map[string]any{{
			"range": map[string]any{
				"start": map[string]any{"line": 1, "character": 0},
				"end":   map[string]any{"line": 1, "character": 0},
			},
			"text": "sub fresh { }\n",
		}},
	})
	c.request(3, "textDocument/documentSymbol", map[string]any{
		"textDocument": map[string]any{"uri": docURI},
	})
	resp := c.response(3)
	require.Nil(t, resp.Error)
	raw, _ := json.Marshal(resp.Result)
	assert.Contains(t, string(raw), "fresh", "request after notification sees its effect")

	assert.Equal(t, 0, c.shutdownAndExit())
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	c := startServer(t)
	c.initialize(t.TempDir())

	c.request(5, "textDocument/noSuchMethod", map[string]any{})
	resp := c.response(5)
	require.NotNil(t, resp.Error)
	assert.EqualValues(t, -32601, resp.Error.Code)

	assert.Equal(t, 0, c.shutdownAndExit())
}

func TestMalformedFrameIsDiscardedAndServerContinues(t *testing.T) {
	c := startServer(t)
	c.initialize(t.TempDir())

	// Write garbage straight through the pipe, then a valid request
	_, err := c.in.Write([]byte("totally not a frame header\r\n"))
	require.NoError(t, err)

	c.request(7, "workspace/symbol", map[string]any{"query": "x"})
	resp := c.response(7)
	assert.Nil(t, resp.Error, "server recovers after a malformed frame")

	assert.Equal(t, 0, c.shutdownAndExit())
}

func TestUnparseablePayloadIsDiscarded(t *testing.T) {
	c := startServer(t)
	c.initialize(t.TempDir())

	garbage := "{this is not json"
	_, err := c.in.Write([]byte(fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(garbage), garbage)))
	require.NoError(t, err)

	c.request(8, "workspace/symbol", map[string]any{"query": "y"})
	resp := c.response(8)
	assert.Nil(t, resp.Error)

	assert.Equal(t, 0, c.shutdownAndExit())
}

// Workspace symbols never hang, whatever the index state; while the
// sweep is still running they serve a partial array plus a diagnostic.
func TestWorkspaceSymbolNeverHangsWhileBuilding(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.pl"), []byte("sub foo { }\nsub fob { }\n"), 0o644))

	c := startServer(t)
	c.initialize(root)

	// Issue immediately; the sweep may or may not have finished
	c.request(2, "workspace/symbol", map[string]any{"query": "fo"})
	resp := c.response(2)
	require.Nil(t, resp.Error)

	raw, _ := json.Marshal(resp.Result)
	var arr []any
	require.NoError(t, json.Unmarshal(raw, &arr), "result is an array even when partial")

	assert.Equal(t, 0, c.shutdownAndExit())
}

func TestCancelledRequestReturnsRequestCancelled(t *testing.T) {
	reg := newCancelRegistry()
	ctx, done := reg.Register(context.Background(), json.RawMessage("42"))
	defer done()

	require.NoError(t, ctx.Err())
	reg.Cancel(json.RawMessage("42"))

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("cancellation did not propagate")
	}

	// The dispatcher answers a cancelled request with this error
	resp := newErrorResponse(json.RawMessage("42"), perlerr.NewCancelled("42"))
	require.NotNil(t, resp.Error)
	assert.EqualValues(t, perlerr.CodeRequestCancelled, resp.Error.Code)
}

func TestCancelAfterResponseIsNoop(t *testing.T) {
	reg := newCancelRegistry()
	_, done := reg.Register(context.Background(), json.RawMessage("7"))
	done()
	// Must not panic or affect later requests with the same ID
	reg.Cancel(json.RawMessage("7"))

	ctx, done2 := reg.Register(context.Background(), json.RawMessage("7"))
	defer done2()
	assert.NoError(t, ctx.Err())
}

func TestExitWithoutShutdownReturnsNonZero(t *testing.T) {
	c := startServer(t)
	c.initialize(t.TempDir())
	c.notify("exit", nil)

	select {
	case code := <-c.done:
		assert.Equal(t, 1, code)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not exit")
	}
}

func TestShutdownThenRequestRejected(t *testing.T) {
	c := startServer(t)
	c.initialize(t.TempDir())

	c.request(50, "shutdown", nil)
	c.response(50)

	c.request(51, "textDocument/hover", map[string]any{})
	resp := c.response(51)
	require.NotNil(t, resp.Error)

	c.notify("exit", nil)
	assert.Equal(t, 0, <-c.done)
}

func TestProviderFaultDoesNotKillServer(t *testing.T) {
	c := startServer(t)
	c.initialize(t.TempDir())

	// A hover against a document that was never opened exercises the
	// request error path without killing the server
	c.request(9, "textDocument/hover", map[string]any{
		"textDocument": map[string]any{"uri": string(uri.File("/nope.pl"))},
		"position":     map[string]any{"line": 0, "character": 0},
	})
	resp := c.response(9)
	require.NotNil(t, resp.Error)

	// The server is still alive
	c.request(10, "workspace/symbol", map[string]any{"query": ""})
	resp = c.response(10)
	assert.Nil(t, resp.Error)

	assert.Equal(t, 0, c.shutdownAndExit())
}
