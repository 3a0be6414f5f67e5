// Package lsp implements the protocol state machine: the stdio framing
// transport, the request/notification dispatcher, per-request
// cancellation, and the degradation policy while the index is building.
//
// Concurrency: the Run loop is the only goroutine that mutates documents
// and routes messages; a separate goroutine drains the outgoing queue.
// Request handlers run on their own goroutines over immutable snapshots
// captured at dispatch time, so a request issued after a notification
// observes that notification's effect.
package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/camelscope/camelscope/internal/config"
	"github.com/camelscope/camelscope/internal/debug"
	"github.com/camelscope/camelscope/internal/document"
	"github.com/camelscope/camelscope/internal/index"
	"github.com/camelscope/camelscope/internal/perlerr"
	"github.com/camelscope/camelscope/internal/providers"
	"github.com/camelscope/camelscope/internal/rope"
	"github.com/camelscope/camelscope/internal/version"
)

// Lifecycle states.
const (
	lifecycleUninitialized int32 = iota
	lifecycleInitialized
	lifecycleShutdown
)

// Server owns all mutable state: the document store, the index, and the
// configuration. Everything providers see is an immutable snapshot.
type Server struct {
	reader *FrameReader
	writer *FrameWriter
	outCh  chan Message

	lifecycle int32
	sawExit   bool
	exitCode  int

	cfg     config.Config
	enc     rope.Encoding
	folders []string

	docs    *document.Store
	manager *index.Manager
	watcher *index.Watcher

	cancels *cancelRegistry
	inFlight sync.WaitGroup

	// previous semantic token results for delta requests
	semMu   sync.Mutex
	semPrev map[uri.URI][]uint32
	semSeq  atomic.Uint64
}

// NewServer creates a server over the given transport streams.
func NewServer(r io.Reader, w io.Writer) *Server {
	return &Server{
		reader:  NewFrameReader(r),
		writer:  NewFrameWriter(w),
		outCh:   make(chan Message, 64),
		cfg:     config.Default(),
		enc:     rope.EncodingUTF16,
		cancels: newCancelRegistry(),
		semPrev: make(map[uri.URI][]uint32),
	}
}

// Run serves until exit. Returns the process exit code: 0 after a clean
// shutdown+exit sequence, non-zero on transport failure or exit without
// shutdown.
func (s *Server) Run(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		for msg := range s.outCh {
			if err := s.writer.Write(msg); err != nil {
				debug.LogLSP("write failed: %v\n", err)
			}
		}
	}()

	code := s.readLoop(ctx)

	s.inFlight.Wait()
	close(s.outCh)
	writerWG.Wait()
	if s.watcher != nil {
		_ = s.watcher.Stop()
	}
	return code
}

func (s *Server) readLoop(ctx context.Context) int {
	for {
		payload, err := s.reader.ReadFrame()
		switch {
		case err == nil:
		case errors.Is(err, ErrMalformedFrame):
			debug.LogLSP("discarding malformed frame: %v\n", err)
			s.logMessage(fmt.Sprintf("discarded malformed frame: %v", err))
			continue
		case errors.Is(err, io.EOF):
			if atomic.LoadInt32(&s.lifecycle) == lifecycleShutdown {
				return 0
			}
			debug.LogLSP("transport closed before exit\n")
			return 1
		default:
			debug.LogLSP("transport error: %v\n", err)
			return 1
		}

		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			debug.LogLSP("discarding unparseable payload: %v\n", err)
			s.logMessage(fmt.Sprintf("discarded unparseable frame: %v", err))
			continue
		}

		if msg.Method == "exit" {
			if atomic.LoadInt32(&s.lifecycle) == lifecycleShutdown {
				return 0
			}
			return 1
		}

		switch {
		case msg.IsRequest():
			s.dispatchRequest(ctx, &msg)
		case msg.IsNotification():
			s.handleNotification(&msg)
		default:
			// Responses to server-initiated requests; none are tracked.
		}
	}
}

// send queues an outgoing message.
func (s *Server) send(msg Message) {
	s.outCh <- msg
}

// logMessage emits a window/logMessage diagnostic notification.
func (s *Server) logMessage(text string) {
	s.send(newNotification("window/logMessage", map[string]any{
		"type":    3, // Info
		"message": text,
	}))
}

// --- lifecycle -----------------------------------------------------------

// initializeParams is the subset of the initialize request the server
// consumes, decoded leniently.
type initializeParams struct {
	RootURI          uri.URI         `json:"rootUri"`
	RootPath         string          `json:"rootPath"`
	InitOptions      json.RawMessage `json:"initializationOptions"`
	WorkspaceFolders []struct {
		URI  uri.URI `json:"uri"`
		Name string  `json:"name"`
	} `json:"workspaceFolders"`
	Capabilities struct {
		General struct {
			PositionEncodings []string `json:"positionEncodings"`
		} `json:"general"`
	} `json:"capabilities"`
}

func (s *Server) handleInitialize(raw json.RawMessage) (any, error) {
	if !atomic.CompareAndSwapInt32(&s.lifecycle, lifecycleUninitialized, lifecycleInitialized) {
		return nil, perlerr.NewProtocolError(perlerr.KindInvalidRequest, "server already initialized")
	}

	var params initializeParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, perlerr.NewInvalidParams("initialize", err)
		}
	}

	// Workspace folders in initialization order; rootUri as fallback.
	for _, f := range params.WorkspaceFolders {
		s.folders = append(s.folders, f.URI.Filename())
	}
	if len(s.folders) == 0 && params.RootURI != "" {
		s.folders = append(s.folders, params.RootURI.Filename())
	}
	if len(s.folders) == 0 && params.RootPath != "" {
		s.folders = append(s.folders, params.RootPath)
	}

	// utf-16 is the protocol default; honor utf-8 when the client
	// offers it exclusively.
	offersUTF16 := len(params.Capabilities.General.PositionEncodings) == 0
	offersUTF8 := false
	for _, e := range params.Capabilities.General.PositionEncodings {
		if e == "utf-16" {
			offersUTF16 = true
		}
		if e == "utf-8" {
			offersUTF8 = true
		}
	}
	encodingName := "utf-16"
	if !offersUTF16 && offersUTF8 {
		s.enc = rope.EncodingUTF8
		encodingName = "utf-8"
	}

	// Configuration: defaults < workspace file < initializationOptions
	cfg := config.Default()
	if len(s.folders) > 0 {
		loaded, err := config.LoadWorkspaceFile(s.folders[0], cfg)
		if err != nil {
			debug.LogLSP("workspace config ignored: %v\n", err)
		} else {
			cfg = loaded
		}
	}
	cfg, optErr := config.ApplyJSON(cfg, params.InitOptions)
	if optErr != nil {
		debug.LogLSP("initializationOptions rejected: %v\n", optErr)
	}
	s.cfg = cfg

	s.docs = document.NewStore(document.ParseConfig{
		Incremental: cfg.Parser.Incremental,
		ShadowCheck: cfg.Parser.ShadowCheck,
		MaxDepth:    cfg.Parser.MaxRecursionDepth,
	})
	s.manager = index.NewManager(cfg, s.folders, s.docs.IsOpen)

	// Initial sweep and watcher run in the background; the index serves
	// degraded answers until the sweep completes. Run waits for the sweep
	// before closing the outgoing queue.
	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		if err := s.manager.InitialSweep(context.Background()); err != nil {
			debug.LogIndex("initial sweep aborted: %v\n", err)
		}
		s.notifyIndexStatus()
	}()
	if w, err := index.NewWatcher(s.manager, cfg.Index.WatchDebounceMs); err == nil {
		s.watcher = w
		if startErr := w.Start(); startErr != nil {
			debug.LogIndex("watcher not started: %v\n", startErr)
		}
	} else {
		debug.LogIndex("watcher unavailable: %v\n", err)
	}

	return map[string]any{
		"capabilities": s.capabilities(encodingName),
		"serverInfo": map[string]any{
			"name":    "camelscope",
			"version": version.Version,
		},
	}, nil
}

// capabilities advertises LSP 3.17 support.
func (s *Server) capabilities(positionEncoding string) map[string]any {
	return map[string]any{
		"positionEncoding": positionEncoding,
		"textDocumentSync": map[string]any{
			"openClose": true,
			"change":    2, // incremental
		},
		"completionProvider": map[string]any{
			"triggerCharacters": []string{"$", "@", "%", ":", ">"},
		},
		"hoverProvider":          true,
		"signatureHelpProvider":  map[string]any{"triggerCharacters": []string{"(", ","}},
		"definitionProvider":     true,
		"typeDefinitionProvider": true,
		"implementationProvider": true,
		"referencesProvider":     true,
		"documentHighlightProvider":       true,
		"documentSymbolProvider":          true,
		"workspaceSymbolProvider":         true,
		"renameProvider":                  map[string]any{"prepareProvider": true},
		"documentFormattingProvider":      true,
		"documentRangeFormattingProvider": true,
		"codeActionProvider":              true,
		"codeLensProvider":                map[string]any{"resolveProvider": false},
		"callHierarchyProvider":           true,
		"semanticTokensProvider": map[string]any{
			"legend": map[string]any{
				"tokenTypes":     providers.SemanticTokenTypes,
				"tokenModifiers": providers.SemanticTokenModifiers,
			},
			"full": map[string]any{"delta": true},
		},
	}
}

// notifyIndexStatus publishes the custom index status notification.
func (s *Server) notifyIndexStatus() {
	snap := s.manager.Store().Snapshot()
	s.send(newNotification("$/camelscope.indexStatus", map[string]any{
		"state": snap.State().String(),
	}))
}

// --- notifications -------------------------------------------------------

// didOpenParams et al. are decoded locally so that nil-able fields (the
// change range) keep pointer semantics regardless of protocol library
// versions.
type textDocumentItem struct {
	URI     uri.URI `json:"uri"`
	Version int32   `json:"version"`
	Text    string  `json:"text"`
}

type positionLit struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type rangeLit struct {
	Start positionLit `json:"start"`
	End   positionLit `json:"end"`
}

type contentChange struct {
	Range *rangeLit `json:"range"`
	Text  string    `json:"text"`
}

func (s *Server) handleNotification(msg *Message) {
	// Document and workspace notifications are meaningless before
	// initialize created the stores.
	if s.docs == nil {
		switch msg.Method {
		case "initialized", "$/cancelRequest", "shutdown":
		default:
			dbgIgnored(msg.Method)
			return
		}
	}
	switch msg.Method {
	case "initialized":
		// no-op

	case "$/cancelRequest":
		var params struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			s.cancels.Cancel(params.ID)
		}

	case "shutdown":
		// shutdown as a notification is tolerated; the request form is
		// handled in the request table.
		atomic.StoreInt32(&s.lifecycle, lifecycleShutdown)

	case "textDocument/didOpen":
		var params struct {
			TextDocument textDocumentItem `json:"textDocument"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			debug.LogLSP("didOpen: %v\n", err)
			return
		}
		d := s.docs.Open(params.TextDocument.URI, params.TextDocument.Text, params.TextDocument.Version)
		s.indexAndDiagnose(d.Snapshot())

	case "textDocument/didChange":
		var params struct {
			TextDocument struct {
				URI     uri.URI `json:"uri"`
				Version int32   `json:"version"`
			} `json:"textDocument"`
			ContentChanges []contentChange `json:"contentChanges"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			debug.LogLSP("didChange: %v\n", err)
			return
		}
		s.applyChanges(params.TextDocument.URI, params.TextDocument.Version, params.ContentChanges)

	case "textDocument/didClose":
		var params struct {
			TextDocument struct {
				URI uri.URI `json:"uri"`
			} `json:"textDocument"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return
		}
		s.docs.Close(params.TextDocument.URI)
		// Disk takes over as the source of truth
		s.manager.IndexFile(params.TextDocument.URI.Filename())

	case "textDocument/didSave":
		// The document model already holds the saved text.

	case "workspace/didChangeConfiguration":
		var params struct {
			Settings json.RawMessage `json:"settings"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return
		}
		cfg, err := config.ApplyJSON(s.cfg, params.Settings)
		if err != nil {
			debug.LogLSP("didChangeConfiguration rejected: %v\n", err)
			s.logMessage(fmt.Sprintf("configuration rejected: %v", err))
			return
		}
		s.cfg = cfg
		s.docs.SetParseConfig(document.ParseConfig{
			Incremental: cfg.Parser.Incremental,
			ShadowCheck: cfg.Parser.ShadowCheck,
			MaxDepth:    cfg.Parser.MaxRecursionDepth,
		})

	case "workspace/didChangeWatchedFiles":
		var params struct {
			Changes []struct {
				URI  uri.URI `json:"uri"`
				Type int     `json:"type"`
			} `json:"changes"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return
		}
		for _, ch := range params.Changes {
			if ch.Type == 3 { // deleted
				s.manager.RemoveFile(ch.URI.Filename())
			} else {
				s.manager.IndexFile(ch.URI.Filename())
			}
		}

	default:
		dbgIgnored(msg.Method)
	}
}

func dbgIgnored(method string) {
	debug.LogLSP("ignoring notification %s\n", method)
}

// applyChanges applies didChange content changes in receipt order, then
// reindexes and republishes diagnostics.
func (s *Server) applyChanges(u uri.URI, version int32, changes []contentChange) {
	doc, ok := s.docs.Get(u)
	if !ok {
		debug.LogLSP("didChange for unopened %s\n", u)
		return
	}
	var resolved []document.Change
	for _, ch := range changes {
		if ch.Range == nil {
			resolved = append(resolved, document.Change{Full: true, NewText: ch.Text})
			continue
		}
		m := doc.Mapper()
		start, _ := m.ToByte(rope.Position{Line: ch.Range.Start.Line, Character: ch.Range.Start.Character}, s.enc)
		end, _ := m.ToByte(rope.Position{Line: ch.Range.End.Line, Character: ch.Range.End.Character}, s.enc)
		resolved = append(resolved, document.Change{Start: start, End: end, NewText: ch.Text})
		// Ranges within one didChange refer to the successively updated
		// document, so apply one at a time.
		if err := s.docs.Apply(u, resolved, version); err != nil {
			debug.LogLSP("didChange apply failed: %v\n", err)
			return
		}
		resolved = resolved[:0]
	}
	if len(resolved) > 0 {
		if err := s.docs.Apply(u, resolved, version); err != nil {
			debug.LogLSP("didChange apply failed: %v\n", err)
			return
		}
	}
	if snap, ok := s.docs.Snapshot(u); ok {
		s.indexAndDiagnose(snap)
	}
}

// indexAndDiagnose feeds the open document into the index and publishes
// its parse diagnostics.
func (s *Server) indexAndDiagnose(snap *document.Snapshot) {
	s.manager.IndexDocument(snap.URI, snap.Text.String(), snap.Tree)
	diags := providers.Diagnostics(snap, s.enc)
	s.send(newNotification("textDocument/publishDiagnostics", map[string]any{
		"uri":         snap.URI,
		"version":     snap.Version,
		"diagnostics": diags,
	}))
}

// --- cross-file range mapping -------------------------------------------

// ranger maps byte ranges in arbitrary indexed files to LSP ranges: open
// documents through their snapshots, closed files by reading disk.
type ranger struct {
	s *Server
}

// RangeOf implements providers.FileRanger.
func (r ranger) RangeOf(u uri.URI, start, end int) (protocol.Range, bool) {
	var m *rope.Mapper
	if snap, ok := r.s.docs.Snapshot(u); ok {
		m = snap.Mapper
	} else {
		content, err := os.ReadFile(u.Filename())
		if err != nil {
			return protocol.Range{}, false
		}
		m = rope.NewMapper(rope.FromString(string(content)))
	}
	p1 := m.FromByte(start, r.s.enc)
	p2 := m.FromByte(end, r.s.enc)
	return protocol.Range{
		Start: protocol.Position{Line: uint32(p1.Line), Character: uint32(p1.Character)},
		End:   protocol.Position{Line: uint32(p2.Line), Character: uint32(p2.Character)},
	}, true
}
