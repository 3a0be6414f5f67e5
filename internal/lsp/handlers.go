package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync/atomic"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	dbg "github.com/camelscope/camelscope/internal/debug"
	"github.com/camelscope/camelscope/internal/document"
	"github.com/camelscope/camelscope/internal/index"
	"github.com/camelscope/camelscope/internal/perlerr"
	"github.com/camelscope/camelscope/internal/providers"
)

// reqCtx carries the immutable snapshots captured at dispatch time, so a
// request issued after a notification observes the notification's
// effect even though the handler runs concurrently with later edits.
type reqCtx struct {
	params json.RawMessage
	doc    *document.Snapshot // nil for workspace-scoped requests
	idx    *index.Snapshot
}

type requestHandler func(ctx context.Context, s *Server, rc *reqCtx) (any, error)

// While the index is building, crossFile methods serve partial results
// with a diagnostic and notReady methods refuse until the sweep
// completes; methods in neither list stay fully available.
var crossFile = map[string]bool{
	"workspace/symbol":            true,
	"textDocument/references":     true,
	"textDocument/implementation": true,
	"callHierarchy/incomingCalls": true,
}

var notReady = map[string]bool{
	"textDocument/rename": true,
}

var requestHandlers = map[string]requestHandler{
	"textDocument/completion":           handleCompletion,
	"textDocument/hover":                handleHover,
	"textDocument/signatureHelp":        handleSignatureHelp,
	"textDocument/definition":           handleDefinition,
	"textDocument/typeDefinition":       handleTypeDefinition,
	"textDocument/implementation":       handleImplementation,
	"textDocument/references":           handleReferences,
	"textDocument/documentHighlight":    handleDocumentHighlight,
	"textDocument/documentSymbol":       handleDocumentSymbol,
	"textDocument/prepareRename":        handlePrepareRename,
	"textDocument/rename":               handleRename,
	"textDocument/formatting":           handleFormatting,
	"textDocument/rangeFormatting":      handleRangeFormatting,
	"textDocument/codeAction":           handleCodeAction,
	"textDocument/codeLens":             handleCodeLens,
	"textDocument/semanticTokens/full":  handleSemanticTokensFull,
	"textDocument/semanticTokens/full/delta": handleSemanticTokensDelta,
	"textDocument/prepareCallHierarchy": handlePrepareCallHierarchy,
	"callHierarchy/incomingCalls":       handleIncomingCalls,
	"callHierarchy/outgoingCalls":       handleOutgoingCalls,
	"workspace/symbol":                  handleWorkspaceSymbol,
}

func (s *Server) dispatchRequest(ctx context.Context, msg *Message) {
	switch msg.Method {
	case "initialize":
		result, err := s.handleInitialize(msg.Params)
		s.respond(msg.ID, result, err)
		return
	case "shutdown":
		atomic.StoreInt32(&s.lifecycle, lifecycleShutdown)
		s.respond(msg.ID, nil, nil)
		return
	}

	switch atomic.LoadInt32(&s.lifecycle) {
	case lifecycleUninitialized:
		s.send(Message{JSONRPC: "2.0", ID: msg.ID, Error: &ResponseError{
			Code: perlerr.CodeServerNotInit, Message: "server not initialized",
		}})
		return
	case lifecycleShutdown:
		s.respond(msg.ID, nil, perlerr.NewProtocolError(perlerr.KindInvalidRequest, "server is shutting down"))
		return
	}

	handler, ok := requestHandlers[msg.Method]
	if !ok {
		s.respond(msg.ID, nil, perlerr.NewMethodNotFound(msg.Method))
		return
	}

	// Snapshots are captured on the dispatcher goroutine, before any
	// later notification is processed.
	rc := &reqCtx{params: msg.Params, idx: s.manager.Store().Snapshot()}
	if u, found := textDocumentURI(msg.Params); found {
		if snap, open := s.docs.Snapshot(u); open {
			rc.doc = snap
		}
	}

	// Degradation policy while the initial sweep is running
	if rc.idx.State() == index.StateBuilding {
		if notReady[msg.Method] {
			s.respond(msg.ID, nil, perlerr.NewProtocolError(perlerr.KindInvalidRequest,
				"index is still building; retry when ready"))
			return
		}
		if crossFile[msg.Method] {
			s.logMessage(fmt.Sprintf("%s served partial results (partialResult=true): index is building", msg.Method))
		}
	}

	s.inFlight.Add(1)
	reqID := msg.ID
	method := msg.Method
	hctx, done := s.cancels.Register(ctx, reqID)
	go func() {
		defer s.inFlight.Done()
		defer done()
		defer func() {
			if r := recover(); r != nil {
				dbg.LogLSP("provider panic in %s: %v\n%s", method, r, debug.Stack())
				s.respond(reqID, nil, perlerr.NewInternal(fmt.Errorf("provider panic: %v", r)))
			}
		}()

		result, err := handler(hctx, s, rc)
		if hctx.Err() != nil {
			s.respond(reqID, nil, perlerr.NewCancelled(string(reqID)))
			return
		}
		s.respond(reqID, result, err)
	}()
}

func (s *Server) respond(id json.RawMessage, result any, err error) {
	if err != nil {
		s.send(newErrorResponse(id, err))
		return
	}
	s.send(newResponse(id, result))
}

// textDocumentURI extracts params.textDocument.uri without committing to
// a full params type.
func textDocumentURI(raw json.RawMessage) (uri.URI, bool) {
	var probe struct {
		TextDocument struct {
			URI uri.URI `json:"uri"`
		} `json:"textDocument"`
		Item struct {
			URI uri.URI `json:"uri"`
		} `json:"item"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", false
	}
	if probe.TextDocument.URI != "" {
		return probe.TextDocument.URI, true
	}
	if probe.Item.URI != "" {
		return probe.Item.URI, true
	}
	return "", false
}

// positionParams is the common position-carrying request shape.
type positionParams struct {
	Position struct {
		Line      uint32 `json:"line"`
		Character uint32 `json:"character"`
	} `json:"position"`
}

func decodePosition(raw json.RawMessage) (protocol.Position, error) {
	var p positionParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return protocol.Position{}, err
	}
	return protocol.Position{Line: p.Position.Line, Character: p.Position.Character}, nil
}

func needDoc(rc *reqCtx, method string) (*document.Snapshot, error) {
	if rc.doc == nil {
		return nil, perlerr.NewInvalidParams(method, fmt.Errorf("document not open"))
	}
	return rc.doc, nil
}

// --- handlers ------------------------------------------------------------

func handleCompletion(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "textDocument/completion")
	if err != nil {
		return nil, err
	}
	pos, err := decodePosition(rc.params)
	if err != nil {
		return nil, perlerr.NewInvalidParams("textDocument/completion", err)
	}
	cfg := providers.CompletionConfig{Roots: s.folders, IncludePaths: s.cfg.Workspace.IncludePaths}
	return providers.Completion(rc.idx, doc, s.enc, cfg, pos), nil
}

func handleHover(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "textDocument/hover")
	if err != nil {
		return nil, err
	}
	pos, err := decodePosition(rc.params)
	if err != nil {
		return nil, perlerr.NewInvalidParams("textDocument/hover", err)
	}
	return providers.Hover(rc.idx, doc, s.enc, pos), nil
}

func handleSignatureHelp(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "textDocument/signatureHelp")
	if err != nil {
		return nil, err
	}
	pos, err := decodePosition(rc.params)
	if err != nil {
		return nil, perlerr.NewInvalidParams("textDocument/signatureHelp", err)
	}
	return providers.SignatureHelp(rc.idx, doc, s.enc, pos), nil
}

func handleDefinition(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "textDocument/definition")
	if err != nil {
		return nil, err
	}
	pos, err := decodePosition(rc.params)
	if err != nil {
		return nil, perlerr.NewInvalidParams("textDocument/definition", err)
	}
	return providers.Definition(rc.idx, doc, s.enc, ranger{s}, pos), nil
}

func handleTypeDefinition(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "textDocument/typeDefinition")
	if err != nil {
		return nil, err
	}
	pos, err := decodePosition(rc.params)
	if err != nil {
		return nil, perlerr.NewInvalidParams("textDocument/typeDefinition", err)
	}
	return providers.TypeDefinition(rc.idx, doc, s.enc, ranger{s}, pos), nil
}

func handleImplementation(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "textDocument/implementation")
	if err != nil {
		return nil, err
	}
	pos, err := decodePosition(rc.params)
	if err != nil {
		return nil, perlerr.NewInvalidParams("textDocument/implementation", err)
	}
	return providers.Implementation(ctx, rc.idx, doc, s.enc, ranger{s}, pos), nil
}

func handleReferences(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "textDocument/references")
	if err != nil {
		return nil, err
	}
	var params struct {
		positionParams
		Context struct {
			IncludeDeclaration bool `json:"includeDeclaration"`
		} `json:"context"`
	}
	if err := json.Unmarshal(rc.params, &params); err != nil {
		return nil, perlerr.NewInvalidParams("textDocument/references", err)
	}
	rp := &protocol.ReferenceParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			Position: protocol.Position{Line: params.Position.Line, Character: params.Position.Character},
		},
		Context: protocol.ReferenceContext{IncludeDeclaration: params.Context.IncludeDeclaration},
	}
	return providers.References(ctx, rc.idx, doc, s.enc, ranger{s}, rp)
}

func handleDocumentHighlight(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "textDocument/documentHighlight")
	if err != nil {
		return nil, err
	}
	pos, err := decodePosition(rc.params)
	if err != nil {
		return nil, perlerr.NewInvalidParams("textDocument/documentHighlight", err)
	}
	return providers.DocumentHighlight(rc.idx, doc, s.enc, pos), nil
}

func handleDocumentSymbol(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "textDocument/documentSymbol")
	if err != nil {
		return nil, err
	}
	return providers.DocumentSymbol(doc, s.enc), nil
}

func handlePrepareRename(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "textDocument/prepareRename")
	if err != nil {
		return nil, err
	}
	pos, err := decodePosition(rc.params)
	if err != nil {
		return nil, perlerr.NewInvalidParams("textDocument/prepareRename", err)
	}
	r, placeholder, err := providers.PrepareRename(rc.idx, doc, s.enc, pos)
	if err != nil {
		return nil, err
	}
	return map[string]any{"range": r, "placeholder": placeholder}, nil
}

func handleRename(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "textDocument/rename")
	if err != nil {
		return nil, err
	}
	var params struct {
		positionParams
		NewName string `json:"newName"`
	}
	if err := json.Unmarshal(rc.params, &params); err != nil {
		return nil, perlerr.NewInvalidParams("textDocument/rename", err)
	}
	rp := &protocol.RenameParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			Position: protocol.Position{Line: params.Position.Line, Character: params.Position.Character},
		},
		NewName: params.NewName,
	}
	return providers.Rename(ctx, rc.idx, doc, s.enc, ranger{s}, rp)
}

func handleFormatting(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "textDocument/formatting")
	if err != nil {
		return nil, err
	}
	edits, toolErr := providers.Formatting(ctx, doc, s.enc, s.cfg.Formatter)
	if toolErr != nil {
		// Missing or failed formatters degrade to no edits plus a
		// diagnostic, never a request error.
		s.logMessage(toolErr.Error())
	}
	return edits, nil
}

func handleRangeFormatting(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "textDocument/rangeFormatting")
	if err != nil {
		return nil, err
	}
	var params struct {
		Range struct {
			Start positionLit `json:"start"`
			End   positionLit `json:"end"`
		} `json:"range"`
	}
	if err := json.Unmarshal(rc.params, &params); err != nil {
		return nil, perlerr.NewInvalidParams("textDocument/rangeFormatting", err)
	}
	r := protocol.Range{
		Start: protocol.Position{Line: uint32(params.Range.Start.Line), Character: uint32(params.Range.Start.Character)},
		End:   protocol.Position{Line: uint32(params.Range.End.Line), Character: uint32(params.Range.End.Character)},
	}
	edits, toolErr := providers.RangeFormatting(ctx, doc, s.enc, s.cfg.Formatter, r)
	if toolErr != nil {
		s.logMessage(toolErr.Error())
	}
	return edits, nil
}

func handleCodeAction(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "textDocument/codeAction")
	if err != nil {
		return nil, err
	}
	var params struct {
		Range struct {
			Start positionLit `json:"start"`
			End   positionLit `json:"end"`
		} `json:"range"`
	}
	if err := json.Unmarshal(rc.params, &params); err != nil {
		return nil, perlerr.NewInvalidParams("textDocument/codeAction", err)
	}
	actionParams := &protocol.CodeActionParams{
		Range: protocol.Range{
			Start: protocol.Position{Line: uint32(params.Range.Start.Line), Character: uint32(params.Range.Start.Character)},
			End:   protocol.Position{Line: uint32(params.Range.End.Line), Character: uint32(params.Range.End.Character)},
		},
	}
	return providers.CodeAction(rc.idx, doc, s.enc, actionParams), nil
}

func handleCodeLens(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "textDocument/codeLens")
	if err != nil {
		return nil, err
	}
	return providers.CodeLens(ctx, rc.idx, doc, s.enc)
}

func handleSemanticTokensFull(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "textDocument/semanticTokens/full")
	if err != nil {
		return nil, err
	}
	toks := providers.SemanticTokensFull(doc, s.enc)
	id := strconv.FormatUint(s.semSeq.Add(1), 10)
	s.semMu.Lock()
	s.semPrev[doc.URI] = toks.Data
	s.semMu.Unlock()
	return map[string]any{"resultId": id, "data": toks.Data}, nil
}

func handleSemanticTokensDelta(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "textDocument/semanticTokens/full/delta")
	if err != nil {
		return nil, err
	}
	s.semMu.Lock()
	prev, ok := s.semPrev[doc.URI]
	s.semMu.Unlock()
	if !ok {
		return handleSemanticTokensFull(ctx, s, rc)
	}
	delta := providers.SemanticTokensDelta(prev, doc, s.enc)
	cur := providers.SemanticTokensFull(doc, s.enc)
	id := strconv.FormatUint(s.semSeq.Add(1), 10)
	s.semMu.Lock()
	s.semPrev[doc.URI] = cur.Data
	s.semMu.Unlock()
	return map[string]any{"resultId": id, "edits": delta.Edits}, nil
}

func handlePrepareCallHierarchy(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "textDocument/prepareCallHierarchy")
	if err != nil {
		return nil, err
	}
	pos, err := decodePosition(rc.params)
	if err != nil {
		return nil, perlerr.NewInvalidParams("textDocument/prepareCallHierarchy", err)
	}
	return providers.PrepareCallHierarchy(rc.idx, doc, s.enc, pos), nil
}

func handleIncomingCalls(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	var params struct {
		Item protocol.CallHierarchyItem `json:"item"`
	}
	if err := json.Unmarshal(rc.params, &params); err != nil {
		return nil, perlerr.NewInvalidParams("callHierarchy/incomingCalls", err)
	}
	return providers.IncomingCalls(ctx, rc.idx, ranger{s}, params.Item)
}

func handleOutgoingCalls(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	doc, err := needDoc(rc, "callHierarchy/outgoingCalls")
	if err != nil {
		return nil, err
	}
	var params struct {
		Item protocol.CallHierarchyItem `json:"item"`
	}
	if err := json.Unmarshal(rc.params, &params); err != nil {
		return nil, perlerr.NewInvalidParams("callHierarchy/outgoingCalls", err)
	}
	return providers.OutgoingCalls(ctx, rc.idx, doc, s.enc, ranger{s}, params.Item)
}

func handleWorkspaceSymbol(ctx context.Context, s *Server, rc *reqCtx) (any, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(rc.params, &params); err != nil {
		return nil, perlerr.NewInvalidParams("workspace/symbol", err)
	}
	return providers.WorkspaceSymbol(ctx, rc.idx, ranger{s}, params.Query)
}
