// Package perlerr defines the error taxonomy shared by the parser, the
// workspace index, and the protocol layer. Every error that can cross a
// request boundary maps to a JSON-RPC error code via Code.
package perlerr

import (
	"fmt"
	"time"
)

// Kind classifies errors across the server
type Kind string

const (
	// Parsing errors
	KindParse          Kind = "parse"
	KindRecursionLimit Kind = "recursion_limit"

	// Document errors
	KindPositionOutOfBounds Kind = "position_out_of_bounds"

	// Indexing errors
	KindFileIO            Kind = "file_io"
	KindResolutionTimeout Kind = "resolution_timeout"

	// Tooling errors
	KindExternalTool Kind = "external_tool"

	// Protocol errors
	KindCancelled      Kind = "cancelled"
	KindProtocol       Kind = "protocol"
	KindMethodNotFound Kind = "method_not_found"
	KindInvalidParams  Kind = "invalid_params"
	KindInvalidRequest Kind = "invalid_request"
	KindInternal       Kind = "internal"
)

// JSON-RPC 2.0 and LSP 3.17 error codes
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeServerNotInit    = -32002
	CodeRequestCancelled = -32800
	CodeContentModified  = -32801
)

// Code maps an error kind to the JSON-RPC code reported to the client.
// Kinds that never cross the wire (file IO, resolution timeout) degrade to
// InternalError if they ever do.
func Code(k Kind) int {
	switch k {
	case KindCancelled:
		return CodeRequestCancelled
	case KindMethodNotFound:
		return CodeMethodNotFound
	case KindInvalidParams:
		return CodeInvalidParams
	case KindInvalidRequest:
		return CodeInvalidRequest
	case KindProtocol:
		return CodeParseError
	default:
		return CodeInternalError
	}
}

// ParseError represents a syntax error discovered while lexing or parsing.
// Parse errors are always recovered in-place as Error nodes; this type is
// used when reporting them as diagnostics.
type ParseError struct {
	Kind      Kind
	URI       string
	ByteStart int
	ByteEnd   int
	Message   string
}

// NewParseError creates a parse error covering the given byte span
func NewParseError(uri string, start, end int, msg string) *ParseError {
	return &ParseError{Kind: KindParse, URI: uri, ByteStart: start, ByteEnd: end, Message: msg}
}

// NewRecursionLimitError creates the error reported when the parser hit its
// nesting bound
func NewRecursionLimitError(uri string, start, end int) *ParseError {
	return &ParseError{
		Kind:      KindRecursionLimit,
		URI:       uri,
		ByteStart: start,
		ByteEnd:   end,
		Message:   "construct nesting exceeds the configured recursion depth",
	}
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.URI != "" {
		return fmt.Sprintf("%s error at %s [%d..%d): %s", e.Kind, e.URI, e.ByteStart, e.ByteEnd, e.Message)
	}
	return fmt.Sprintf("%s error at [%d..%d): %s", e.Kind, e.ByteStart, e.ByteEnd, e.Message)
}

// FileError represents a filesystem failure during indexing. A file error
// transitions the affected URI to the Degraded state.
type FileError struct {
	Path       string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewFileError creates a new file error
func NewFileError(op, path string, err error) *FileError {
	return &FileError{
		Path:       path,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *FileError) Error() string {
	return fmt.Sprintf("file %s failed for %s: %v", e.Operation, e.Path, e.Underlying)
}

// Unwrap returns the underlying error for errors.Is/As
func (e *FileError) Unwrap() error {
	return e.Underlying
}

// ResolutionTimeoutError is returned when module resolution exceeded its
// budget; callers treat the name as unresolved.
type ResolutionTimeoutError struct {
	Name    string
	Budget  time.Duration
	Elapsed time.Duration
}

// Error implements the error interface
func (e *ResolutionTimeoutError) Error() string {
	return fmt.Sprintf("resolution of %q exceeded %v (took %v)", e.Name, e.Budget, e.Elapsed)
}

// ExternalToolError represents a failed, missing, or timed-out subprocess.
// Features recover from it by returning a no-op result plus a diagnostic.
type ExternalToolError struct {
	Command    string
	TimedOut   bool
	Missing    bool
	Underlying error
}

// Error implements the error interface
func (e *ExternalToolError) Error() string {
	switch {
	case e.Missing:
		return fmt.Sprintf("external tool %q not found", e.Command)
	case e.TimedOut:
		return fmt.Sprintf("external tool %q timed out", e.Command)
	default:
		return fmt.Sprintf("external tool %q failed: %v", e.Command, e.Underlying)
	}
}

// Unwrap returns the underlying error
func (e *ExternalToolError) Unwrap() error {
	return e.Underlying
}

// ProtocolError represents a request-level failure surfaced to the client as
// a JSON-RPC error object.
type ProtocolError struct {
	Kind       Kind
	Message    string
	Underlying error
}

// NewProtocolError creates a protocol error of the given kind
func NewProtocolError(kind Kind, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewCancelled creates the error returned for a cancelled request
func NewCancelled(id interface{}) *ProtocolError {
	return &ProtocolError{Kind: KindCancelled, Message: fmt.Sprintf("request %v cancelled", id)}
}

// NewMethodNotFound creates the error returned for an unknown method
func NewMethodNotFound(method string) *ProtocolError {
	return &ProtocolError{Kind: KindMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
}

// NewInvalidParams creates the error returned for malformed parameters
func NewInvalidParams(method string, err error) *ProtocolError {
	return &ProtocolError{Kind: KindInvalidParams, Message: fmt.Sprintf("invalid params for %s: %v", method, err), Underlying: err}
}

// NewInternal wraps an uncaught provider fault
func NewInternal(err error) *ProtocolError {
	return &ProtocolError{Kind: KindInternal, Message: fmt.Sprintf("internal error: %v", err), Underlying: err}
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error
func (e *ProtocolError) Unwrap() error {
	return e.Underlying
}

// RPCCode returns the JSON-RPC code for this error
func (e *ProtocolError) RPCCode() int {
	return Code(e.Kind)
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error
}

// NewMultiError creates a new multi-error, filtering out nil entries
func NewMultiError(errs []error) *MultiError {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

// Error implements the error interface
func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

// Unwrap returns all errors
func (e *MultiError) Unwrap() []error {
	return e.Errors
}
