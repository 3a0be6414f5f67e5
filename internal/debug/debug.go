package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Build flag for debug mode - can be overridden at build time
// go build -ldflags "-X github.com/camelscope/camelscope/internal/debug.EnableDebug=true"
var EnableDebug = "false"

// LSPMode tracks if the stdio transport owns stdout (set by main)
var LSPMode = false

// debugOutput is the writer for debug output (defaults to nil, meaning no output)
var debugOutput io.Writer

// debugFile holds the open file handle if debug output goes to a file
var debugFile *os.File

// debugMutex protects access to debug output
var debugMutex sync.Mutex

// SetLSPMode enables LSP mode which suppresses all debug output to stdio.
// While the server speaks LSP over stdout, any stray write would corrupt a
// frame, so debug output is file-only in this mode.
func SetLSPMode(enabled bool) {
	LSPMode = enabled
}

// SetDebugOutput sets a custom writer for debug output.
// Pass nil to disable debug output entirely.
func SetDebugOutput(w io.Writer) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugOutput = w
}

// InitDebugLogFile initializes debug logging to a file. If path is empty a
// timestamped file is created under the system temp directory.
// Returns the path to the log file, or an error if initialization fails.
// Call CloseDebugLog when done to ensure the file is properly closed.
func InitDebugLogFile(path string) (string, error) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if path == "" {
		logDir := filepath.Join(os.TempDir(), "camelscope-logs")
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create debug log directory: %w", err)
		}
		timestamp := time.Now().Format("2006-01-02T150405")
		path = filepath.Join(logDir, fmt.Sprintf("camelscope-%s.log", timestamp))
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create debug log file: %w", err)
	}

	debugFile = file
	debugOutput = file
	return path, nil
}

// CloseDebugLog closes the debug log file if one is open.
func CloseDebugLog() error {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debugFile != nil {
		err := debugFile.Close()
		debugFile = nil
		debugOutput = nil
		return err
	}
	return nil
}

// IsDebugEnabled returns true if debug mode is enabled.
func IsDebugEnabled() bool {
	// A log file configured via --log always wins
	debugMutex.Lock()
	hasFile := debugFile != nil
	debugMutex.Unlock()
	if hasFile {
		return true
	}

	// Check build flag first
	if EnableDebug == "true" {
		return true
	}

	// Allow runtime override via environment variable
	if os.Getenv("CAMELSCOPE_DEBUG") == "1" || os.Getenv("CAMELSCOPE_DEBUG") == "true" {
		return true
	}

	return false
}

// getDebugWriter returns the writer for debug output, or nil if none is configured
func getDebugWriter() io.Writer {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	if debugOutput == nil && !LSPMode {
		return os.Stderr
	}
	return debugOutput
}

// Printf prints debug information only when debug mode is enabled and output is configured
func Printf(format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}
	w := getDebugWriter()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[DEBUG] "+format, args...)
}

// Log provides structured debug logging with component names
func Log(component, format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}
	w := getDebugWriter()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[DEBUG:%s] "+format, append([]interface{}{component}, args...)...)
}

// LogParse provides debug logging specifically for lexing and parsing
func LogParse(format string, args ...interface{}) {
	Log("PARSE", format, args...)
}

// LogIndex provides debug logging specifically for workspace indexing
func LogIndex(format string, args ...interface{}) {
	Log("INDEX", format, args...)
}

// LogLSP provides debug logging specifically for protocol traffic
func LogLSP(format string, args ...interface{}) {
	Log("LSP", format, args...)
}
