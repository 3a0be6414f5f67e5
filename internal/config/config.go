// Package config holds the server configuration as a plain value. It is
// assembled from three sources in priority order: the workspace config
// file (.camelscope.kdl or .camelscope.toml), initializationOptions, and
// workspace/didChangeConfiguration. Later sources win per field; the
// merged value is passed down by value, never read from a global.
package config

import (
	"fmt"
)

// Config is the full server configuration.
type Config struct {
	Workspace Workspace
	Parser    Parser
	Formatter Formatter
	Index     Index
}

// Workspace configures module resolution.
type Workspace struct {
	// IncludePaths are probed, in order, after open documents and
	// workspace folders.
	IncludePaths []string
	// UseSystemInc enables probing the system @INC directories last.
	UseSystemInc bool
	// ResolutionTimeoutMs bounds filesystem probing per resolution; a
	// timeout yields "unresolved".
	ResolutionTimeoutMs int
	// MaxIndexedFiles caps the initial sweep.
	MaxIndexedFiles int
}

// Parser configures reparse behavior.
type Parser struct {
	// Incremental enables subtree reparse on didChange.
	Incremental bool
	// ShadowCheck asserts incremental == full for every edit.
	ShadowCheck bool
	// MaxRecursionDepth bounds construct nesting.
	MaxRecursionDepth int
}

// Formatter configures the external formatter subprocess.
type Formatter struct {
	Command   string
	Args      []string
	TimeoutMs int
}

// Index configures the workspace sweep and caches.
type Index struct {
	// Include/Exclude are doublestar globs applied relative to each
	// workspace root.
	Include []string
	Exclude []string
	// ASTCacheCapacity bounds the parsed-tree cache (entries).
	ASTCacheCapacity int
	// WatchDebounceMs batches watcher events.
	WatchDebounceMs int
	// MaxFileSize skips larger files during the sweep.
	MaxFileSize int64
	// Workers bounds sweep parallelism; 0 means NumCPU.
	Workers int
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Workspace: Workspace{
			IncludePaths:        nil,
			UseSystemInc:        false,
			ResolutionTimeoutMs: 50,
			MaxIndexedFiles:     50000,
		},
		Parser: Parser{
			Incremental:       true,
			ShadowCheck:       false,
			MaxRecursionDepth: 500,
		},
		Formatter: Formatter{
			Command:   "",
			Args:      nil,
			TimeoutMs: 5000,
		},
		Index: Index{
			Include:          []string{"**/*.pl", "**/*.pm", "**/*.t"},
			Exclude:          []string{"**/.git/**", "**/blib/**", "**/local/**"},
			ASTCacheCapacity: 128,
			WatchDebounceMs:  200,
			MaxFileSize:      4 << 20,
			Workers:          0,
		},
	}
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.Workspace.ResolutionTimeoutMs <= 0 {
		return fmt.Errorf("workspace.resolutionTimeoutMs must be positive, got %d", c.Workspace.ResolutionTimeoutMs)
	}
	if c.Workspace.MaxIndexedFiles <= 0 {
		return fmt.Errorf("workspace.maxIndexedFiles must be positive, got %d", c.Workspace.MaxIndexedFiles)
	}
	if c.Parser.MaxRecursionDepth < 16 || c.Parser.MaxRecursionDepth > 100000 {
		return fmt.Errorf("parser.maxRecursionDepth must be between 16 and 100000, got %d", c.Parser.MaxRecursionDepth)
	}
	if c.Formatter.TimeoutMs <= 0 {
		return fmt.Errorf("formatter.timeoutMs must be positive, got %d", c.Formatter.TimeoutMs)
	}
	if c.Index.ASTCacheCapacity < 0 {
		return fmt.Errorf("index.astCacheCapacity must not be negative, got %d", c.Index.ASTCacheCapacity)
	}
	if c.Index.WatchDebounceMs < 0 {
		return fmt.Errorf("index.watchDebounceMs must not be negative, got %d", c.Index.WatchDebounceMs)
	}
	if c.Index.MaxFileSize <= 0 {
		return fmt.Errorf("index.maxFileSize must be positive, got %d", c.Index.MaxFileSize)
	}
	return nil
}
