package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// LoadKDL attempts to load configuration overrides from .camelscope.kdl
// in the workspace root. A missing file returns base unchanged.
func LoadKDL(root string, base Config) (Config, error) {
	path := filepath.Join(root, ".camelscope.kdl")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return base, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read %s: %w", path, err)
	}

	doc, err := kdl.Parse(strings.NewReader(string(content)))
	if err != nil {
		return base, fmt.Errorf("failed to parse KDL config: %w", err)
	}

	cfg := base
	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "workspace":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "include_paths":
					cfg.Workspace.IncludePaths = collectStringArgs(cn)
				case "use_system_inc":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Workspace.UseSystemInc = b
					}
				case "resolution_timeout_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Workspace.ResolutionTimeoutMs = v
					}
				case "max_indexed_files":
					if v, ok := firstIntArg(cn); ok {
						cfg.Workspace.MaxIndexedFiles = v
					}
				}
			}
		case "parser":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "incremental":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Parser.Incremental = b
					}
				case "shadow_check":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Parser.ShadowCheck = b
					}
				case "max_recursion_depth":
					if v, ok := firstIntArg(cn); ok {
						cfg.Parser.MaxRecursionDepth = v
					}
				}
			}
		case "formatter":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "command":
					if s, ok := firstStringArg(cn); ok {
						cfg.Formatter.Command = s
					}
				case "args":
					cfg.Formatter.Args = collectStringArgs(cn)
				case "timeout_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Formatter.TimeoutMs = v
					}
				}
			}
		case "index":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "include":
					cfg.Index.Include = collectStringArgs(cn)
				case "exclude":
					cfg.Index.Exclude = collectStringArgs(cn)
				case "ast_cache_capacity":
					if v, ok := firstIntArg(cn); ok {
						cfg.Index.ASTCacheCapacity = v
					}
				case "watch_debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Index.WatchDebounceMs = v
					}
				case "max_file_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Index.MaxFileSize = int64(v)
					}
				case "workers":
					if v, ok := firstIntArg(cn); ok {
						cfg.Index.Workers = v
					}
				}
			}
		}
	}
	return cfg, nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
