package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.lsp.dev/uri"

	"github.com/camelscope/camelscope/internal/config"
	"github.com/camelscope/camelscope/internal/debug"
	"github.com/camelscope/camelscope/internal/perlerr"
)

// Resolver maps module names to files. Probing order: open documents,
// workspace folders in initialization order, configured include paths,
// and the system @INC only when enabled. The first match wins; probing
// past the configured timeout yields unresolved rather than blocking the
// request.
type Resolver struct {
	folders   []string
	cfg       config.Workspace
	systemInc []string

	// isOpen reports whether a URI is an open document.
	isOpen func(uri.URI) bool
}

// NewResolver builds a resolver over the workspace folders.
func NewResolver(folders []string, cfg config.Workspace, isOpen func(uri.URI) bool) *Resolver {
	r := &Resolver{folders: folders, cfg: cfg, isOpen: isOpen}
	if cfg.UseSystemInc {
		r.systemInc = systemIncDirs()
	}
	return r
}

// ModuleRelPath converts Foo::Bar to Foo/Bar.pm.
func ModuleRelPath(name string) string {
	return filepath.Join(strings.Split(name, "::")...) + ".pm"
}

// Resolve returns the file URI for a module name, or "" when unresolved.
// A timeout is reported as *perlerr.ResolutionTimeoutError with the name
// still unresolved.
func (r *Resolver) Resolve(ctx context.Context, name string) (uri.URI, error) {
	if name == "" {
		return "", nil
	}
	budget := time.Duration(r.cfg.ResolutionTimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	start := time.Now()

	rel := ModuleRelPath(name)

	var dirs []string
	dirs = append(dirs, r.folders...)
	dirs = append(dirs, r.cfg.IncludePaths...)
	dirs = append(dirs, r.systemInc...)

	// Open documents win over files on disk in any directory
	if r.isOpen != nil {
		for _, dir := range dirs {
			if u := uri.File(filepath.Join(dir, rel)); r.isOpen(u) {
				return u, nil
			}
		}
	}

	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			debug.LogIndex("resolution of %s timed out after %v\n", name, time.Since(start))
			return "", &perlerr.ResolutionTimeoutError{Name: name, Budget: budget, Elapsed: time.Since(start)}
		}
		candidate := filepath.Join(dir, rel)
		u := uri.File(candidate)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return u, nil
		}
		// Scripts may sit next to a lib/ directory
		candidate = filepath.Join(dir, "lib", rel)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return uri.File(candidate), nil
		}
	}
	return "", nil
}

// systemIncDirs returns the conventional @INC directories that exist on
// this machine. Running perl itself is out of scope; the usual prefixes
// cover the common installations.
func systemIncDirs() []string {
	candidates := []string{
		"/usr/lib/perl5",
		"/usr/local/lib/perl5",
		"/usr/share/perl5",
		"/usr/local/share/perl5",
	}
	var out []string
	for _, dir := range candidates {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			out = append(out, dir)
		}
	}
	return out
}
