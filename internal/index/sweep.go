package index

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.lsp.dev/uri"
	"golang.org/x/sync/errgroup"

	"github.com/camelscope/camelscope/internal/config"
	"github.com/camelscope/camelscope/internal/debug"
	"github.com/camelscope/camelscope/internal/parser"
	"github.com/camelscope/camelscope/internal/perlerr"
	"github.com/camelscope/camelscope/internal/syntax"
)

// Manager drives indexing: the initial sweep, watcher-triggered
// reindexing, and open-document shadowing.
type Manager struct {
	store *Store
	cache *ASTCache
	cfg   config.Config

	// isOpen reports whether a URI is shadowed by an open document; the
	// sweep and watcher skip those, the document layer feeds them.
	isOpen func(uri.URI) bool

	folders []string
}

// NewManager creates an index manager over the workspace folders.
func NewManager(cfg config.Config, folders []string, isOpen func(uri.URI) bool) *Manager {
	return &Manager{
		store:   NewStore(),
		cache:   NewASTCache(cfg.Index.ASTCacheCapacity),
		cfg:     cfg,
		isOpen:  isOpen,
		folders: folders,
	}
}

// Store exposes the symbol store.
func (m *Manager) Store() *Store {
	return m.store
}

// Folders returns the workspace folders in initialization order.
func (m *Manager) Folders() []string {
	return m.folders
}

// Resolver builds a module resolver over the current configuration.
func (m *Manager) Resolver() *Resolver {
	return NewResolver(m.folders, m.cfg.Workspace, m.isOpen)
}

// InitialSweep walks the workspace folders, indexes every matching file
// on a bounded worker pool, and transitions the index to Ready. Failures
// on individual files degrade those URIs without failing the sweep.
func (m *Manager) InitialSweep(ctx context.Context) error {
	start := time.Now()
	paths := m.collectPaths()
	debug.LogIndex("initial sweep: %d files\n", len(paths))

	workers := m.cfg.Index.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m.IndexFile(p)
			return nil
		})
	}
	err := g.Wait()
	m.store.SetReady()
	debug.LogIndex("initial sweep done in %v\n", time.Since(start))
	return err
}

// collectPaths gathers candidate files under every folder, applying the
// include/exclude globs and the file-count cap.
func (m *Manager) collectPaths() []string {
	var paths []string
	for _, folder := range m.folders {
		_ = filepath.WalkDir(folder, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if len(paths) >= m.cfg.Workspace.MaxIndexedFiles {
				return filepath.SkipAll
			}
			rel, relErr := filepath.Rel(folder, p)
			if relErr != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if d.IsDir() {
				if m.excluded(rel + "/") {
					return filepath.SkipDir
				}
				return nil
			}
			if !m.included(rel) || m.excluded(rel) {
				return nil
			}
			if info, infoErr := d.Info(); infoErr == nil && info.Size() > m.cfg.Index.MaxFileSize {
				debug.LogIndex("skipping %s: larger than %d bytes\n", p, m.cfg.Index.MaxFileSize)
				return nil
			}
			paths = append(paths, p)
			return nil
		})
	}
	return paths
}

func (m *Manager) included(rel string) bool {
	for _, pat := range m.cfg.Index.Include {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}

func (m *Manager) excluded(rel string) bool {
	for _, pat := range m.cfg.Index.Exclude {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}

// IndexFile parses one on-disk file and swaps its contribution into the
// index. Open documents are skipped; their edits arrive through
// IndexDocument.
func (m *Manager) IndexFile(path string) {
	u := uri.File(path)
	if m.isOpen != nil && m.isOpen(u) {
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		ferr := perlerr.NewFileError("read", path, err)
		debug.LogIndex("degrading %s: %v\n", u, ferr)
		m.store.MarkDegraded(u, ferr.Error())
		return
	}

	hash := HashContent(content)
	src := string(content)
	tree, ok := m.cache.Get(u, hash)
	if !ok {
		tree = parser.ParseWith(src, parser.Options{MaxDepth: m.cfg.Parser.MaxRecursionDepth})
		m.cache.Put(u, hash, tree)
	}

	symbols, refs := ExtractFile(u, src, tree)
	m.store.Update(u, symbols, refs)
}

// IndexDocument indexes the in-memory revision of an open document,
// shadowing whatever is on disk.
func (m *Manager) IndexDocument(u uri.URI, src string, tree *syntax.Tree) {
	symbols, refs := ExtractFile(u, src, tree)
	m.store.Update(u, symbols, refs)
}

// RemoveFile retracts a deleted file.
func (m *Manager) RemoveFile(path string) {
	u := uri.File(path)
	m.cache.Drop(u)
	m.store.Remove(u)
}
