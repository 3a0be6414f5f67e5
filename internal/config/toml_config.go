package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// tomlFile mirrors the TOML layout of .camelscope.toml. Pointer fields
// distinguish "absent" from zero so only written keys override base.
type tomlFile struct {
	Workspace struct {
		IncludePaths        []string `toml:"include_paths"`
		UseSystemInc        *bool    `toml:"use_system_inc"`
		ResolutionTimeoutMs *int     `toml:"resolution_timeout_ms"`
		MaxIndexedFiles     *int     `toml:"max_indexed_files"`
	} `toml:"workspace"`
	Parser struct {
		Incremental       *bool `toml:"incremental"`
		ShadowCheck       *bool `toml:"shadow_check"`
		MaxRecursionDepth *int  `toml:"max_recursion_depth"`
	} `toml:"parser"`
	Formatter struct {
		Command   *string  `toml:"command"`
		Args      []string `toml:"args"`
		TimeoutMs *int     `toml:"timeout_ms"`
	} `toml:"formatter"`
	Index struct {
		Include          []string `toml:"include"`
		Exclude          []string `toml:"exclude"`
		ASTCacheCapacity *int     `toml:"ast_cache_capacity"`
		WatchDebounceMs  *int     `toml:"watch_debounce_ms"`
		MaxFileSize      *int64   `toml:"max_file_size"`
		Workers          *int     `toml:"workers"`
	} `toml:"index"`
}

// LoadTOML attempts to load configuration overrides from .camelscope.toml
// in the workspace root. A missing file returns base unchanged.
func LoadTOML(root string, base Config) (Config, error) {
	path := filepath.Join(root, ".camelscope.toml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return base, nil
	}
	if err != nil {
		return base, fmt.Errorf("read %s: %w", path, err)
	}

	var f tomlFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return base, fmt.Errorf("failed to parse TOML config: %w", err)
	}

	cfg := base
	if f.Workspace.IncludePaths != nil {
		cfg.Workspace.IncludePaths = f.Workspace.IncludePaths
	}
	if f.Workspace.UseSystemInc != nil {
		cfg.Workspace.UseSystemInc = *f.Workspace.UseSystemInc
	}
	if f.Workspace.ResolutionTimeoutMs != nil {
		cfg.Workspace.ResolutionTimeoutMs = *f.Workspace.ResolutionTimeoutMs
	}
	if f.Workspace.MaxIndexedFiles != nil {
		cfg.Workspace.MaxIndexedFiles = *f.Workspace.MaxIndexedFiles
	}
	if f.Parser.Incremental != nil {
		cfg.Parser.Incremental = *f.Parser.Incremental
	}
	if f.Parser.ShadowCheck != nil {
		cfg.Parser.ShadowCheck = *f.Parser.ShadowCheck
	}
	if f.Parser.MaxRecursionDepth != nil {
		cfg.Parser.MaxRecursionDepth = *f.Parser.MaxRecursionDepth
	}
	if f.Formatter.Command != nil {
		cfg.Formatter.Command = *f.Formatter.Command
	}
	if f.Formatter.Args != nil {
		cfg.Formatter.Args = f.Formatter.Args
	}
	if f.Formatter.TimeoutMs != nil {
		cfg.Formatter.TimeoutMs = *f.Formatter.TimeoutMs
	}
	if f.Index.Include != nil {
		cfg.Index.Include = f.Index.Include
	}
	if f.Index.Exclude != nil {
		cfg.Index.Exclude = f.Index.Exclude
	}
	if f.Index.ASTCacheCapacity != nil {
		cfg.Index.ASTCacheCapacity = *f.Index.ASTCacheCapacity
	}
	if f.Index.WatchDebounceMs != nil {
		cfg.Index.WatchDebounceMs = *f.Index.WatchDebounceMs
	}
	if f.Index.MaxFileSize != nil {
		cfg.Index.MaxFileSize = *f.Index.MaxFileSize
	}
	if f.Index.Workers != nil {
		cfg.Index.Workers = *f.Index.Workers
	}
	return cfg, nil
}

// LoadWorkspaceFile loads whichever workspace config file exists, KDL
// preferred.
func LoadWorkspaceFile(root string, base Config) (Config, error) {
	if _, err := os.Stat(filepath.Join(root, ".camelscope.kdl")); err == nil {
		return LoadKDL(root, base)
	}
	return LoadTOML(root, base)
}
