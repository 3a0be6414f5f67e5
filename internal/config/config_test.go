package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.Workspace.ResolutionTimeoutMs)
	assert.False(t, cfg.Workspace.UseSystemInc)
	assert.True(t, cfg.Parser.Incremental)
	assert.Equal(t, 500, cfg.Parser.MaxRecursionDepth)
	assert.Equal(t, 5000, cfg.Formatter.TimeoutMs)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Workspace.ResolutionTimeoutMs = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Parser.MaxRecursionDepth = 1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Index.MaxFileSize = -1
	assert.Error(t, cfg.Validate())
}

func TestApplyJSONMergesOnlyProvidedKeys(t *testing.T) {
	raw := json.RawMessage(`{
		"workspace": {"includePaths": ["/opt/perl/lib"], "resolutionTimeoutMs": 120},
		"parser": {"incremental": false}
	}`)
	cfg, err := ApplyJSON(Default(), raw)
	require.NoError(t, err)

	assert.Equal(t, []string{"/opt/perl/lib"}, cfg.Workspace.IncludePaths)
	assert.Equal(t, 120, cfg.Workspace.ResolutionTimeoutMs)
	assert.False(t, cfg.Parser.Incremental)
	// untouched keys keep their defaults
	assert.Equal(t, 500, cfg.Parser.MaxRecursionDepth)
	assert.Equal(t, 5000, cfg.Formatter.TimeoutMs)
}

func TestApplyJSONRejectsWrongTypes(t *testing.T) {
	base := Default()
	raw := json.RawMessage(`{"workspace": {"resolutionTimeoutMs": "fast"}}`)
	cfg, err := ApplyJSON(base, raw)
	require.Error(t, err)
	assert.Equal(t, base, cfg, "rejected options leave the config unchanged")
}

func TestApplyJSONRejectsInvalidMergedConfig(t *testing.T) {
	base := Default()
	raw := json.RawMessage(`{"formatter": {"timeoutMs": -5}}`)
	cfg, err := ApplyJSON(base, raw)
	require.Error(t, err)
	assert.Equal(t, base, cfg)
}

func TestApplyJSONNullIsNoop(t *testing.T) {
	cfg, err := ApplyJSON(Default(), json.RawMessage("null"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadKDL(t *testing.T) {
	root := t.TempDir()
	content := `
workspace {
    include_paths "/opt/lib" "/srv/lib"
    use_system_inc true
    resolution_timeout_ms 75
}
parser {
    incremental false
    max_recursion_depth 250
}
formatter {
    command "perltidy"
    args "-st" "-se"
    timeout_ms 9000
}
`
	require.NoError(t, os.WriteFile(filepath.Join(root, ".camelscope.kdl"), []byte(content), 0o644))

	cfg, err := LoadKDL(root, Default())
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/lib", "/srv/lib"}, cfg.Workspace.IncludePaths)
	assert.True(t, cfg.Workspace.UseSystemInc)
	assert.Equal(t, 75, cfg.Workspace.ResolutionTimeoutMs)
	assert.False(t, cfg.Parser.Incremental)
	assert.Equal(t, 250, cfg.Parser.MaxRecursionDepth)
	assert.Equal(t, "perltidy", cfg.Formatter.Command)
	assert.Equal(t, []string{"-st", "-se"}, cfg.Formatter.Args)
	assert.Equal(t, 9000, cfg.Formatter.TimeoutMs)
}

func TestLoadKDLMissingFileKeepsBase(t *testing.T) {
	cfg, err := LoadKDL(t.TempDir(), Default())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadTOML(t *testing.T) {
	root := t.TempDir()
	content := `
[workspace]
include_paths = ["/opt/lib"]
resolution_timeout_ms = 30

[index]
ast_cache_capacity = 16
`
	require.NoError(t, os.WriteFile(filepath.Join(root, ".camelscope.toml"), []byte(content), 0o644))

	cfg, err := LoadTOML(root, Default())
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/lib"}, cfg.Workspace.IncludePaths)
	assert.Equal(t, 30, cfg.Workspace.ResolutionTimeoutMs)
	assert.Equal(t, 16, cfg.Index.ASTCacheCapacity)
	// untouched sections keep defaults
	assert.True(t, cfg.Parser.Incremental)
}

func TestLoadWorkspaceFilePrefersKDL(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".camelscope.kdl"),
		[]byte("parser {\n    max_recursion_depth 100\n}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".camelscope.toml"),
		[]byte("[parser]\nmax_recursion_depth = 200\n"), 0o644))

	cfg, err := LoadWorkspaceFile(root, Default())
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Parser.MaxRecursionDepth)
}
