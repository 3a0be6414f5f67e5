package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// optionsSchema validates initializationOptions and
// workspace/didChangeConfiguration payloads before they touch the live
// configuration. Unknown sections are tolerated (clients send extra
// settings); known fields must have the right types.
var optionsSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"workspace": {
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"includePaths":        {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
				"useSystemInc":        {Type: "boolean"},
				"resolutionTimeoutMs": {Type: "integer"},
				"maxIndexedFiles":     {Type: "integer"},
			},
		},
		"parser": {
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"incremental":       {Type: "boolean"},
				"shadowCheck":       {Type: "boolean"},
				"maxRecursionDepth": {Type: "integer"},
			},
		},
		"formatter": {
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"command":   {Type: "string"},
				"args":      {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
				"timeoutMs": {Type: "integer"},
			},
		},
		"index": {
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"include":          {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
				"exclude":          {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
				"astCacheCapacity": {Type: "integer"},
				"watchDebounceMs":  {Type: "integer"},
			},
		},
	},
}

var (
	resolveOnce    sync.Once
	resolvedSchema *jsonschema.Resolved
	resolveErr     error
)

// jsonOptions mirrors the JSON layout. Pointer fields distinguish absent
// keys from zero values so merges only touch supplied settings.
type jsonOptions struct {
	Workspace *struct {
		IncludePaths        []string `json:"includePaths"`
		UseSystemInc        *bool    `json:"useSystemInc"`
		ResolutionTimeoutMs *int     `json:"resolutionTimeoutMs"`
		MaxIndexedFiles     *int     `json:"maxIndexedFiles"`
	} `json:"workspace"`
	Parser *struct {
		Incremental       *bool `json:"incremental"`
		ShadowCheck       *bool `json:"shadowCheck"`
		MaxRecursionDepth *int  `json:"maxRecursionDepth"`
	} `json:"parser"`
	Formatter *struct {
		Command   *string  `json:"command"`
		Args      []string `json:"args"`
		TimeoutMs *int     `json:"timeoutMs"`
	} `json:"formatter"`
	Index *struct {
		Include          []string `json:"include"`
		Exclude          []string `json:"exclude"`
		ASTCacheCapacity *int     `json:"astCacheCapacity"`
		WatchDebounceMs  *int     `json:"watchDebounceMs"`
	} `json:"index"`
}

// ApplyJSON validates raw client options against the schema and merges
// them over base. On any error base is returned unchanged, so a bad
// didChangeConfiguration never corrupts the running configuration.
func ApplyJSON(base Config, raw json.RawMessage) (Config, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return base, nil
	}

	resolveOnce.Do(func() {
		resolvedSchema, resolveErr = optionsSchema.Resolve(nil)
	})
	if resolveErr != nil {
		return base, fmt.Errorf("resolve options schema: %w", resolveErr)
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return base, fmt.Errorf("options are not valid JSON: %w", err)
	}
	if err := resolvedSchema.Validate(instance); err != nil {
		return base, fmt.Errorf("options rejected by schema: %w", err)
	}

	var opts jsonOptions
	if err := json.Unmarshal(raw, &opts); err != nil {
		return base, fmt.Errorf("decode options: %w", err)
	}

	cfg := base
	if w := opts.Workspace; w != nil {
		if w.IncludePaths != nil {
			cfg.Workspace.IncludePaths = w.IncludePaths
		}
		if w.UseSystemInc != nil {
			cfg.Workspace.UseSystemInc = *w.UseSystemInc
		}
		if w.ResolutionTimeoutMs != nil {
			cfg.Workspace.ResolutionTimeoutMs = *w.ResolutionTimeoutMs
		}
		if w.MaxIndexedFiles != nil {
			cfg.Workspace.MaxIndexedFiles = *w.MaxIndexedFiles
		}
	}
	if p := opts.Parser; p != nil {
		if p.Incremental != nil {
			cfg.Parser.Incremental = *p.Incremental
		}
		if p.ShadowCheck != nil {
			cfg.Parser.ShadowCheck = *p.ShadowCheck
		}
		if p.MaxRecursionDepth != nil {
			cfg.Parser.MaxRecursionDepth = *p.MaxRecursionDepth
		}
	}
	if f := opts.Formatter; f != nil {
		if f.Command != nil {
			cfg.Formatter.Command = *f.Command
		}
		if f.Args != nil {
			cfg.Formatter.Args = f.Args
		}
		if f.TimeoutMs != nil {
			cfg.Formatter.TimeoutMs = *f.TimeoutMs
		}
	}
	if i := opts.Index; i != nil {
		if i.Include != nil {
			cfg.Index.Include = i.Include
		}
		if i.Exclude != nil {
			cfg.Index.Exclude = i.Exclude
		}
		if i.ASTCacheCapacity != nil {
			cfg.Index.ASTCacheCapacity = *i.ASTCacheCapacity
		}
		if i.WatchDebounceMs != nil {
			cfg.Index.WatchDebounceMs = *i.WatchDebounceMs
		}
	}

	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}
