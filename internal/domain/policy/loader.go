package policy

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/jsonc"
)

//go:embed schema/policy.schema.json
var schemaFS embed.FS

const schemaURL = "https://cowork.keepup.dev/schemas/policy.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	errSchema      error
)

func policySchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := schemaFS.ReadFile("schema/policy.schema.json")
		if err != nil {
			errSchema = fmt.Errorf("read policy schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, bytes.NewReader(raw)); err != nil {
			errSchema = fmt.Errorf("load policy schema: %w", err)
			return
		}
		compiledSchema, errSchema = c.Compile(schemaURL)
		if errSchema != nil {
			errSchema = fmt.Errorf("compile policy schema: %w", errSchema)
		}
	})
	return compiledSchema, errSchema
}

// Parse decodes a policy document. Comments and trailing commas are
// tolerated. The document must satisfy the embedded JSON schema and
// Config.Validate; any failure is returned and the caller decides how to
// fall back.
func Parse(data []byte) (*Config, error) {
	stripped := jsonc.ToJSON(data)

	var doc any
	if err := json.Unmarshal(stripped, &doc); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	sch, err := policySchema()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("policy schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(stripped))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if cfg.Rules == nil {
		cfg.Rules = []Rule{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RepoPolicyPath returns the location of the repo-tier policy file for a
// workspace root.
func RepoPolicyPath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, ".keepup", "policy.json")
}

// Marshal renders a config as the indented JSON written by export.
func Marshal(cfg *Config) ([]byte, error) {
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal policy: %w", err)
	}
	return append(out, '\n'), nil
}
