package policy

import (
	"fmt"
	"path"

	"github.com/keepup/cowork/internal/domain/action"
)

// Validate checks that a Config is semantically well-formed. Structural
// checks already happened against the JSON schema when the document was
// parsed; this covers what the schema cannot express.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("policy: unsupported version %d", c.Version)
	}
	if c.Name == "" {
		return fmt.Errorf("policy: name is required")
	}
	defaults := []struct {
		kind string
		v    Verdict
	}{{"file", c.Defaults.File}, {"network", c.Defaults.Network}, {"connector", c.Defaults.Connector}}
	for _, d := range defaults {
		if !d.v.Valid() {
			return fmt.Errorf("policy: defaults.%s: %w %q", d.kind, ErrUnknownVerdict, d.v)
		}
	}
	seen := make(map[string]int, len(c.Rules))
	for i := range c.Rules {
		r := &c.Rules[i]
		if prev, dup := seen[r.ID]; dup {
			return fmt.Errorf("policy: rule[%d]: duplicate id %q (also rule[%d])", i, r.ID, prev)
		}
		seen[r.ID] = i
		if err := r.Validate(); err != nil {
			return fmt.Errorf("policy: rule[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks that a Rule is well-formed.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !r.Decision.Valid() {
		return fmt.Errorf("%w %q", ErrUnknownVerdict, r.Decision)
	}
	m := &r.Match
	switch m.Kind {
	case action.KindFile:
		if len(m.Hosts) > 0 || m.ConnectorScopeAllowed != nil {
			return fmt.Errorf("file match cannot use hosts or connectorScopeAllowed")
		}
		for _, p := range m.Paths {
			if p == "" {
				return fmt.Errorf("empty path pattern")
			}
			if _, err := path.Match(p, ""); err != nil {
				return fmt.Errorf("invalid path pattern %q: %w", p, err)
			}
		}
		if m.MinFileSizeBytes != nil && *m.MinFileSizeBytes < 0 {
			return fmt.Errorf("minFileSizeBytes must be >= 0")
		}
	case action.KindNetwork:
		if len(m.Paths) > 0 || len(m.Intents) > 0 || m.MinFileSizeBytes != nil || m.ConnectorScopeAllowed != nil {
			return fmt.Errorf("network match can only use hosts")
		}
		for _, h := range m.Hosts {
			if h == "" {
				return fmt.Errorf("empty host pattern")
			}
		}
	case action.KindConnector:
		if len(m.Paths) > 0 || len(m.Intents) > 0 || m.MinFileSizeBytes != nil || len(m.Hosts) > 0 {
			return fmt.Errorf("connector match can only use connectorScopeAllowed")
		}
	default:
		return fmt.Errorf("invalid match kind %q", m.Kind)
	}
	return nil
}
