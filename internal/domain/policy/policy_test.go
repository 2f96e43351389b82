package policy

import (
	"errors"
	"strings"
	"testing"

	"github.com/keepup/cowork/internal/domain/action"
)

func validConfig() Config {
	return Config{
		Version:  CurrentVersion,
		Name:     "test",
		Defaults: Defaults{File: VerdictAllow, Network: VerdictDeny, Connector: VerdictAllow},
		Rules: []Rule{
			{ID: "r1", Match: Match{Kind: action.KindFile, Paths: []string{"src/**"}}, Decision: VerdictAllow},
		},
	}
}

func TestConfigValidateValid(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, preset := range []*Config{Default(), DenyAll()} {
		if err := preset.Validate(); err != nil {
			t.Errorf("preset %q invalid: %v", preset.Name, err)
		}
	}
}

func TestConfigValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errStr string
	}{
		{
			name:   "bad version",
			modify: func(c *Config) { c.Version = 2 },
			errStr: "unsupported version",
		},
		{
			name:   "missing name",
			modify: func(c *Config) { c.Name = "" },
			errStr: "name is required",
		},
		{
			name:   "unknown default",
			modify: func(c *Config) { c.Defaults.Network = "maybe" },
			errStr: "defaults.network",
		},
		{
			name: "duplicate rule id",
			modify: func(c *Config) {
				c.Rules = append(c.Rules, Rule{ID: "r1", Match: Match{Kind: action.KindNetwork}, Decision: VerdictDeny})
			},
			errStr: "duplicate id",
		},
		{
			name:   "unknown rule verdict",
			modify: func(c *Config) { c.Rules[0].Decision = "ask" },
			errStr: "unknown verdict",
		},
		{
			name:   "bad glob",
			modify: func(c *Config) { c.Rules[0].Match.Paths = []string{"src/[a"} },
			errStr: "invalid path pattern",
		},
		{
			name: "network rule with paths",
			modify: func(c *Config) {
				c.Rules[0].Match = Match{Kind: action.KindNetwork, Paths: []string{"a"}}
			},
			errStr: "network match can only use hosts",
		},
		{
			name: "connector rule with hosts",
			modify: func(c *Config) {
				c.Rules[0].Match = Match{Kind: action.KindConnector, Hosts: []string{"a"}}
			},
			errStr: "connector match",
		},
		{
			name:   "invalid kind",
			modify: func(c *Config) { c.Rules[0].Match.Kind = "shell" },
			errStr: "invalid match kind",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.modify(&c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errStr) {
				t.Errorf("error %q does not contain %q", err, tt.errStr)
			}
		})
	}
}

func TestDefaultsForUnknownKind(t *testing.T) {
	if _, err := DenyAll().Defaults.For("shell"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestDenyAllGrantsNothing(t *testing.T) {
	c := DenyAll()
	if len(c.Rules) != 0 {
		t.Errorf("deny-all has %d rules", len(c.Rules))
	}
	for _, v := range []Verdict{c.Defaults.File, c.Defaults.Network, c.Defaults.Connector} {
		if v != VerdictDeny {
			t.Errorf("deny-all default = %q", v)
		}
	}
}

func TestVerdictValid(t *testing.T) {
	for _, v := range []Verdict{VerdictAllow, VerdictAllowWithConfirm, VerdictDeny} {
		if !v.Valid() {
			t.Errorf("%q should be valid", v)
		}
	}
	if Verdict("ask").Valid() {
		t.Error("ask should be invalid")
	}
	r := Rule{ID: "x", Match: Match{Kind: action.KindNetwork}, Decision: "ask"}
	if err := r.Validate(); !errors.Is(err, ErrUnknownVerdict) {
		t.Errorf("Validate() = %v, want ErrUnknownVerdict", err)
	}
}
