package policy

import (
	"context"
	"fmt"
	"net"
	"path"
	"slices"
	"strings"

	"github.com/keepup/cowork/internal/domain/action"
)

// EvalOptions carries session-scoped evaluation settings.
type EvalOptions struct {
	// CaseInsensitivePaths folds path and pattern case before matching so a
	// case-insensitive filesystem cannot be bypassed through case variation.
	CaseInsensitivePaths bool
}

// RuleEngine is the built-in evaluator. Rules are checked in order and the
// first match wins; otherwise the per-kind default applies.
type RuleEngine struct{}

// NewRuleEngine returns a RuleEngine.
func NewRuleEngine() *RuleEngine { return &RuleEngine{} }

// Evaluate returns the decision of cfg for req.
func (e *RuleEngine) Evaluate(_ context.Context, cfg *Config, req action.Request, opts EvalOptions) (Decision, error) {
	if cfg == nil {
		return Decision{}, fmt.Errorf("policy: evaluate with nil config")
	}
	target := newTarget(req, opts)

	for i := range cfg.Rules {
		rule := &cfg.Rules[i]
		if !rule.Match.matches(target, opts) {
			continue
		}
		if !rule.Decision.Valid() {
			return Decision{}, fmt.Errorf("rule %q: %w %q", rule.ID, ErrUnknownVerdict, rule.Decision)
		}
		tags := rule.RiskTags
		if tags == nil {
			tags = []string{}
		}
		return Decision{
			Decision: rule.Decision,
			RuleID:   rule.ID,
			RiskTags: slices.Clone(tags),
			Reason:   rule.Reason,
		}, nil
	}

	verdict, err := cfg.Defaults.For(req.Kind)
	if err != nil {
		return Decision{}, err
	}
	if !verdict.Valid() {
		return Decision{}, fmt.Errorf("defaults.%s: %w %q", req.Kind, ErrUnknownVerdict, verdict)
	}
	return Decision{
		Decision: verdict,
		RiskTags: impliedTags(req),
		Reason:   fmt.Sprintf("no rule matched; %s default", req.Kind),
	}, nil
}

// impliedTags are the hazard classes inherent to an action regardless of
// policy, attached when the per-kind default decides.
func impliedTags(req action.Request) []string {
	switch req.Kind {
	case action.KindFile:
		switch req.Intent {
		case action.IntentDelete:
			return []string{"delete"}
		case action.IntentWrite, action.IntentRename, action.IntentMove:
			return []string{"overwrite"}
		}
	case action.KindNetwork:
		return []string{"network"}
	case action.KindConnector:
		return []string{"connector"}
	}
	return []string{}
}

// target is a request normalized for matching.
type target struct {
	req  action.Request
	path string
	host string
}

func newTarget(req action.Request, opts EvalOptions) target {
	t := target{req: req}
	if req.Kind == action.KindFile {
		t.path = normalizePath(req.Path, opts.CaseInsensitivePaths)
	}
	if req.Kind == action.KindNetwork {
		t.host = normalizeHost(req.Host)
	}
	return t
}

func normalizePath(p string, fold bool) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	if fold {
		p = strings.ToLower(p)
	}
	return p
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	return strings.TrimSuffix(h, ".")
}

func (m *Match) matches(t target, opts EvalOptions) bool {
	if m.Kind != t.req.Kind {
		return false
	}
	switch m.Kind {
	case action.KindFile:
		if len(m.Intents) > 0 && !slices.Contains(m.Intents, t.req.Intent) {
			return false
		}
		if m.MinFileSizeBytes != nil {
			if t.req.FileSizeBytes == nil || *t.req.FileSizeBytes < *m.MinFileSizeBytes {
				return false
			}
		}
		if len(m.Paths) > 0 && !slices.ContainsFunc(m.Paths, func(p string) bool {
			return matchGlob(normalizePattern(p, opts.CaseInsensitivePaths), t.path)
		}) {
			return false
		}
		return true
	case action.KindNetwork:
		if len(m.Hosts) == 0 {
			return true
		}
		return slices.ContainsFunc(m.Hosts, func(h string) bool { return matchHost(h, t.host) })
	case action.KindConnector:
		if m.ConnectorScopeAllowed == nil {
			return true
		}
		allowed := t.req.ConnectorScopeAllowed != nil && *t.req.ConnectorScopeAllowed
		return *m.ConnectorScopeAllowed == allowed
	}
	return false
}

func normalizePattern(p string, fold bool) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if fold {
		p = strings.ToLower(p)
	}
	return p
}

// matchHost matches an exact host, a "*.suffix" wildcard covering strict
// subdomains, or "*" for any host. Comparison is case-insensitive.
func matchHost(pattern, host string) bool {
	pattern = strings.TrimSuffix(strings.ToLower(pattern), ".")
	switch {
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*."):
		suffix := pattern[1:]
		return strings.HasSuffix(host, suffix) && len(host) > len(suffix)
	}
	return pattern == host
}

// matchGlob matches a slash-separated path. "**" spans any number of
// segments; every other segment uses path.Match syntax.
func matchGlob(pattern, value string) bool {
	if strings.Contains(pattern, "**") {
		return matchSegments(strings.Split(pattern, "/"), strings.Split(value, "/"))
	}
	matched, _ := path.Match(pattern, value)
	return matched
}

func matchSegments(pat, val []string) bool {
	for len(pat) > 0 && len(val) > 0 {
		if pat[0] == "**" {
			pat = pat[1:]
			if len(pat) == 0 {
				return true
			}
			for i := 0; i <= len(val); i++ {
				if matchSegments(pat, val[i:]) {
					return true
				}
			}
			return false
		}
		matched, _ := path.Match(pat[0], val[0])
		if !matched {
			return false
		}
		pat = pat[1:]
		val = val[1:]
	}
	for _, p := range pat {
		if p != "**" {
			return false
		}
	}
	return len(val) == 0
}
