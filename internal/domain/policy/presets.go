package policy

import "github.com/keepup/cowork/internal/domain/action"

// DenyAllName is the fixed name of the fail-closed policy.
const DenyAllName = "deny-all"

// Default returns the built-in policy used when neither the repo nor the
// settings tier provides one.
// Reads are free, destructive file operations need confirmation, secrets
// are never touched and outbound network calls need confirmation.
func Default() *Config {
	large := int64(10 << 20)
	outOfScope := false
	return &Config{
		Version:     CurrentVersion,
		Name:        "default",
		Description: "Built-in policy: confirm destructive or outbound actions, never touch secrets.",
		Defaults: Defaults{
			File:      VerdictAllow,
			Network:   VerdictAllowWithConfirm,
			Connector: VerdictAllow,
		},
		Rules: []Rule{
			{
				ID:       "protect-secrets",
				Match:    Match{Kind: action.KindFile, Paths: []string{"**/.env", "**/.env.*", "**/*.pem", "**/*.key", "**/.ssh/**", "**/.git/**"}},
				Decision: VerdictDeny,
				Reason:   "secret or repository metadata",
			},
			{
				ID:       "file-read",
				Match:    Match{Kind: action.KindFile, Intents: []action.Intent{action.IntentRead}},
				Decision: VerdictAllow,
			},
			{
				ID:       "file-delete",
				Match:    Match{Kind: action.KindFile, Intents: []action.Intent{action.IntentDelete}},
				Decision: VerdictAllowWithConfirm,
				RiskTags: []string{"delete"},
				Reason:   "deleting files needs confirmation",
			},
			{
				ID:       "file-relocate",
				Match:    Match{Kind: action.KindFile, Intents: []action.Intent{action.IntentRename, action.IntentMove}},
				Decision: VerdictAllowWithConfirm,
				RiskTags: []string{"overwrite"},
				Reason:   "moving files may overwrite the destination",
			},
			{
				ID:       "file-large-write",
				Match:    Match{Kind: action.KindFile, Intents: []action.Intent{action.IntentWrite, action.IntentCreate}, MinFileSizeBytes: &large},
				Decision: VerdictAllowWithConfirm,
				RiskTags: []string{"overwrite", "batch"},
				Reason:   "large write",
			},
			{
				ID:       "connector-out-of-scope",
				Match:    Match{Kind: action.KindConnector, ConnectorScopeAllowed: &outOfScope},
				Decision: VerdictDeny,
				RiskTags: []string{"connector"},
				Reason:   "connector action outside granted scope",
			},
		},
	}
}

// DenyAll returns the fail-closed policy: no rules, every default deny.
// It carries no reason so every deny-all resolution hashes identically.
func DenyAll() *Config {
	return &Config{
		Version: CurrentVersion,
		Name:    DenyAllName,
		Defaults: Defaults{
			File:      VerdictDeny,
			Network:   VerdictDeny,
			Connector: VerdictDeny,
		},
		Rules: []Rule{},
	}
}
