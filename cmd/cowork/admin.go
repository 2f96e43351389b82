package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/keepup/cowork/internal/config"
	"github.com/keepup/cowork/internal/port/database"
	"github.com/keepup/cowork/internal/service"
)

// runAdmin dispatches admin subcommands (migrate, replay-audit, policy, audit-stats).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "replay-audit":
		return runAdminReplayAudit(args[1:])
	case "policy":
		return runAdminPolicy(args[1:])
	case "audit-stats":
		return runAdminAuditStats(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: cowork admin <command> [options]

Commands:
  migrate        Apply pending database migrations
  replay-audit   Write spooled audit entries back to the store
  policy         Show the effective policy for a workspace
  audit-stats    Show audit counts for a session
  help           Show this help message

Examples:
  cowork admin migrate
  cowork admin replay-audit --spool /var/lib/cowork/audit.spool
  cowork admin policy --root /work/project
  cowork admin audit-stats --session 6f1c...
`)
}

// loadAdminDeps opens the configured store. Opening applies migrations.
func loadAdminDeps(ctx context.Context) (*config.Config, database.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, store, err := loadAdminDeps(context.Background())
	if err != nil {
		return err
	}
	store.Close()

	fmt.Fprintf(os.Stderr, "Migrations applied (%s)\n", cfg.Store.Driver)
	return nil
}

func runAdminReplayAudit(args []string) error {
	fs := flag.NewFlagSet("replay-audit", flag.ContinueOnError)
	path := fs.String("spool", "", "spool file (defaults to audit.spool_path)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	cfg, store, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if *path == "" {
		*path = cfg.Audit.SpoolPath
	}
	if *path == "" {
		return fmt.Errorf("--spool is required when audit.spool_path is unset")
	}
	spool, err := service.NewAuditSpool(*path)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}

	w := service.NewAuditWriter(store, spool, nil, service.AuditWriterConfig{})
	defer w.Close()
	n, err := w.Replay(ctx)
	if err != nil {
		return fmt.Errorf("replay: %w (%d entries written)", err, n)
	}

	fmt.Fprintf(os.Stderr, "Replayed %d audit entries from %s\n", n, *path)
	return nil
}

func runAdminPolicy(args []string) error {
	fs := flag.NewFlagSet("policy", flag.ContinueOnError)
	root := fs.String("root", "", "workspace root (defaults to policy.workspace_root)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	cfg, store, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if *root == "" {
		*root = cfg.Policy.WorkspaceRoot
	}
	w := service.NewAuditWriter(store, nil, nil, service.AuditWriterConfig{})
	defer w.Close()

	res := service.NewPolicyResolver(store, w, nil, 0).Resolve(ctx, *root, service.AuditContext{})

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "SOURCE\t%s\n", res.Source)
	_, _ = fmt.Fprintf(tw, "NAME\t%s\n", res.Config.Name)
	_, _ = fmt.Fprintf(tw, "HASH\t%s\n", res.ContentHash)
	_, _ = fmt.Fprintf(tw, "RULES\t%d\n", len(res.Config.Rules))
	if res.Reason != "" {
		_, _ = fmt.Fprintf(tw, "REASON\t%s\n", res.Reason)
	}
	return tw.Flush()
}

func runAdminAuditStats(args []string) error {
	fs := flag.NewFlagSet("audit-stats", flag.ContinueOnError)
	session := fs.String("session", "", "session id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *session == "" {
		return fmt.Errorf("--session is required")
	}

	ctx := context.Background()
	_, store, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := service.NewAuditService(store, store).GetStats(ctx, *session)
	if err != nil {
		return fmt.Errorf("audit stats: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "GROUP\tKEY\tCOUNT")
	_, _ = fmt.Fprintf(tw, "total\t\t%d\n", st.Total)
	for _, g := range []struct {
		name   string
		counts map[string]int
	}{{"action", st.ByAction}, {"tool", st.ByTool}, {"outcome", st.ByOutcome}} {
		keys := make([]string, 0, len(g.counts))
		for k := range g.counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\n", g.name, k, g.counts[k])
		}
	}
	return tw.Flush()
}
