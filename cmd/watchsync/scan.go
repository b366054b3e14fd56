package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/watchsync/internal/integrity"
	"github.com/hyperengineering/watchsync/internal/store"
)

var scanDryRun bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan and repair the local replica",
	Long:  "Runs the integrity scanner over the local graph and applies auto-repairs. Use --dry-run to report without writing.",
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanDryRun, "dry-run", false,
		"Report issues without applying repairs")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogger(cfg)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	replica, err := db.ReplicaID(ctx)
	if err != nil {
		return err
	}

	release, err := db.AcquireExclusive(ctx)
	if err != nil {
		return err
	}
	defer release()

	graph, err := db.ReadGraph(ctx)
	if err != nil {
		return err
	}
	present, err := db.PresentKinds(ctx)
	if err != nil {
		return err
	}

	report, err := integrity.NewScanner(replica).Repair(graph, present)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, issue := range report.Issues {
		fmt.Fprintf(out, "[%s] %s %s %s: %s\n",
			issue.Severity, issue.Pass, issue.EntityKind, issue.EntityID, issue.Description)
	}
	fmt.Fprintln(out, report.Summary())

	if scanDryRun || report.Fixed() == 0 {
		return nil
	}
	if err := db.ReplaceGraph(ctx, graph); err != nil {
		return fmt.Errorf("write repaired graph: %w", err)
	}
	fmt.Fprintln(out, "Repairs applied")
	return nil
}
