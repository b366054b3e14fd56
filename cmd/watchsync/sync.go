package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/watchsync/internal/store"
)

var syncForce bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and exit",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false,
		"Bypass the minimum inter-sync interval")
}

func runSync(cmd *cobra.Command, args []string) error {
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

	rem, err := openRemote(cfg)
	if err != nil {
		return err
	}

	orch := newOrchestrator(cfg, db, rem)
	if err := orch.Sync(cmd.Context(), syncForce); err != nil {
		return err
	}

	st := orch.Status()
	if st.ReadOnly {
		fmt.Fprintln(cmd.OutOrStdout(), "Sync completed (read-only: remote write access denied)")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Sync completed")
	}
	return nil
}
