package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mautops/moneylens/internal/anchor"
	"github.com/mautops/moneylens/internal/container"
	"github.com/spf13/cobra"
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare anchored entries with the ledger contract",
	Long: `Compare every anchored entry in the transaction store with the record at
its chain index and print a JSON report. Exits non-zero when issues are found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, _, err := loadRuntime(cmd)
		if err != nil {
			return err
		}
		// 对账只读，不需要后台锚定
		cfg.Anchor.Enabled = false

		ctx := context.Background()
		ctr, err := container.NewContainer(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize container: %w", err)
		}
		defer ctr.Close()

		report, err := anchor.Reconcile(ctx, ctr.DB(), ctr.Ledger())
		if err != nil {
			return fmt.Errorf("failed to reconcile: %w", err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		if !report.OK() {
			return fmt.Errorf("reconcile found %d issue(s)", len(report.Issues))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
