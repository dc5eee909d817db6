package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/mautops/moneylens/internal/api"
	"github.com/mautops/moneylens/internal/container"
	"github.com/spf13/cobra"
)

// gatewayCmd represents the gateway command
var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the standalone chain gateway",
	Long: `Start only the chain gateway REST API (/api/health, /api/transactions,
/api/stats) without the transaction store. No database is required.
Writes are open when auth.jwt_secret is empty, otherwise they need an admin token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, _, err := loadRuntime(cmd)
		if err != nil {
			return err
		}
		applyServerFlags(cmd, cfg)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ctr, err := container.NewGatewayContainer(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize gateway: %w", err)
		}
		defer ctr.Close()

		if err := ctr.Start(ctx); err != nil {
			return err
		}
		logger.WithField("contract", ctr.Ledger().Address().Hex()).Info("chain gateway ready")
		return serve(ctx, cfg, api.SetupRoutes(ctr.Dependencies()), logger)
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)

	gatewayCmd.Flags().String("host", "", "Server host (overrides config)")
	gatewayCmd.Flags().Int("port", 0, "Server port (overrides config)")
}
