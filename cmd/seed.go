package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mautops/moneylens/internal/auth"
	"github.com/mautops/moneylens/internal/database"
	"github.com/mautops/moneylens/internal/model"
	"github.com/mautops/moneylens/internal/repository"
	"github.com/mautops/moneylens/internal/service"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// seedCmd represents the seed command
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the initial admin user and root department",
	Long: `Create the initial admin user and, when --root-dept is given, a root
department. Running the command again leaves existing records untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, _, err := loadRuntime(cmd)
		if err != nil {
			return err
		}

		name, _ := cmd.Flags().GetString("admin-name")
		email, _ := cmd.Flags().GetString("admin-email")
		password, _ := cmd.Flags().GetString("admin-password")
		rootDept, _ := cmd.Flags().GetString("root-dept")
		rootBudget, _ := cmd.Flags().GetString("root-budget")

		ctx := context.Background()
		db, err := database.ConnectWithRetry(ctx, cfg.Database, 3, time.Second, database.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to connect database: %w", err)
		}
		defer database.Close(db)
		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		auditSvc := service.NewAuditLogService(repository.NewAuditLogRepository(db))
		tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		authSvc := service.NewAuthService(db, tokens, auth.NewMemoryBlacklist(), auditSvc)

		created, err := authSvc.EnsureAdmin(ctx, name, email, password)
		if err != nil {
			return fmt.Errorf("failed to create admin: %w", err)
		}
		out := cmd.OutOrStdout()
		if created {
			fmt.Fprintf(out, "Admin %s created\n", email)
		} else {
			fmt.Fprintf(out, "Admin %s already exists\n", email)
		}

		if rootDept == "" {
			return nil
		}
		created, err = seedRootDepartment(ctx, db, rootDept, rootBudget)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(out, "Department %s created\n", rootDept)
		} else {
			fmt.Fprintf(out, "Department %s already exists\n", rootDept)
		}
		logger.Debug("seed completed")
		return nil
	},
}

// seedRootDepartment 以系统管理员身份创建根部门，已存在时跳过
func seedRootDepartment(ctx context.Context, db *gorm.DB, name, budget string) (bool, error) {
	allocated, err := decimal.NewFromString(budget)
	if err != nil {
		return false, fmt.Errorf("invalid root budget %q: %w", budget, err)
	}

	actor := service.Actor{UserID: "seed", Role: model.RoleAdmin}
	_, err = service.NewDepartmentService(db).Create(ctx, actor, &service.CreateDepartmentRequest{
		Name:            name,
		Description:     "Root department",
		AllocatedBudget: &allocated,
	})
	if errors.Is(err, service.ErrDepartmentExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create root department: %w", err)
	}
	return true, nil
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().String("admin-name", "Administrator", "Admin display name")
	seedCmd.Flags().String("admin-email", "", "Admin email")
	seedCmd.Flags().String("admin-password", "", "Admin password (at least 8 characters)")
	seedCmd.Flags().String("root-dept", "", "Optional root department name")
	seedCmd.Flags().String("root-budget", "0", "Allocated budget of the root department")
	_ = seedCmd.MarkFlagRequired("admin-email")
	_ = seedCmd.MarkFlagRequired("admin-password")
}
