package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alp82/goodwatch-monorepo-sub001/internal/config"
	ledgerpg "github.com/alp82/goodwatch-monorepo-sub001/internal/ledger/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending ledger schema migrations.",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.DB.DSN == "" {
				return fmt.Errorf("db.dsn is required to migrate")
			}
			if err := ledgerpg.Migrate(cfg.DB.DSN); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}
