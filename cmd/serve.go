package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alp82/goodwatch-monorepo-sub001/internal/app"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/config"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/logging"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduling loop and HTTP API.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() {
				_ = logger.Sync()
			}()

			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("init application: %w", err)
			}
			return a.Run(cmd.Context())
		},
	}
}
