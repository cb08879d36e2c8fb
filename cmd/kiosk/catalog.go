package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bft-labs/kiosk/internal/adapters/sqlite"
	"github.com/bft-labs/kiosk/internal/catalog"
	"github.com/bft-labs/kiosk/internal/cliconfig"
	"github.com/bft-labs/kiosk/pkg/log"
)

func newCatalogCommand(cfg *cliconfig.Config, cfgPath *string, logger *log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the product catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.toml>",
		Short: "Insert or update products from a TOML catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := loadConfig(cmd, *cfgPath, cfg); err != nil {
				return err
			}
			cfg.ResolveDBPath()

			products, err := catalog.Load(args[0])
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}

			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			store, err := sqlite.Open(cmd.Context(), cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.UpsertProducts(cmd.Context(), products); err != nil {
				return err
			}
			(*logger).Info("catalog imported", log.Int("products", len(products)), log.String("db", cfg.DBPath))
			return nil
		},
	})
	return cmd
}
