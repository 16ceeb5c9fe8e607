package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMigrateCommand(rs *rootSettings) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the metadata store migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rs, nil)
			if err != nil {
				return err
			}
			// Open migrates
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			log.Info().Str("driver", cfg.Store.Driver).Msg("metadata store is up to date")
			return store.Close()
		},
	}
}
