package main

import (
	"github.com/go-go-golems/tablechat/pkg/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newFlushMemoryCommand(rs *rootSettings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flush-memory",
		Short: "Drop the conversational memory of every session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if err := config.BindFlags(v, cmd.Flags(), map[string]string{"redis": "redis.enabled"}); err != nil {
				return err
			}
			cfg, err := loadConfig(rs, v)
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled {
				log.Warn().Msg("redis is disabled, there is no shared memory to flush")
				return nil
			}
			mem, client := openMemory(cfg)
			defer func() { _ = client.Close() }()
			if err := mem.Flush(cmd.Context()); err != nil {
				return err
			}
			log.Info().Str("addr", cfg.Redis.Addr).Msg("memory flushed")
			return nil
		},
	}
	cmd.Flags().Bool("redis", false, "flush the redis memory store")
	return cmd
}
