package main

import (
	"github.com/go-go-golems/tablechat/pkg/config"
	"github.com/go-go-golems/tablechat/pkg/events"
	"github.com/go-go-golems/tablechat/pkg/redisstream"
	"github.com/go-go-golems/tablechat/pkg/webchat"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCommand(rs *rootSettings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if err := config.BindFlags(v, cmd.Flags(), map[string]string{
				"addr":            "server.addr",
				"events":          "events.enabled",
				"redis":           "redis.enabled",
				"max-tool-rounds": "agent.max-tool-rounds",
			}); err != nil {
				return err
			}
			cfg, err := loadConfig(rs, v)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ps, err := redisstream.Build(cfg.Events)
			if err != nil {
				return err
			}
			defer func() { _ = ps.Close() }()
			bus := events.NewBus(ps)

			router, err := a.persister.NewRouter(ps.Subscriber)
			if err != nil {
				return err
			}

			svc, err := a.newService(ctx, bus)
			if err != nil {
				return err
			}

			handler := webchat.NewHandler(svc, bus, webchat.WithAllowedOrigins(cfg.Server.AllowedOrigins...))
			log.Info().
				Bool("redis_memory", cfg.Redis.Enabled).
				Bool("redis_events", cfg.Events.Enabled).
				Str("store", cfg.Store.Driver).
				Msg("tablechat configured")
			return webchat.NewServer(cfg.Server.Addr, handler, router, cfg.Server.ShutdownTimeout).Run(ctx)
		},
	}
	cmd.Flags().String("addr", ":8000", "listen address")
	cmd.Flags().Bool("events", false, "publish events on redis streams instead of in process")
	cmd.Flags().Bool("redis", false, "keep conversational memory in redis")
	cmd.Flags().Int("max-tool-rounds", 8, "tool rounds allowed per turn")
	return cmd
}
