package main

import (
	"context"

	"github.com/go-go-golems/tablechat/pkg/agent"
	"github.com/go-go-golems/tablechat/pkg/chat"
	"github.com/go-go-golems/tablechat/pkg/config"
	"github.com/go-go-golems/tablechat/pkg/events"
	"github.com/go-go-golems/tablechat/pkg/llm"
	"github.com/go-go-golems/tablechat/pkg/memory"
	"github.com/go-go-golems/tablechat/pkg/persistence/chatstore"
	"github.com/go-go-golems/tablechat/pkg/prompts"
	"github.com/go-go-golems/tablechat/pkg/sandbox"
	"github.com/go-go-golems/tablechat/pkg/tools"
	"github.com/go-go-golems/tablechat/pkg/warehouse"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

func loadConfig(rs *rootSettings, v *viper.Viper) (*config.Config, error) {
	if v == nil {
		v = viper.New()
	}
	return config.Load(v, rs.configFile)
}

// app owns every long-lived resource built from the config.
type app struct {
	cfg       *config.Config
	store     *chatstore.SQLStore
	warehouse *warehouse.SQLite
	memory    memory.Store
	redis     *redis.Client
	persister *events.Persister
	closers   []func() error
}

func openStore(ctx context.Context, cfg *config.Config) (*chatstore.SQLStore, error) {
	dsn, err := cfg.Store.DSN()
	if err != nil {
		return nil, err
	}
	return chatstore.Open(ctx, cfg.Store.Driver, dsn)
}

func openMemory(cfg *config.Config) (memory.Store, *redis.Client) {
	if !cfg.Redis.Enabled {
		log.Info().Msg("redis disabled, keeping memory in process")
		return memory.NewInMemory(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return memory.NewRedis(client, cfg.Redis.TTL), client
}

// newApp opens stores and memory. Models and the sandbox are built by
// newService since migrate and flush-memory do not need them.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	mem, client := openMemory(cfg)
	a.memory, a.redis = mem, client
	if client != nil {
		a.closers = append(a.closers, client.Close)
	}
	a.persister = &events.Persister{Memory: a.memory, Store: a.store}
	return a, nil
}

// newService builds the chat service publishing to sink.
func (a *app) newService(ctx context.Context, sink events.Sink) (*chat.Service, error) {
	wh, err := warehouse.Open(a.cfg.Warehouse.Path)
	if err != nil {
		return nil, err
	}
	a.warehouse = wh
	a.closers = append(a.closers, wh.Close)

	pack, err := prompts.Load(a.cfg.Agent.PromptsFile)
	if err != nil {
		return nil, err
	}
	chatModel, err := llm.New(ctx, a.cfg.LLM.Chat)
	if err != nil {
		return nil, errors.Wrap(err, "chat model")
	}
	complexModel, err := llm.New(ctx, a.cfg.LLM.Complex)
	if err != nil {
		return nil, errors.Wrap(err, "complex model")
	}
	roles := llm.Roles{Chat: chatModel, Complex: complexModel}

	exec, err := sandbox.NewExecutor(sandbox.Options{
		Timeout:       a.cfg.Sandbox.Timeout,
		MaxConcurrent: a.cfg.Sandbox.MaxConcurrent,
	})
	if err != nil {
		return nil, err
	}

	d := &tools.Dispatcher{
		Model:          roles.Complex,
		Warehouse:      wh,
		Store:          a.store,
		Runner:         exec,
		Prompts:        pack,
		SandboxTimeout: a.cfg.Sandbox.Timeout,
	}
	return &chat.Service{
		Engine: &agent.Engine{
			Model:         roles.Chat,
			Tools:         d,
			Events:        sink,
			MaxToolRounds: a.cfg.Agent.MaxToolRounds,
			Apology:       pack.Apology,
		},
		Memory:  a.memory,
		Store:   a.store,
		Prompts: pack,
		Events:  sink,
	}, nil
}

func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}
