package redisstream

// Settings holds Redis Streams transport configuration for Watermill.
// With Enabled false the bus runs on an in-process Go channel.
type Settings struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Group    string `mapstructure:"group"`
	Consumer string `mapstructure:"consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:  false,
		Addr:     "localhost:6379",
		Group:    "tablechat",
		Consumer: "tablechat-1",
	}
}
