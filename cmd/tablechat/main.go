package main

import (
	"os"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/tablechat/pkg/sandbox"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type rootSettings struct {
	configFile string
}

func newRootCommand() (*cobra.Command, error) {
	rs := &rootSettings{}
	rootCmd := &cobra.Command{
		Use:           "tablechat",
		Short:         "tablechat answers questions about tabular data with an LLM agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if f := cmd.Flag("config"); f != nil {
				rs.configFile = f.Value.String()
			}
			return logging.InitLoggerFromCobra(cmd)
		},
	}

	// logging flags (--log-level, --log-format, --with-caller, ...) come from glazed
	if err := clay.InitGlazed("tablechat", rootCmd); err != nil {
		return nil, err
	}
	if rootCmd.PersistentFlags().Lookup("config") == nil {
		rootCmd.PersistentFlags().String("config", "", "config file (default: config.yaml in ., $HOME/.tablechat, /etc/tablechat)")
	}

	askCmd, err := newAskCommand(rs)
	if err != nil {
		return nil, err
	}
	rootCmd.AddCommand(
		newServeCommand(rs),
		askCmd,
		newMigrateCommand(rs),
		newFlushMemoryCommand(rs),
	)
	return rootCmd, nil
}

func main() {
	// the binary doubles as the sandbox worker
	sandbox.MaybeRunWorker()

	rootCmd, err := newRootCommand()
	if err != nil {
		log.Error().Err(err).Msg("could not build commands")
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
