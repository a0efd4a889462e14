package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/semsearch/internal/config"
	logpkg "github.com/kailas-cloud/semsearch/internal/logger"
)

// globals holds the state shared by subcommands after PersistentPreRunE.
type globals struct {
	env     string
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "semsearch",
		Short: "Semantic search over a vector knowledge base",
		Long: `semsearch embeds a free-text query, retrieves the nearest stored items from a
vector store, ranks them and returns the formatted results.

Example usage:
  semsearch serve                                  # HTTP API on http.port
  semsearch query -q "blood sugar control" -k 2    # One query, printed to stdout
  semsearch version`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return g.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if g.logger != nil {
				_ = g.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&g.env, "env", config.GetEnv(), "environment: selects config/<env>.yaml and the log format")
	root.PersistentFlags().StringVar(&g.cfgFile, "config", "", "config file (overrides --env lookup)")

	root.AddCommand(newServeCmd(g), newQueryCmd(g), newVersionCmd())
	return root
}

func (g *globals) load() error {
	var err error
	if g.cfgFile != "" {
		g.cfg, err = config.LoadFile(g.cfgFile)
	} else {
		g.cfg, err = config.Load(g.env)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	g.logger, err = logpkg.NewLogger(g.env, g.cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	return nil
}
