package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cantalupo555/gov-dataset-retriever/internal/config"
	"github.com/cantalupo555/gov-dataset-retriever/internal/task"
)

// appVersion is set at build time via -ldflags="-X main.appVersion=x.x.x"
var appVersion = "dev"

type globalOptions struct {
	configPath string
	outputDir  string
	debug      bool
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "retriever",
		Short: "Download public government datasets",
		Long: `Retriever downloads public datasets from Australian government portals.

Browser-driven tasks open a headless Chrome, click the download control and
wait for the file to land. HTTP tasks fetch files directly.`,
		Version:      appVersion,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(), "Path to config file")
	cmd.PersistentFlags().StringVar(&opts.outputDir, "output", "", "Output directory (overrides config)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if opts.debug {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newListCommand(opts))

	return cmd
}

func execute() error {
	return newRootCommand().Execute()
}

// load reads the config honouring --config and --output. The config file is
// required only when --config was set explicitly.
func (o *globalOptions) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return config.Config{}, err
	}
	if o.outputDir != "" {
		cfg.OutputDir = o.outputDir
	}
	return cfg, nil
}

// catalog returns the configured task catalog or the built-in one.
func catalog(cfg config.Config) ([]task.Task, error) {
	return task.LoadCatalog(cfg.Catalog)
}
