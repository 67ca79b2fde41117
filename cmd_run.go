package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cantalupo555/gov-dataset-retriever/internal/browser"
	"github.com/cantalupo555/gov-dataset-retriever/internal/config"
	"github.com/cantalupo555/gov-dataset-retriever/internal/mirror"
	"github.com/cantalupo555/gov-dataset-retriever/internal/retrieval"
	"github.com/cantalupo555/gov-dataset-retriever/internal/task"
)

type runOptions struct {
	headless bool
	execPath string
	mirror   string
}

func newRunCommand(global *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [task-id]",
		Short: "Run every task in the catalog, or only the one given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("headless") {
				cfg.Headless = opts.headless
			}
			if opts.execPath != "" {
				cfg.ChromePath = opts.execPath
			}
			if opts.mirror != "" {
				cfg.MirrorURL = opts.mirror
			}

			tasks, err := catalog(cfg)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				t, err := task.Find(tasks, args[0])
				if err != nil {
					return err
				}
				tasks = []task.Task{t}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runTasks(ctx, cmd, cfg, tasks)
		},
	}

	cmd.Flags().BoolVar(&opts.headless, "headless", true, "Run the browser without a window")
	cmd.Flags().StringVar(&opts.execPath, "exec", "", "Browser executable (auto-detect if empty)")
	cmd.Flags().StringVar(&opts.mirror, "mirror", "", "Bucket URL to copy downloads into (e.g. file:///srv/mirror, mem://)")

	return cmd
}

func runTasks(ctx context.Context, cmd *cobra.Command, cfg config.Config, tasks []task.Task) error {
	if needsBrowser(tasks) && cfg.ChromePath == "" {
		cfg.ChromePath = browser.DetectBrowser()
		if cfg.ChromePath == "" {
			return errors.New("could not find Chrome/Chromium; install it or pass --exec")
		}
		slog.Info("✓ Auto-detected browser", "path", cfg.ChromePath)
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	orch := retrieval.New(cfg)
	if cfg.MirrorURL != "" {
		m, err := mirror.Open(ctx, cfg.MirrorURL)
		if err != nil {
			return err
		}
		defer m.Close()
		orch.Mirror = m
	}

	slog.Info("=== Dataset Retriever ===", "tasks", len(tasks), "output", cfg.OutputDir)

	rep := orch.Run(ctx, tasks)
	rep.Print(cmd.OutOrStdout())
	slog.Info(rep.Summary(), "run", rep.RunID)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	return nil
}

func needsBrowser(tasks []task.Task) bool {
	for _, t := range tasks {
		if t.Strategy == task.BrowserDriven {
			return true
		}
	}
	return false
}
