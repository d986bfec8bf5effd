package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaibs3/shopwatch/internal/app"
	"github.com/shaibs3/shopwatch/internal/config"
	"github.com/shaibs3/shopwatch/internal/ingest"
	"github.com/shaibs3/shopwatch/internal/project"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCmd(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "shopwatch",
		Short:         "Shopping results competitive intelligence",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(cfg, logger),
		newMigrateCmd(cfg, logger),
		newIngestCmd(cfg, logger),
		newSeedCmd(cfg, logger),
		newRescrapeCmd(cfg, logger),
		newVersionCmd(),
	)
	return root
}

// withApp builds the application, runs fn with a signal-aware context and releases it afterwards
func withApp(cfg *config.Config, logger *zap.Logger, fn func(ctx context.Context, a *app.App) error) (err error) {
	a, err := app.NewApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("failed to release resources", zap.Error(cerr))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}

func newServeCmd(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to build application: %w", err)
			}
			defer func() { _ = a.Close() }()
			return a.Run()
		},
	}
}

func newMigrateCmd(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, logger, func(ctx context.Context, a *app.App) error {
				if err := a.Store().Migrate(ctx); err != nil {
					return err
				}
				logger.Info("schema migrated")
				return nil
			})
		},
	}
}

func newIngestCmd(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "ingest [project-id]",
		Short: "Fetch shopping results for a project's active keywords",
		Example: `  shopwatch ingest 3f0c...
  shopwatch ingest --all`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return errors.New("a project id cannot be combined with --all")
			}
			if !all && len(args) != 1 {
				return errors.New("exactly one project id is required unless --all is set")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, logger, func(ctx context.Context, a *app.App) error {
				pipeline, err := a.Pipeline()
				if err != nil {
					return err
				}
				ids := args
				if all {
					projects, err := a.Projects().ListProjects(ctx, true)
					if err != nil {
						return err
					}
					ids = ids[:0]
					for _, p := range projects {
						ids = append(ids, p.ID)
					}
				}
				return ingestProjects(ctx, pipeline, ids, logger)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Ingest every active project")
	return cmd
}

func ingestProjects(ctx context.Context, pipeline *ingest.Pipeline, ids []string, logger *zap.Logger) error {
	var errs []error
	for _, id := range ids {
		report, err := pipeline.IngestProject(ctx, id)
		if err != nil {
			logger.Error("ingestion failed", zap.String("project_id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("project %s: %w", id, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		logger.Info("ingestion finished",
			zap.String("project_id", id),
			zap.Int("keywords", report.KeywordsProcessed),
			zap.Int("results", report.ResultsSaved),
			zap.Int("failures", len(report.Failures)),
			zap.Int("competitors_created", report.CompetitorsCreated))
	}
	return errors.Join(errs...)
}

func newSeedCmd(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Create projects, keywords and competitors from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			seed, err := project.LoadSeed(f)
			if err != nil {
				return err
			}
			return withApp(cfg, logger, func(ctx context.Context, a *app.App) error {
				if err := a.Store().Migrate(ctx); err != nil {
					return err
				}
				report, err := a.Projects().Seed(ctx, seed)
				if err != nil {
					return err
				}
				logger.Info("seed applied",
					zap.Int("projects_created", report.ProjectsCreated),
					zap.Int("keywords_created", report.KeywordsCreated),
					zap.Int("competitors_created", report.CompetitorsCreated))
				return nil
			})
		},
	}
}

func newRescrapeCmd(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "rescrape",
		Short: "Fetch product pages of pending, stale or failed unique URLs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, logger, func(ctx context.Context, a *app.App) error {
				summary, err := a.PageFetcher().Run(ctx, limit)
				if err != nil {
					return err
				}
				logger.Info("rescrape finished",
					zap.Int("attempted", summary.Attempted),
					zap.Int("completed", summary.Completed),
					zap.Int("failed", summary.Failed),
					zap.Int("skipped", summary.Skipped))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", cfg.Rescrape.BatchSize, "Maximum number of URLs to fetch")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "shopwatch %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
