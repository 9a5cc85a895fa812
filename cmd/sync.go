package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/ortelius/release-mirror/config"
	"github.com/ortelius/release-mirror/ghclient"
	"github.com/ortelius/release-mirror/gitops"
	"github.com/ortelius/release-mirror/metrics"
	"github.com/ortelius/release-mirror/mirror"
	"github.com/ortelius/release-mirror/state"
	"github.com/ortelius/release-mirror/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// verifyTimeout bounds the startup repository checks
const verifyTimeout = 2 * time.Minute

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror new and changed releases into the target repository",
	Long: `Creates every source release that is missing from the target, replaces
target assets that are missing, differ in size or are older than the source,
and records each fully mirrored release in the state file.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd.Flags(), &flags)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := util.InitLogger(verbose).With(zap.String("run_id", uuid.NewString()))
	defer logger.Sync()

	ctx := cmd.Context()
	source, target, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	for _, c := range []*ghclient.Client{source, target} {
		if err := c.Verify(ctx); err != nil {
			return err
		}
	}

	var publisher state.Publisher
	if cfg.Publish {
		if err := os.MkdirAll(filepath.Dir(cfg.StateFile), 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
		pub, err := gitops.Open(cfg.StateFile, gitops.Options{
			Name:  cfg.CommitName,
			Email: cfg.CommitEmail,
			Token: cfg.TargetToken,
			Push:  cfg.Push,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to open state repository: %w", err)
		}
		publisher = pub
	}

	m := metrics.New()
	store := state.NewStore(cfg.StateFile, publisher, logger)
	transfer := mirror.NewTransferer(source, target, mirror.TransferOptions{
		TempDir:         cfg.TempDir,
		DownloadTimeout: cfg.DownloadTimeout,
	}, logger, m)
	reconciler := mirror.NewReconciler(source, target, store, transfer, mirror.Options{
		BatchSize:     cfg.BatchSize,
		TimeTolerance: cfg.TimeTolerance,
		Recheck:       cfg.Recheck,
	}, logger, m)

	logger.Info("mirroring releases",
		zap.String("source", cfg.SourceRepo),
		zap.String("target", cfg.TargetRepo),
		zap.String("state_file", cfg.StateFile),
		zap.Bool("publish", cfg.Publish))

	summary, runErr := reconciler.Run(ctx)

	if cfg.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("failed to write metrics", zap.String("path", cfg.MetricsFile), zap.Error(err))
		}
	}
	if runErr != nil {
		return runErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Mirrored %s to %s: %d created, %d updated, %d unchanged, %d failed, %d recorded\n",
		cfg.SourceRepo, cfg.TargetRepo, summary.Created, summary.Updated, summary.NoChange, summary.Failed, summary.Recorded)
	if summary.PublishFailures > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Warning: %d state checkpoint(s) could not be published\n", summary.PublishFailures)
	}
	return nil
}

// connect builds the source and target API clients
func connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ghclient.Client, *ghclient.Client, error) {
	opts := ghclient.Options{
		APIURL:            cfg.APIURL,
		RequestsPerSecond: cfg.RequestsPerSecond,
		VerifyTimeout:     verifyTimeout,
	}

	source, err := ghclient.New(ctx, cfg.SourceRepo, cfg.SourceToken, opts, logger.Named("source"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create source client: %w", err)
	}
	target, err := ghclient.New(ctx, cfg.TargetRepo, cfg.TargetToken, opts, logger.Named("target"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create target client: %w", err)
	}
	return source, target, nil
}
