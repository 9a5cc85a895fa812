package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ortelius/release-mirror/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// flagValues holds the command line overrides of the configuration
type flagValues struct {
	configFile      string
	sourceRepo      string
	targetRepo      string
	stateFile       string
	batchSize       int
	downloadTimeout time.Duration
	timeTolerance   time.Duration
	tempDir         string
	apiURL          string
	rps             float64
	metricsFile     string
	noPublish       bool
	noPush          bool
	recheck         bool
}

var (
	flags   flagValues
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "release-mirror",
	Short: "Mirror GitHub releases and their assets into another repository",
	Long: `Copies every published release of a source repository, with its assets,
into a target repository. Progress is recorded in a JSON state file that is
committed and pushed in batches, so an interrupted run resumes where it stopped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	bindConfigFlags(rootCmd.PersistentFlags(), &flags)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}

func bindConfigFlags(fs *pflag.FlagSet, fv *flagValues) {
	fs.StringVarP(&fv.configFile, "config", "c", "", "YAML configuration file")
	fs.StringVar(&fv.sourceRepo, "source", "", "Source repository owner/name (SOURCE_REPO)")
	fs.StringVar(&fv.targetRepo, "target", "", "Target repository owner/name (TARGET_REPO, GITHUB_REPOSITORY)")
	fs.StringVar(&fv.stateFile, "state-file", config.DefaultStateFile, "Path of the sync state file (MIRROR_STATE_FILE)")
	fs.IntVar(&fv.batchSize, "batch-size", config.DefaultBatchSize, "Completed releases between state checkpoints (MIRROR_BATCH_SIZE)")
	fs.DurationVar(&fv.downloadTimeout, "download-timeout", config.DefaultDownloadTimeout, "Timeout of a single asset download (MIRROR_DOWNLOAD_TIMEOUT)")
	fs.DurationVar(&fv.timeTolerance, "time-tolerance", config.DefaultTimeTolerance, "Allowed clock skew when comparing asset modification times")
	fs.StringVar(&fv.tempDir, "temp-dir", "", "Directory for downloaded assets (MIRROR_TEMP_DIR, RUNNER_TEMP)")
	fs.StringVar(&fv.apiURL, "api-url", "", "GitHub API URL for Enterprise servers (GITHUB_API_URL)")
	fs.Float64Var(&fv.rps, "rps", config.DefaultRequestsPerSecond, "Maximum GitHub API requests per second")
	fs.StringVar(&fv.metricsFile, "metrics-file", "", "Write run metrics to this Prometheus textfile (MIRROR_METRICS_FILE)")
	fs.BoolVar(&fv.noPublish, "no-publish", false, "Keep the state file local instead of committing it")
	fs.BoolVar(&fv.noPush, "no-push", false, "Commit the state file without pushing it")
	fs.BoolVar(&fv.recheck, "recheck", false, "Re-evaluate releases that are already recorded as synced")
}

// loadConfig resolves the configuration: defaults, then the YAML file, then the
// environment, then the flags that were set explicitly.
func loadConfig(fs *pflag.FlagSet, fv *flagValues) (*config.Config, error) {
	cfg := config.NewConfig()

	if fv.configFile != "" {
		if err := cfg.LoadFile(fv.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if fs.Changed("source") {
		cfg.SourceRepo = fv.sourceRepo
	}
	if fs.Changed("target") {
		cfg.TargetRepo = fv.targetRepo
	}
	if fs.Changed("state-file") {
		cfg.StateFile = fv.stateFile
	}
	if fs.Changed("batch-size") {
		cfg.BatchSize = fv.batchSize
	}
	if fs.Changed("download-timeout") {
		cfg.DownloadTimeout = fv.downloadTimeout
	}
	if fs.Changed("time-tolerance") {
		cfg.TimeTolerance = fv.timeTolerance
	}
	if fs.Changed("temp-dir") {
		cfg.TempDir = fv.tempDir
	}
	if fs.Changed("api-url") {
		cfg.APIURL = fv.apiURL
	}
	if fs.Changed("rps") {
		cfg.RequestsPerSecond = fv.rps
	}
	if fs.Changed("metrics-file") {
		cfg.MetricsFile = fv.metricsFile
	}
	if fs.Changed("no-publish") {
		cfg.Publish = !fv.noPublish
	}
	if fs.Changed("no-push") {
		cfg.Push = !fv.noPush
	}
	if fs.Changed("recheck") {
		cfg.Recheck = fv.recheck
	}
	return cfg, nil
}

// Execute runs the root command. SIGINT and SIGTERM cancel the run, which then saves
// and publishes its progress before exiting.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
