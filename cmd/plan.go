package cmd

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/ortelius/release-mirror/mirror"
	"github.com/ortelius/release-mirror/util"
	"github.com/spf13/cobra"
)

// planCmd represents the plan command
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a sync would do without changing anything",
	Long: `Compares the pending source releases with the target repository and prints
the staleness verdict of every asset. Nothing is created, uploaded or committed.`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd.Flags(), &flags)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := util.InitLogger(verbose)
	defer logger.Sync()

	ctx := cmd.Context()
	source, target, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}

	record := readRecord(cfg.StateFile)

	reconciler := mirror.NewReconciler(source, target, nil, nil, mirror.Options{
		BatchSize:     cfg.BatchSize,
		TimeTolerance: cfg.TimeTolerance,
		Recheck:       cfg.Recheck,
	}, logger, nil)

	entries, err := reconciler.Plan(ctx, record)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintf(out, "Nothing to do, %d release(s) already mirrored\n", record.Len())
		return nil
	}

	stale := 0
	var size uint64
	fmt.Fprintf(out, "%-30s %-8s %-40s %-14s %s\n", "TAG", "ACTION", "ASSET", "VERDICT", "SIZE")
	fmt.Fprintln(out, strings.Repeat("─", 104))
	for _, entry := range entries {
		action := "update"
		if entry.Create {
			action = "create"
		}
		if len(entry.Assets) == 0 {
			fmt.Fprintf(out, "%-30s %-8s %-40s %-14s %s\n", entry.Release.TagName, action, "-", "-", "-")
			continue
		}
		for _, a := range entry.Assets {
			fmt.Fprintf(out, "%-30s %-8s %-40s %-14s %s\n",
				entry.Release.TagName, action, a.Asset.Name, a.Verdict, humanize.Bytes(uint64(max(a.Asset.Size, 0))))
			if a.Verdict.Stale() {
				size += uint64(max(a.Asset.Size, 0))
			}
		}
		stale += entry.Stale()
	}
	fmt.Fprintf(out, "\n%d release(s) pending, %d asset(s) to transfer (%s)\n", len(entries), stale, humanize.Bytes(size))
	return nil
}
