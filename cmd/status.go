package cmd

import (
	"fmt"

	"github.com/ortelius/release-mirror/model"
	"github.com/ortelius/release-mirror/state"
	"github.com/ortelius/release-mirror/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the releases recorded as mirrored",
	Long:  `Reads the state file and prints the tags that are fully mirrored, oldest first.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd.Flags(), &flags)
	if err != nil {
		return err
	}

	record := readRecord(cfg.StateFile)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d release(s) recorded in %s\n", record.Len(), cfg.StateFile)
	for _, tag := range record.Tags() {
		fmt.Fprintln(out, tag)
	}
	return nil
}

// readRecord loads the sync record without creating a missing state file
func readRecord(path string) *model.SyncRecord {
	if !util.FileExists(path) {
		return model.NewSyncRecord()
	}
	logger := zap.NewNop()
	if verbose {
		logger = util.InitLogger(true)
	}
	return state.NewStore(path, nil, logger).Load()
}
