package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devrev/tableview/internal/config"
	"github.com/devrev/tableview/internal/model"
	"github.com/devrev/tableview/internal/view"
)

// PartitionSummary counts the visible file groups of one partition.
type PartitionSummary struct {
	Partition  string `json:"partition"`
	FileGroups int    `json:"file_groups"`
	Slices     int    `json:"slices"`
}

// SyncResult is the outcome of the sync command.
type SyncResult struct {
	Table       string             `json:"table"`
	LastInstant *model.Instant     `json:"last_instant,omitempty"`
	LastSyncOK  bool               `json:"last_sync_ok"`
	Partitions  []PartitionSummary `json:"partitions"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var fullRefresh bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Build the view of a table and sync it to the latest instant",
		Long: `Bootstrap the file-system view from the table timeline, sync it once more
to pick up anything committed meanwhile, and summarize the visible file groups.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := config.ViewIncremental
			if fullRefresh {
				kind = config.ViewFullRefresh
			}
			return runSync(cmd, rootOpts, kind)
		},
	}
	cmd.Flags().BoolVar(&fullRefresh, "full-refresh", false, "rebuild from scratch instead of applying instants incrementally")
	return cmd
}

func runSync(cmd *cobra.Command, opts *RootOptions, kind string) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	opened, logger, err := opts.openTable(cmd.Context(), kind)
	if err != nil {
		return err
	}
	defer opened.Close()

	syncErr := opened.View.Sync(cmd.Context())
	result := summarize(opened.Name, opened.View)
	if syncErr != nil {
		logger.Error("Sync failed", zap.String("table", opened.Name), zap.Error(syncErr))
		return formatter.Failure(result, WrapExitError(ExitFailure, "sync failed", syncErr), result.writeText)
	}
	return formatter.Success(result, result.writeText)
}

func summarize(table string, v view.SyncableView) SyncResult {
	result := SyncResult{Table: table, LastSyncOK: v.IsLastSyncSuccessful(), Partitions: []PartitionSummary{}}
	if last, ok := v.LastInstant(); ok {
		result.LastInstant = &last
	}
	for _, p := range v.Partitions() {
		result.Partitions = append(result.Partitions, PartitionSummary{
			Partition:  p,
			FileGroups: len(v.AllFileGroups(p).Collect()),
			Slices:     len(v.AllFileSlices(p).Collect()),
		})
	}
	return result
}

func (r SyncResult) writeText(w io.Writer) {
	fmt.Fprintf(w, "table: %s\n", r.Table)
	fmt.Fprintf(w, "last instant: %s\n", displayInstant(r.LastInstant))
	fmt.Fprintf(w, "last sync ok: %t\n", r.LastSyncOK)
	fmt.Fprintf(w, "partitions: %d\n", len(r.Partitions))
	for _, p := range r.Partitions {
		fmt.Fprintf(w, "  %s: %d file groups, %d slices\n", displayPartition(p.Partition), p.FileGroups, p.Slices)
	}
}
