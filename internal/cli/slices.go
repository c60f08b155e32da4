package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/devrev/tableview/internal/config"
	"github.com/devrev/tableview/internal/model"
	"github.com/devrev/tableview/internal/validation"
)

// Slice query modes
const (
	modeLatest = "latest"
	modeAll    = "all"
	modeMerged = "merged"
)

// SlicesResult is the outcome of the slices command.
type SlicesResult struct {
	Table     string            `json:"table"`
	Partition string            `json:"partition"`
	Mode      string            `json:"mode"`
	Slices    []model.FileSlice `json:"slices"`
}

// NewSlicesCommand creates the slices command.
func NewSlicesCommand(rootOpts *RootOptions) *cobra.Command {
	var mode, beforeOrOn string
	cmd := &cobra.Command{
		Use:   "slices [partition]",
		Short: "List the file slices of a partition",
		Long: `List the file slices of one partition. Without a partition argument the
root partition of a non-partitioned table is listed.

Modes:
  latest  latest slice of every visible file group
  all     every slice of every visible file group
  merged  latest slice per group at or before --before-or-on, merging a
          pending compaction into its predecessor`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			partition := ""
			if len(args) == 1 {
				partition = args[0]
			}
			return runSlices(cmd, rootOpts, partition, mode, beforeOrOn)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", modeLatest, "query mode (latest|all|merged)")
	cmd.Flags().StringVar(&beforeOrOn, "before-or-on", "", "instant time bound for the merged mode")
	return cmd
}

func runSlices(cmd *cobra.Command, opts *RootOptions, partition, mode, beforeOrOn string) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	v := validation.NewValidator()
	if err := v.ValidatePartition(partition); err != nil {
		return WrapExitError(ExitCommandError, "invalid partition", err)
	}
	switch mode {
	case modeLatest, modeAll:
	case modeMerged:
		if err := v.ValidateInstantTime(beforeOrOn); err != nil {
			return WrapExitError(ExitCommandError, "--before-or-on is required for the merged mode", err)
		}
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid mode %q: must be one of latest, all, merged", mode))
	}

	opened, _, err := opts.openTable(cmd.Context(), config.ViewIncremental)
	if err != nil {
		return err
	}
	defer opened.Close()

	var slices []model.FileSlice
	switch mode {
	case modeLatest:
		slices = opened.View.LatestFileSlices(partition).Collect()
	case modeAll:
		slices = opened.View.AllFileSlices(partition).Collect()
	case modeMerged:
		slices = opened.View.LatestMergedFileSlicesBeforeOrOn(partition, beforeOrOn).Collect()
	}
	if slices == nil {
		slices = []model.FileSlice{}
	}

	result := SlicesResult{Table: opened.Name, Partition: partition, Mode: mode, Slices: slices}
	return formatter.Success(result, result.writeText)
}

func (r SlicesResult) writeText(w io.Writer) {
	fmt.Fprintf(w, "partition: %s\n", displayPartition(r.Partition))
	if len(r.Slices) == 0 {
		fmt.Fprintln(w, "no file slices")
		return
	}
	for _, s := range r.Slices {
		base := "-"
		if s.BaseFile != nil {
			base = s.BaseFile.FileName
		}
		fmt.Fprintf(w, "  %s @ %s base=%s logs=%d\n", s.GroupID.FileID, s.BaseInstantTime, base, len(s.LogFiles))
		for _, lf := range s.LogFiles {
			fmt.Fprintf(w, "    %s\n", lf.FileName)
		}
	}
}
