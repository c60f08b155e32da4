package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/devrev/tableview/internal/config"
	"github.com/devrev/tableview/internal/model"
)

// PendingResult lists the table services scheduled but not yet completed.
type PendingResult struct {
	Table          string                                `json:"table"`
	Compactions    []model.PendingCompactionOperation    `json:"compactions"`
	LogCompactions []model.PendingCompactionOperation    `json:"log_compactions"`
	Clustering     []model.PendingClusteringRegistration `json:"clustering"`
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "pending",
		Short:         "List pending compactions, log compactions and clustering",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPending(cmd, rootOpts)
		},
	}
}

func runPending(cmd *cobra.Command, opts *RootOptions) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	opened, _, err := opts.openTable(cmd.Context(), config.ViewIncremental)
	if err != nil {
		return err
	}
	defer opened.Close()

	result := PendingResult{
		Table:          opened.Name,
		Compactions:    nonNilOps(opened.View.PendingCompactionOperations()),
		LogCompactions: nonNilOps(opened.View.PendingLogCompactionOperations()),
		Clustering:     opened.View.FileGroupsInPendingClustering(),
	}
	if result.Clustering == nil {
		result.Clustering = []model.PendingClusteringRegistration{}
	}
	return formatter.Success(result, result.writeText)
}

func nonNilOps(ops []model.PendingCompactionOperation) []model.PendingCompactionOperation {
	if ops == nil {
		return []model.PendingCompactionOperation{}
	}
	return ops
}

func (r PendingResult) writeText(w io.Writer) {
	writeOps := func(title string, ops []model.PendingCompactionOperation) {
		fmt.Fprintf(w, "%s: %d\n", title, len(ops))
		for _, op := range ops {
			fmt.Fprintf(w, "  %s %s base=%s deltas=%d\n", op.InstantTime, op.GroupID, op.BaseInstantTime, len(op.DeltaFilePaths))
		}
	}
	writeOps("compactions", r.Compactions)
	writeOps("log compactions", r.LogCompactions)

	fmt.Fprintf(w, "clustering: %d\n", len(r.Clustering))
	for _, reg := range r.Clustering {
		fmt.Fprintf(w, "  %s %s\n", reg.InstantTime, reg.GroupID)
	}
}
