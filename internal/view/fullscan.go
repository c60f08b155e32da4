package view

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	viewerrors "github.com/devrev/tableview/internal/errors"
	"github.com/devrev/tableview/internal/model"
	"github.com/devrev/tableview/internal/storage/lister"
	"github.com/devrev/tableview/internal/timeline"
)

// buildFromScratch builds a snapshot from the timeline and a storage listing
func buildFromScratch(ctx context.Context, table TableContext, parallelism int, logger *zap.Logger) (*viewState, error) {
	ctx, span := tracer.Start(ctx, "view.buildFromScratch")
	defer span.End()
	start := time.Now()

	instants, err := table.Timeline.ListInstants(ctx)
	if err != nil {
		return nil, asIOFailure("failed to list timeline", err)
	}
	tl := timeline.New(instants)
	sh := emptyState().shadow(table.BasePath)

	for _, inst := range tl.Instants() {
		switch {
		case inst.IsPending() && (inst.Action.IsCompactionAction() || inst.Action == model.ActionReplaceCommit):
			md, err := table.Timeline.GetInstantDetails(ctx, inst)
			if err != nil {
				return nil, withInstant(asIOFailure("failed to read instant details", err), inst)
			}
			if err := sh.onRequested(inst, md); err != nil {
				return nil, withInstant(err, inst)
			}
		case inst.IsCompleted() && inst.Action == model.ActionReplaceCommit:
			md, err := table.Timeline.GetInstantDetails(ctx, inst)
			if err != nil {
				return nil, withInstant(asIOFailure("failed to read instant details", err), inst)
			}
			replace, ok := md.(*model.ReplaceCommitMetadata)
			if !ok {
				return nil, withInstant(unexpectedMetadata(inst, md), inst)
			}
			for _, id := range replace.ReplacedGroupIDs() {
				sh.state.replaced[id] = inst.Timestamp
			}
		}
	}

	files, err := listAllFiles(ctx, table.Lister, parallelism)
	if err != nil {
		return nil, err
	}
	for _, partitionFiles := range files {
		for _, f := range partitionFiles {
			if err := sh.addFile(f.Path); err != nil {
				return nil, err
			}
		}
	}

	state := sh.publish(tl)
	span.SetAttributes(
		attribute.Int("view.instants", tl.Len()),
		attribute.Int("view.partitions", len(state.partitions)),
	)
	logger.Debug("Built file system view from storage listing",
		zap.Int("instants", tl.Len()),
		zap.Int("partitions", len(state.partitions)),
		zap.Duration("duration", time.Since(start)))
	return state, nil
}

// listAllFiles lists every partition concurrently
func listAllFiles(ctx context.Context, l lister.FileLister, parallelism int) ([][]lister.FileStatus, error) {
	partitions, err := l.ListPartitions(ctx)
	if err != nil {
		return nil, viewerrors.IOFailure("failed to list partitions", err)
	}

	results := make([][]lister.FileStatus, len(partitions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, partition := range partitions {
		g.Go(func() error {
			files, err := l.ListFiles(gctx, partition)
			if err != nil {
				return viewerrors.IOFailure(fmt.Sprintf("failed to list partition %q", partition), err)
			}
			results[i] = files
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// asIOFailure keeps typed errors and classifies the rest as I/O failures
func asIOFailure(message string, err error) error {
	if viewerrors.IsViewError(err) {
		return err
	}
	return viewerrors.IOFailure(message, err)
}

// withInstant attaches the instant an error was raised on
func withInstant(err error, instant model.Instant) error {
	var ve *viewerrors.ViewError
	if !errors.As(err, &ve) {
		ve = viewerrors.InternalError(err.Error(), err)
	}
	if ve.Details == nil {
		ve.Details = make(map[string]interface{})
	}
	if _, ok := ve.Details["instant"]; !ok {
		ve.WithDetail("instant", instant.String())
	}
	return ve
}
