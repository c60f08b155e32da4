package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	viewerrors "github.com/devrev/tableview/internal/errors"
	"github.com/devrev/tableview/internal/model"
	"github.com/devrev/tableview/internal/service"
	"github.com/devrev/tableview/internal/validation"
	"github.com/devrev/tableview/internal/view"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// LastInstantResponse is the body of GET .../last-instant
type LastInstantResponse struct {
	Table       string         `json:"table"`
	LastInstant *model.Instant `json:"last_instant"`
	LastSyncOK  bool           `json:"last_sync_ok"`
}

// SlicesResponse is the body of the slice queries
type SlicesResponse struct {
	Table     string            `json:"table"`
	Partition string            `json:"partition"`
	Slices    []model.FileSlice `json:"slices"`
}

// GroupsResponse is the body of GET .../file-groups
type GroupsResponse struct {
	Table     string            `json:"table"`
	Partition string            `json:"partition"`
	Groups    []model.FileGroup `json:"file_groups"`
}

// SyncResponse is the body of POST .../sync
type SyncResponse struct {
	Table       string         `json:"table"`
	Synced      bool           `json:"synced"`
	LastInstant *model.Instant `json:"last_instant,omitempty"`
}

// Handlers serves the query API over the registered views
type Handlers struct {
	views       *service.ViewService
	validator   *validation.Validator
	logger      *zap.Logger
	syncTimeout time.Duration
}

// NewHandlers creates the query API handlers
func NewHandlers(views *service.ViewService, syncTimeout time.Duration, logger *zap.Logger) *Handlers {
	if syncTimeout <= 0 {
		syncTimeout = time.Minute
	}
	return &Handlers{
		views:       views,
		validator:   validation.NewValidator(),
		logger:      logger,
		syncTimeout: syncTimeout,
	}
}

// lookup validates the table and partition path variables and returns the view
func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request, withPartition bool) (view.SyncableView, string, bool) {
	vars := mux.Vars(r)
	table := vars["table"]
	if err := h.validator.ValidateTableName(table); err != nil {
		h.writeError(w, r, err)
		return nil, "", false
	}
	partition := ""
	if withPartition {
		partition = vars["partition"]
		if partition == rootPartition {
			partition = ""
		}
		if err := h.validator.ValidatePartition(partition); err != nil {
			h.writeError(w, r, err)
			return nil, "", false
		}
	}
	v, err := h.views.View(table)
	if err != nil {
		h.writeError(w, r, err)
		return nil, "", false
	}
	return v, partition, true
}

// rootPartition addresses the unnamed partition of a non-partitioned table
const rootPartition = "_root"

// LastInstant handles GET /v1/tables/{table}/last-instant
func (h *Handlers) LastInstant(w http.ResponseWriter, r *http.Request) {
	v, _, ok := h.lookup(w, r, false)
	if !ok {
		return
	}
	name := mux.Vars(r)["table"]
	// the service status counts a sync rescued by a fallback rebuild as ok
	status, err := h.views.Status(name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := LastInstantResponse{Table: name, LastSyncOK: status.LastSyncOK}
	if last, ok := v.LastInstant(); ok {
		resp.LastInstant = &last
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Partitions handles GET /v1/tables/{table}/partitions
func (h *Handlers) Partitions(w http.ResponseWriter, r *http.Request) {
	v, _, ok := h.lookup(w, r, false)
	if !ok {
		return
	}
	partitions := v.Partitions()
	if partitions == nil {
		partitions = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"table":      mux.Vars(r)["table"],
		"partitions": partitions,
	})
}

// LatestSlices handles GET .../partitions/{partition}/latest-slices
func (h *Handlers) LatestSlices(w http.ResponseWriter, r *http.Request) {
	h.serveSlices(w, r, func(v view.SyncableView, partition string) *view.SliceIterator {
		return v.LatestFileSlices(partition)
	})
}

// AllSlices handles GET .../partitions/{partition}/all-slices
func (h *Handlers) AllSlices(w http.ResponseWriter, r *http.Request) {
	h.serveSlices(w, r, func(v view.SyncableView, partition string) *view.SliceIterator {
		return v.AllFileSlices(partition)
	})
}

// MergedSlices handles GET .../partitions/{partition}/merged-slices?before_or_on=
func (h *Handlers) MergedSlices(w http.ResponseWriter, r *http.Request) {
	instant := r.URL.Query().Get("before_or_on")
	if err := h.validator.ValidateInstantTime(instant); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.serveSlices(w, r, func(v view.SyncableView, partition string) *view.SliceIterator {
		return v.LatestMergedFileSlicesBeforeOrOn(partition, instant)
	})
}

func (h *Handlers) serveSlices(w http.ResponseWriter, r *http.Request, query func(view.SyncableView, string) *view.SliceIterator) {
	v, partition, ok := h.lookup(w, r, true)
	if !ok {
		return
	}
	slices := query(v, partition).Collect()
	if slices == nil {
		slices = []model.FileSlice{}
	}
	h.writeJSON(w, http.StatusOK, SlicesResponse{Table: mux.Vars(r)["table"], Partition: partition, Slices: slices})
}

// FileGroups handles GET .../partitions/{partition}/file-groups
func (h *Handlers) FileGroups(w http.ResponseWriter, r *http.Request) {
	v, partition, ok := h.lookup(w, r, true)
	if !ok {
		return
	}
	groups := v.AllFileGroups(partition).Collect()
	if groups == nil {
		groups = []model.FileGroup{}
	}
	h.writeJSON(w, http.StatusOK, GroupsResponse{Table: mux.Vars(r)["table"], Partition: partition, Groups: groups})
}

// PendingCompactions handles GET /v1/tables/{table}/pending/compactions
func (h *Handlers) PendingCompactions(w http.ResponseWriter, r *http.Request) {
	v, _, ok := h.lookup(w, r, false)
	if !ok {
		return
	}
	h.writePending(w, r, nonNil(v.PendingCompactionOperations()))
}

// PendingLogCompactions handles GET /v1/tables/{table}/pending/log-compactions
func (h *Handlers) PendingLogCompactions(w http.ResponseWriter, r *http.Request) {
	v, _, ok := h.lookup(w, r, false)
	if !ok {
		return
	}
	h.writePending(w, r, nonNil(v.PendingLogCompactionOperations()))
}

// PendingClustering handles GET /v1/tables/{table}/pending/clustering
func (h *Handlers) PendingClustering(w http.ResponseWriter, r *http.Request) {
	v, _, ok := h.lookup(w, r, false)
	if !ok {
		return
	}
	regs := v.FileGroupsInPendingClustering()
	if regs == nil {
		regs = []model.PendingClusteringRegistration{}
	}
	h.writePending(w, r, regs)
}

func (h *Handlers) writePending(w http.ResponseWriter, r *http.Request, pending interface{}) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"table":   mux.Vars(r)["table"],
		"pending": pending,
	})
}

func nonNil(ops []model.PendingCompactionOperation) []model.PendingCompactionOperation {
	if ops == nil {
		return []model.PendingCompactionOperation{}
	}
	return ops
}

// Sync handles POST /v1/tables/{table}/sync
func (h *Handlers) Sync(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	if err := h.validator.ValidateTableName(table); err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.syncTimeout)
	defer cancel()
	if err := h.views.Sync(ctx, table); err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := SyncResponse{Table: table, Synced: true}
	if v, err := h.views.View(table); err == nil {
		if last, ok := v.LastInstant(); ok {
			resp.LastInstant = &last
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

// writeError maps a ViewError onto its HTTP status
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := viewerrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", r.Header.Get("X-Request-ID")),
			zap.Error(err))
	}
	h.writeJSON(w, status, ErrorResponse{
		Status:    "error",
		ErrorCode: viewerrors.GetCode(err).String(),
		Message:   err.Error(),
		RequestID: r.Header.Get("X-Request-ID"),
	})
}
