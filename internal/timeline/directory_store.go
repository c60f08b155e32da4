package timeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/devrev/tableview/internal/model"
)

// MetaFolderName is the metadata folder under the table base path
const MetaFolderName = ".hoodie"

const (
	requestedSuffix = ".requested"
	inflightSuffix  = ".inflight"
)

// DirectoryStore keeps one file per instant state under <base>/.hoodie:
//
//	<ts>.<action>.requested, <ts>.<action>.inflight, <ts>.<action>
type DirectoryStore struct {
	metaDir string
}

// NewDirectoryStore opens (creating if needed) the metadata folder of a table
func NewDirectoryStore(basePath string) (*DirectoryStore, error) {
	metaDir := filepath.Join(basePath, MetaFolderName)
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata folder: %w", err)
	}
	return &DirectoryStore{metaDir: metaDir}, nil
}

// MetaDir returns the metadata folder path
func (s *DirectoryStore) MetaDir() string {
	return s.metaDir
}

// InstantFileName returns the file name of an instant state
func InstantFileName(instant model.Instant) string {
	name := instant.Timestamp + "." + string(instant.Action)
	switch instant.State {
	case model.StateRequested:
		return name + requestedSuffix
	case model.StateInflight:
		return name + inflightSuffix
	default:
		return name
	}
}

// ParseInstantFileName parses a file name produced by InstantFileName
func ParseInstantFileName(name string) (model.Instant, bool) {
	state := model.StateCompleted
	switch {
	case strings.HasSuffix(name, requestedSuffix):
		state = model.StateRequested
		name = strings.TrimSuffix(name, requestedSuffix)
	case strings.HasSuffix(name, inflightSuffix):
		state = model.StateInflight
		name = strings.TrimSuffix(name, inflightSuffix)
	}
	ts, actionName, ok := strings.Cut(name, ".")
	if !ok || ts == "" || strings.HasPrefix(name, ".") {
		return model.Instant{}, false
	}
	action, err := model.ParseAction(actionName)
	if err != nil {
		return model.Instant{}, false
	}
	return model.NewInstant(state, action, ts), true
}

func (s *DirectoryStore) ListInstants(ctx context.Context) ([]model.Instant, error) {
	entries, err := os.ReadDir(s.metaDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata folder: %w", err)
	}

	records := make([]model.Instant, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if inst, ok := ParseInstantFileName(e.Name()); ok {
			records = append(records, inst)
		}
	}
	return latestStates(records), nil
}

func (s *DirectoryStore) ReadPayload(ctx context.Context, instant model.Instant) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.metaDir, InstantFileName(instant)))
	if os.IsNotExist(err) {
		return nil, ErrInstantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", instant, err)
	}
	return data, nil
}

// WritePayload writes through a hidden temp file and renames it into place
func (s *DirectoryStore) WritePayload(ctx context.Context, instant model.Instant, payload []byte) error {
	final := filepath.Join(s.metaDir, InstantFileName(instant))
	tmp := filepath.Join(s.metaDir, "."+InstantFileName(instant)+"."+uuid.NewString()+".tmp")

	if err := os.WriteFile(tmp, payload, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", instant, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish %s: %w", instant, err)
	}
	return nil
}

func (s *DirectoryStore) DeleteState(ctx context.Context, instant model.Instant) error {
	err := os.Remove(filepath.Join(s.metaDir, InstantFileName(instant)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", instant, err)
	}
	return nil
}

// DeleteInstant removes the most advanced record last so that a concurrent
// lister never sees the instant move backwards
func (s *DirectoryStore) DeleteInstant(ctx context.Context, key model.InstantKey) error {
	for _, state := range []model.State{model.StateRequested, model.StateInflight, model.StateCompleted} {
		if err := s.DeleteState(ctx, model.NewInstant(state, key.Action, key.Timestamp)); err != nil {
			return err
		}
	}
	return nil
}

func (s *DirectoryStore) Close() error {
	return nil
}
