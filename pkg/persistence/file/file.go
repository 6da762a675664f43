// Package file provides file-based persistence implementation for workflow templates and instances.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/stepflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using JSON files.
// All repositories share one lock, which makes every guarded update atomic within
// the process. It is not safe to point two processes at the same root.
type Persistence struct {
	store *store

	templateRepo *TemplateRepository
	instanceRepo *InstanceRepository
	approvalRepo *ApprovalRepository
	eventRepo    *EventRepository
	timeoutRepo  *TimeoutRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	s := &store{root: strings.Replace(root, "file://", "", 1)}

	return &Persistence{
		store:        s,
		templateRepo: &TemplateRepository{store: s},
		instanceRepo: &InstanceRepository{store: s},
		approvalRepo: &ApprovalRepository{store: s},
		eventRepo:    &EventRepository{store: s},
		timeoutRepo:  &TimeoutRepository{store: s},
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks that the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.store.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) TemplateRepository() persistence.TemplateRepository {
	return fp.templateRepo
}

func (fp *Persistence) InstanceRepository() persistence.InstanceRepository {
	return fp.instanceRepo
}

func (fp *Persistence) ApprovalRepository() persistence.ApprovalRepository {
	return fp.approvalRepo
}

func (fp *Persistence) EventRepository() persistence.EventRepository {
	return fp.eventRepo
}

func (fp *Persistence) TimeoutRepository() persistence.TimeoutRepository {
	return fp.timeoutRepo
}

type store struct {
	root string
	mu   sync.Mutex
}

func (s *store) path(parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, s.root)

	for i, p := range parts {
		if i == len(parts)-1 {
			p += ".json"
		}

		escaped = append(escaped, url.PathEscape(p))
	}

	return filepath.Join(escaped...)
}

func (s *store) dir(parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, s.root)

	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}

	return filepath.Join(escaped...)
}

// read decodes the file at path into v. It reports false when the file does not exist.
func (s *store) read(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return true, nil
}

// write stores v at path through a temporary file and a rename.
func (s *store) write(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}

func (s *store) remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}

// files lists the JSON files of dir. A missing dir has no files.
func (s *store) files(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	return matches, nil
}
