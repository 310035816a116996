// Package file provides file-based persistence for workflow definitions,
// instances and step executions. Every record is one JSON document.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opsdesk/stepflow/pkg/persistence"
)

const (
	definitionsDir    = "definitions"
	instancesDir      = "instances"
	stepExecutionsDir = "step_executions"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root              string
	mu                sync.Mutex
	definitionRepo    *DefinitionRepository
	instanceRepo      *InstanceRepository
	stepExecutionRepo *StepExecutionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) persistence.Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.definitionRepo = &DefinitionRepository{store: p}
	p.instanceRepo = &InstanceRepository{store: p}
	p.stepExecutionRepo = &StepExecutionRepository{store: p}

	return p
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists and is writable.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(fp.root, 0750); err != nil {
		return fmt.Errorf("file persistence root unavailable: %w", err)
	}

	probe, err := os.CreateTemp(fp.root, ".health-*")
	if err != nil {
		return fmt.Errorf("file persistence root not writable: %w", err)
	}

	_ = probe.Close()

	return os.Remove(probe.Name())
}

func (fp *Persistence) DefinitionRepository() persistence.DefinitionRepository {
	return fp.definitionRepo
}

func (fp *Persistence) InstanceRepository() persistence.InstanceRepository {
	return fp.instanceRepo
}

func (fp *Persistence) StepExecutionRepository() persistence.StepExecutionRepository {
	return fp.stepExecutionRepo
}

// validateID rejects identifiers that would escape the storage directory.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", persistence.ErrInvalidID)
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q contains invalid characters", persistence.ErrInvalidID, id)
	}

	return nil
}

func (fp *Persistence) path(elem ...string) string {
	return filepath.Join(append([]string{fp.root}, elem...)...)
}

func writeJSON(filePath string, value any) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(filePath), err)
	}

	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(filePath), err)
	}

	return os.Rename(tmp, filePath)
}

// readJSON returns os.ErrNotExist when the file is missing.
func readJSON(filePath string, target any) error {
	data, err := os.ReadFile(filePath) // #nosec G304 -- path is built from validated identifiers
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(filePath), err)
	}

	return nil
}

func exists(filePath string) bool {
	_, err := os.Stat(filePath)

	return err == nil
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// jsonFiles lists *.json entries of dir. A missing directory yields nothing.
func jsonFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		files = append(files, filepath.Join(dir, entry.Name()))
	}

	return files, nil
}
