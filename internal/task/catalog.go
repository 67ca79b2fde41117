package task

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// ErrUnknownTask is returned by Find for an id not in the catalog.
var ErrUnknownTask = errors.New("unknown task")

type catalogFile struct {
	Tasks []Task `yaml:"tasks"`
}

// Builtin returns the catalog compiled into the binary.
func Builtin() ([]Task, error) {
	return ParseCatalog(builtinCatalog)
}

// LoadCatalog reads a catalog file, or the built-in one when path is empty.
func LoadCatalog(path string) ([]Task, error) {
	if path == "" {
		return Builtin()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	tasks, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tasks, nil
}

// ParseCatalog decodes and validates a YAML catalog. Task ids must be unique.
func ParseCatalog(data []byte) ([]Task, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(f.Tasks) == 0 {
		return nil, errors.New("catalog has no tasks")
	}

	seen := make(map[string]bool, len(f.Tasks))
	for _, t := range f.Tasks {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return f.Tasks, nil
}

// Find returns the task with the given id.
func Find(tasks []Task, id string) (Task, error) {
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return Task{}, fmt.Errorf("%w: %q", ErrUnknownTask, id)
}
