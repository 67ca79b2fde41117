// Package task defines download tasks, their results and the built-in catalog.
package task

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cantalupo555/gov-dataset-retriever/internal/listing"
	"github.com/cantalupo555/gov-dataset-retriever/internal/locator"
)

// Strategy selects how a task retrieves its files.
type Strategy string

const (
	BrowserDriven Strategy = "browser"
	HTTPDirect    Strategy = "http"
)

// DefaultTimeout applies when a task does not set one.
const DefaultTimeout = 120 * time.Second

// File is a directly linked file of an HTTP task.
type File struct {
	URL      string `yaml:"url"`
	Filename string `yaml:"filename"`
}

// Task describes one data source. Tasks are loaded once and passed by value.
type Task struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Strategy  Strategy `yaml:"strategy"`
	URL       string   `yaml:"url"`
	Subfolder string   `yaml:"subfolder"`
	// Pattern is a filepath.Match glob for the files this task produces.
	Pattern  string        `yaml:"pattern"`
	Timeout  time.Duration `yaml:"timeout"`
	Expected int           `yaml:"expected"`

	// Browser tasks.
	Locators    []locator.Candidate `yaml:"locators"`
	ScrollTo    string              `yaml:"scroll_to"`
	SettleDelay time.Duration       `yaml:"settle_delay"`

	// HTTP tasks: either a fixed file list or links discovered on URL.
	Files   []File         `yaml:"files"`
	Listing *listing.Rules `yaml:"listing"`
}

// DisplayName returns Name, falling back to ID.
func (t Task) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}

// Validate checks that t is runnable.
func (t Task) Validate() error {
	var errs []error
	if t.ID == "" {
		errs = append(errs, errors.New("missing id"))
	}
	if t.URL == "" {
		errs = append(errs, errors.New("missing url"))
	}
	if t.Subfolder == "" {
		errs = append(errs, errors.New("missing subfolder"))
	} else if filepath.IsAbs(t.Subfolder) || strings.Contains(filepath.ToSlash(t.Subfolder), "..") {
		errs = append(errs, fmt.Errorf("subfolder %q must be relative to the output directory", t.Subfolder))
	}
	if t.Pattern != "" {
		if _, err := filepath.Match(t.Pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("pattern %q: %w", t.Pattern, err))
		}
	}
	if t.Timeout < 0 || t.Expected < 0 {
		errs = append(errs, errors.New("timeout and expected must not be negative"))
	}

	switch t.Strategy {
	case BrowserDriven:
		if len(t.Locators) == 0 {
			errs = append(errs, errors.New("browser task needs at least one locator"))
		}
		for i, c := range t.Locators {
			if _, err := c.Expression(); err != nil {
				errs = append(errs, fmt.Errorf("locator %d: %w", i+1, err))
			}
		}
	case HTTPDirect:
		if len(t.Files) == 0 && t.Listing == nil {
			errs = append(errs, errors.New("http task needs files or listing rules"))
		}
		for i, f := range t.Files {
			if f.URL == "" || f.Filename == "" {
				errs = append(errs, fmt.Errorf("file %d: url and filename are required", i+1))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("unknown strategy %q", t.Strategy))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("task %q: %w", t.ID, err)
	}
	return nil
}

// EffectiveTimeout returns Timeout or DefaultTimeout.
func (t Task) EffectiveTimeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultTimeout
}

// Matches reports whether a file name belongs to this task's output.
func (t Task) Matches(name string) bool {
	if t.Pattern == "" {
		return true
	}
	ok, _ := filepath.Match(t.Pattern, name)
	return ok
}
