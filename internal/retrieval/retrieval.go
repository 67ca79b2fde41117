// Package retrieval runs download tasks in order and aggregates their results.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cantalupo555/gov-dataset-retriever/internal/browser"
	"github.com/cantalupo555/gov-dataset-retriever/internal/fetch"
	"github.com/cantalupo555/gov-dataset-retriever/internal/listing"
	"github.com/cantalupo555/gov-dataset-retriever/internal/locator"
	"github.com/cantalupo555/gov-dataset-retriever/internal/report"
	"github.com/cantalupo555/gov-dataset-retriever/internal/task"
	"github.com/cantalupo555/gov-dataset-retriever/internal/watcher"
)

// Page is a live browser session bound to one task.
type Page interface {
	locator.Page
	Navigate(ctx context.Context, url string) error
	ScrollTo(ctx context.Context, selector string) error
	Trigger(ctx context.Context, m locator.Match) error
	CurrentURL(ctx context.Context) (string, error)
	Close()
}

// Launcher starts a browser whose downloads land in downloadDir.
type Launcher interface {
	Launch(ctx context.Context, downloadDir string, t task.Task) (Page, error)
}

// Fetcher downloads one URL to dest.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) (string, error)
}

// Lister discovers file links on a listing page.
type Lister interface {
	Discover(ctx context.Context, pageURL string, rules listing.Rules) ([]listing.Link, error)
}

// Publisher receives every produced file after the run.
type Publisher interface {
	Upload(ctx context.Context, subfolder, file string) (string, error)
}

// Orchestrator executes tasks strictly one after another.
type Orchestrator struct {
	OutputDir string
	Launcher  Launcher
	Fetcher   Fetcher
	Lister    Lister
	// Mirror is optional.
	Mirror Publisher

	// PollInterval is the completion watcher's tick.
	PollInterval time.Duration
	// RequestDelay separates consecutive HTTP downloads of one task.
	RequestDelay time.Duration
}

// Run executes tasks in order. A failing task never stops the run; only a
// cancelled ctx does. The returned report covers the tasks that ran.
func (o *Orchestrator) Run(ctx context.Context, tasks []task.Task) *report.Report {
	rep := report.New(o.OutputDir)
	var ran []task.Task

	for i, t := range tasks {
		if ctx.Err() != nil {
			slog.Warn("⚠️ Run interrupted", "skipped", len(tasks)-i)
			break
		}

		slog.Info(fmt.Sprintf("=== Task %d/%d: %s ===", i+1, len(tasks), t.DisplayName()))
		res := o.RunTask(ctx, t)
		rep.Add(t, res)
		ran = append(ran, t)

		if res.Success {
			slog.Info("✓ Task finished", "task", t.ID, "files", res.Count(), "expected", t.Expected)
		} else {
			slog.Error("Task failed", "task", t.ID, "kind", res.Err.Kind, "error", res.Err.Message, "files", res.Count())
		}
	}

	if o.Mirror != nil {
		o.publish(ctx, rep, ran)
	}

	rep.Finish(ran)
	return rep
}

// RunTask executes a single task and always returns a result.
func (o *Orchestrator) RunTask(ctx context.Context, t task.Task) task.Result {
	dir, err := o.taskDir(t)
	if err != nil {
		return task.Failed(t.ID, nil, task.IOError, err)
	}

	switch t.Strategy {
	case task.BrowserDriven:
		return o.runBrowser(ctx, t, dir)
	case task.HTTPDirect:
		return o.runHTTP(ctx, t, dir)
	default:
		return task.Failed(t.ID, nil, task.IOError, fmt.Errorf("unknown strategy %q", t.Strategy))
	}
}

// taskDir creates <output>/<subfolder> and returns its absolute path.
func (o *Orchestrator) taskDir(t task.Task) (string, error) {
	dir, err := filepath.Abs(filepath.Join(o.OutputDir, t.Subfolder))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

func (o *Orchestrator) runBrowser(ctx context.Context, t task.Task, dir string) task.Result {
	page, err := o.Launcher.Launch(ctx, dir, t)
	if err != nil {
		return task.Failed(t.ID, nil, task.LaunchFailure, err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, t.URL); err != nil {
		return task.Failed(t.ID, nil, classify(err, task.BrowserError), err)
	}
	if landed, err := page.CurrentURL(ctx); err == nil && landed != t.URL {
		slog.Info("Page redirected", "from", t.URL, "to", landed)
	}

	if t.ScrollTo != "" {
		if err := page.ScrollTo(ctx, t.ScrollTo); err != nil {
			slog.Warn("⚠️ Could not scroll to section", "selector", t.ScrollTo, "error", err)
		}
	}

	match, err := locator.Resolve(ctx, page, t.Locators)
	if err != nil {
		return task.Failed(t.ID, nil, classify(err, task.ElementNotFound), err)
	}

	before, err := watcher.Take(dir)
	if err != nil {
		return task.Failed(t.ID, nil, task.IOError, err)
	}

	if err := page.Trigger(ctx, match); err != nil {
		return task.Failed(t.ID, nil, classify(err, task.BrowserError), err)
	}

	w := watcher.New(t.EffectiveTimeout())
	if o.PollInterval > 0 {
		w.Interval = o.PollInterval
	}
	names, err := w.Wait(ctx, dir, before)
	if err != nil {
		return task.Failed(t.ID, nil, classify(err, task.IOError), err)
	}
	if len(names) == 0 {
		return task.Failed(t.ID, nil, task.DownloadTimeout,
			fmt.Errorf("no completed download in %s after %v", dir, w.Timeout))
	}

	files := make([]string, len(names))
	for i, name := range names {
		files[i] = filepath.Join(dir, name)
		if !t.Matches(name) {
			slog.Warn("⚠️ Downloaded file does not match pattern", "file", name, "pattern", t.Pattern)
		}
	}
	return task.Succeeded(t.ID, files)
}

func (o *Orchestrator) runHTTP(ctx context.Context, t task.Task, dir string) task.Result {
	targets := append([]task.File(nil), t.Files...)

	if t.Listing != nil {
		listCtx, cancel := context.WithTimeout(ctx, t.EffectiveTimeout())
		links, err := o.Lister.Discover(listCtx, t.URL, *t.Listing)
		cancel()
		if err != nil {
			return task.Failed(t.ID, nil, classify(err, task.FetchError), err)
		}
		for _, l := range links {
			targets = append(targets, task.File{URL: l.URL, Filename: l.Filename})
		}
	}
	if len(targets) == 0 {
		return task.Failed(t.ID, nil, task.FetchError, fmt.Errorf("no files found at %s", t.URL))
	}

	var (
		produced []string
		firstErr error
		used     = make(map[string]bool)
	)
	for i, f := range targets {
		if i > 0 && o.RequestDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(o.RequestDelay):
			}
		}
		if ctx.Err() != nil {
			firstErr = firstOf(firstErr, ctx.Err())
			break
		}

		name := uniqueName(filepath.Base(f.Filename), used)
		slog.Info(fmt.Sprintf("Downloading %d/%d: %s", i+1, len(targets), name))
		path, err := o.fetchOne(ctx, f.URL, filepath.Join(dir, name), t.EffectiveTimeout())
		if err != nil {
			slog.Warn("⚠️ Failed to download", "file", name, "error", err)
			firstErr = firstOf(firstErr, err)
			continue
		}
		produced = append(produced, path)
	}

	if firstErr != nil {
		return task.Failed(t.ID, produced, classify(firstErr, task.FetchError), firstErr)
	}
	return task.Succeeded(t.ID, produced)
}

// fetchOne downloads a single file within the task's timeout.
func (o *Orchestrator) fetchOne(ctx context.Context, url, dest string, timeout time.Duration) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return o.Fetcher.Fetch(fetchCtx, url, dest)
}

// uniqueName returns name, or name with a numeric suffix when an earlier file
// of the same task already claimed it. The result is recorded in used.
func uniqueName(name string, used map[string]bool) string {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; used[strings.ToLower(candidate)]; n++ {
		candidate = fmt.Sprintf("%s-%d%s", stem, n, ext)
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

func firstOf(first, next error) error {
	if first != nil {
		return first
	}
	return next
}

// classify maps component errors onto result kinds.
func classify(err error, fallback task.ErrorKind) task.ErrorKind {
	var (
		launchErr *browser.LaunchError
		fetchErr  *fetch.Error
	)
	switch {
	case errors.As(err, &launchErr):
		return task.LaunchFailure
	case errors.Is(err, locator.ErrElementNotFound):
		return task.ElementNotFound
	case errors.Is(err, browser.ErrNavigationTimeout):
		return task.NavigationTimeout
	case errors.As(err, &fetchErr):
		return task.FetchError
	case browser.IsBrowserClosed(err):
		return task.LaunchFailure
	default:
		return fallback
	}
}

// publish copies every produced file to the mirror. Failures are logged only.
func (o *Orchestrator) publish(ctx context.Context, rep *report.Report, tasks []task.Task) {
	subfolders := make(map[string]string, len(tasks))
	for _, t := range tasks {
		subfolders[t.ID] = t.Subfolder
	}

	uploaded := 0
	for _, e := range rep.Entries {
		for _, file := range e.Result.Files {
			if _, err := o.Mirror.Upload(ctx, subfolders[e.TaskID], file); err != nil {
				slog.Warn("⚠️ Mirror upload failed", "file", file, "error", err)
				continue
			}
			uploaded++
		}
	}
	slog.Info("✓ Mirrored files", "count", uploaded)
}
