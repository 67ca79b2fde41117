// Package watcher detects when a download written into a directory by an
// external process has finished.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	// DefaultInterval is how often the directory is polled.
	DefaultInterval = 1 * time.Second
	// ProgressEvery is how often a still-waiting message is logged.
	ProgressEvery = 10 * time.Second
)

// Chrome writes "<name>.crdownload" until a transfer finishes and, on Linux,
// may stage data in hidden ".com.google.Chrome.*" files first.
var (
	DefaultPartialSuffixes = []string{".crdownload", ".partial", ".part", ".tmp"}
	DefaultPartialPrefixes = []string{".com.google.Chrome.", ".org.chromium.Chromium."}
)

// State is the outcome of evaluating one poll.
type State int

const (
	Pending State = iota
	PartiallyWritten
	Complete
	TimedOut
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case PartiallyWritten:
		return "partially-written"
	case Complete:
		return "complete"
	case TimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Snapshot is the set of regular file names present in a directory.
type Snapshot struct {
	Taken time.Time
	Names []string
	set   map[string]struct{}
}

// Has reports whether name was present when the snapshot was taken.
func (s Snapshot) Has(name string) bool {
	_, ok := s.set[name]
	return ok
}

// Take lists dir. Names keep os.ReadDir order. Subdirectories are skipped.
func Take(dir string) (Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", dir, err)
	}

	snap := Snapshot{
		Taken: time.Now(),
		Names: make([]string, 0, len(entries)),
		set:   make(map[string]struct{}, len(entries)),
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		snap.Names = append(snap.Names, e.Name())
		snap.set[e.Name()] = struct{}{}
	}
	return snap, nil
}

// Diff returns the names in current that are absent from before, in
// current's order.
func Diff(before, current Snapshot) []string {
	var added []string
	for _, name := range current.Names {
		if !before.Has(name) {
			added = append(added, name)
		}
	}
	return added
}

// Watcher polls a directory until a download completes or Timeout elapses.
type Watcher struct {
	Interval        time.Duration
	Timeout         time.Duration
	PartialSuffixes []string
	PartialPrefixes []string
}

// New returns a Watcher with the default interval and in-progress markers.
func New(timeout time.Duration) *Watcher {
	return &Watcher{
		Interval:        DefaultInterval,
		Timeout:         timeout,
		PartialSuffixes: DefaultPartialSuffixes,
		PartialPrefixes: DefaultPartialPrefixes,
	}
}

// InProgress reports whether name carries an in-progress marker.
func (w *Watcher) InProgress(name string) bool {
	for _, s := range w.PartialSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	for _, p := range w.PartialPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Evaluate classifies the names added since the baseline snapshot.
func (w *Watcher) Evaluate(added []string) State {
	if len(added) == 0 {
		return Pending
	}
	for _, name := range added {
		if w.InProgress(name) {
			return PartiallyWritten
		}
	}
	return Complete
}

// Wait polls dir until every file added since before is fully written.
// It returns those names, or an empty slice if Timeout elapses first. Only a
// cancelled ctx or an unreadable directory yields an error.
func (w *Watcher) Wait(ctx context.Context, dir string, before Snapshot) ([]string, error) {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	start := time.Now()
	deadline := time.NewTimer(w.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Waiting for download to complete...", "dir", dir, "timeout", w.Timeout)
	lastProgress := start

	for {
		current, err := Take(dir)
		if err != nil {
			return nil, err
		}
		added := Diff(before, current)

		switch state := w.Evaluate(added); state {
		case Complete:
			slog.Info("✓ Download complete", "files", added, "elapsed", time.Since(start).Round(time.Millisecond))
			return added, nil
		case PartiallyWritten:
			slog.Debug("download in progress", "files", added)
		}

		if time.Since(lastProgress) >= ProgressEvery {
			slog.Info("Waiting...", "elapsed", time.Since(start).Round(time.Second))
			lastProgress = time.Now()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			slog.Warn("⚠️ Download timeout", "state", TimedOut, "after", w.Timeout)
			return []string{}, nil
		case <-ticker.C:
		}
	}
}
