// Package report provides final execution report functionality.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cantalupo555/gov-dataset-retriever/internal/task"
)

// Entry pairs a task with its result.
type Entry struct {
	TaskID   string
	Name     string
	Strategy task.Strategy
	Expected int
	Result   task.Result
}

// FileInfo is one file found in an output subfolder.
type FileInfo struct {
	Name string
	Size int64
}

// Folder lists the files present in one subfolder after the run.
type Folder struct {
	Subfolder string
	Label     string
	Files     []FileInfo
}

// Report aggregates the results of one run.
type Report struct {
	RunID     string
	StartTime time.Time
	EndTime   time.Time
	OutputDir string
	Entries   []Entry
	Folders   []Folder
}

// New creates a new Report with StartTime set to now.
func New(outputDir string) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
		OutputDir: outputDir,
	}
}

// Add records the result of t.
func (r *Report) Add(t task.Task, res task.Result) {
	r.Entries = append(r.Entries, Entry{
		TaskID:   t.ID,
		Name:     t.DisplayName(),
		Strategy: t.Strategy,
		Expected: t.Expected,
		Result:   res,
	})
}

// TotalExpected is the sum of the expected file counts of the tasks run.
func (r *Report) TotalExpected() int {
	n := 0
	for _, e := range r.Entries {
		n += e.Expected
	}
	return n
}

// TotalActual is the sum of produced files over every result.
func (r *Report) TotalActual() int {
	n := 0
	for _, e := range r.Entries {
		n += e.Result.Count()
	}
	return n
}

// Succeeded returns the number of successful tasks.
func (r *Report) Succeeded() int {
	n := 0
	for _, e := range r.Entries {
		if e.Result.Success {
			n++
		}
	}
	return n
}

// Failed returns the number of failed tasks.
func (r *Report) Failed() int {
	return len(r.Entries) - r.Succeeded()
}

// Discrepancy reports whether the file count differs from the expectation.
func (r *Report) Discrepancy() bool {
	return r.TotalActual() != r.TotalExpected()
}

// Finish marks the end of the run and lists every task's subfolder.
// Tasks sharing a subfolder are listed once, matching any of their patterns.
func (r *Report) Finish(tasks []task.Task) {
	r.EndTime = time.Now()
	r.Folders = r.Folders[:0]

	index := make(map[string]int)
	var patterns [][]task.Task
	for _, t := range tasks {
		i, ok := index[t.Subfolder]
		if !ok {
			i = len(r.Folders)
			index[t.Subfolder] = i
			r.Folders = append(r.Folders, Folder{Subfolder: t.Subfolder, Label: t.DisplayName()})
			patterns = append(patterns, nil)
		}
		patterns[i] = append(patterns[i], t)
	}

	for i := range r.Folders {
		r.Folders[i].Files = listFolder(filepath.Join(r.OutputDir, r.Folders[i].Subfolder), patterns[i])
	}
}

// listFolder returns the files in dir matched by any task's pattern, by name.
// A missing directory yields no files.
func listFolder(dir string, tasks []task.Task) []FileInfo {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		matched := false
		for _, t := range tasks {
			if t.Matches(e.Name()) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		fi := FileInfo{Name: e.Name()}
		if info, err := e.Info(); err == nil {
			fi.Size = info.Size()
		}
		files = append(files, fi)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files
}

// Duration returns the total execution duration.
func (r *Report) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// Summary returns a brief one-line summary of the run.
func (r *Report) Summary() string {
	return fmt.Sprintf(
		"%d tasks (%d succeeded, %d failed), %d/%d files in %s",
		len(r.Entries),
		r.Succeeded(),
		r.Failed(),
		r.TotalActual(),
		r.TotalExpected(),
		formatDuration(r.Duration()),
	)
}
