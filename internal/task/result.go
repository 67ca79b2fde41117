package task

import "slices"

// ErrorKind classifies why a task failed.
type ErrorKind string

const (
	LaunchFailure     ErrorKind = "LaunchFailure"
	ElementNotFound   ErrorKind = "ElementNotFound"
	NavigationTimeout ErrorKind = "NavigationTimeout"
	DownloadTimeout   ErrorKind = "DownloadTimeout"
	FetchError        ErrorKind = "FetchError"
	IOError           ErrorKind = "IOError"
	// BrowserError covers browser steps that fail after the element was found.
	BrowserError      ErrorKind = "BrowserError"
)

// Failure is the error attached to an unsuccessful Result.
type Failure struct {
	Kind    ErrorKind
	Message string
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Message
}

// Result is the outcome of one task execution. Build it with Succeeded or
// Failed; it is not modified afterwards.
type Result struct {
	TaskID  string
	Success bool
	// Files holds absolute paths in the order they were produced.
	Files []string
	Err   *Failure
}

// Succeeded returns a successful result.
func Succeeded(taskID string, files []string) Result {
	return Result{TaskID: taskID, Success: true, Files: slices.Clone(files)}
}

// Failed returns an unsuccessful result. files lists whatever did arrive
// before the failure and may be empty.
func Failed(taskID string, files []string, kind ErrorKind, err error) Result {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Result{
		TaskID: taskID,
		Files:  slices.Clone(files),
		Err:    &Failure{Kind: kind, Message: msg},
	}
}

// Count returns the number of produced files.
func (r Result) Count() int {
	return len(r.Files)
}
