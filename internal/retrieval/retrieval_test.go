package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/cantalupo555/gov-dataset-retriever/internal/browser"
	"github.com/cantalupo555/gov-dataset-retriever/internal/fetch"
	"github.com/cantalupo555/gov-dataset-retriever/internal/listing"
	"github.com/cantalupo555/gov-dataset-retriever/internal/locator"
	"github.com/cantalupo555/gov-dataset-retriever/internal/mirror"
	"github.com/cantalupo555/gov-dataset-retriever/internal/task"
)

// fakePage simulates a rendered page. Nodes are keyed by candidate query.
// onTrigger runs when the element is clicked, standing in for the browser
// writing a download.
type fakePage struct {
	nodes       map[string]*cdp.Node
	navigateErr error
	triggerErr  error
	onTrigger   func()
	landed      string

	mu       sync.Mutex
	located  int
	closed   int
	queried  []string
	scrolled []string
}

func (p *fakePage) Query(_ context.Context, c locator.Candidate) (*cdp.Node, error) {
	p.queried = append(p.queried, c.Query)
	return p.nodes[c.Query], nil
}

func (p *fakePage) Navigate(context.Context, string) error { return p.navigateErr }

func (p *fakePage) ScrollTo(_ context.Context, sel string) error {
	p.scrolled = append(p.scrolled, sel)
	return nil
}

func (p *fakePage) Trigger(context.Context, locator.Match) error {
	if p.triggerErr != nil {
		return p.triggerErr
	}
	if p.onTrigger != nil {
		go p.onTrigger()
	}
	return nil
}

func (p *fakePage) CurrentURL(context.Context) (string, error) {
	p.located++
	return p.landed, nil
}

func (p *fakePage) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
}

type fakeLauncher struct {
	page     *fakePage
	err      error
	launched int
	dirs     []string
}

func (l *fakeLauncher) Launch(_ context.Context, dir string, _ task.Task) (Page, error) {
	l.launched++
	l.dirs = append(l.dirs, dir)
	if l.err != nil {
		return nil, l.err
	}
	return l.page, nil
}

type fakeFetcher struct {
	fail map[string]error
	urls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url, dest string) (string, error) {
	f.urls = append(f.urls, url)
	if err := f.fail[url]; err != nil {
		return "", err
	}
	return dest, os.WriteFile(dest, []byte("data"), 0o644)
}

type fakeLister struct {
	links []listing.Link
	err   error
}

func (l fakeLister) Discover(context.Context, string, listing.Rules) ([]listing.Link, error) {
	return l.links, l.err
}

func browserTask() task.Task {
	return task.Task{
		ID:        "nger",
		Name:      "CER NGER",
		Strategy:  task.BrowserDriven,
		URL:       "https://data.example.gov/datasets/NGER",
		Subfolder: "cer_nger",
		Pattern:   "*.csv",
		Timeout:   3 * time.Second,
		Expected:  1,
		Locators: []locator.Candidate{
			{Kind: locator.KindXPath, Query: "//span[contains(text(), 'Download CSV')]/parent::*/parent::button"},
			{Kind: locator.KindXPath, Query: "//button[contains(., 'Download CSV')]"},
		},
	}
}

func httpTask() task.Task {
	return task.Task{
		ID:        "renew",
		Name:      "CER Renewable",
		Strategy:  task.HTTPDirect,
		URL:       "https://example.gov/renewables",
		Subfolder: "cer_renewable",
		Pattern:   "*.csv",
		Expected:  1,
		Files:     []task.File{{URL: "https://example.gov/a", Filename: "a.csv"}},
	}
}

func newOrchestrator(t *testing.T, l Launcher, f Fetcher) *Orchestrator {
	t.Helper()
	return &Orchestrator{
		OutputDir:    t.TempDir(),
		Launcher:     l,
		Fetcher:      f,
		Lister:       fakeLister{},
		PollInterval: 10 * time.Millisecond,
	}
}

func TestRun_ElementNotFoundThenHTTPSuccess(t *testing.T) {
	page := &fakePage{}
	launcher := &fakeLauncher{page: page}
	o := newOrchestrator(t, launcher, &fakeFetcher{})

	rep := o.Run(context.Background(), []task.Task{browserTask(), httpTask()})

	require.Len(t, rep.Entries, 2)
	nger := rep.Entries[0].Result
	assert.False(t, nger.Success)
	require.NotNil(t, nger.Err)
	assert.Equal(t, task.ElementNotFound, nger.Err.Kind)
	assert.Empty(t, nger.Files)

	renew := rep.Entries[1].Result
	assert.True(t, renew.Success)
	require.Len(t, renew.Files, 1)
	assert.Equal(t, filepath.Join(filepath.Dir(launcher.dirs[0]), "cer_renewable", "a.csv"), renew.Files[0])

	assert.Equal(t, 1, rep.Succeeded())
	assert.Equal(t, 1, rep.Failed())
	assert.Equal(t, 1, page.closed, "browser released exactly once")
	assert.Equal(t, 1, launcher.launched)
}

func TestRunTask_BrowserDownloadCompletes(t *testing.T) {
	tk := browserTask()
	page := &fakePage{nodes: map[string]*cdp.Node{tk.Locators[1].Query: {NodeID: 42}}}
	launcher := &fakeLauncher{page: page}
	o := newOrchestrator(t, launcher, &fakeFetcher{})

	dir := filepath.Join(o.OutputDir, tk.Subfolder)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.csv"), []byte("old"), 0o644))

	page.onTrigger = func() {
		partial := filepath.Join(dir, "NGER.ID0243.csv.crdownload")
		_ = os.WriteFile(partial, []byte("part"), 0o644)
		time.Sleep(40 * time.Millisecond)
		_ = os.Rename(partial, filepath.Join(dir, "NGER.ID0243.csv"))
	}

	res := o.RunTask(context.Background(), tk)
	require.True(t, res.Success, "%+v", res.Err)

	abs, err := filepath.Abs(filepath.Join(dir, "NGER.ID0243.csv"))
	require.NoError(t, err)
	assert.Equal(t, []string{abs}, res.Files)
	assert.Equal(t, 1, page.closed)
	assert.Len(t, page.queried, 2)
}

func TestRunTask_DownloadTimeout(t *testing.T) {
	tk := browserTask()
	tk.Timeout = 80 * time.Millisecond
	page := &fakePage{nodes: map[string]*cdp.Node{tk.Locators[0].Query: {NodeID: 1}}}
	o := newOrchestrator(t, &fakeLauncher{page: page}, &fakeFetcher{})

	res := o.RunTask(context.Background(), tk)
	assert.False(t, res.Success)
	assert.Equal(t, task.DownloadTimeout, res.Err.Kind)
	assert.Empty(t, res.Files)
	assert.Equal(t, 1, page.closed)
}

func TestRunTask_LaunchFailure(t *testing.T) {
	launcher := &fakeLauncher{err: &browser.LaunchError{ExecPath: "/nope", Err: errors.New("exec: not found")}}
	o := newOrchestrator(t, launcher, &fakeFetcher{})

	res := o.RunTask(context.Background(), browserTask())
	assert.False(t, res.Success)
	assert.Equal(t, task.LaunchFailure, res.Err.Kind)
}

func TestRunTask_NavigationTimeout(t *testing.T) {
	page := &fakePage{navigateErr: fmt.Errorf("navigate: %w", browser.ErrNavigationTimeout)}
	o := newOrchestrator(t, &fakeLauncher{page: page}, &fakeFetcher{})

	res := o.RunTask(context.Background(), browserTask())
	assert.Equal(t, task.NavigationTimeout, res.Err.Kind)
	assert.Equal(t, 1, page.closed)
	assert.Empty(t, page.queried, "no lookup after failed navigation")
}

func TestRunTask_TriggerFailure(t *testing.T) {
	tk := browserTask()
	page := &fakePage{
		nodes:      map[string]*cdp.Node{tk.Locators[0].Query: {NodeID: 1}},
		triggerErr: errors.New("click: node not visible"),
	}
	o := newOrchestrator(t, &fakeLauncher{page: page}, &fakeFetcher{})

	res := o.RunTask(context.Background(), tk)
	assert.Equal(t, task.BrowserError, res.Err.Kind)
	assert.Equal(t, 1, page.closed)
}

func TestRunTask_ScrollToBeforeResolve(t *testing.T) {
	tk := browserTask()
	tk.ScrollTo = "#data-downloads"
	tk.Timeout = 30 * time.Millisecond
	page := &fakePage{nodes: map[string]*cdp.Node{tk.Locators[0].Query: {NodeID: 1}}}
	o := newOrchestrator(t, &fakeLauncher{page: page}, &fakeFetcher{})

	o.RunTask(context.Background(), tk)
	assert.Equal(t, []string{"#data-downloads"}, page.scrolled)
}

func TestRunTask_HTTPPartialFailureContinues(t *testing.T) {
	tk := httpTask()
	tk.Files = []task.File{
		{URL: "https://example.gov/1", Filename: "1.csv"},
		{URL: "https://example.gov/2", Filename: "2.csv"},
		{URL: "https://example.gov/3", Filename: "3.csv"},
	}
	fetcher := &fakeFetcher{fail: map[string]error{
		"https://example.gov/2": &fetch.Error{Kind: fetch.KindHTTPStatus, URL: "https://example.gov/2", StatusCode: 500},
	}}
	o := newOrchestrator(t, &fakeLauncher{}, fetcher)

	res := o.RunTask(context.Background(), tk)
	assert.False(t, res.Success)
	assert.Equal(t, task.FetchError, res.Err.Kind)
	assert.Len(t, res.Files, 2)
	assert.Len(t, fetcher.urls, 3, "later files still attempted")
}

func TestRunTask_HTTPListing(t *testing.T) {
	tk := httpTask()
	tk.Files = nil
	tk.Listing = &listing.Rules{TextContains: "csv"}

	o := newOrchestrator(t, &fakeLauncher{}, &fakeFetcher{})
	o.Lister = fakeLister{links: []listing.Link{
		{URL: "https://example.gov/doc/a", Filename: "a.csv"},
		{URL: "https://example.gov/doc/b", Filename: "../../b.csv"},
	}}

	res := o.RunTask(context.Background(), tk)
	require.True(t, res.Success)
	require.Len(t, res.Files, 2)
	assert.Equal(t, "b.csv", filepath.Base(res.Files[1]))
	assert.Equal(t, "cer_renewable", filepath.Base(filepath.Dir(res.Files[1])))
}

func TestRunTask_HTTPListingEmpty(t *testing.T) {
	tk := httpTask()
	tk.Files = nil
	tk.Listing = &listing.Rules{}
	o := newOrchestrator(t, &fakeLauncher{}, &fakeFetcher{})

	res := o.RunTask(context.Background(), tk)
	assert.Equal(t, task.FetchError, res.Err.Kind)
}

func TestRun_AggregateEqualsSumOfResults(t *testing.T) {
	b := browserTask()
	b.Timeout = 30 * time.Millisecond
	h := httpTask()
	h.Expected = 2
	h.Files = append(h.Files, task.File{URL: "https://example.gov/bad", Filename: "bad.csv"})

	fetcher := &fakeFetcher{fail: map[string]error{"https://example.gov/bad": &fetch.Error{Kind: fetch.KindTimeout}}}
	o := newOrchestrator(t, &fakeLauncher{page: &fakePage{}}, fetcher)

	rep := o.Run(context.Background(), []task.Task{b, h})
	sum := 0
	for _, e := range rep.Entries {
		sum += len(e.Result.Files)
	}
	assert.Equal(t, sum, rep.TotalActual())
	assert.Equal(t, 1, rep.TotalActual())
	assert.Equal(t, 3, rep.TotalExpected())
	require.Len(t, rep.Folders, 2)
	require.Len(t, rep.Folders[1].Files, 1)
	assert.Equal(t, "a.csv", rep.Folders[1].Files[0].Name)
}

func TestRun_CancelledSkipsRemainingTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newOrchestrator(t, &fakeLauncher{page: &fakePage{}}, &fakeFetcher{})
	rep := o.Run(ctx, []task.Task{browserTask(), httpTask()})
	assert.Empty(t, rep.Entries)
}

func TestRun_MirrorsProducedFiles(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	o := newOrchestrator(t, &fakeLauncher{}, &fakeFetcher{})
	o.Mirror = mirror.New(bucket, "")

	o.Run(context.Background(), []task.Task{httpTask()})

	ok, err := bucket.Exists(context.Background(), "cer_renewable/a.csv")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRun_RealFetcherAndLister(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/listing", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<div class="item"><a class="dl" href="/files/one">Download CSV</a><a class="dl" href="/files/two">PDF</a></div>`))
	})
	mux.HandleFunc("/files/one", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x,y\n"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	tk := task.Task{
		ID:        "live",
		Strategy:  task.HTTPDirect,
		URL:       server.URL + "/listing",
		Subfolder: "live",
		Pattern:   "*.csv",
		Expected:  1,
		Listing:   &listing.Rules{ItemSelector: "div.item", LinkSelector: "a.dl", TextContains: "csv", Extension: ".csv"},
	}

	client := fetch.NewClient(fetch.DefaultOptions())
	o := &Orchestrator{OutputDir: t.TempDir(), Fetcher: client, Lister: HTTPLister{Client: client}}

	rep := o.Run(context.Background(), []task.Task{tk})
	require.Len(t, rep.Entries, 1)
	assert.True(t, rep.Entries[0].Result.Success)
	assert.False(t, rep.Discrepancy())
	require.Len(t, rep.Folders[0].Files, 1)
	assert.Equal(t, "one.csv", rep.Folders[0].Files[0].Name)
}

func TestRunTask_ChecksLandedURL(t *testing.T) {
	tk := browserTask()
	tk.Timeout = 30 * time.Millisecond
	page := &fakePage{landed: "https://data.example.gov/login?next=NGER"}
	o := newOrchestrator(t, &fakeLauncher{page: page}, &fakeFetcher{})

	o.RunTask(context.Background(), tk)
	assert.Equal(t, 1, page.located)
}

func TestRunTask_HTTPHonoursTaskTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(400 * time.Millisecond):
			w.Write([]byte("late\n"))
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	tk := httpTask()
	tk.Timeout = 100 * time.Millisecond
	tk.Files = []task.File{{URL: server.URL + "/slow", Filename: "slow.csv"}}

	client := fetch.NewClient(fetch.DefaultOptions())
	o := newOrchestrator(t, &fakeLauncher{}, client)

	start := time.Now()
	res := o.RunTask(context.Background(), tk)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.False(t, res.Success)
	require.NotNil(t, res.Err)
	assert.Equal(t, task.FetchError, res.Err.Kind)
	assert.Empty(t, res.Files)

	_, err := o.fetchOne(context.Background(), server.URL+"/slow", filepath.Join(t.TempDir(), "x.csv"), 50*time.Millisecond)
	var fe *fetch.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fetch.KindTimeout, fe.Kind)
}

func TestRunTask_HTTPSameNameKeepsBothFiles(t *testing.T) {
	tk := httpTask()
	tk.Files = nil
	tk.Expected = 2
	tk.Listing = &listing.Rules{TextContains: "csv"}

	o := newOrchestrator(t, &fakeLauncher{}, &fakeFetcher{})
	o.Lister = fakeLister{links: []listing.Link{
		{URL: "https://example.gov/2024/report", Filename: "report.csv"},
		{URL: "https://example.gov/2025/report", Filename: "report.csv"},
	}}

	rep := o.Run(context.Background(), []task.Task{tk})
	res := rep.Entries[0].Result
	require.True(t, res.Success)
	require.Len(t, res.Files, 2)
	assert.Equal(t, "report.csv", filepath.Base(res.Files[0]))
	assert.Equal(t, "report-2.csv", filepath.Base(res.Files[1]))
	for _, f := range res.Files {
		assert.FileExists(t, f)
	}
	require.Len(t, rep.Folders, 1)
	assert.Len(t, rep.Folders[0].Files, rep.TotalActual())
}

func TestUniqueName(t *testing.T) {
	used := make(map[string]bool)
	assert.Equal(t, "a.csv", uniqueName("a.csv", used))
	assert.Equal(t, "a-2.csv", uniqueName("a.csv", used))
	assert.Equal(t, "a-3.csv", uniqueName("A.csv", used))
	assert.Equal(t, "b.csv", uniqueName("b.csv", used))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, task.LaunchFailure, classify(&browser.LaunchError{Err: errors.New("x")}, task.IOError))
	assert.Equal(t, task.ElementNotFound, classify(&locator.ElementNotFoundError{}, task.IOError))
	assert.Equal(t, task.FetchError, classify(&fetch.Error{Kind: fetch.KindConnection}, task.IOError))
	assert.Equal(t, task.LaunchFailure, classify(errors.New("websocket: close 1006"), task.IOError))
	assert.Equal(t, task.IOError, classify(errors.New("disk full"), task.IOError))
}
