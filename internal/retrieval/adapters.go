package retrieval

import (
	"context"

	"github.com/cantalupo555/gov-dataset-retriever/internal/browser"
	"github.com/cantalupo555/gov-dataset-retriever/internal/config"
	"github.com/cantalupo555/gov-dataset-retriever/internal/fetch"
	"github.com/cantalupo555/gov-dataset-retriever/internal/listing"
	"github.com/cantalupo555/gov-dataset-retriever/internal/task"
)

// ChromeLauncher opens a fresh chromedp session per task.
type ChromeLauncher struct {
	Config config.Config
}

func (l ChromeLauncher) Launch(ctx context.Context, downloadDir string, t task.Task) (Page, error) {
	cfg := l.Config.Browser(downloadDir)
	if t.SettleDelay > 0 {
		cfg.SettleDelay = t.SettleDelay
	}
	s, err := browser.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// HTTPLister discovers links with goquery over the shared fetch client.
type HTTPLister struct {
	Client *fetch.Client
}

func (l HTTPLister) Discover(ctx context.Context, pageURL string, rules listing.Rules) ([]listing.Link, error) {
	return listing.Discover(ctx, l.Client, pageURL, rules)
}

// New wires the production collaborators from cfg.
func New(cfg config.Config) *Orchestrator {
	client := fetch.NewClient(cfg.Fetch())
	return &Orchestrator{
		OutputDir:    cfg.OutputDir,
		Launcher:     ChromeLauncher{Config: cfg},
		Fetcher:      client,
		Lister:       HTTPLister{Client: client},
		PollInterval: cfg.PollInterval.Duration,
		RequestDelay: cfg.RequestDelay.Duration,
	}
}
