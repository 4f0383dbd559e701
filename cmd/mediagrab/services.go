package main

import (
	"github.com/use-agent/mediagrab/config"
	"github.com/use-agent/mediagrab/engine"
	"github.com/use-agent/mediagrab/media"
	"github.com/use-agent/mediagrab/scraper"
)

// services are the engine pieces shared by serve and grab.
type services struct {
	browser   *scraper.Scraper
	pages     *scraper.Pages
	engine    *media.Engine
	downloads *media.Manager
	memory    *engine.ProbeMemory
}

// newServices wires the HTTP client, prober, classifier and download
// manager. Chrome is only launched when withBrowser is set.
func newServices(cfg *config.Config, withBrowser bool) (*services, error) {
	client := engine.NewHTTPClient(engine.ClientOptions{
		Proxy:                 cfg.Browser.DefaultProxy,
		ResponseHeaderTimeout: cfg.Download.StallTimeout,
	})
	s := &services{
		memory: engine.NewProbeMemory(cfg.Probe.MemoryTTL),
		pages:  &scraper.Pages{Static: engine.NewHTTPEngine(client, cfg.Probe.UserAgent)},
	}

	if withBrowser {
		sc, err := scraper.NewScraper(cfg.Browser, cfg.Scraper, cfg.Probe.UserAgent)
		if err != nil {
			s.memory.Stop()
			return nil, err
		}
		s.browser = sc
		s.pages.Browser = sc
	}

	prober := &media.Prober{
		Timeout:   cfg.Probe.Timeout,
		Memory:    s.memory,
		UserAgent: cfg.Probe.UserAgent,
	}
	classifier := &media.Classifier{
		Client:        client,
		Timeout:       cfg.Classifier.Timeout,
		ThumbnailEdge: cfg.Classifier.ThumbnailWidth,
		MaxImageBytes: cfg.Classifier.MaxImageBytes,
	}
	s.engine = media.NewEngine(prober, classifier, cfg.Scraper.SettleInterval, cfg.Scraper.Fingerprint)
	s.downloads = media.NewManager(client, media.ManagerOptions{
		ChunkSize:         cfg.Download.ChunkSize,
		Workers:           cfg.Download.Workers,
		StallTimeout:      cfg.Download.StallTimeout,
		RequestsPerSecond: cfg.Download.RequestsPerSecond,
	})
	return s, nil
}

func (s *services) Close() {
	if s.browser != nil {
		s.browser.Close()
	}
	s.memory.Stop()
}
