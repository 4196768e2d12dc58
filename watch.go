package main

import (
	"context"
	"os"
	"sync"

	"github.com/fatih/color"

	"github.com/veex0x01/stackscope/browser"
	"github.com/veex0x01/stackscope/config"
	"github.com/veex0x01/stackscope/detector"
	"github.com/veex0x01/stackscope/fingerprint"
	"github.com/veex0x01/stackscope/monitor"
	"github.com/veex0x01/stackscope/monitor/notify"
	"github.com/veex0x01/stackscope/output"
	"github.com/veex0x01/stackscope/reporting"
)

// liveCatalog is the catalog in use, swapped on hot reload
type liveCatalog struct {
	mu  sync.RWMutex
	cat *fingerprint.Catalog
}

func (l *liveCatalog) get() *fingerprint.Catalog {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cat
}

func (l *liveCatalog) set(cat *fingerprint.Catalog) {
	l.mu.Lock()
	l.cat = cat
	l.mu.Unlock()
}

// watchCatalog hot-reloads the catalog file, if one is configured
func watchCatalog(cfg *config.Config, live *liveCatalog, onReload []func(*fingerprint.Catalog), logger *reporting.Logger) func() {
	if cfg.Catalog == "" {
		return func() {}
	}
	w, err := fingerprint.Watch(cfg.Catalog, logger, func(cat *fingerprint.Catalog) {
		live.set(cat)
		for _, fn := range onReload {
			fn(cat)
		}
	})
	if err != nil {
		logger.Warn("Catalog hot reload disabled: %v", err)
		return func() {}
	}
	return func() { w.Close() }
}

// runBrowserWatch keeps one tab open and re-detects after every burst of
// structural DOM changes
func runBrowserWatch(ctx context.Context, cfg *config.Config, live *liveCatalog, onReload []func(*fingerprint.Catalog),
	targetURL string, dispatcher *notify.Dispatcher, publish func(detector.Report), logger *reporting.Logger) {

	printer := output.NewPrinter(nil)

	b, err := browser.New(cfg.BrowserOptions(), logger)
	if err != nil {
		color.Red("[-] %v", err)
		os.Exit(1)
	}
	defer b.Close()

	sess, err := b.Open(ctx, targetURL)
	if err != nil {
		color.Red("[-] Failed to open %s: %v", targetURL, err)
		os.Exit(1)
	}
	defer sess.Close()

	cat := live.get()
	sess.SetGlobalPaths(cat.GlobalPaths())

	det := detector.New(logger)
	snap, err := sess.Snapshot(ctx)
	if err != nil {
		color.Red("[-] Initial snapshot failed: %v", err)
		os.Exit(1)
	}
	report := finish(cfg, snap, det.Detect(cat, snap))
	printer.PrintReport(report)
	publish(report)

	watcher := detector.NewWatcher(det, sess, sess,
		detector.WithQuietPeriod(cfg.QuietPeriod),
		detector.WithLogger(logger),
	)

	// callbacks never overlap, so prev needs no lock
	prev := report.Technologies
	onResults := func(results []detector.Result) {
		report := finish(cfg, nil, results)
		report.URL = targetURL
		change := monitor.Diff(prev, report.Technologies)
		change.URL = targetURL
		prev = report.Technologies

		publish(report)
		if change.Empty() {
			logger.Debug("Rescan of %s: no change", targetURL)
			return
		}
		printer.PrintChange(change)
		if dispatcher.Len() > 0 {
			dispatcher.Dispatch(monitor.AlertFor(change, report))
		}
	}

	onReload = append(onReload, func(cat *fingerprint.Catalog) {
		sess.SetGlobalPaths(cat.GlobalPaths())
		watcher.SetCatalog(cat)
	})
	defer watchCatalog(cfg, live, onReload, logger)()

	if err := watcher.Start(ctx, cat, onResults); err != nil {
		color.Red("[-] Failed to watch %s: %v", targetURL, err)
		os.Exit(1)
	}
	logger.Info("Watching %s (quiet period %s), Ctrl+C to stop", targetURL, cfg.QuietPeriod)

	<-ctx.Done()
	watcher.Stop()
	logger.Info("Stopped watching %s", targetURL)
}

// runPoll re-fetches each target statically on the configured interval
func runPoll(ctx context.Context, cfg *config.Config, live *liveCatalog, onReload []func(*fingerprint.Catalog),
	targets []string, once bool, dispatcher *notify.Dispatcher, publish func(detector.Report), logger *reporting.Logger) {

	printer := output.NewPrinter(nil)
	det := detector.New(logger)

	scan, err := staticScanner(cfg, det, live.get, logger)
	if err != nil {
		color.Red("[-] %v", err)
		os.Exit(1)
	}

	scheduler := monitor.NewScheduler(scan, logger, dispatcher)
	if cfg.Poll.StateDir != "" {
		store, err := monitor.NewStore(cfg.Poll.StateDir)
		if err != nil {
			color.Red("[-] %v", err)
			os.Exit(1)
		}
		scheduler.Store = store
	}

	var printMu sync.Mutex
	scheduler.OnReport = func(report detector.Report, change monitor.Change) {
		printMu.Lock()
		defer printMu.Unlock()
		if once {
			printer.PrintReport(report)
		}
		printer.PrintChange(change)
		publish(report)
	}
	for _, t := range targets {
		scheduler.AddTarget(monitor.Target{URL: t, Interval: cfg.Poll.Interval})
	}

	if once {
		changes := scheduler.RunOnce(ctx)
		logger.Success("One-time check complete: %d changes", len(changes))
		return
	}

	defer watchCatalog(cfg, live, onReload, logger)()
	logger.Info("Polling %d targets every %s", len(targets), cfg.Poll.Interval)
	scheduler.Run(ctx)
}
