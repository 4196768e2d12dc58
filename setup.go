package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/veex0x01/stackscope/config"
	"github.com/veex0x01/stackscope/detector"
	"github.com/veex0x01/stackscope/fetch"
	"github.com/veex0x01/stackscope/fingerprint"
	"github.com/veex0x01/stackscope/monitor/notify"
	"github.com/veex0x01/stackscope/output"
	"github.com/veex0x01/stackscope/page"
	"github.com/veex0x01/stackscope/reporting"
)

func fatal(format string, args ...interface{}) {
	color.Red("[-] "+format, args...)
	os.Exit(1)
}

// loadConfig reads --config (or the defaults) and applies the global flags
// the user set on top of it
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			fatal("%v", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("catalog") {
		cfg.Catalog, _ = flags.GetString("catalog")
	}
	if flags.Changed("threshold") {
		cfg.Threshold, _ = flags.GetInt("threshold")
	}
	if flags.Changed("sort") {
		cfg.Sort, _ = flags.GetString("sort")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if verbose, _ := flags.GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	}
	if flags.Changed("log-file") {
		cfg.Log.File, _ = flags.GetString("log-file")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}
	if noColor, _ := flags.GetBool("no-color"); noColor {
		color.NoColor = true
	}

	// fetch flags only exist on some commands
	if flags.Lookup("timeout") != nil && flags.Changed("timeout") {
		cfg.Fetch.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Lookup("user-agent") != nil && flags.Changed("user-agent") {
		cfg.Fetch.UserAgent, _ = flags.GetString("user-agent")
	}
	if flags.Lookup("proxy") != nil && flags.Changed("proxy") {
		cfg.Fetch.Proxy, _ = flags.GetString("proxy")
	}
	if flags.Lookup("cookie") != nil && flags.Changed("cookie") {
		cfg.Fetch.Cookie, _ = flags.GetString("cookie")
	}
	if flags.Lookup("header") != nil && flags.Changed("header") {
		headers, _ := flags.GetStringArray("header")
		cfg.Fetch.Headers = append(cfg.Fetch.Headers, headers...)
	}
	if flags.Lookup("tls-profile") != nil && flags.Changed("tls-profile") {
		cfg.Fetch.TLSProfile, _ = flags.GetString("tls-profile")
	}
	if flags.Lookup("insecure") != nil && flags.Changed("insecure") {
		cfg.Fetch.Insecure, _ = flags.GetBool("insecure")
	}
	if flags.Lookup("chrome-path") != nil && flags.Changed("chrome-path") {
		cfg.Browser.ChromePath, _ = flags.GetString("chrome-path")
	}
	if flags.Lookup("wait") != nil && flags.Changed("wait") {
		cfg.Browser.Wait, _ = flags.GetDuration("wait")
	}

	if err := cfg.Validate(); err != nil {
		fatal("Invalid configuration: %v", err)
	}
	return cfg
}

func newLogger(cfg *config.Config) *reporting.Logger {
	logger, err := reporting.NewLogger(cfg.LoggerOptions())
	if err != nil {
		fatal("%v", err)
	}
	return logger
}

// loadCatalog loads path, or the embedded catalog when path is empty.
// Patterns that fail to compile are reported and skipped.
func loadCatalog(path string, logger *reporting.Logger) *fingerprint.Catalog {
	var (
		cat *fingerprint.Catalog
		err error
	)
	if path == "" {
		cat, err = fingerprint.Default()
	} else {
		cat, err = fingerprint.Load(path)
	}
	if err != nil {
		fatal("Failed to load catalog: %v", err)
	}

	for _, e := range cat.Errors {
		logger.Warn("%v", e)
	}
	logger.Debug("Loaded %d fingerprints from %s", cat.Len(), cat.Source)
	return cat
}

// newDispatcher registers every notification channel the config names
func newDispatcher(cfg *config.Config, logger *reporting.Logger) *notify.Dispatcher {
	dispatcher := notify.NewDispatcher(logger)
	n := cfg.Notify
	if n.TelegramToken != "" && n.TelegramChat != "" {
		dispatcher.AddChannel(notify.NewTelegramNotifier(n.TelegramToken, n.TelegramChat))
	}
	if n.Slack != "" {
		dispatcher.AddChannel(notify.NewSlackNotifier(n.Slack, n.SlackChannel))
	}
	if n.Discord != "" {
		dispatcher.AddChannel(notify.NewDiscordNotifier(n.Discord))
	}
	if n.Webhook != "" {
		dispatcher.AddChannel(notify.NewWebhookNotifier(n.Webhook))
	}
	return dispatcher
}

// finish applies the threshold and sort order and wraps the results
func finish(cfg *config.Config, snap *page.Snapshot, results []detector.Result) detector.Report {
	results = detector.Threshold(results, cfg.Threshold)
	sorted, err := detector.SortBy(results, cfg.Sort)
	if err != nil {
		fatal("%v", err)
	}
	return detector.NewReport(snap, sorted)
}

// staticScanner fetches a URL without a browser and runs one pass
func staticScanner(cfg *config.Config, det *detector.Detector, catalog func() *fingerprint.Catalog, logger *reporting.Logger) (func(ctx context.Context, url string) (detector.Report, error), error) {
	fetcher, err := fetch.New(cfg.FetchOptions(), logger)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, url string) (detector.Report, error) {
		resp, err := fetcher.Fetch(ctx, url)
		if err != nil {
			return detector.Report{}, err
		}
		return finish(cfg, resp.Snapshot, det.Detect(catalog(), resp.Snapshot)), nil
	}, nil
}

// fileSnapshot builds a snapshot from a saved HTML document. Globals come
// from a JSON file or from scripts evaluated in a JS runtime.
func fileSnapshot(htmlFile, pageURL, cookie, globalsFile string, scripts []string, logger *reporting.Logger) (*page.Snapshot, []byte, error) {
	logger = reporting.OrNop(logger)
	body, err := os.ReadFile(htmlFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", htmlFile, err)
	}
	if pageURL == "" {
		abs, _ := filepath.Abs(htmlFile)
		pageURL = "file://" + filepath.ToSlash(abs)
	}

	snap, err := page.FromBytes(body, pageURL)
	if err != nil {
		return nil, nil, err
	}
	snap.Cookie = cookie

	switch {
	case globalsFile != "":
		bag, err := page.LoadGlobals(globalsFile)
		if err != nil {
			return nil, nil, err
		}
		snap.Globals = bag

	case len(scripts) > 0:
		sources := make([]string, 0, len(scripts))
		for _, path := range scripts {
			src, err := os.ReadFile(path)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to read script %s: %w", path, err)
			}
			sources = append(sources, string(src))
		}
		vm := page.NewScriptRuntime()
		for _, err := range page.RunScripts(vm, scripts, sources) {
			logger.Warn("%v", err)
		}
		bag, err := page.FromGoja(vm)
		if err != nil {
			return nil, nil, err
		}
		snap.Globals = bag
	}
	return snap, body, nil
}

// emit writes the report to stdout in the requested shape and exports it
// when an output path is given
func emit(cmd *cobra.Command, report detector.Report) {
	jsonOut, _ := cmd.Flags().GetBool("json")
	csvOut, _ := cmd.Flags().GetBool("csv")
	outputFile, _ := cmd.Flags().GetString("output")
	formatName, _ := cmd.Flags().GetString("format")

	var err error
	switch {
	case jsonOut:
		err = output.WriteJSON(os.Stdout, report)
	case csvOut:
		err = output.WriteCSV(os.Stdout, report.Technologies)
	default:
		output.NewPrinter(nil).PrintReport(report)
	}
	if err != nil {
		fatal("%v", err)
	}

	if outputFile == "" {
		return
	}
	var format output.Format
	if formatName != "" {
		if format, err = output.ParseFormat(formatName); err != nil {
			fatal("%v", err)
		}
	}
	if err := output.Export(outputFile, format, report); err != nil {
		fatal("Export failed: %v", err)
	}
	if !jsonOut && !csvOut {
		color.Green("[+] Report saved to %s", outputFile)
	}
}

func splitTargets(values []string) []string {
	var targets []string
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				targets = append(targets, t)
			}
		}
	}
	return targets
}
