package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/veex0x01/stackscope/browser"
	"github.com/veex0x01/stackscope/crosscheck"
	"github.com/veex0x01/stackscope/detector"
	"github.com/veex0x01/stackscope/fetch"
	"github.com/veex0x01/stackscope/fingerprint"
	"github.com/veex0x01/stackscope/output"
	"github.com/veex0x01/stackscope/page"
	"github.com/veex0x01/stackscope/webui"
)

const (
	Version = "1.0.0"
	Author  = "veex0x01"
)

var rootCmd = &cobra.Command{
	Use:   "stackscope",
	Short: "stackscope: web technology fingerprinting",
	Long: `stackscope matches a catalog of technology fingerprints against a page
(globals, scripts, meta tags, links, cookies and markup) and ranks what it
finds by confidence. Live pages can be watched and re-scanned as they change.`,
	SilenceUsage: true,
}

// =============================================================================
// scan subcommand: one detection pass
// =============================================================================
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Detect the technologies of a URL or a saved HTML file",
	Run: func(cmd *cobra.Command, args []string) {
		targetURL, _ := cmd.Flags().GetString("url")
		useBrowser, _ := cmd.Flags().GetBool("browser")
		htmlFile, _ := cmd.Flags().GetString("html-file")
		globalsFile, _ := cmd.Flags().GetString("globals")
		scripts, _ := cmd.Flags().GetStringArray("script")
		doCrosscheck, _ := cmd.Flags().GetBool("crosscheck")
		quiet, _ := cmd.Flags().GetBool("quiet")

		if targetURL == "" && htmlFile == "" {
			color.Red("[-] --url or --html-file is required")
			cmd.Help()
			os.Exit(1)
		}

		cfg := loadConfig(cmd)
		logger := newLogger(cfg)
		defer logger.Close()
		cat := loadCatalog(cfg.Catalog, logger)
		det := detector.New(logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var (
			snap    *page.Snapshot
			headers http.Header
			body    []byte
			err     error
		)

		switch {
		case htmlFile != "":
			snap, body, err = fileSnapshot(htmlFile, targetURL, cfg.Fetch.Cookie, globalsFile, scripts, logger)

		case useBrowser:
			var b *browser.Browser
			if b, err = browser.New(cfg.BrowserOptions(), logger); err != nil {
				break
			}
			defer b.Close()

			var sess *browser.Session
			if sess, err = b.Open(ctx, targetURL); err != nil {
				break
			}
			defer sess.Close()
			sess.SetGlobalPaths(cat.GlobalPaths())
			if snap, err = sess.Snapshot(ctx); err == nil {
				body = []byte("<html><head>" + snap.Head + "</head><body>" + snap.Body + "</body></html>")
			}

		default:
			var f *fetch.Fetcher
			if f, err = fetch.New(cfg.FetchOptions(), logger); err != nil {
				break
			}
			var resp *fetch.Response
			if resp, err = f.Fetch(ctx, targetURL); err == nil {
				snap, headers, body = resp.Snapshot, resp.Headers, resp.Body
				logger.Debug("%s answered %d (%d bytes)", resp.URL, resp.StatusCode, len(resp.Body))
			}
		}
		if err != nil {
			color.Red("[-] Scan failed: %v", err)
			os.Exit(1)
		}

		if !quiet && !isMachineOutput(cmd) {
			output.PrintBanner(nil)
		}

		report := finish(cfg, snap, det.Detect(cat, snap))
		emit(cmd, report)

		if doCrosscheck {
			checker, err := crosscheck.New()
			if err != nil {
				color.Red("[-] %v", err)
				os.Exit(1)
			}
			cmp := crosscheck.Compare(report.Technologies, checker.Detect(headers, body))
			output.NewPrinter(os.Stderr).PrintComparison(cmp)
		}
	},
}

// =============================================================================
// watch subcommand: rescan a live page as it changes
// =============================================================================
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a page and re-detect whenever its DOM settles after a change",
	Run: func(cmd *cobra.Command, args []string) {
		targetURL, _ := cmd.Flags().GetString("url")
		quietPeriod, _ := cmd.Flags().GetDuration("quiet-period")
		poll, _ := cmd.Flags().GetDuration("poll")
		once, _ := cmd.Flags().GetBool("once")
		serve, _ := cmd.Flags().GetBool("serve")
		listen, _ := cmd.Flags().GetString("listen")
		stateDir, _ := cmd.Flags().GetString("state-dir")
		extraTargets, _ := cmd.Flags().GetStringArray("target")
		slack, _ := cmd.Flags().GetString("slack-webhook")
		discord, _ := cmd.Flags().GetString("discord-webhook")
		telegramToken, _ := cmd.Flags().GetString("telegram-token")
		telegramChat, _ := cmd.Flags().GetString("telegram-chat")
		webhookURL, _ := cmd.Flags().GetString("webhook")

		cfg := loadConfig(cmd)
		if cmd.Flags().Changed("quiet-period") {
			cfg.QuietPeriod = quietPeriod
		}
		if cmd.Flags().Changed("poll") {
			cfg.Poll.Interval = poll
		}
		if cmd.Flags().Changed("state-dir") {
			cfg.Poll.StateDir = stateDir
		}
		if cmd.Flags().Changed("listen") {
			cfg.Dashboard.Listen = listen
		}
		setIf(&cfg.Notify.Slack, slack)
		setIf(&cfg.Notify.Discord, discord)
		setIf(&cfg.Notify.TelegramToken, telegramToken)
		setIf(&cfg.Notify.TelegramChat, telegramChat)
		setIf(&cfg.Notify.Webhook, webhookURL)
		if err := cfg.Validate(); err != nil {
			color.Red("[-] Invalid configuration: %v", err)
			os.Exit(1)
		}

		polling := cmd.Flags().Changed("poll") || once
		targets := splitTargets(append(extraTargets, cfg.Poll.Targets...))
		if targetURL != "" {
			targets = append([]string{targetURL}, targets...)
		}
		if len(targets) == 0 {
			color.Red("[-] --url is required")
			os.Exit(1)
		}
		if !polling && len(targets) > 1 {
			color.Red("[-] Browser watch takes a single --url; use --poll for several targets")
			os.Exit(1)
		}

		logger := newLogger(cfg)
		defer logger.Close()
		cat := loadCatalog(cfg.Catalog, logger)
		dispatcher := newDispatcher(cfg, logger)
		defer dispatcher.Wait()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		output.PrintBanner(nil)

		var server *webui.Server
		if serve {
			server = webui.NewServer(cfg.Dashboard.Listen, cat, logger, cfg.Dashboard.Username, cfg.Dashboard.Password)
			server.Threshold, server.Sort = cfg.Threshold, cfg.Sort
			go func() {
				if err := server.Start(ctx); err != nil {
					logger.Error("Web UI failed: %v", err)
				}
			}()
		}
		publish := func(report detector.Report) {
			if server != nil {
				server.Publish(report)
			}
		}

		live := &liveCatalog{cat: cat}
		var onReload []func(*fingerprint.Catalog)
		if server != nil {
			onReload = append(onReload, server.SetCatalog)
		}

		if polling {
			runPoll(ctx, cfg, live, onReload, targets, once, dispatcher, publish, logger)
			return
		}
		runBrowserWatch(ctx, cfg, live, onReload, targets[0], dispatcher, publish, logger)
	},
}

// =============================================================================
// catalog subcommand: inspect fingerprint catalogs
// =============================================================================
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Validate or list a fingerprint catalog",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Compile every pattern of a catalog and report the ones that fail",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		if len(args) == 1 {
			cfg.Catalog = args[0]
		}
		logger := newLogger(cfg)
		defer logger.Close()

		cat := loadCatalog(cfg.Catalog, logger)
		if len(cat.Errors) > 0 {
			color.Red("[-] %s: %d fingerprints, %d patterns failed to compile",
				cat.Source, cat.Len(), len(cat.Errors))
			os.Exit(1)
		}
		color.Green("[+] %s: %d fingerprints, all patterns compile", cat.Source, cat.Len())
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list [file]",
	Short: "List the technologies of a catalog",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		if len(args) == 1 {
			cfg.Catalog = args[0]
		}
		logger := newLogger(cfg)
		defer logger.Close()

		cat := loadCatalog(cfg.Catalog, logger)
		for _, fp := range cat.Fingerprints {
			output.ColorWhite.Printf("%s", fp.Name)
			output.ColorMagenta.Printf(" [%s]", strings.Join(fp.CategoryList(), ", "))
			output.ColorDim.Printf(" %s\n", matcherSummary(fp))
		}
		color.Green("[+] %d fingerprints", cat.Len())
	},
}

// =============================================================================
// serve subcommand: web dashboard
// =============================================================================
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Launch the web dashboard",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		if cmd.Flags().Changed("listen") {
			cfg.Dashboard.Listen, _ = cmd.Flags().GetString("listen")
		}
		if cmd.Flags().Changed("auth-user") {
			cfg.Dashboard.Username, _ = cmd.Flags().GetString("auth-user")
		}
		if cmd.Flags().Changed("auth-pass") {
			cfg.Dashboard.Password, _ = cmd.Flags().GetString("auth-pass")
		}

		logger := newLogger(cfg)
		defer logger.Close()
		cat := loadCatalog(cfg.Catalog, logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		server := webui.NewServer(cfg.Dashboard.Listen, cat, logger, cfg.Dashboard.Username, cfg.Dashboard.Password)
		server.Threshold, server.Sort = cfg.Threshold, cfg.Sort

		if cfg.Catalog != "" {
			w, err := fingerprint.Watch(cfg.Catalog, logger, server.SetCatalog)
			if err != nil {
				logger.Warn("Catalog hot reload disabled: %v", err)
			} else {
				defer w.Close()
			}
		}

		output.PrintBanner(nil)
		if err := server.Start(ctx); err != nil {
			color.Red("[-] Web UI failed: %v", err)
			os.Exit(1)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stackscope v%s by %s\n", Version, Author)
	},
}

func init() {
	// ===== GLOBAL FLAGS =====
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "YAML config file")
	pf.String("catalog", "", "Fingerprint catalog (JSON or YAML); embedded catalog when empty")
	pf.Int("threshold", 0, "Drop technologies below this confidence")
	pf.String("sort", "confidence", "Sort order: confidence, name or category")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-file", "", "Also write logs to this file (rotated)")
	pf.Bool("log-json", false, "Write the log file as JSON lines")
	pf.BoolP("verbose", "v", false, "Verbose output")
	pf.Bool("no-color", false, "Disable colors")

	// ===== FETCH FLAGS =====
	for _, cmd := range []*cobra.Command{scanCmd, watchCmd} {
		cmd.Flags().StringP("url", "u", "", "Target URL")
		cmd.Flags().Duration("timeout", 15*time.Second, "Request timeout")
		cmd.Flags().StringP("user-agent", "a", "", "Custom User-Agent")
		cmd.Flags().StringP("proxy", "p", "", "Proxy URL")
		cmd.Flags().StringP("cookie", "c", "", "Cookie string")
		cmd.Flags().StringArrayP("header", "H", []string{}, "Custom header")
		cmd.Flags().String("tls-profile", "", "Browser TLS fingerprint: "+strings.Join(fetch.ProfileNames, ", "))
		cmd.Flags().BoolP("insecure", "k", false, "Skip TLS certificate verification")
		cmd.Flags().String("chrome-path", "", "Chrome binary (default: search PATH)")
		cmd.Flags().Duration("wait", time.Second, "Settle time after page load")
	}

	// ===== SCAN FLAGS =====
	scanCmd.Flags().Bool("browser", false, "Load the page in headless Chrome")
	scanCmd.Flags().String("html-file", "", "Scan a saved HTML document")
	scanCmd.Flags().String("globals", "", "JSON object describing the page's globals (with --html-file)")
	scanCmd.Flags().StringArray("script", []string{}, "JS file evaluated to build the page's globals (with --html-file)")
	scanCmd.Flags().Bool("json", false, "Output as JSON")
	scanCmd.Flags().Bool("csv", false, "Output as CSV")
	scanCmd.Flags().StringP("output", "o", "", "Export the report to a file")
	scanCmd.Flags().String("format", "", "Export format: json, csv or html (default: from extension)")
	scanCmd.Flags().Bool("crosscheck", false, "Compare results with wappalyzergo")
	scanCmd.Flags().BoolP("quiet", "q", false, "Suppress the banner")
	scanCmd.MarkFlagsMutuallyExclusive("globals", "script")
	scanCmd.MarkFlagsMutuallyExclusive("json", "csv")
	scanCmd.MarkFlagsMutuallyExclusive("browser", "html-file")

	// ===== WATCH FLAGS =====
	watchCmd.Flags().Duration("quiet-period", detector.DefaultQuietPeriod, "How long the DOM must stay still before a rescan")
	watchCmd.Flags().Duration("poll", 0, "Rescan statically on this interval instead of using a browser")
	watchCmd.Flags().StringArrayP("target", "t", []string{}, "Extra URL to poll (with --poll)")
	watchCmd.Flags().Bool("once", false, "Poll every target once and exit")
	watchCmd.Flags().String("state-dir", ".stackscope", "Directory for the last report of each polled target")
	watchCmd.Flags().Bool("serve", false, "Also run the web dashboard")
	watchCmd.Flags().StringP("listen", "l", "127.0.0.1:8080", "Web dashboard listen address")
	watchCmd.Flags().String("telegram-token", "", "Telegram bot token")
	watchCmd.Flags().String("telegram-chat", "", "Telegram chat ID")
	watchCmd.Flags().String("slack-webhook", "", "Slack webhook URL")
	watchCmd.Flags().String("discord-webhook", "", "Discord webhook URL")
	watchCmd.Flags().String("webhook", "", "Generic webhook URL")

	// ===== SERVE FLAGS =====
	serveCmd.Flags().StringP("listen", "l", "127.0.0.1:8080", "Web dashboard listen address")
	serveCmd.Flags().String("auth-user", "", "Basic auth username")
	serveCmd.Flags().String("auth-pass", "", "Basic auth password")

	// Register subcommands
	catalogCmd.AddCommand(catalogValidateCmd, catalogListCmd)
	rootCmd.AddCommand(scanCmd, watchCmd, catalogCmd, serveCmd, versionCmd)
}

func isMachineOutput(cmd *cobra.Command) bool {
	jsonOut, _ := cmd.Flags().GetBool("json")
	csvOut, _ := cmd.Flags().GetBool("csv")
	return jsonOut || csvOut
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func matcherSummary(fp *fingerprint.Fingerprint) string {
	var parts []string
	add := func(kind string, n int) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", kind, n))
		}
	}
	add(fingerprint.KindJSGlobals, len(fp.JSGlobals))
	add(fingerprint.KindScriptSrc, len(fp.ScriptSrc))
	add(fingerprint.KindMeta, len(fp.Meta))
	add(fingerprint.KindLinkHref, len(fp.LinkHref))
	add(fingerprint.KindCookies, len(fp.Cookies))
	add(fingerprint.KindHTMLRegex, len(fp.HTMLRegex))
	if len(parts) == 0 {
		return "no matchers"
	}
	return strings.Join(parts, " ")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("[-] Error: %v", err)
		os.Exit(1)
	}
}
