package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/veex0x01/stackscope/detector"
	"github.com/veex0x01/stackscope/monitor/notify"
	"github.com/veex0x01/stackscope/reporting"
)

// DefaultInterval applies to targets without one
const DefaultInterval = time.Hour

// Target is a URL polled for stack changes
type Target struct {
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
}

// ScanFunc runs one detection pass over a URL
type ScanFunc func(ctx context.Context, url string) (detector.Report, error)

// Scheduler re-scans targets on their intervals and reports changes
type Scheduler struct {
	Targets  []Target
	Scan     ScanFunc
	Store    *Store
	Notifier *notify.Dispatcher
	Logger   *reporting.Logger
	// OnReport, when set, sees every report with its change against the
	// previous pass (empty on the first)
	OnReport func(detector.Report, Change)

	mu   sync.Mutex
	last map[string]detector.Report
}

// NewScheduler creates a new monitoring scheduler
func NewScheduler(scan ScanFunc, logger *reporting.Logger, dispatcher *notify.Dispatcher) *Scheduler {
	return &Scheduler{
		Targets:  make([]Target, 0),
		Scan:     scan,
		Notifier: dispatcher,
		Logger:   reporting.OrNop(logger).WithModule("monitor"),
		last:     make(map[string]detector.Report),
	}
}

// AddTarget adds a watch target
func (s *Scheduler) AddTarget(target Target) {
	if target.Interval <= 0 {
		target.Interval = DefaultInterval
	}
	s.Targets = append(s.Targets, target)
}

// Run checks every target immediately and then on its interval until ctx
// is done
func (s *Scheduler) Run(ctx context.Context) {
	s.Logger.Info("Starting monitor scheduler with %d targets", len(s.Targets))

	var wg sync.WaitGroup
	for _, target := range s.Targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			s.watchLoop(ctx, t)
		}(target)
	}
	wg.Wait()
	s.Logger.Info("Monitor scheduler stopped")
}

func (s *Scheduler) watchLoop(ctx context.Context, target Target) {
	ticker := time.NewTicker(target.Interval)
	defer ticker.Stop()

	s.check(ctx, target)
	for {
		select {
		case <-ticker.C:
			s.check(ctx, target)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single check of all targets and returns the changes
// found, skipping targets that failed
func (s *Scheduler) RunOnce(ctx context.Context) []Change {
	var changes []Change
	for _, target := range s.Targets {
		if c, ok := s.check(ctx, target); ok && !c.Empty() {
			changes = append(changes, c)
		}
	}
	return changes
}

func (s *Scheduler) previous(url string) (*detector.Report, error) {
	s.mu.Lock()
	r, ok := s.last[url]
	s.mu.Unlock()
	if ok {
		return &r, nil
	}
	if s.Store == nil {
		return nil, nil
	}
	return s.Store.Load(url)
}

func (s *Scheduler) remember(url string, report detector.Report) {
	s.mu.Lock()
	s.last[url] = report
	s.mu.Unlock()

	if s.Store != nil {
		if report.URL == "" {
			report.URL = url
		}
		if err := s.Store.Save(report); err != nil {
			s.Logger.Warn("Saving state for %s: %v", url, err)
		}
	}
}

func (s *Scheduler) check(ctx context.Context, target Target) (Change, bool) {
	s.Logger.Debug("Checking target: %s", target.URL)

	report, err := s.Scan(ctx, target.URL)
	if err != nil {
		if ctx.Err() == nil {
			s.Logger.Error("Scan failed for %s: %v", target.URL, err)
		}
		return Change{}, false
	}

	prev, err := s.previous(target.URL)
	if err != nil {
		s.Logger.Warn("Loading state for %s: %v", target.URL, err)
	}

	var change Change
	if prev != nil {
		change = Diff(prev.Technologies, report.Technologies)
	}
	change.URL = target.URL
	s.remember(target.URL, report)

	if s.OnReport != nil {
		s.OnReport(report, change)
	}
	if !change.Empty() {
		s.Logger.Warn("Stack changed on %s: %s", target.URL, change.Summary())
		if s.Notifier != nil {
			s.Notifier.Dispatch(AlertFor(change, report))
		}
	}
	return change, true
}

// AlertFor builds the notification for a change
func AlertFor(change Change, report detector.Report) notify.Alert {
	severity := "LOW"
	if len(change.Added) > 0 || len(change.Removed) > 0 {
		severity = "MEDIUM"
	}

	alert := notify.Alert{
		Title:        fmt.Sprintf("stackscope: stack changed on %s", change.URL),
		Message:      change.Summary(),
		Severity:     severity,
		Target:       change.URL,
		Added:        []string{},
		Removed:      []string{},
		Technologies: report.Technologies,
		Timestamp:    report.Timestamp,
	}
	for _, r := range change.Added {
		alert.Added = append(alert.Added, r.Name)
	}
	for _, r := range change.Removed {
		alert.Removed = append(alert.Removed, r.Name)
	}
	return alert
}
