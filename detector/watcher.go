package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/veex0x01/stackscope/fingerprint"
	"github.com/veex0x01/stackscope/page"
	"github.com/veex0x01/stackscope/reporting"
)

// DefaultQuietPeriod is how long the page must stay structurally still
// before a rescan runs
const DefaultQuietPeriod = 2 * time.Second

// ErrWatcherStopped is returned by Start when Stop raced with it
var ErrWatcherStopped = errors.New("watcher stopped")

// MutationKind classifies a DOM mutation record
type MutationKind int

const (
	ChildList MutationKind = iota
	Attributes
	CharacterData
)

func (k MutationKind) String() string {
	switch k {
	case ChildList:
		return "childList"
	case Attributes:
		return "attributes"
	case CharacterData:
		return "characterData"
	}
	return fmt.Sprintf("MutationKind(%d)", int(k))
}

// ParseMutationKind maps a MutationRecord.type string to a MutationKind
func ParseMutationKind(s string) (MutationKind, bool) {
	switch s {
	case "childList":
		return ChildList, true
	case "attributes":
		return Attributes, true
	case "characterData":
		return CharacterData, true
	}
	return 0, false
}

// Mutation is one DOM change record
type Mutation struct {
	Kind   MutationKind
	Target string
}

// MutationSource delivers batches of DOM mutations of the page body
// subtree. The returned cancel func ends the subscription.
type MutationSource interface {
	Subscribe(fn func([]Mutation)) (cancel func(), err error)
}

// State of a Watcher
type State int

const (
	Idle State = iota
	Observing
	PendingRescan
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Observing:
		return "observing"
	case PendingRescan:
		return "pending-rescan"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithClock replaces the runtime timer, mostly for tests
func WithClock(c Clock) WatcherOption {
	return func(w *Watcher) { w.clock = c }
}

// WithQuietPeriod overrides DefaultQuietPeriod
func WithQuietPeriod(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.quiet = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *reporting.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = reporting.OrNop(l).WithModule("watcher") }
}

// Watcher re-runs detection after the page stops changing. Mutation
// batches are coalesced: each structural batch restarts the quiet period
// timer, and only its expiry triggers a pass. Attribute and text changes
// are ignored.
type Watcher struct {
	detector  *Detector
	source    page.Source
	mutations MutationSource
	clock     Clock
	quiet     time.Duration
	logger    *reporting.Logger

	mu          sync.Mutex
	state       State
	gen         uint64
	catalog     *fingerprint.Catalog
	callback    func([]Result)
	ctx         context.Context
	unsubscribe func()
	stopOnDone  func() bool
	timer       Timer
	// seq identifies the latest scheduled timer; older ones are stale even
	// when they already fired
	seq uint64

	// passMu keeps rescans from overlapping
	passMu sync.Mutex
}

// NewWatcher creates an idle watcher that snapshots src on every rescan
func NewWatcher(d *Detector, src page.Source, mutations MutationSource, opts ...WatcherOption) *Watcher {
	if d == nil {
		d = New(nil)
	}
	w := &Watcher{
		detector:  d,
		source:    src,
		mutations: mutations,
		clock:     RealClock{},
		quiet:     DefaultQuietPeriod,
		logger:    reporting.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns the current state
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SetCatalog swaps the catalog used by later rescans
func (w *Watcher) SetCatalog(cat *fingerprint.Catalog) {
	w.mu.Lock()
	w.catalog = cat
	w.mu.Unlock()
}

// Start begins observing. Any previous subscription and pending timer are
// torn down first. cb runs on the timer goroutine after each rescan. The
// watcher stops by itself when ctx is done.
func (w *Watcher) Start(ctx context.Context, cat *fingerprint.Catalog, cb func([]Result)) error {
	w.Stop()

	w.mu.Lock()
	w.gen++
	gen := w.gen
	w.catalog = cat
	w.callback = cb
	w.ctx = ctx
	w.state = Observing
	w.mu.Unlock()

	cancel, err := w.mutations.Subscribe(func(batch []Mutation) {
		w.onMutations(gen, batch)
	})
	if err != nil {
		w.mu.Lock()
		if w.gen == gen {
			w.state = Idle
		}
		w.mu.Unlock()
		return fmt.Errorf("subscribing to mutations: %w", err)
	}

	w.mu.Lock()
	if w.gen != gen {
		w.mu.Unlock()
		cancel()
		return ErrWatcherStopped
	}
	w.unsubscribe = cancel
	w.stopOnDone = context.AfterFunc(ctx, func() { w.stopGeneration(gen) })
	w.mu.Unlock()

	w.logger.Debug("Observing with a %s quiet period", w.quiet)
	return nil
}

// Stop disconnects from the mutation source and cancels a pending rescan.
// A rescan that is still taking its snapshot is discarded; only a callback
// that was already handed its results can run after Stop returns.
func (w *Watcher) Stop() {
	w.mu.Lock()
	unsubscribe := w.halt()
	w.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (w *Watcher) stopGeneration(gen uint64) {
	w.mu.Lock()
	if w.gen != gen {
		w.mu.Unlock()
		return
	}
	unsubscribe := w.halt()
	w.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// halt expects w.mu to be held
func (w *Watcher) halt() func() {
	if w.state == Idle {
		return nil
	}
	w.gen++
	w.state = Idle
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.stopOnDone != nil {
		w.stopOnDone()
		w.stopOnDone = nil
	}
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	w.callback = nil
	return unsubscribe
}

func structural(batch []Mutation) bool {
	for _, m := range batch {
		if m.Kind == ChildList {
			return true
		}
	}
	return false
}

func (w *Watcher) onMutations(gen uint64, batch []Mutation) {
	if !structural(batch) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen != gen || w.state == Idle {
		return
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.seq++
	seq := w.seq
	w.state = PendingRescan
	w.timer = w.clock.AfterFunc(w.quiet, func() { w.rescan(gen, seq) })
}

func (w *Watcher) rescan(gen, seq uint64) {
	w.passMu.Lock()
	defer w.passMu.Unlock()

	w.mu.Lock()
	if w.gen != gen || w.seq != seq || w.state != PendingRescan {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	cat, ctx := w.catalog, w.ctx
	w.mu.Unlock()

	snap, err := w.source.Snapshot(ctx)
	if err != nil {
		w.logger.Warn("Rescan skipped, snapshot failed: %v", err)
		w.settle(gen, seq)
		return
	}
	results := w.detector.Detect(cat, snap)

	w.mu.Lock()
	if w.gen != gen {
		w.mu.Unlock()
		return
	}
	// a mutation during the pass has already scheduled the next rescan
	if w.seq == seq {
		w.state = Observing
	}
	cb := w.callback
	w.mu.Unlock()

	w.logger.Debug("Rescan found %d technologies", len(results))
	if cb != nil {
		cb(results)
	}
}

func (w *Watcher) settle(gen, seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen == gen && w.seq == seq {
		w.state = Observing
	}
}
