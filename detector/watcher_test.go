package detector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veex0x01/stackscope/fingerprint"
	"github.com/veex0x01/stackscope/page"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires due timers on the calling goroutine
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeMutations struct {
	mu            sync.Mutex
	subscribers   map[int]func([]Mutation)
	next          int
	subscriptions int
	cancels       int
	err           error
}

func newFakeMutations() *fakeMutations {
	return &fakeMutations{subscribers: map[int]func([]Mutation){}}
}

func (m *fakeMutations) Subscribe(fn func([]Mutation)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	id := m.next
	m.next++
	m.subscriptions++
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			m.cancels++
		}
	}, nil
}

func (m *fakeMutations) Emit(kinds ...MutationKind) {
	batch := make([]Mutation, len(kinds))
	for i, k := range kinds {
		batch[i] = Mutation{Kind: k, Target: "body"}
	}
	m.mu.Lock()
	fns := make([]func([]Mutation), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(batch)
	}
}

func (m *fakeMutations) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers)
}

type countingSource struct {
	mu    sync.Mutex
	snap  *page.Snapshot
	err   error
	calls int
}

func (s *countingSource) Snapshot(context.Context) (*page.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.snap, nil
}

func (s *countingSource) set(snap *page.Snapshot, err error) {
	s.mu.Lock()
	s.snap, s.err = snap, err
	s.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	passes [][]Result
}

func (r *recorder) record(results []Result) {
	r.mu.Lock()
	r.passes = append(r.passes, results)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.passes)
}

func (r *recorder) last() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.passes) == 0 {
		return nil
	}
	return r.passes[len(r.passes)-1]
}

type watcherFixture struct {
	clock     *fakeClock
	mutations *fakeMutations
	source    *countingSource
	rec       *recorder
	watcher   *Watcher
	catalog   *fingerprint.Catalog
}

func newWatcherFixture(t *testing.T) *watcherFixture {
	t.Helper()
	f := &watcherFixture{
		clock:     &fakeClock{},
		mutations: newFakeMutations(),
		source:    &countingSource{snap: &page.Snapshot{Cookie: "app=1"}},
		rec:       &recorder{},
		catalog: fingerprint.Compile([]fingerprint.RawFingerprint{
			{Name: "App", Matchers: &fingerprint.RawMatchers{Cookies: "app"}},
			{Name: "Widget", Matchers: &fingerprint.RawMatchers{HTMLRegex: "widget"}},
		}),
	}
	f.watcher = NewWatcher(New(nil), f.source, f.mutations, WithClock(f.clock))
	return f
}

func (f *watcherFixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.watcher.Start(context.Background(), f.catalog, f.rec.record))
}

func TestWatcherBurstCoalesces(t *testing.T) {
	f := newWatcherFixture(t)
	f.start(t)
	assert.Equal(t, Observing, f.watcher.State())

	for i := 0; i < 10; i++ {
		f.mutations.Emit(ChildList)
		f.clock.Advance(500 * time.Millisecond)
	}
	assert.Equal(t, PendingRescan, f.watcher.State())
	assert.Equal(t, 0, f.rec.count())

	f.clock.Advance(DefaultQuietPeriod)
	assert.Equal(t, 1, f.rec.count())
	assert.Equal(t, 1, f.source.calls)
	assert.Equal(t, Observing, f.watcher.State())
	require.Len(t, f.rec.last(), 1)
	assert.Equal(t, "App", f.rec.last()[0].Name)
}

func TestWatcherTwoSeparatedBursts(t *testing.T) {
	f := newWatcherFixture(t)
	f.start(t)

	f.mutations.Emit(ChildList)
	f.clock.Advance(DefaultQuietPeriod)
	require.Equal(t, 1, f.rec.count())

	f.source.set(&page.Snapshot{Cookie: "app=1", Body: "<div class=widget>"}, nil)
	f.mutations.Emit(ChildList, Attributes)
	f.clock.Advance(DefaultQuietPeriod)
	require.Equal(t, 2, f.rec.count())
	assert.Len(t, f.rec.last(), 2)
}

func TestWatcherQuietPeriodBoundary(t *testing.T) {
	f := newWatcherFixture(t)
	f.start(t)

	f.mutations.Emit(ChildList)
	f.clock.Advance(DefaultQuietPeriod - time.Millisecond)
	assert.Equal(t, 0, f.rec.count())
	f.clock.Advance(time.Millisecond)
	assert.Equal(t, 1, f.rec.count())
}

func TestWatcherIgnoresNonStructuralMutations(t *testing.T) {
	f := newWatcherFixture(t)
	f.start(t)

	f.mutations.Emit(Attributes)
	f.mutations.Emit(CharacterData, Attributes)
	f.clock.Advance(10 * DefaultQuietPeriod)

	assert.Equal(t, 0, f.rec.count())
	assert.Equal(t, Observing, f.watcher.State())
	assert.Equal(t, 0, f.clock.pending())
}

func TestWatcherStopCancelsPendingRescan(t *testing.T) {
	f := newWatcherFixture(t)
	f.start(t)

	f.mutations.Emit(ChildList)
	f.watcher.Stop()
	assert.Equal(t, Idle, f.watcher.State())
	assert.Equal(t, 0, f.mutations.active())
	assert.Equal(t, 0, f.clock.pending())

	f.clock.Advance(10 * DefaultQuietPeriod)
	f.mutations.Emit(ChildList)
	f.clock.Advance(10 * DefaultQuietPeriod)
	assert.Equal(t, 0, f.rec.count())
	assert.Equal(t, 0, f.source.calls)

	f.watcher.Stop()
}

func TestWatcherStaleTimerIsDiscarded(t *testing.T) {
	f := newWatcherFixture(t)

	// capture the timer callback of the first generation before Stop
	var stale func()
	clock := &captureClock{fakeClock: f.clock, capture: func(fn func()) { stale = fn }}
	f.watcher = NewWatcher(New(nil), f.source, f.mutations, WithClock(clock))
	f.start(t)
	f.mutations.Emit(ChildList)
	require.NotNil(t, stale)

	f.watcher.Stop()
	stale()
	assert.Equal(t, 0, f.rec.count())
	assert.Equal(t, 0, f.source.calls)
}

// gatedSource blocks its first Snapshot until release is closed
type gatedSource struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	snap    *page.Snapshot
}

func (s *gatedSource) Snapshot(context.Context) (*page.Snapshot, error) {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.snap, nil
}

func TestWatcherFiredTimerSupersededByLaterMutation(t *testing.T) {
	f := newWatcherFixture(t)
	src := &gatedSource{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		snap:    &page.Snapshot{Cookie: "app=1"},
	}
	f.watcher = NewWatcher(New(nil), src, f.mutations, WithClock(f.clock))
	f.start(t)

	var wg sync.WaitGroup
	advance := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.clock.Advance(DefaultQuietPeriod)
		}()
	}

	// first pass stalls inside Snapshot
	f.mutations.Emit(ChildList)
	advance()
	<-src.entered

	// the next timer fires while that pass still runs
	f.mutations.Emit(ChildList)
	advance()
	require.Eventually(t, func() bool { return f.clock.pending() == 0 }, time.Second, time.Millisecond)

	// a later mutation restarts the quiet period
	f.mutations.Emit(ChildList)
	close(src.release)
	wg.Wait()

	assert.Equal(t, 1, f.rec.count())
	assert.Equal(t, PendingRescan, f.watcher.State())
	assert.Equal(t, 1, f.clock.pending())

	f.clock.Advance(DefaultQuietPeriod - time.Millisecond)
	assert.Equal(t, 1, f.rec.count())
	f.clock.Advance(time.Millisecond)
	assert.Equal(t, 2, f.rec.count())
	assert.Equal(t, Observing, f.watcher.State())
}

type captureClock struct {
	*fakeClock
	capture func(func())
}

func (c *captureClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.capture(fn)
	return c.fakeClock.AfterFunc(d, fn)
}

func TestWatcherRestartTearsDownPrevious(t *testing.T) {
	f := newWatcherFixture(t)
	f.start(t)
	f.mutations.Emit(ChildList)

	second := &recorder{}
	require.NoError(t, f.watcher.Start(context.Background(), f.catalog, second.record))
	assert.Equal(t, 1, f.mutations.active())
	assert.Equal(t, 1, f.mutations.cancels)
	assert.Equal(t, 0, f.clock.pending())

	f.clock.Advance(DefaultQuietPeriod)
	assert.Equal(t, 0, f.rec.count())
	assert.Equal(t, 0, second.count())

	f.mutations.Emit(ChildList)
	f.clock.Advance(DefaultQuietPeriod)
	assert.Equal(t, 0, f.rec.count())
	assert.Equal(t, 1, second.count())
}

func TestWatcherSnapshotErrorSkipsCallback(t *testing.T) {
	f := newWatcherFixture(t)
	f.start(t)

	f.source.set(nil, errors.New("target closed"))
	f.mutations.Emit(ChildList)
	f.clock.Advance(DefaultQuietPeriod)
	assert.Equal(t, 0, f.rec.count())
	assert.Equal(t, Observing, f.watcher.State())

	f.source.set(&page.Snapshot{Cookie: "app=1"}, nil)
	f.mutations.Emit(ChildList)
	f.clock.Advance(DefaultQuietPeriod)
	assert.Equal(t, 1, f.rec.count())
}

func TestWatcherSubscribeError(t *testing.T) {
	f := newWatcherFixture(t)
	f.mutations.err = errors.New("no body")

	err := f.watcher.Start(context.Background(), f.catalog, f.rec.record)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no body")
	assert.Equal(t, Idle, f.watcher.State())
}

func TestWatcherContextCancelStops(t *testing.T) {
	f := newWatcherFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.watcher.Start(ctx, f.catalog, f.rec.record))
	f.mutations.Emit(ChildList)

	cancel()
	require.Eventually(t, func() bool {
		return f.watcher.State() == Idle
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.mutations.active())

	f.clock.Advance(DefaultQuietPeriod)
	assert.Equal(t, 0, f.rec.count())
}

func TestWatcherSetCatalog(t *testing.T) {
	f := newWatcherFixture(t)
	f.start(t)

	f.watcher.SetCatalog(fingerprint.Compile([]fingerprint.RawFingerprint{
		{Name: "Other", Matchers: &fingerprint.RawMatchers{Cookies: "app"}},
	}))
	f.mutations.Emit(ChildList)
	f.clock.Advance(DefaultQuietPeriod)
	require.Equal(t, 1, f.rec.count())
	assert.Equal(t, "Other", f.rec.last()[0].Name)
}

func TestWatcherCallbackMayStop(t *testing.T) {
	f := newWatcherFixture(t)
	calls := 0
	require.NoError(t, f.watcher.Start(context.Background(), f.catalog, func([]Result) {
		calls++
		f.watcher.Stop()
	}))

	f.mutations.Emit(ChildList)
	f.clock.Advance(DefaultQuietPeriod)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Idle, f.watcher.State())

	f.mutations.Emit(ChildList)
	f.clock.Advance(DefaultQuietPeriod)
	assert.Equal(t, 1, calls)
}

func TestWatcherRealClock(t *testing.T) {
	mutations := newFakeMutations()
	src := &countingSource{snap: &page.Snapshot{Cookie: "app=1"}}
	cat := fingerprint.Compile([]fingerprint.RawFingerprint{
		{Name: "App", Matchers: &fingerprint.RawMatchers{Cookies: "app"}},
	})
	done := make(chan []Result, 1)

	w := NewWatcher(nil, src, mutations, WithQuietPeriod(20*time.Millisecond))
	require.NoError(t, w.Start(context.Background(), cat, func(r []Result) { done <- r }))
	defer w.Stop()

	mutations.Emit(ChildList)
	select {
	case results := <-done:
		require.Len(t, results, 1)
		assert.Equal(t, "App", results[0].Name)
	case <-time.After(2 * time.Second):
		t.Fatal("no rescan after quiet period")
	}
}

func TestMutationKindNames(t *testing.T) {
	for _, k := range []MutationKind{ChildList, Attributes, CharacterData} {
		parsed, ok := ParseMutationKind(k.String())
		require.True(t, ok)
		assert.Equal(t, k, parsed)
	}
	_, ok := ParseMutationKind("subtree")
	assert.False(t, ok)
	assert.Equal(t, "pending-rescan", PendingRescan.String())
}
