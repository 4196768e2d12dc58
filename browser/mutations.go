package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/veex0x01/stackscope/detector"
)

const bindingName = "__stackscopeMutations"

// observeJS installs one MutationObserver on the body subtree that posts
// each batch of records to the binding. Only childList is observed.
const observeJS = `
(function() {
	if (window.__stackscopeObserver) window.__stackscopeObserver.disconnect();
	var target = document.body || document.documentElement;
	var obs = new MutationObserver(function(records) {
		var batch = [];
		for (var i = 0; i < records.length; i++) {
			var t = records[i].target;
			batch.push({type: records[i].type, target: t && t.nodeName ? t.nodeName.toLowerCase() : ''});
		}
		try { window.` + bindingName + `(JSON.stringify(batch)); } catch (e) {}
	});
	obs.observe(target, {childList: true, subtree: true});
	window.__stackscopeObserver = obs;
	return true;
})()
`

const disconnectJS = `
(function() {
	if (window.__stackscopeObserver) {
		window.__stackscopeObserver.disconnect();
		window.__stackscopeObserver = null;
	}
	return true;
})()
`

type subscription struct {
	active atomic.Bool
	fn     func([]detector.Mutation)
}

type rawMutation struct {
	Type   string `json:"type"`
	Target string `json:"target"`
}

// parseMutations decodes a binding payload, dropping unknown record types
func parseMutations(payload string) ([]detector.Mutation, error) {
	var raw []rawMutation
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, err
	}
	batch := make([]detector.Mutation, 0, len(raw))
	for _, r := range raw {
		kind, ok := detector.ParseMutationKind(r.Type)
		if !ok {
			continue
		}
		batch = append(batch, detector.Mutation{Kind: kind, Target: r.Target})
	}
	return batch, nil
}

// Subscribe starts observing the tab's DOM and calls fn with each batch.
// A new subscription replaces the previous one.
func (s *Session) Subscribe(fn func([]detector.Mutation)) (func(), error) {
	sub := &subscription{fn: fn}
	sub.active.Store(true)

	s.mu.Lock()
	prev := s.sub
	s.sub = sub
	first := !s.bound
	s.bound = true
	listen := !s.listening
	s.listening = true
	s.mu.Unlock()
	if prev != nil {
		prev.active.Store(false)
	}

	if listen {
		chromedp.ListenTarget(s.ctx, s.onEvent)
	}

	actions := []chromedp.Action{}
	if first {
		actions = append(actions, runtime.AddBinding(bindingName))
	}
	var installed bool
	actions = append(actions, chromedp.Evaluate(observeJS, &installed))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.run(ctx, actions...); err != nil {
		sub.active.Store(false)
		s.mu.Lock()
		if s.sub == sub {
			s.sub = nil
		}
		if first {
			s.bound = false
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("installing mutation observer: %w", err)
	}
	s.logger.Debug("Observing DOM mutations on %s", s.url)

	return func() { s.unsubscribe(sub) }, nil
}

// onEvent delivers binding calls to the current subscription
func (s *Session) onEvent(ev interface{}) {
	e, ok := ev.(*runtime.EventBindingCalled)
	if !ok || e.Name != bindingName {
		return
	}
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil || !sub.active.Load() {
		return
	}

	batch, err := parseMutations(e.Payload)
	if err != nil {
		s.logger.Debug("Bad mutation payload: %v", err)
		return
	}
	if len(batch) > 0 {
		sub.fn(batch)
	}
}

func (s *Session) unsubscribe(sub *subscription) {
	if !sub.active.Swap(false) {
		return
	}
	s.mu.Lock()
	current := s.sub == sub
	if current {
		s.sub = nil
	}
	s.mu.Unlock()
	if !current {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var done bool
	if err := s.run(ctx, chromedp.Evaluate(disconnectJS, &done)); err != nil {
		// the tab may already be gone
		s.logger.Debug("Disconnecting observer: %v", err)
	}
}
