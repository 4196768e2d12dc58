package browser

import (
	"context"
	"testing"

	"github.com/chromedp/cdproto/runtime"
	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veex0x01/stackscope/detector"
	"github.com/veex0x01/stackscope/page"
	"github.com/veex0x01/stackscope/reporting"
)

func TestParseMutations(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []detector.Mutation
		wantErr bool
	}{
		{
			name:    "child list",
			payload: `[{"type":"childList","target":"div"}]`,
			want:    []detector.Mutation{{Kind: detector.ChildList, Target: "div"}},
		},
		{
			name:    "mixed with unknown",
			payload: `[{"type":"attributes","target":"a"},{"type":"weird"},{"type":"characterData","target":"#text"}]`,
			want: []detector.Mutation{
				{Kind: detector.Attributes, Target: "a"},
				{Kind: detector.CharacterData, Target: "#text"},
			},
		},
		{name: "empty", payload: `[]`, want: []detector.Mutation{}},
		{name: "garbage", payload: `{`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMutations(tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMutationEventsReachCurrentSubscription(t *testing.T) {
	s := newSession(context.Background(), func() {}, "https://app.test/", reporting.Nop())

	var first, second int
	subscribe := func(counter *int) *subscription {
		sub := &subscription{fn: func(batch []detector.Mutation) { *counter += len(batch) }}
		sub.active.Store(true)
		s.mu.Lock()
		if s.sub != nil {
			s.sub.active.Store(false)
		}
		s.sub = sub
		s.mu.Unlock()
		return sub
	}
	call := &runtime.EventBindingCalled{Name: bindingName, Payload: `[{"type":"childList","target":"div"}]`}

	subscribe(&first)
	s.onEvent(call)
	s.onEvent(&runtime.EventBindingCalled{Name: "other", Payload: call.Payload})
	s.onEvent(&runtime.EventExecutionContextsCleared{})
	assert.Equal(t, 1, first)

	sub := subscribe(&second)
	s.onEvent(call)
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)

	sub.active.Store(false)
	s.onEvent(call)
	s.onEvent(&runtime.EventBindingCalled{Name: bindingName, Payload: "{"})
	assert.Equal(t, 1, second)
}

func TestGlobalsProbe(t *testing.T) {
	vm := page.NewScriptRuntime()
	errs := page.RunScripts(vm, nil, []string{`
		window.Example = { init: function() {} };
		window.Lib = { version: null };
		window.fn = function() {};
		fn.attached = 1;
		Object.defineProperty(window, 'Trap', { get: function() { throw new Error('no'); } });
	`})
	require.Empty(t, errs)

	probe, err := globalsJS([]string{
		"Example.init",
		"Lib.version",
		"Lib.version.major",
		"fn.attached",
		"Trap",
		"Trap.inner",
		"Missing",
	})
	require.NoError(t, err)

	value, err := vm.RunString(probe)
	require.NoError(t, err)

	var found []string
	require.NoError(t, vm.ExportTo(value, &found))
	// reading Trap throws, which counts as absent
	assert.Equal(t, []string{"Example.init", "Lib.version"}, found)
}

func TestScriptsParse(t *testing.T) {
	for name, src := range map[string]string{
		"extract":    extractJS,
		"observe":    observeJS,
		"disconnect": disconnectJS,
	} {
		_, err := goja.Compile(name, src, false)
		assert.NoError(t, err, name)
	}
}

func TestRawPageSnapshot(t *testing.T) {
	raw := rawPage{
		URL:     "https://app.test/",
		Title:   "App",
		Scripts: []string{"https://app.test/main.js"},
		Metas:   []rawMeta{{Name: "generator", Content: "Hugo 0.120"}},
		Links:   []rawLink{{Href: "https://fonts.googleapis.com/css", Rel: "stylesheet"}},
		Cookie:  "a=1",
		Head:    "<title>App</title>",
		Body:    "<div></div>",
	}
	snap := raw.snapshot([]string{"React.version"})

	assert.Equal(t, "https://app.test/", snap.URL)
	assert.Equal(t, []page.Meta{{Name: "generator", Content: "Hugo 0.120"}}, snap.Metas)
	assert.Equal(t, []page.Link{{Href: "https://fonts.googleapis.com/css", Rel: "stylesheet"}}, snap.Links)
	assert.True(t, page.HasPath(snap.Globals, "React.version"))
	assert.True(t, page.HasPath(snap.Globals, "React"))
	assert.False(t, page.HasPath(snap.Globals, "Vue"))
}
