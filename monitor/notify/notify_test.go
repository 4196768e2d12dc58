package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingServer struct {
	mu       sync.Mutex
	paths    []string
	payloads []map[string]interface{}
	status   int
}

func (s *recordingServer) handler(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&payload)
	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	s.payloads = append(s.payloads, payload)
	s.mu.Unlock()
	w.WriteHeader(s.status)
}

func newRecordingServer(t *testing.T, status int) (*recordingServer, *httptest.Server) {
	t.Helper()
	rec := &recordingServer{status: status}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	t.Cleanup(srv.Close)
	return rec, srv
}

var sampleAlert = Alert{
	Title:     "stackscope: stack changed on https://a.test/",
	Message:   "+React -jQuery",
	Severity:  "MEDIUM",
	Target:    "https://a.test/",
	Added:     []string{"React"},
	Removed:   []string{"jQuery"},
	Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
}

func TestNotifiers(t *testing.T) {
	tests := []struct {
		name   string
		status int
		build  func(url string) Notifier
		check  func(t *testing.T, rec *recordingServer)
	}{
		{
			name:   "slack",
			status: http.StatusOK,
			build:  func(url string) Notifier { return NewSlackNotifier(url, "#alerts") },
			check: func(t *testing.T, rec *recordingServer) {
				assert.Equal(t, "#alerts", rec.payloads[0]["channel"])
				att := rec.payloads[0]["attachments"].([]interface{})[0].(map[string]interface{})
				assert.Equal(t, "#ffaa00", att["color"])
				assert.Equal(t, "+React -jQuery", att["text"])
			},
		},
		{
			name:   "discord",
			status: http.StatusNoContent,
			build:  func(url string) Notifier { return NewDiscordNotifier(url) },
			check: func(t *testing.T, rec *recordingServer) {
				embed := rec.payloads[0]["embeds"].([]interface{})[0].(map[string]interface{})
				assert.Equal(t, float64(0xffaa00), embed["color"])
				assert.Equal(t, "2026-03-01T12:00:00Z", embed["timestamp"])
			},
		},
		{
			name:   "telegram",
			status: http.StatusOK,
			build: func(url string) Notifier {
				n := NewTelegramNotifier("TOKEN", "42")
				n.APIBase = url
				return n
			},
			check: func(t *testing.T, rec *recordingServer) {
				assert.Equal(t, "/botTOKEN/sendMessage", rec.paths[0])
				assert.Equal(t, "42", rec.payloads[0]["chat_id"])
			},
		},
		{
			name:   "webhook",
			status: http.StatusAccepted,
			build:  func(url string) Notifier { return NewWebhookNotifier(url) },
			check: func(t *testing.T, rec *recordingServer) {
				assert.Equal(t, []interface{}{"React"}, rec.payloads[0]["added"])
				assert.Equal(t, "MEDIUM", rec.payloads[0]["severity"])
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, srv := newRecordingServer(t, tt.status)
			n := tt.build(srv.URL)
			assert.Equal(t, tt.name, n.Name())
			require.NoError(t, n.Send(sampleAlert))
			require.Len(t, rec.payloads, 1)
			tt.check(t, rec)
		})
	}
}

func TestNotifierErrorStatus(t *testing.T) {
	_, srv := newRecordingServer(t, http.StatusInternalServerError)
	for _, n := range []Notifier{
		NewSlackNotifier(srv.URL, ""),
		NewDiscordNotifier(srv.URL),
		NewWebhookNotifier(srv.URL),
	} {
		assert.Error(t, n.Send(sampleAlert), n.Name())
	}
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, "a\\_b \\*c\\* \\[d\\] \\`e\\`", escapeMarkdown("a_b *c* [d] `e`"))
}

type failing struct{ calls atomic.Int32 }

func (f *failing) Name() string { return "failing" }
func (f *failing) Send(Alert) error {
	f.calls.Add(1)
	return errors.New("down")
}

func TestDispatcherFansOut(t *testing.T) {
	rec, srv := newRecordingServer(t, http.StatusOK)
	bad := &failing{}

	d := NewDispatcher(nil)
	d.AddChannel(NewWebhookNotifier(srv.URL))
	d.AddChannel(bad)
	assert.Equal(t, 2, d.Len())

	d.Dispatch(sampleAlert)
	d.Dispatch(sampleAlert)
	d.Wait()

	assert.Len(t, rec.payloads, 2)
	assert.Equal(t, int32(2), bad.calls.Load())
}
