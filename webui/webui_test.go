package webui

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veex0x01/stackscope/detector"
	"github.com/veex0x01/stackscope/fingerprint"
)

const catalogJSON = `{"technologies": [
  {"name": "WordPress", "categories": ["CMS"], "matchers": {"meta": {"generator": "WordPress"}}},
  {"name": "ExampleJS", "matchers": {"js_globals": ["Example.init"]}},
  {"name": "Laravel", "matchers": {"cookies": ["laravel_session"]}}
]}`

func newTestServer(t *testing.T, user, pass string) *Server {
	t.Helper()
	cat, err := fingerprint.Parse([]byte(catalogJSON), fingerprint.FormatJSON)
	require.NoError(t, err)
	return NewServer("127.0.0.1:0", cat, nil, user, pass)
}

func postDetect(t *testing.T, h http.Handler, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/detect", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "", "")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["fingerprints"])
}

func TestDetect(t *testing.T) {
	s := newTestServer(t, "", "")
	rec := postDetect(t, s.Handler(), DetectRequest{
		URL:     "https://blog.test/",
		HTML:    `<html><head><title>Blog</title><meta name="generator" content="WordPress 6.4"></head><body></body></html>`,
		Cookies: "laravel_session=abc",
		Globals: map[string]interface{}{"Example": map[string]interface{}{"init": true}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report detector.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "https://blog.test/", report.URL)
	assert.Equal(t, "Blog", report.Title)
	assert.Equal(t, []string{"WordPress", "ExampleJS", "Laravel"}, report.Names())
	assert.Equal(t, 1, s.History.Len())
}

func TestDetectThresholdAndSort(t *testing.T) {
	s := newTestServer(t, "", "")
	s.Threshold = 80
	s.Sort = detector.SortName

	rec := postDetect(t, s.Handler(), DetectRequest{
		HTML:    `<meta name="generator" content="WordPress">`,
		Cookies: "laravel_session=1",
		Globals: map[string]interface{}{"Example": map[string]interface{}{"init": 1}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var report detector.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	// cookie evidence (70) falls under the threshold
	assert.Equal(t, []string{"ExampleJS", "WordPress"}, report.Names())
}

func TestDetectRejectsBadRequests(t *testing.T) {
	s := newTestServer(t, "", "")

	rec := postDetect(t, s.Handler(), DetectRequest{URL: "https://a.test/"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/detect", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/detect", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	assert.Zero(t, s.History.Len())
}

func TestHistoryNewestFirstAndBounded(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Add(detector.Report{URL: string(rune('a' + i))})
	}
	list := h.List()
	require.Len(t, list, 3)
	assert.Equal(t, "e", list[0].URL)
	assert.Equal(t, "c", list[2].URL)

	assert.Equal(t, DefaultHistorySize, NewHistory(0).size)
}

func TestHistoryEndpoint(t *testing.T) {
	s := newTestServer(t, "", "")
	s.Publish(detector.Report{URL: "https://one.test/"})
	s.Publish(detector.Report{URL: "https://two.test/"})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var reports []detector.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, "https://two.test/", reports[0].URL)
}

func TestBasicAuth(t *testing.T) {
	s := newTestServer(t, "admin", "secret")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFrontendServed(t *testing.T) {
	s := newTestServer(t, "", "")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>stackscope</title>")
}

func TestWebSocketStreamsResults(t *testing.T) {
	s := newTestServer(t, "", "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Hub.Run(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Publish(detector.Report{URL: "https://live.test/", Technologies: []detector.Result{{Name: "React", Confidence: 80}}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type string          `json:"type"`
		Data detector.Report `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "result", msg.Type)
	assert.Equal(t, "https://live.test/", msg.Data.URL)
	assert.Equal(t, []string{"React"}, msg.Data.Names())
}
