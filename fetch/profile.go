package fetch

import (
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
)

// Profile is a browser identity: the headers a real browser sends plus the
// TLS ClientHello it would offer
type Profile struct {
	Name           string
	UserAgent      string
	Accept         string
	AcceptLanguage string
	Hello          utls.ClientHelloID
}

var profiles = map[string]Profile{
	"chrome": {
		Name:           "Chrome",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.9",
		Hello:          utls.HelloChrome_120,
	},
	"firefox": {
		Name:           "Firefox",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.5",
		Hello:          utls.HelloFirefox_120,
	},
	"safari": {
		Name:           "Safari",
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.9",
		Hello:          utls.HelloSafari_16_0,
	},
	"edge": {
		Name:           "Edge",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.9",
		Hello:          utls.HelloEdge_106,
	},
}

// ProfileNames lists the accepted profile names, "random" included
var ProfileNames = []string{"chrome", "firefox", "safari", "edge", "random"}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// LookupProfile returns the named profile. "random" picks one of the
// others; an unknown name reports false.
func LookupProfile(name string) (Profile, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "random" {
		keys := []string{"chrome", "firefox", "safari", "edge"}
		rngMu.Lock()
		key := keys[rng.Intn(len(keys))]
		rngMu.Unlock()
		return profiles[key], true
	}
	p, ok := profiles[name]
	return p, ok
}

// DefaultProfile is used when no profile is configured
func DefaultProfile() Profile {
	return profiles["chrome"]
}

// Apply sets the profile's navigation headers on h. Accept-Encoding is
// left to the transport.
func (p Profile) Apply(h http.Header) {
	h.Set("User-Agent", p.UserAgent)
	h.Set("Accept", p.Accept)
	h.Set("Accept-Language", p.AcceptLanguage)
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
}

// ParseHeaders turns "Name: value" lines into a header set, skipping
// malformed entries
func ParseHeaders(lines []string) http.Header {
	h := http.Header{}
	for _, line := range lines {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		h.Add(key, strings.TrimSpace(parts[1]))
	}
	return h
}
