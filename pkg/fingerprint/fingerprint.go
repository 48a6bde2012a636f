// Package fingerprint picks a realistic browser identity for each request.
package fingerprint

import (
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// Identity is the set of client headers sent with one request.
type Identity struct {
	UserAgent      string
	AcceptLanguage string
	Accept         string
}

var (
	UserAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:131.0) Gecko/20100101 Firefox/131.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.6 Safari/605.1.15",
	}

	AcceptLanguages = []string{
		"en-US,en;q=0.9",
		"en-GB,en;q=0.9",
		"ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7",
		"de-DE,de;q=0.9,en;q=0.8",
		"ja-JP,ja;q=0.9,en;q=0.8",
	}
)

// Generator is safe for concurrent use; rand.Rand is not.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewGenerator(seed int64) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed))}
}

var defaultGenerator = NewGenerator(time.Now().UnixNano())

func (g *Generator) Random() Identity {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Identity{
		UserAgent:      UserAgents[g.rnd.Intn(len(UserAgents))],
		AcceptLanguage: AcceptLanguages[g.rnd.Intn(len(AcceptLanguages))],
		Accept:         "*/*",
	}
}

// Random draws from the package-level generator.
func Random() Identity {
	return defaultGenerator.Random()
}

func (id Identity) Apply(req *http.Request) {
	req.Header.Set("User-Agent", id.UserAgent)
	req.Header.Set("Accept", id.Accept)
	req.Header.Set("Accept-Language", id.AcceptLanguage)
}
