package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/Davis1233798/proxyfetch/pkg/fingerprint"
)

// Source supplies the proxy list for a run. Where the list comes from is
// up to the implementation; the rotator only ever sees the result.
type Source interface {
	Name() string
	Proxies(ctx context.Context) ([]Proxy, error)
}

// Collect merges the lists of every source, dropping duplicates. A failing
// source is skipped; Collect fails only when no source produced a proxy.
func Collect(ctx context.Context, sources ...Source) ([]Proxy, error) {
	seen := make(map[Proxy]bool)
	var all []Proxy
	var errs error
	for _, src := range sources {
		list, err := src.Proxies(ctx)
		if err != nil {
			log.Warn().Err(err).Str("source", src.Name()).Msg("Proxy source failed")
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		log.Info().Str("source", src.Name()).Int("count", len(list)).Msg("Loaded proxies")
		for _, p := range list {
			if !seen[p] {
				seen[p] = true
				all = append(all, p)
			}
		}
	}
	if len(all) == 0 {
		if errs != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmptyList, errs)
		}
		return nil, ErrEmptyList
	}
	return all, nil
}

// StaticSource is a fixed, already-parsed list.
type StaticSource []Proxy

func (s StaticSource) Name() string { return "static" }

func (s StaticSource) Proxies(context.Context) ([]Proxy, error) {
	return []Proxy(s), nil
}

// FileSource reads one proxy per line.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return "file:" + s.Path }

func (s FileSource) Proxies(context.Context) ([]Proxy, error) {
	file, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open proxy file: %w", err)
	}
	defer file.Close()

	lines, err := readLines(file)
	if err != nil {
		return nil, fmt.Errorf("read proxy file %s: %w", s.Path, err)
	}
	proxies, errs := ParseList(lines)
	for _, err := range errs {
		log.Warn().Err(err).Str("source", s.Name()).Msg("Skipping proxy line")
	}
	return proxies, nil
}

// APISource pulls free proxy listings from public APIs.
type APISource struct {
	Client     *http.Client
	Limit      int
	GeonodeURL string
	ScrapeURL  string
}

func NewAPISource(limit int) *APISource {
	return &APISource{
		Client:     &http.Client{Timeout: 10 * time.Second},
		Limit:      limit,
		GeonodeURL: "https://proxylist.geonode.com/api/proxy-list",
		ScrapeURL:  "https://api.proxyscrape.com/v4/free-proxy-list/get?request=display_proxies&proxy_format=protocolipport&format=text&anonymity=Elite&timeout=20000",
	}
}

func (f *APISource) Name() string { return "api" }

type geonodeResponse struct {
	Data []struct {
		IP        string   `json:"ip"`
		Port      string   `json:"port"`
		Protocols []string `json:"protocols"`
	} `json:"data"`
}

func (f *APISource) FetchGeonode(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s?limit=%d&page=1&sort_by=lastChecked&sort_type=desc&filterUpTime=90&anonymityLevel=elite&protocols=http,https,socks5", f.GeonodeURL, f.Limit)

	body, err := f.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("geonode: %w", err)
	}
	defer body.Close()

	var result geonodeResponse
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		return nil, fmt.Errorf("geonode: decode: %w", err)
	}

	var proxies []string
	for _, item := range result.Data {
		protocol := "http"
		// socks5 wins over anything else the listing offers
		for _, p := range item.Protocols {
			if p == "socks5" {
				protocol = "socks5"
				break
			}
			if p == "https" {
				protocol = "https"
			}
		}
		proxies = append(proxies, fmt.Sprintf("%s://%s:%s", protocol, item.IP, item.Port))
	}
	return proxies, nil
}

func (f *APISource) FetchProxyScrape(ctx context.Context) ([]string, error) {
	body, err := f.get(ctx, f.ScrapeURL)
	if err != nil {
		return nil, fmt.Errorf("proxyscrape: %w", err)
	}
	defer body.Close()

	lines, err := readLines(body)
	if err != nil {
		return nil, fmt.Errorf("proxyscrape: %w", err)
	}
	return lines, nil
}

// Proxies merges both listings. One listing failing is logged and
// tolerated; both failing is an error.
func (f *APISource) Proxies(ctx context.Context) ([]Proxy, error) {
	var all []string
	var failures int

	geo, err := f.FetchGeonode(ctx)
	if err != nil {
		failures++
		log.Warn().Err(err).Msg("Proxy listing failed")
	} else {
		log.Info().Int("count", len(geo)).Msg("Fetched proxies from Geonode")
		all = append(all, geo...)
	}

	scraped, err := f.FetchProxyScrape(ctx)
	if err != nil {
		failures++
		log.Warn().Err(err).Msg("Proxy listing failed")
	} else {
		log.Info().Int("count", len(scraped)).Msg("Fetched proxies from ProxyScrape")
		all = append(all, scraped...)
	}

	if failures == 2 {
		return nil, fmt.Errorf("all proxy listings failed")
	}

	proxies, errs := ParseList(all)
	if len(errs) > 0 {
		log.Debug().Int("skipped", len(errs)).Msg("Dropped unsupported proxies from listings")
	}
	return proxies, nil
}

func (f *APISource) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("api returned status: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// HTMLSource scrapes a proxy table from a listing page. The first two cells
// of every matched row are host and port.
type HTMLSource struct {
	Client *http.Client
	URL    string
	Rows   string // CSS selector of the table rows
	Scheme string // every row gets this scheme
}

func NewHTMLSource() *HTMLSource {
	return &HTMLSource{
		Client: &http.Client{Timeout: 15 * time.Second},
		URL:    "https://hidemy.name/ru/proxy-list/?type=5&anon=4",
		Rows:   "div.table_block tbody tr",
		Scheme: "socks5",
	}
}

func (s *HTMLSource) Name() string { return "html" }

func (s *HTMLSource) Proxies(ctx context.Context) ([]Proxy, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	fingerprint.Random().Apply(req)

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy table: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy table returned status: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("proxy table: parse: %w", err)
	}

	var lines []string
	doc.Find(s.Rows).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		host := strings.TrimSpace(cells.Eq(0).Text())
		port := strings.TrimSpace(cells.Eq(1).Text())
		if host == "" || port == "" {
			return
		}
		lines = append(lines, fmt.Sprintf("%s://%s:%s", s.Scheme, host, port))
	})
	if len(lines) == 0 {
		return nil, fmt.Errorf("proxy table at %s has no rows", s.URL)
	}

	proxies, errs := ParseList(lines)
	for _, err := range errs {
		log.Debug().Err(err).Str("source", s.Name()).Msg("Skipping proxy row")
	}
	return proxies, nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
