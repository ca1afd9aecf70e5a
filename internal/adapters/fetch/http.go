package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/manthysbr/qagent/internal/core/domain"
)

const maxBodySize = 1024 * 1024

// skipTags never contribute text.
var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"nav": true, "footer": true, "header": true,
}

// HTTPFetcher downloads a page and extracts its paragraph text.
type HTTPFetcher struct {
	client       *http.Client
	allowPrivate bool
	userAgent    string
}

type Option func(*HTTPFetcher)

// WithAllowPrivate disables the internal-address guard.
func WithAllowPrivate() Option {
	return func(f *HTTPFetcher) { f.allowPrivate = true }
}

// WithTimeout bounds each request, redirects included.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) { f.client.Timeout = d }
}

func NewHTTPFetcher(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{userAgent: "qagent/1.0 (+retrieval)"}
	f.client = &http.Client{
		Timeout: 4 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// Check each redirect target for SSRF
			if !f.allowPrivate && isSSRFTarget(req.URL.String()) {
				return fmt.Errorf("redirect to internal address denied")
			}
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (domain.SourceDocument, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	if !f.allowPrivate && isSSRFTarget(rawURL) {
		return domain.SourceDocument{}, fmt.Errorf("%w: %s: internal or private address denied", domain.ErrSourceFetch, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return domain.SourceDocument{}, fmt.Errorf("%w: invalid URL: %w", domain.ErrSourceFetch, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain,*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.SourceDocument{}, fmt.Errorf("%w: %w", domain.ErrSourceFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return domain.SourceDocument{}, fmt.Errorf("%w: %s: HTTP %d", domain.ErrSourceFetch, rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return domain.SourceDocument{}, fmt.Errorf("%w: read body: %w", domain.ErrSourceFetch, err)
	}

	text := string(body)
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") || bytes.Contains(bytes.ToLower(body[:min(len(body), 512)]), []byte("<html")) {
		if text, err = ExtractText(bytes.NewReader(body)); err != nil {
			return domain.SourceDocument{}, fmt.Errorf("%w: %w", domain.ErrSourceFetch, err)
		}
	}
	return domain.SourceDocument{Source: rawURL, Text: strings.TrimSpace(text)}, nil
}

// ExtractText returns the text of the page's <p> elements joined by spaces.
// Pages without paragraphs fall back to all visible text.
func ExtractText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var paragraphs []string
	var findParagraphs func(*html.Node)
	findParagraphs = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipTags[n.Data] {
				return
			}
			if n.Data == "p" {
				if t := visibleText(n); t != "" {
					paragraphs = append(paragraphs, t)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findParagraphs(c)
		}
	}
	findParagraphs(doc)

	if len(paragraphs) > 0 {
		return strings.Join(paragraphs, " "), nil
	}
	return visibleText(doc), nil
}

func visibleText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// isSSRFTarget checks if a URL targets internal/metadata endpoints.
func isSSRFTarget(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return true // block unparseable URLs
	}

	host := parsed.Hostname()

	blocked := []string{
		"localhost",
		"127.0.0.1",
		"0.0.0.0",
		"::1",
		"169.254.169.254", // AWS metadata
		"metadata.google.internal",
		"metadata.google",
	}
	for _, b := range blocked {
		if strings.EqualFold(host, b) {
			return true
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return true
		}
	}

	scheme := strings.ToLower(parsed.Scheme)
	return scheme != "http" && scheme != "https"
}
