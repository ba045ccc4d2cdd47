// Package fetcher downloads web pages and reduces them to their visible text.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Option configures a Fetcher.
type Option func(*Fetcher)

type Fetcher struct {
	HTTPClient *http.Client
	UserAgent  string
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.HTTPClient = client
	}
}

// WithTimeout bounds each fetch. Zero keeps the transport defaults.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if f.HTTPClient == nil {
			f.HTTPClient = &http.Client{}
		}
		f.HTTPClient.Timeout = d
	}
}

func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.UserAgent = ua
	}
}

func New(opts ...Option) *Fetcher {
	f := &Fetcher{HTTPClient: &http.Client{}}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	if f.HTTPClient == nil {
		f.HTTPClient = &http.Client{}
	}
	return f
}

// TransportError reports a failed request or a non-2xx response.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Fetch GETs url and returns its visible text. Every failure comes back as a
// *TransportError; there are no retries.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &TransportError{URL: url, Err: err}
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return "", &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &TransportError{URL: url, StatusCode: resp.StatusCode}
	}

	text, err := ExtractText(resp.Body)
	if err != nil {
		return "", &TransportError{URL: url, Err: err}
	}

	log.Debug().Str("url", url).Int("chars", len(text)).Msg("fetched page")
	return text, nil
}

// ExtractText parses r as HTML and joins every non-blank text node with
// newlines, trimming each one. Script, style, template and noscript bodies
// and comments are not visible and are skipped.
func ExtractText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			if hidden(n) {
				return
			}
		case html.CommentNode, html.DoctypeNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(parts, "\n"), nil
}

func hidden(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Template, atom.Noscript:
		return true
	}
	return false
}
