// Copyright 2025 Apify Technologies s.r.o.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package docs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/apify/actors-mcp-server-go/pkg/errors"
	"github.com/apify/actors-mcp-server-go/pkg/httpclient"
)

// DefaultMaxFetchChars caps the text returned for one page. Documentation
// pages routinely exceed what a model turn should carry.
const DefaultMaxFetchChars = 25000

// truncationNotice is appended when a fetched page was cut at the cap.
const truncationNotice = "\n\n[Content truncated]"

// maxFetchBytes bounds how much of a response body is read at all.
const maxFetchBytes = 4 << 20

// Fetcher retrieves documentation pages as plain text. Safe for
// concurrent use.
type Fetcher struct {
	httpc    *http.Client
	maxChars int
	logger   *slog.Logger
}

// FetcherConfig configures a Fetcher. Zero values get defaults.
type FetcherConfig struct {
	// MaxChars caps the returned text length in runes.
	MaxChars int

	// HTTPClient overrides the transport. Tests inject one.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// NewFetcher creates a page fetcher.
func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxFetchChars
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		httpc, err := httpclient.New(httpclient.DefaultConfig())
		if err != nil {
			return nil, errors.Wrap(err, "creating docs fetch http client")
		}
		cfg.HTTPClient = httpc
	}

	return &Fetcher{
		httpc:    cfg.HTTPClient,
		maxChars: cfg.MaxChars,
		logger:   cfg.Logger,
	}, nil
}

// Fetch retrieves the page at pageURL and returns it as readable text.
// HTML is reduced to headings, paragraphs, lists, and code blocks; other
// text content types pass through. The result is capped at MaxChars.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", &errors.ValidationError{Field: "url", Message: fmt.Sprintf("invalid url: %v", err)}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", &errors.ValidationError{Field: "url", Message: "url must use http or https"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", errors.Wrap(err, "creating fetch request")
	}
	req.Header.Set("Accept", "text/html, text/markdown;q=0.9, text/plain;q=0.8")

	resp, err := f.httpc.Do(req)
	if err != nil {
		return "", &errors.APIError{
			Message: fmt.Sprintf("fetching %s failed: %v", pageURL, err),
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &errors.APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("fetching %s failed: %s", pageURL, resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", errors.Wrap(err, "reading page body")
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		text, err = htmlToText(text)
		if err != nil {
			return "", errors.Wrapf(err, "parsing %s", pageURL)
		}
	}

	return capChars(strings.TrimSpace(text), f.maxChars), nil
}

// htmlToText reduces a documentation page to markdown-ish text, keeping
// document order.
func htmlToText(page string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, nav, footer, header, aside, iframe, noscript").Remove()

	region := doc.Find("main, article, [role=main]").First()
	if region.Length() == 0 {
		region = doc.Find("body")
	}

	var b strings.Builder
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		b.WriteString("# " + collapseSpace(title) + "\n\n")
	}

	region.Find("h1, h2, h3, h4, h5, h6, p, pre, li").Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		if name == "pre" {
			if code := strings.TrimRight(s.Text(), "\n"); code != "" {
				b.WriteString("```\n" + code + "\n```\n\n")
			}
			return
		}

		text := collapseSpace(s.Text())
		if text == "" {
			return
		}

		switch name {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			level := int(name[1] - '0')
			b.WriteString(strings.Repeat("#", level) + " " + text + "\n\n")
		case "li":
			// Items wrapping block elements come out via their children.
			if s.ChildrenFiltered("p, pre, ul, ol").Length() > 0 {
				return
			}
			b.WriteString("- " + text + "\n")
		default:
			// Paragraphs inside pre-formatted blocks are already emitted.
			if s.ParentsFiltered("pre").Length() > 0 {
				return
			}
			b.WriteString(text + "\n\n")
		}
	})

	return b.String(), nil
}

// collapseSpace folds runs of whitespace into single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// capChars truncates s to at most maxChars runes, appending a notice
// when anything was dropped.
func capChars(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + truncationNotice
}
