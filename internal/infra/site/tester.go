package site

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/errs"
	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	"github.com/Builder-Lawyers/church-provisioner/internal/infra/config"
	"golang.org/x/net/html"
)

const maxPageSize = 2 << 20

const (
	checkPageLoad        = "pageLoad"
	checkLanguageContent = "languageContent"
	checkNavigation      = "navigation"
	checkLoginForm       = "loginForm"
	checkPerformance     = "performance"
)

var checks = []string{checkPageLoad, checkLanguageContent, checkNavigation, checkLoginForm, checkPerformance}

type Tester struct {
	client      *http.Client
	maxResponse time.Duration
}

func NewTester(cfg *config.SiteConfig) *Tester {
	return &Tester{
		client:      &http.Client{Timeout: cfg.TesterTimeout},
		maxResponse: cfg.MaxResponse,
	}
}

func (t *Tester) TestSite(ctx context.Context, req interfaces.SiteTestRequest) (interfaces.SiteTestResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.SiteURL, nil)
	if err != nil {
		return interfaces.SiteTestResult{}, fmt.Errorf("invalid site url %q: %w", req.SiteURL, err)
	}

	started := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return interfaces.SiteTestResult{}, err
		}
		return interfaces.SiteTestResult{}, errs.RetryableError{Err: fmt.Errorf("failed to reach %s: %w", req.SiteURL, err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	elapsed := time.Since(started)
	if err != nil {
		return interfaces.SiteTestResult{}, errs.RetryableError{Err: fmt.Errorf("failed to read %s: %w", req.SiteURL, err)}
	}

	results := map[string]bool{
		checkPageLoad:    resp.StatusCode == http.StatusOK,
		checkPerformance: elapsed < t.maxResponse,
	}
	if results[checkPageLoad] {
		doc, err := html.Parse(bytes.NewReader(body))
		if err != nil {
			return interfaces.SiteTestResult{}, fmt.Errorf("failed to parse %s: %w", req.SiteURL, err)
		}
		prof := profileFor(req.Language)
		results[checkLanguageContent] = attr(find(doc, "html"), "lang") == string(req.Language) &&
			strings.Contains(text(doc), prof.Texts.Heading)
		results[checkNavigation] = hasNavigation(doc, prof.Texts)
		results[checkLoginForm] = hasLogin(doc)
	}

	passed := 0
	for _, name := range checks {
		if results[name] {
			passed++
		} else {
			results[name] = false
		}
	}
	score := int(math.Round(float64(passed) / float64(len(checks)) * 100))

	slog.Info("site tested", "url", req.SiteURL, "status", resp.StatusCode, "score", score, "elapsed", elapsed)
	return interfaces.SiteTestResult{
		Passed: passed == len(checks),
		Metrics: map[string]any{
			"score":          score,
			"tests":          results,
			"statusCode":     resp.StatusCode,
			"responseTimeMs": elapsed.Milliseconds(),
		},
	}, nil
}

func hasNavigation(doc *html.Node, t texts) bool {
	nav := find(doc, "nav")
	if nav == nil {
		return false
	}
	links := findAll(nav, "a")
	var calendar, login bool
	for _, a := range links {
		label := strings.TrimSpace(text(a))
		href := attr(a, "href")
		calendar = calendar || label == t.Calendar || strings.Contains(href, "calendar")
		login = login || label == t.Login || strings.Contains(href, "login")
	}
	return calendar && login
}

func hasLogin(doc *html.Node) bool {
	for _, input := range findAll(doc, "input") {
		if attr(input, "type") == "password" {
			return true
		}
	}
	return false
}

func find(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
