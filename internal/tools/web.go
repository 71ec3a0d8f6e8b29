package tools

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/dispatch"
	"github.com/toolgate/toolgate/internal/gate"
	"github.com/toolgate/toolgate/internal/log"
	"github.com/toolgate/toolgate/internal/security"
)

// maxScrapeLinks caps the links extracted from a scraped page.
const maxScrapeLinks = 100

// WebToolset implements outbound web access. Every URL passes the SSRF
// validator, every connection re-checks resolved addresses at dial
// time, and all requests share one pacing limiter so a burst of tool
// calls cannot hammer a remote host.
type WebToolset struct {
	cfg     config.WebConfig
	urls    *security.URLValidator
	client  *http.Client
	limiter *rate.Limiter
	logger  log.Logger
}

// NewWebToolset creates the web toolset.
func NewWebToolset(cfg config.WebConfig, logger log.Logger) *WebToolset {
	urls := security.NewURLValidator()
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &WebToolset{
		cfg:  cfg,
		urls: urls,
		client: &http.Client{
			Transport:     security.SafeTransport(cfg.Timeout()),
			CheckRedirect: urls.ValidateRedirect,
			Timeout:       cfg.Timeout(),
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}
}

type webScrapeInput struct {
	URL      string `json:"url"`
	Selector string `json:"selector,omitempty"`
}

type webAPIInput struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

type pageLink struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Register adds the web tools.
func (t *WebToolset) Register(reg *dispatch.Registry) error {
	if err := add(reg, "web_scrape",
		"Fetch a public web page and extract readable text and links.",
		gate.Policy{}, t.webScrape); err != nil {
		return err
	}
	return add(reg, "web_api",
		"Call a public HTTP API and return the response body.",
		gate.Policy{}, t.webAPI)
}

func (t *WebToolset) webScrape(ctx context.Context, in webScrapeInput) (any, error) {
	target, err := t.urls.Validate(in.URL)
	if err != nil {
		return nil, dispatch.Errorf(dispatch.KindDomainError, "url not allowed: %s", in.URL)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, dispatch.WrapErr(dispatch.KindTimeout, "canceled while pacing request", err).AsRetryable()
	}

	c := colly.NewCollector(
		colly.UserAgent(t.cfg.UserAgent),
		colly.MaxBodySize(int(t.cfg.MaxResponseSize())),
	)
	c.SetRequestTimeout(t.cfg.Timeout())
	c.WithTransport(security.SafeTransport(t.cfg.Timeout()))
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: t.cfg.Parallelism,
		Delay:       t.cfg.Delay(),
	}); err != nil {
		return nil, dispatch.WrapErr(dispatch.KindExecutionError, "configuring scraper failed", err)
	}

	var (
		body       []byte
		statusCode int
	)
	c.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = r.Body
	})

	if err := c.Visit(target.String()); err != nil {
		return nil, dispatch.WrapErr(dispatch.KindNetworkError, "fetch failed", err).AsRetryable()
	}
	c.Wait()

	if len(body) == 0 {
		return nil, dispatch.Errorf(dispatch.KindNetworkError, "empty response from %s", target.Hostname())
	}

	article, err := readability.FromReader(bytes.NewReader(body), target)
	if err != nil {
		// Not all pages are articles; fall back to raw extraction.
		article = readability.Article{}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindExecutionError, "parsing page failed", err)
	}

	title := article.Title
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		text = strings.TrimSpace(doc.Find("body").Text())
	}

	payload := map[string]any{
		"url":    target.String(),
		"status": statusCode,
		"title":  title,
		"text":   text,
		"links":  extractLinks(doc, target),
	}

	if in.Selector != "" {
		var selected []string
		doc.Find(in.Selector).Each(func(_ int, s *goquery.Selection) {
			if v := strings.TrimSpace(s.Text()); v != "" {
				selected = append(selected, v)
			}
		})
		payload["selected"] = selected
	}

	return payload, nil
}

func (t *WebToolset) webAPI(ctx context.Context, in webAPIInput) (any, error) {
	target, err := t.urls.Validate(in.URL)
	if err != nil {
		return nil, dispatch.Errorf(dispatch.KindDomainError, "url not allowed: %s", in.URL)
	}

	method := strings.ToUpper(in.Method)
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodHead:
	default:
		return nil, dispatch.Errorf(dispatch.KindDomainError, "method %s not allowed", method)
	}

	// Outbound bodies obey the same cap as inbound responses.
	if int64(len(in.Body)) > t.cfg.MaxResponseSize() {
		return nil, dispatch.Errorf(gate.KindSizeExceeded,
			"request body is %d bytes, limit is %d", len(in.Body), t.cfg.MaxResponseSize())
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, dispatch.WrapErr(dispatch.KindTimeout, "canceled while pacing request", err).AsRetryable()
	}

	var reqBody io.Reader
	if in.Body != "" {
		reqBody = strings.NewReader(in.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reqBody)
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindExecutionError, "building request failed", err)
	}
	req.Header.Set("User-Agent", t.cfg.UserAgent)
	for k, v := range in.Headers {
		if strings.EqualFold(k, "Host") {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, security.ErrDangerousURL) {
			return nil, dispatch.Errorf(dispatch.KindDomainError, "url not allowed after redirect")
		}
		return nil, dispatch.WrapErr(dispatch.KindNetworkError, "request failed", err).AsRetryable()
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.cfg.MaxResponseSize()))
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindNetworkError, "reading response failed", err).AsRetryable()
	}

	t.logger.Debug("api call finished",
		"method", method, "host", target.Hostname(), "status", resp.StatusCode)

	return map[string]any{
		"url":          target.String(),
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body":         string(data),
		"truncated":    int64(len(data)) == t.cfg.MaxResponseSize(),
	}, nil
}

func extractLinks(doc *goquery.Document, base *url.URL) []pageLink {
	var links []pageLink
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		parsed, err := url.Parse(href)
		if err != nil {
			return true
		}
		abs := base.ResolveReference(parsed)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return true
		}
		links = append(links, pageLink{
			Text: strings.TrimSpace(s.Text()),
			URL:  abs.String(),
		})
		return len(links) < maxScrapeLinks
	})
	return links
}
