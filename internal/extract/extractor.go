// Package extract turns a directory profile page into the company website it links to.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"profile2site/internal/browser"
)

// Options controls one Extractor.
type Options struct {
	MaxRetries      int
	SleepMin        time.Duration
	SleepMax        time.Duration
	WaitTimeout     time.Duration
	SelectorTimeout time.Duration
	ChallengeWait   time.Duration
	Selectors       []string
	RedirectMarker  string
	RedirectParam   string
	DomainOnly      bool
}

// Extractor drives a single page. It is not safe for concurrent use; each worker owns one.
type Extractor struct {
	page   browser.Page
	opts   Options
	logger *zap.Logger

	// Jitter and Sleep are replaceable in tests.
	Jitter func(min, max time.Duration) time.Duration
	Sleep  func(ctx context.Context, d time.Duration) error

	// OnAttempt, when set, is called after every attempt with its 1-based number.
	OnAttempt func(target string, attempt int, err error)
}

// New creates an Extractor bound to page.
func New(page browser.Page, opts Options, logger *zap.Logger) *Extractor {
	if opts.RedirectParam == "" {
		opts.RedirectParam = "u"
	}
	return &Extractor{
		page:   page,
		opts:   opts,
		logger: logger,
		Jitter: Jitter,
		Sleep:  Sleep,
	}
}

// Extract visits target and returns the website behind its redirect link. It makes up to
// MaxRetries+1 attempts, sleeping a jittered delay between them. Cancellation of ctx is
// returned unwrapped.
func (e *Extractor) Extract(ctx context.Context, target string) (string, error) {
	if err := ValidateTarget(target); err != nil {
		return "", err
	}

	maxAttempts := e.opts.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		value, err := e.attempt(ctx, target)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if e.OnAttempt != nil {
			e.OnAttempt(target, attempt, err)
		}
		if err == nil {
			e.logger.Debug("Extracted website",
				zap.String("target", target),
				zap.String("value", value),
				zap.Int("attempt", attempt),
			)
			return value, nil
		}

		lastErr = err
		e.logger.Warn("Extraction attempt failed",
			zap.String("target", target),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)

		if attempt < maxAttempts {
			if err := e.Sleep(ctx, e.Jitter(e.opts.SleepMin, e.opts.SleepMax)); err != nil {
				return "", err
			}
		}
	}

	return "", &ExtractionError{Target: target, Attempts: maxAttempts, LastCause: lastErr}
}

func (e *Extractor) attempt(ctx context.Context, target string) (string, error) {
	if err := e.page.Open(ctx, target); err != nil {
		return "", err
	}

	if e.challenged(ctx) {
		e.logger.Info("Challenge page detected, waiting", zap.String("target", target), zap.Duration("wait", e.opts.ChallengeWait))
		if err := e.Sleep(ctx, e.opts.ChallengeWait); err != nil {
			return "", err
		}
	}

	href, err := e.findRedirect(ctx)
	if err != nil {
		return "", err
	}
	return e.derive(href)
}

// challenged reports whether the page looks like an anti-bot interstitial.
func (e *Extractor) challenged(ctx context.Context) bool {
	if loc, err := e.page.URL(ctx); err == nil && strings.Contains(strings.ToLower(loc), "challenge") {
		return true
	}
	html, err := e.page.Content(ctx)
	return err == nil && strings.Contains(strings.ToLower(html), "cloudflare")
}

// findRedirect tries the selectors within the wait budget, then scans the DOM.
func (e *Extractor) findRedirect(ctx context.Context) (string, error) {
	budget := time.Now().Add(e.opts.WaitTimeout)

	for _, sel := range e.opts.Selectors {
		remaining := time.Until(budget)
		if remaining <= 0 {
			break
		}
		timeout := e.opts.SelectorTimeout
		if timeout <= 0 || timeout > remaining {
			timeout = remaining
		}

		if err := e.page.WaitFor(ctx, sel, timeout); err != nil {
			if errors.Is(err, browser.ErrNoElement) {
				continue
			}
			return "", err
		}
		href, ok, err := e.page.Attribute(ctx, sel, "href")
		if err != nil {
			if errors.Is(err, browser.ErrNoElement) {
				continue
			}
			return "", err
		}
		if ok && e.isRedirect(href) {
			return href, nil
		}
	}

	html, err := e.page.Content(ctx)
	if err != nil {
		return "", err
	}
	href, ok := ScanRedirect(html, e.opts.RedirectMarker, e.opts.RedirectParam)
	if !ok {
		return "", ErrLinkNotFound
	}
	return href, nil
}

func (e *Extractor) isRedirect(href string) bool {
	if e.opts.RedirectMarker == "" {
		return strings.Contains(href, "redirect")
	}
	return strings.Contains(href, e.opts.RedirectMarker)
}

func (e *Extractor) derive(href string) (string, error) {
	value, err := RedirectTarget(href, e.opts.RedirectParam)
	if err != nil {
		return "", err
	}
	if e.opts.DomainOnly {
		value = CleanURL(value)
	}
	return value, nil
}

// ScanRedirect returns the first anchor href in html containing both marker and param=.
func ScanRedirect(html, marker, param string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if strings.Contains(href, marker) && strings.Contains(href, param+"=") {
			found = href
			return false
		}
		return true
	})
	return found, found != ""
}

// RedirectTarget extracts and decodes the param query value of a redirect link.
func RedirectTarget(href, param string) (string, error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRedirect, err)
	}
	// Query already decodes once; a second pass handles double-encoded targets.
	value := u.Query().Get(param)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidRedirect, href)
	}
	if decoded, err := url.PathUnescape(value); err == nil {
		value = decoded
	}
	return value, nil
}

// CleanURL reduces an http(s) URL to its host without a leading "www.". Other input is
// returned unchanged.
func CleanURL(raw string) string {
	if !strings.HasPrefix(raw, "http") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return strings.TrimPrefix(u.Host, "www.")
}

// ValidateTarget rejects anything other than an absolute http or https URL with a host.
func ValidateTarget(target string) error {
	if strings.TrimSpace(target) == "" {
		return &InvalidTargetError{Target: target, Reason: "empty"}
	}
	u, err := url.Parse(target)
	if err != nil {
		return &InvalidTargetError{Target: target, Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &InvalidTargetError{Target: target, Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &InvalidTargetError{Target: target, Reason: "missing host"}
	}
	return nil
}
