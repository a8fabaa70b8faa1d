// Package browser defines the narrow page contract the extractor drives and
// implements it on top of go-rod (with stealth) and chromedp.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrNoElement is returned when a selector matches nothing before its timeout.
var ErrNoElement = errors.New("browser: element not found")

// Page is one browser tab. Implementations are not safe for concurrent use.
type Page interface {
	// Open navigates to url and waits for the document to load.
	Open(ctx context.Context, url string) error
	// WaitFor blocks until selector matches an element or timeout elapses.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	// Attribute reads an attribute of the first element matching selector.
	Attribute(ctx context.Context, selector, name string) (string, bool, error)
	// Content returns the rendered document HTML.
	Content(ctx context.Context) (string, error)
	// URL returns the current location, which may differ from the opened URL after redirects.
	URL(ctx context.Context) (string, error)
	Close() error
}

// Browser hands out pages sharing one browser process.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Options configures a driver launch.
type Options struct {
	Headless     bool
	UserAgent    string
	ExecPath     string
	WindowWidth  int
	WindowHeight int
	// NavigationTimeout bounds Open. Zero means no extra bound beyond ctx.
	NavigationTimeout time.Duration
}

// hideWebdriver is evaluated before any page script runs.
const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`

// withTimeout derives a context bounded by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
