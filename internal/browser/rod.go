package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// RodBrowser drives a local Chrome through go-rod. Every page is created with the
// stealth evasions applied.
type RodBrowser struct {
	browser *rod.Browser
	lnch    *launcher.Launcher
	opts    Options
	logger  *zap.Logger
}

// NewRod launches Chrome and connects to it.
func NewRod(ctx context.Context, opts Options, logger *zap.Logger) (*RodBrowser, error) {
	l := launcher.New().
		Headless(opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-infobars").
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-extensions").
		Set("disable-popup-blocking").
		Set("disable-default-apps")

	if opts.ExecPath != "" {
		l = l.Bin(opts.ExecPath)
	}
	if opts.UserAgent != "" {
		l = l.Set("user-agent", opts.UserAgent)
	}
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		l = l.Set("window-size", strconv.Itoa(opts.WindowWidth)+","+strconv.Itoa(opts.WindowHeight))
	}

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("browser: launch: %w", err)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	logger.Info("Launched Chrome via rod",
		zap.Bool("headless", opts.Headless),
		zap.String("control_url", wsURL),
	)

	return &RodBrowser{browser: b, lnch: l, opts: opts, logger: logger}, nil
}

// NewPage opens a blank stealth tab.
func (r *RodBrowser) NewPage(ctx context.Context) (Page, error) {
	page, err := stealth.Page(r.browser)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if r.opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: r.opts.UserAgent}); err != nil {
			r.logger.Warn("Failed to override user agent", zap.Error(err))
		}
	}
	if _, err := page.EvalOnNewDocument(hideWebdriver); err != nil {
		r.logger.Warn("Failed to install webdriver override", zap.Error(err))
	}

	return &rodPage{page: page, navTimeout: r.opts.NavigationTimeout}, nil
}

// Close disconnects and kills the Chrome process.
func (r *RodBrowser) Close() error {
	err := r.browser.Close()
	r.lnch.Kill()
	r.lnch.Cleanup()
	return err
}

type rodPage struct {
	page       *rod.Page
	navTimeout time.Duration
}

func (p *rodPage) Open(ctx context.Context, url string) error {
	nctx, cancel := withTimeout(ctx, p.navTimeout)
	defer cancel()

	page := p.page.Context(nctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	wctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	_, err := p.page.Context(wctx).Element(selector)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s", ErrNoElement, selector)
	}
	return fmt.Errorf("browser: wait for %s: %w", selector, err)
}

func (p *rodPage) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	has, el, err := p.page.Context(ctx).Has(selector)
	if err != nil {
		return "", false, fmt.Errorf("browser: query %s: %w", selector, err)
	}
	if !has {
		return "", false, fmt.Errorf("%w: %s", ErrNoElement, selector)
	}

	v, err := el.Attribute(name)
	if err != nil {
		return "", false, fmt.Errorf("browser: attribute %s of %s: %w", name, selector, err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (p *rodPage) Content(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return html, nil
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
