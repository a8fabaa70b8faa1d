package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromedpBrowser drives a local Chrome through chromedp. Tabs share one allocator.
type ChromedpBrowser struct {
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	opts          Options
}

// ExecAllocatorOptions returns the Chrome flags used for opts.
func ExecAllocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-popup-blocking", true),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight))
	}
	return allocOpts
}

// NewChromedp starts Chrome. The first Run binds the process to the browser context,
// so it runs until Close rather than until ctx is done.
func NewChromedp(_ context.Context, opts Options, logger *zap.Logger) (*ChromedpBrowser, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), ExecAllocatorOptions(opts)...)

	sugar := logger.Sugar()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("browser: launch: %w", err)
	}

	logger.Info("Launched Chrome via chromedp", zap.Bool("headless", opts.Headless))

	return &ChromedpBrowser{
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		opts:          opts,
	}, nil
}

// NewPage opens a new tab with the webdriver flag hidden.
func (c *ChromedpBrowser) NewPage(_ context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(c.browserCtx)

	// The tab is created by this first Run and lives as long as tabCtx.
	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriver).Do(ctx)
		return err
	}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	return &chromedpPage{ctx: tabCtx, cancel: cancel, navTimeout: c.opts.NavigationTimeout}, nil
}

// Close shuts down the browser and its allocator.
func (c *ChromedpBrowser) Close() error {
	c.cancelBrowser()
	c.cancelAlloc()
	return nil
}

type chromedpPage struct {
	ctx        context.Context
	cancel     context.CancelFunc
	navTimeout time.Duration
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
// Only the tab context itself closes the tab; the derived one merely aborts actions.
func (p *chromedpPage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	rctx, cancel := withTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(rctx, actions...)
}

func (p *chromedpPage) Open(ctx context.Context, url string) error {
	if err := p.run(ctx, p.navTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	return nil
}

func (p *chromedpPage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	err := p.run(ctx, timeout, chromedp.WaitReady(selector, chromedp.ByQuery))
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s", ErrNoElement, selector)
	}
	return fmt.Errorf("browser: wait for %s: %w", selector, err)
}

func (p *chromedpPage) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	var nodes []*cdp.Node
	err := p.run(ctx, 0, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)))
	if err != nil {
		return "", false, fmt.Errorf("browser: query %s: %w", selector, err)
	}
	if len(nodes) == 0 {
		return "", false, fmt.Errorf("%w: %s", ErrNoElement, selector)
	}

	v, ok := nodes[0].Attribute(name)
	return v, ok, nil
}

func (p *chromedpPage) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return html, nil
}

func (p *chromedpPage) URL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, 0, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("browser: location: %w", err)
	}
	return loc, nil
}

func (p *chromedpPage) Close() error {
	p.cancel()
	return nil
}
