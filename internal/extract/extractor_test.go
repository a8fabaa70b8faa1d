package extract

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"profile2site/internal/browser"
)

const redirectHref = "https://r.clutch.co/redirect?provider_website=acme&u=https%3A%2F%2Fwww.acme.io%2F%3Futm_source%3Dclutch"

// fakePage serves canned answers and records how it was driven.
type fakePage struct {
	openErr  error
	location string
	html     string
	// attrs maps selector to href. Selectors absent here never appear.
	attrs map[string]string

	opens   int
	waits   []string
	timeout []time.Duration
}

func (p *fakePage) Open(ctx context.Context, url string) error {
	p.opens++
	if p.location == "" {
		p.location = url
	}
	return p.openErr
}

func (p *fakePage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	p.waits = append(p.waits, selector)
	p.timeout = append(p.timeout, timeout)
	if _, ok := p.attrs[selector]; !ok {
		return fmt.Errorf("%w: %s", browser.ErrNoElement, selector)
	}
	return nil
}

func (p *fakePage) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	v, ok := p.attrs[selector]
	if !ok {
		return "", false, browser.ErrNoElement
	}
	return v, true, nil
}

func (p *fakePage) Content(ctx context.Context) (string, error) { return p.html, nil }
func (p *fakePage) URL(ctx context.Context) (string, error)     { return p.location, nil }
func (p *fakePage) Close() error                                { return nil }

func testOptions() Options {
	return Options{
		MaxRetries:      2,
		SleepMin:        3 * time.Second,
		SleepMax:        6 * time.Second,
		WaitTimeout:     20 * time.Second,
		SelectorTimeout: 5 * time.Second,
		ChallengeWait:   10 * time.Second,
		Selectors: []string{
			"a.primary",
			"a.any",
		},
		RedirectMarker: "r.clutch.co/redirect",
		RedirectParam:  "u",
		DomainOnly:     true,
	}
}

// newTestExtractor swaps in a sleep that records instead of blocking.
func newTestExtractor(page browser.Page, opts Options) (*Extractor, *[]time.Duration) {
	e := New(page, opts, zap.NewNop())
	var slept []time.Duration
	e.Sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return e, &slept
}

func TestExtractFromSelector(t *testing.T) {
	page := &fakePage{attrs: map[string]string{"a.any": redirectHref}}
	e, slept := newTestExtractor(page, testOptions())

	got, err := e.Extract(context.Background(), "https://clutch.co/profile/acme")
	require.NoError(t, err)
	assert.Equal(t, "acme.io", got)
	assert.Equal(t, []string{"a.primary", "a.any"}, page.waits)
	assert.Equal(t, 1, page.opens)
	assert.Empty(t, *slept)
}

func TestExtractKeepsFullURLWithoutDomainOnly(t *testing.T) {
	opts := testOptions()
	opts.DomainOnly = false
	page := &fakePage{attrs: map[string]string{"a.primary": redirectHref}}
	e, _ := newTestExtractor(page, opts)

	got, err := e.Extract(context.Background(), "https://clutch.co/profile/acme")
	require.NoError(t, err)
	assert.Equal(t, "https://www.acme.io/?utm_source=clutch", got)
}

func TestExtractFallsBackToDocumentScan(t *testing.T) {
	page := &fakePage{
		attrs: map[string]string{"a.primary": "https://acme.io/about"},
		html: `<html><body>
			<a href="/profile/other">Other</a>
			<a href="https://r.clutch.co/redirect?nothing=1">No target</a>
			<a class="website-link" href="` + redirectHref + `">Visit Website</a>
		</body></html>`,
	}
	e, _ := newTestExtractor(page, testOptions())

	got, err := e.Extract(context.Background(), "https://clutch.co/profile/acme")
	require.NoError(t, err)
	assert.Equal(t, "acme.io", got)
}

func TestExtractWaitsOutChallenge(t *testing.T) {
	page := &fakePage{
		location: "https://clutch.co/cdn-cgi/challenge-platform",
		attrs:    map[string]string{"a.primary": redirectHref},
	}
	e, slept := newTestExtractor(page, testOptions())

	_, err := e.Extract(context.Background(), "https://clutch.co/profile/acme")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{10 * time.Second}, *slept)
}

func TestExtractSelectorTimeoutCappedByBudget(t *testing.T) {
	opts := testOptions()
	opts.WaitTimeout = 2 * time.Second
	page := &fakePage{attrs: map[string]string{"a.any": redirectHref}}
	e, _ := newTestExtractor(page, opts)

	_, err := e.Extract(context.Background(), "https://clutch.co/profile/acme")
	require.NoError(t, err)
	require.NotEmpty(t, page.timeout)
	for _, d := range page.timeout {
		assert.LessOrEqual(t, d, 2*time.Second)
	}
}

func TestExtractAlwaysFailingTargetRespectsRetryBound(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 2, 4} {
		t.Run(fmt.Sprintf("retries=%d", maxRetries), func(t *testing.T) {
			opts := testOptions()
			opts.MaxRetries = maxRetries
			page := &fakePage{html: "<html><body>nothing here</body></html>"}
			e, slept := newTestExtractor(page, opts)

			var attempts []int
			e.OnAttempt = func(_ string, attempt int, err error) {
				assert.Error(t, err)
				attempts = append(attempts, attempt)
			}

			_, err := e.Extract(context.Background(), "https://clutch.co/profile/acme")

			var xerr *ExtractionError
			require.True(t, errors.As(err, &xerr))
			assert.Equal(t, maxRetries+1, xerr.Attempts)
			assert.ErrorIs(t, err, ErrLinkNotFound)
			assert.Equal(t, maxRetries+1, page.opens)
			assert.Len(t, attempts, maxRetries+1)

			require.Len(t, *slept, maxRetries)
			for _, d := range *slept {
				assert.GreaterOrEqual(t, d, opts.SleepMin)
				assert.LessOrEqual(t, d, opts.SleepMax)
			}
		})
	}
}

func TestExtractRetriesNavigationErrors(t *testing.T) {
	page := &fakePage{openErr: errors.New("net::ERR_CONNECTION_RESET")}
	e, _ := newTestExtractor(page, testOptions())

	_, err := e.Extract(context.Background(), "https://clutch.co/profile/acme")
	var xerr *ExtractionError
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, 3, xerr.Attempts)
	assert.Contains(t, xerr.LastCause.Error(), "ERR_CONNECTION_RESET")
}

func TestExtractInvalidTargetConsumesNoAttempts(t *testing.T) {
	for _, target := range []string{"", "   ", "clutch.co/profile/acme", "ftp://clutch.co/x", "https://", "::bad"} {
		page := &fakePage{}
		e, _ := newTestExtractor(page, testOptions())

		_, err := e.Extract(context.Background(), target)
		var ierr *InvalidTargetError
		assert.True(t, errors.As(err, &ierr), "target %q", target)
		assert.Zero(t, page.opens, "target %q", target)
	}
}

func TestExtractCancellationIsReturnedAsIs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	page := &fakePage{html: "<html></html>"}
	e, _ := newTestExtractor(page, testOptions())
	e.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := e.Extract(ctx, "https://clutch.co/profile/acme")
	assert.ErrorIs(t, err, context.Canceled)
	var xerr *ExtractionError
	assert.False(t, errors.As(err, &xerr))
	assert.Equal(t, 1, page.opens)
}

func TestRedirectTarget(t *testing.T) {
	got, err := RedirectTarget(redirectHref, "u")
	require.NoError(t, err)
	assert.Equal(t, "https://www.acme.io/?utm_source=clutch", got)

	got, err = RedirectTarget("https://r.clutch.co/redirect?u=https%253A%252F%252Fdouble.io", "u")
	require.NoError(t, err)
	assert.Equal(t, "https://double.io", got)

	_, err = RedirectTarget("https://r.clutch.co/redirect?provider=1", "u")
	assert.ErrorIs(t, err, ErrInvalidRedirect)
}

func TestCleanURL(t *testing.T) {
	tests := map[string]string{
		"https://www.acme.io/path?q=1": "acme.io",
		"http://acme.io":               "acme.io",
		"https://shop.acme.io/":        "shop.acme.io",
		"acme.io":                      "acme.io",
		"":                             "",
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanURL(in), in)
	}
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 1000; i++ {
		d := Jitter(3*time.Second, 6*time.Second)
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.LessOrEqual(t, d, 6*time.Second)
	}
	assert.Equal(t, time.Second, Jitter(time.Second, time.Second))
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}
