package browser

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Driver names accepted by New
const (
	DriverRod      = "rod"
	DriverChromedp = "chromedp"
)

// New launches the named driver.
func New(ctx context.Context, driver string, opts Options, logger *zap.Logger) (Browser, error) {
	switch driver {
	case DriverRod:
		return NewRod(ctx, opts, logger)
	case DriverChromedp:
		return NewChromedp(ctx, opts, logger)
	default:
		return nil, fmt.Errorf("browser: unknown driver %q", driver)
	}
}
