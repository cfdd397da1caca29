// Package capture renders a site page to PNG with headless Chromium, used
// for share-preview images.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/chromedp"

	"khojum/internal/config"
	appLog "khojum/internal/log"
)

// Share previews use the common link-card size.
const (
	DefaultWidth   = 1200
	DefaultHeight  = 630
	DefaultTimeout = 30 * time.Second

	// ReadySelector is set by app.js once the list has rendered.
	ReadySelector = `[data-ready="true"]`
)

type Options struct {
	// URL of the page, e.g. "http://127.0.0.1:3000/?filter=today".
	URL string
	// OutputPath receives the PNG. Empty means CapturePagePNG only returns it.
	OutputPath string

	Width   int
	Height  int
	Timeout time.Duration
	// FullPage captures the whole document instead of the viewport.
	FullPage bool
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	u, err := url.Parse(o.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("capture: %q is not an http(s) URL", o.URL)
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

func (o Options) tasks(png *[]byte) chromedp.Tasks {
	shot := chromedp.CaptureScreenshot(png)
	if o.FullPage {
		shot = chromedp.FullScreenshot(png, 100)
	}
	return chromedp.Tasks{
		chromedp.EmulateViewport(int64(o.Width), int64(o.Height)),
		chromedp.Navigate(o.URL),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		// let web fonts and images paint
		chromedp.Sleep(300 * time.Millisecond),
		shot,
	}
}

// CapturePagePNG loads opts.URL, waits for the page to report it has
// rendered and returns the screenshot. When OutputPath is set the PNG is
// also written there atomically.
func CapturePagePNG(parent context.Context, opts Options) ([]byte, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	ctx, cancel := chromedp.NewContext(parent)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, opts.Timeout)
	defer cancelTimeout()

	var png []byte
	if err := chromedp.Run(ctx, opts.tasks(&png)); err != nil {
		return nil, fmt.Errorf("capture: %s: %w", opts.URL, err)
	}

	if opts.OutputPath != "" {
		if err := config.WriteFileAtomic(opts.OutputPath, png, 0o644); err != nil {
			return nil, fmt.Errorf("capture: write %s: %w", opts.OutputPath, err)
		}
	}
	appLog.Info("page captured", "url", opts.URL, "bytes", len(png), "path", opts.OutputPath)
	return png, nil
}
