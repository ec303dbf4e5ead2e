package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"urlscan/packages/logging"
	"urlscan/packages/verify"
)

// Chrome encodes full-page screenshots as JPEG for any quality below 100.
const screenshotQuality = 100

// ChromeRenderer drives a single headless Chrome process. Each Render opens
// its own tab.
type ChromeRenderer struct {
	allocCtx     context.Context
	cancelAlloc  context.CancelFunc
	browserCtx   context.Context
	cancelBrowse context.CancelFunc
	startOnce    sync.Once
	startErr     error
	logger       *slog.Logger
}

func NewChromeRenderer(headless bool, logger *slog.Logger) *ChromeRenderer {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("ignore-certificate-errors", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowse := chromedp.NewContext(allocCtx)
	return &ChromeRenderer{
		allocCtx:     allocCtx,
		cancelAlloc:  cancelAlloc,
		browserCtx:   browserCtx,
		cancelBrowse: cancelBrowse,
		logger:       logging.OrDiscard(logger),
	}
}

func (r *ChromeRenderer) start() error {
	r.startOnce.Do(func() {
		r.logger.Info("Starting browser")
		if err := chromedp.Run(r.browserCtx); err != nil {
			r.startErr = fmt.Errorf("start browser: %w", err)
		}
	})
	return r.startErr
}

func (r *ChromeRenderer) Render(ctx context.Context, rawURL, userAgent string, vp Viewport) (*Page, error) {
	if err := r.start(); err != nil {
		return nil, fmt.Errorf("%w: %v", verify.ErrTransport, err)
	}

	tabCtx, cancel := chromedp.NewContext(r.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	// The first document response is the main frame after redirects.
	var status atomic.Int64
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*network.EventResponseReceived); ok && e.Type == network.ResourceTypeDocument && e.Response != nil {
			status.CompareAndSwap(0, e.Response.Status)
		}
	})

	var (
		shot     []byte
		html     string
		location string
	)
	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height)),
	}
	if userAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(userAgent))
	}
	tasks = append(tasks,
		chromedp.Navigate(rawURL),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.FullScreenshot(&shot, screenshotQuality),
	)
	if err := chromedp.Run(tabCtx, tasks); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", verify.ErrTransport, ctx.Err())
		}
		return nil, fmt.Errorf("%w: render %s: %v", verify.ErrTransport, rawURL, err)
	}

	return &Page{
		Status:     status.Load(),
		HTML:       html,
		Screenshot: shot,
		FinalURL:   location,
	}, nil
}

// Close shuts the browser down.
func (r *ChromeRenderer) Close() {
	r.cancelBrowse()
	r.cancelAlloc()
}
