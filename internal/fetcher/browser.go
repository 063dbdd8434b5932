package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// Browser fetches pages through a headless Chrome instance. The allocator
// context is created once and reused; each fetch runs in its own tab context.
type Browser struct {
	userAgent string
	timeout   time.Duration

	once     sync.Once
	allocCtx context.Context
	cancel   context.CancelFunc
}

func NewBrowser(userAgent string, timeout time.Duration) *Browser {
	return &Browser{userAgent: userAgent, timeout: timeout}
}

func (b *Browser) allocator() context.Context {
	b.once.Do(func() {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.UserAgent(b.userAgent),
		)
		b.allocCtx, b.cancel = chromedp.NewExecAllocator(context.Background(), opts...)
	})
	return b.allocCtx
}

func (b *Browser) Fetch(ctx context.Context, url string) (string, error) {
	taskCtx, taskCancel := chromedp.NewContext(b.allocator())
	defer taskCancel()

	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, b.timeout)
	defer timeoutCancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			taskCancel()
		case <-done:
		}
	}()
	defer close(done)

	var htmlContent string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.WaitVisible("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &htmlContent),
	)
	if err != nil {
		return "", err
	}
	return htmlContent, nil
}

// Close tears down the shared browser allocator.
func (b *Browser) Close() {
	if b.cancel != nil {
		b.cancel()
	}
}
