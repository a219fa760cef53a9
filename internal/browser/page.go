// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/undefined996/page-agent/internal/agent"
	"github.com/undefined996/page-agent/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const actionTimeout = 10 * time.Second

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("browser page is closed")

// Page drives a single Chrome tab and implements agent.PageController.
type Page struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	// ctx carries the chromedp target. Operational contexts are combined with
	// it so CDP values survive.
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	closeOnce sync.Once
}

var _ agent.PageController = (*Page)(nil)

// execOptions builds the allocator flags for cfg.
func execOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-popup-blocking", true),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Launch starts Chrome and opens a blank tab. The browser outlives ctx and
// stays up until Close.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Page, error) {
	logger = logger.Named("browser")

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), execOptions(cfg)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Warnf),
	)

	p := &Page{
		cfg:         cfg,
		logger:      logger,
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
	}

	// The first Run allocates the browser; it must not carry a deadline.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()

	select {
	case err := <-started:
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	case <-ctx.Done():
		p.Close()
		return nil, ctx.Err()
	}

	logger.Info("Browser launched", zap.Bool("headless", cfg.Headless), zap.String("exec_path", cfg.ExecPath))
	return p, nil
}

// Close shuts the tab and the browser process down. Safe to call repeatedly.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		p.cancelTab()
		p.cancelAlloc()
		p.logger.Debug("Browser closed")
	})
}

// runActions executes chromedp actions bound to both the tab and ctx.
func (p *Page) runActions(ctx context.Context, actions ...chromedp.Action) error {
	if p.ctx.Err() != nil {
		return ErrClosed
	}
	runCtx, cancel := combineContext(p.ctx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// evaluate runs expression in the page and decodes the returned value into res.
func (p *Page) evaluate(ctx context.Context, expression string, res any) error {
	return p.runActions(ctx, chromedp.Evaluate(expression, res, func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithAwaitPromise(true)
	}))
}

// Navigate loads url and waits for the document body.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.NavigationTimeout)
		defer cancel()
	}
	if err := p.runActions(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	p.logger.Info("Navigated", zap.String("url", url))
	return nil
}

// BrowserState indexes the interactive elements of the current document.
func (p *Page) BrowserState(ctx context.Context) (*agent.BrowserState, error) {
	var snap snapshot
	if err := p.evaluate(ctx, snapshotScript, &snap); err != nil {
		return nil, fmt.Errorf("failed to snapshot page: %w", err)
	}
	return snap.state(p.cfg.ContentLimit), nil
}

func elementSelector(index int) string {
	return `[` + indexAttribute + `="` + strconv.Itoa(index) + `"]`
}

// requireElement fails when index was not assigned by the latest snapshot.
func (p *Page) requireElement(ctx context.Context, index int) error {
	expr, err := callExpression(existsScript, index)
	if err != nil {
		return err
	}
	var ok bool
	if err := p.evaluate(ctx, expr, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element with index %d not found", index)
	}
	return nil
}

func withActionTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, actionTimeout)
}

// ClickElement clicks the element with the given index.
func (p *Page) ClickElement(ctx context.Context, index int) (string, error) {
	ctx, cancel := withActionTimeout(ctx)
	defer cancel()

	if err := p.requireElement(ctx, index); err != nil {
		return "", err
	}
	sel := elementSelector(index)
	if err := p.runActions(ctx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible),
	); err != nil {
		return "", fmt.Errorf("failed to click element %d: %w", index, err)
	}
	return fmt.Sprintf("Clicked element %d", index), nil
}

// InputText replaces the value of the element with the given index.
func (p *Page) InputText(ctx context.Context, index int, text string) (string, error) {
	ctx, cancel := withActionTimeout(ctx)
	defer cancel()

	if err := p.requireElement(ctx, index); err != nil {
		return "", err
	}
	sel := elementSelector(index)
	if err := p.runActions(ctx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("failed to input text into element %d: %w", index, err)
	}
	return fmt.Sprintf("Input %q into element %d", text, index), nil
}

type scriptResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// SelectOption picks the option whose visible text matches optionText.
func (p *Page) SelectOption(ctx context.Context, index int, optionText string) (string, error) {
	ctx, cancel := withActionTimeout(ctx)
	defer cancel()

	expr, err := callExpression(selectOptionScript, index, optionText)
	if err != nil {
		return "", err
	}
	var res scriptResult
	if err := p.evaluate(ctx, expr, &res); err != nil {
		return "", fmt.Errorf("failed to select option: %w", err)
	}
	if !res.OK {
		return "", errors.New(res.Message)
	}
	return res.Message, nil
}

type scrollResult struct {
	OK             bool   `json:"ok"`
	Message        string `json:"message"`
	Moved          int    `json:"moved"`
	ViewportHeight int    `json:"viewportHeight"`
	ViewportWidth  int    `json:"viewportWidth"`
}

// Scroll moves the document or an element vertically.
func (p *Page) Scroll(ctx context.Context, opts agent.ScrollOptions) (string, error) {
	dy, pages := verticalDelta(opts)
	return p.scroll(ctx, opts.Index, 0, dy, pages, describeVertical(opts))
}

// ScrollHorizontally moves the document or an element horizontally.
func (p *Page) ScrollHorizontally(ctx context.Context, opts agent.ScrollOptions) (string, error) {
	dx := opts.Pixels
	if !opts.Forward {
		dx = -dx
	}
	direction := "left"
	if opts.Forward {
		direction = "right"
	}
	return p.scroll(ctx, opts.Index, dx, 0, 0, fmt.Sprintf("%s by %d pixels", direction, opts.Pixels))
}

func (p *Page) scroll(ctx context.Context, index *int, dx, dy int, pages float64, description string) (string, error) {
	ctx, cancel := withActionTimeout(ctx)
	defer cancel()

	target := -1
	if index != nil {
		target = *index
	}
	expr, err := callExpression(scrollScript, target, dx, dy, pages)
	if err != nil {
		return "", err
	}
	var res scrollResult
	if err := p.evaluate(ctx, expr, &res); err != nil {
		return "", fmt.Errorf("failed to scroll: %w", err)
	}
	if !res.OK {
		return "", errors.New(res.Message)
	}
	if res.Moved == 0 {
		return "Scrolled " + description + ", but the position did not change (already at the edge)", nil
	}
	return "Scrolled " + description, nil
}

// ExecuteJavascript runs script as the body of an async function and returns
// its result rendered as text.
func (p *Page) ExecuteJavascript(ctx context.Context, script string) (string, error) {
	var res *runtime.RemoteObject
	expr := "(async () => {\n" + script + "\n})()"
	err := p.runActions(ctx, chromedp.Evaluate(expr, &res, func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithAwaitPromise(true).WithReturnByValue(true)
	}))
	if err != nil {
		return "", fmt.Errorf("script failed: %w", err)
	}
	return renderRemoteObject(res), nil
}

// CleanUp strips the index attributes left by the last snapshot.
func (p *Page) CleanUp(ctx context.Context) error {
	var removed int
	if err := p.evaluate(ctx, cleanupScript, &removed); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return fmt.Errorf("failed to clean up page: %w", err)
	}
	p.logger.Debug("Removed element indexes", zap.Int("count", removed))
	return nil
}
