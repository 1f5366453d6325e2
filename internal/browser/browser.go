// Package browser drives Chromium through the DevTools protocol.
//
// Each Page is a tab in its own browser context, so cookies and the staff
// session are never shared between virtual users.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/studiowebux/kohaload/internal/logging"
)

const (
	DefaultActionTimeout = 30 * time.Second
	DefaultIdleTimeout   = 10 * time.Second
)

// ErrClosed is returned when a page is used after Close
var ErrClosed = errors.New("page closed")

// Page is the subset of page automation the workflows need
type Page interface {
	// Goto navigates and waits for the load event
	Goto(ctx context.Context, url string) error
	// GotoIdle navigates and waits until the network is idle
	GotoIdle(ctx context.Context, url string) error
	// Count returns the number of elements matching loc without waiting
	Count(ctx context.Context, loc Locator) (int, error)
	Click(ctx context.Context, loc Locator) error
	// ClickAndWaitNavigation clicks loc and waits for the next page load
	ClickAndWaitNavigation(ctx context.Context, loc Locator) error
	Type(ctx context.Context, loc Locator, text string) error
	// TextContent returns the text of the first element matching loc
	TextContent(ctx context.Context, loc Locator) (string, error)
	WaitFor(ctx context.Context, loc Locator, timeout time.Duration) error
	Screenshot(ctx context.Context, path string) error
	Close() error
}

// Factory opens pages
type Factory interface {
	NewPage(ctx context.Context) (Page, error)
}

// Options configures the browser launch
type Options struct {
	Headless      bool          `mapstructure:"headless"`
	ExecPath      string        `mapstructure:"exec_path"`
	NoSandbox     bool          `mapstructure:"no_sandbox"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	WindowWidth   int           `mapstructure:"window_width"`
	WindowHeight  int           `mapstructure:"window_height"`
}

// DefaultOptions returns headless defaults
func DefaultOptions() Options {
	return Options{
		Headless:      true,
		ActionTimeout: DefaultActionTimeout,
		IdleTimeout:   DefaultIdleTimeout,
		WindowWidth:   1280,
		WindowHeight:  1024,
	}
}

// Browser is a running Chromium instance
type Browser struct {
	opts        Options
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *slog.Logger
}

// Launch starts Chromium; the process lives until Close or ctx is cancelled
func Launch(ctx context.Context, opts Options, logger *slog.Logger) (*Browser, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = DefaultActionTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.Flag("headless", opts.Headless))
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...), "component", "chromedp")
		}),
	)

	// the first Run starts the browser process
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	logger.Info("browser launched", "headless", opts.Headless, "exec_path", opts.ExecPath)

	return &Browser{
		opts:        opts,
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// NewPage opens a tab in a fresh browser context
func (b *Browser) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx, chromedp.WithNewBrowserContext())
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return &chromePage{ctx: tabCtx, cancel: cancel, opts: b.opts}, nil
}

// Close shuts the browser down
func (b *Browser) Close() error {
	b.cancel()
	b.allocCancel()
	return nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   Options
}

// op derives a context bound to the tab, the caller's ctx and a timeout
func (p *chromePage) op(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if err := p.ctx.Err(); err != nil {
		return nil, nil, ErrClosed
	}
	opCtx, cancel := context.WithTimeout(p.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}, nil
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, done, err := p.op(ctx, p.opts.ActionTimeout)
	if err != nil {
		return err
	}
	defer done()
	if err := chromedp.Run(opCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (p *chromePage) Goto(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("goto %s: %w", url, err)
	}
	return nil
}

func (p *chromePage) GotoIdle(ctx context.Context, url string) error {
	idle := make(chan struct{}, 1)
	listenCtx, stopListening := context.WithCancel(p.ctx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, func(ev any) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})

	err := p.run(ctx,
		page.SetLifecycleEventsEnabled(true),
		chromedp.Navigate(url),
	)
	if err != nil {
		return fmt.Errorf("goto %s: %w", url, err)
	}

	// pages that keep polling never go idle; the load event already fired
	select {
	case <-idle:
	case <-time.After(p.opts.IdleTimeout):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *chromePage) Count(ctx context.Context, loc Locator) (int, error) {
	sel, by := loc.queryAll()
	var nodes []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(sel, &nodes, by, chromedp.AtLeast(0))); err != nil {
		return 0, fmt.Errorf("count %s: %w", loc, err)
	}
	return len(nodes), nil
}

func (p *chromePage) Click(ctx context.Context, loc Locator) error {
	sel, by := loc.query()
	if err := p.run(ctx, chromedp.Click(sel, by)); err != nil {
		return fmt.Errorf("click %s: %w", loc, err)
	}
	return nil
}

func (p *chromePage) ClickAndWaitNavigation(ctx context.Context, loc Locator) error {
	loaded := make(chan struct{}, 1)
	listenCtx, stopListening := context.WithCancel(p.ctx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, func(ev any) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			select {
			case loaded <- struct{}{}:
			default:
			}
		}
	})

	if err := p.Click(ctx, loc); err != nil {
		return err
	}

	timer := time.NewTimer(p.opts.ActionTimeout)
	defer timer.Stop()
	select {
	case <-loaded:
		return nil
	case <-timer.C:
		return fmt.Errorf("navigation after click %s: %w", loc, context.DeadlineExceeded)
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrClosed
	}
}

func (p *chromePage) Type(ctx context.Context, loc Locator, text string) error {
	sel, by := loc.query()
	if err := p.run(ctx, chromedp.SendKeys(sel, text, by)); err != nil {
		return fmt.Errorf("type into %s: %w", loc, err)
	}
	return nil
}

func (p *chromePage) TextContent(ctx context.Context, loc Locator) (string, error) {
	sel, by := loc.query()
	var text string
	if err := p.run(ctx, chromedp.TextContent(sel, &text, by)); err != nil {
		return "", fmt.Errorf("text of %s: %w", loc, err)
	}
	return text, nil
}

func (p *chromePage) WaitFor(ctx context.Context, loc Locator, timeout time.Duration) error {
	opCtx, done, err := p.op(ctx, timeout)
	if err != nil {
		return err
	}
	defer done()

	sel, by := loc.query()
	if err := chromedp.Run(opCtx, chromedp.WaitVisible(sel, by)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("wait for %s: %w", loc, err)
	}
	return nil
}

func (p *chromePage) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	return nil
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}
