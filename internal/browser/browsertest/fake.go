// Package browsertest provides a scriptable in-memory browser.Page.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/studiowebux/kohaload/internal/browser"
)

// ErrNotFound is returned by TextContent and WaitFor when nothing matches
var ErrNotFound = errors.New("element not found")

// Page records every call and answers queries from its maps or TextFunc.
// Action keys are "<verb> <locator>", e.g. "click #submit-button".
type Page struct {
	mu sync.Mutex

	URL         string
	Actions     []string
	Typed       map[string]string
	Screenshots []string
	Closed      bool

	Counts map[string]int
	Texts  map[string]string
	Errors map[string]error

	// TextFunc, when set, answers TextContent before Texts is consulted
	TextFunc func(p *Page, loc browser.Locator) (string, bool)
	// OnNavigate is called after Goto and after clicks that navigate
	OnNavigate func(p *Page, loc browser.Locator)
}

// NewPage returns an empty fake page
func NewPage() *Page {
	return &Page{
		Typed:  make(map[string]string),
		Counts: make(map[string]int),
		Texts:  make(map[string]string),
		Errors: make(map[string]error),
	}
}

func (p *Page) record(action string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return browser.ErrClosed
	}
	p.Actions = append(p.Actions, action)
	return p.Errors[action]
}

// Did reports whether action was recorded
func (p *Page) Did(action string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// ActionLog returns a copy of the recorded actions
func (p *Page) ActionLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Actions...)
}

// TypedInto returns what was last typed into loc
func (p *Page) TypedInto(loc browser.Locator) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Typed[loc.String()]
}

func (p *Page) Goto(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.record("goto " + url); err != nil {
		return err
	}
	p.mu.Lock()
	p.URL = url
	hook := p.OnNavigate
	p.mu.Unlock()
	if hook != nil {
		hook(p, browser.Locator{})
	}
	return nil
}

func (p *Page) GotoIdle(ctx context.Context, url string) error {
	return p.Goto(ctx, url)
}

func (p *Page) Count(ctx context.Context, loc browser.Locator) (int, error) {
	if err := p.record("count " + loc.String()); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Counts[loc.String()], nil
}

func (p *Page) Click(ctx context.Context, loc browser.Locator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.record("click " + loc.String())
}

func (p *Page) ClickAndWaitNavigation(ctx context.Context, loc browser.Locator) error {
	if err := p.Click(ctx, loc); err != nil {
		return err
	}
	p.mu.Lock()
	hook := p.OnNavigate
	p.mu.Unlock()
	if hook != nil {
		hook(p, loc)
	}
	return nil
}

func (p *Page) Type(ctx context.Context, loc browser.Locator, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.record("type " + loc.String()); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Typed[loc.String()] = text
	return nil
}

func (p *Page) TextContent(ctx context.Context, loc browser.Locator) (string, error) {
	if err := p.record("text " + loc.String()); err != nil {
		return "", err
	}
	p.mu.Lock()
	fn := p.TextFunc
	p.mu.Unlock()
	if fn != nil {
		if text, ok := fn(p, loc); ok {
			return text, nil
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	text, ok := p.Texts[loc.String()]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, loc)
	}
	return text, nil
}

func (p *Page) WaitFor(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.record("wait " + loc.String())
}

func (p *Page) Screenshot(ctx context.Context, path string) error {
	if err := p.record("screenshot " + path); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Screenshots = append(p.Screenshots, path)
	return nil
}

// ScreenshotPaths returns a copy of the captured screenshot paths
func (p *Page) ScreenshotPaths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Screenshots...)
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Factory hands out pages built by New
type Factory struct {
	mu    sync.Mutex
	New   func() *Page
	Pages []*Page
	Err   error
}

func (f *Factory) NewPage(ctx context.Context) (browser.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var p *Page
	if f.New != nil {
		p = f.New()
	} else {
		p = NewPage()
	}
	f.Pages = append(f.Pages, p)
	return p, nil
}

// Opened returns the pages created so far
func (f *Factory) Opened() []*Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Page(nil), f.Pages...)
}
