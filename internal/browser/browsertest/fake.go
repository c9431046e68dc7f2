// Package browsertest provides in-memory browser fakes for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"demoagent-server/internal/browser"
)

// Call records one primitive invoked on a FakePage.
type Call struct {
	Op     string
	Target string
	Value  string
}

// FakePage is a scripted browser.Page. Selectors listed in Present resolve;
// every other selector fails. FailClicks makes the first N clicks fail even on
// present selectors.
type FakePage struct {
	mu sync.Mutex

	Present        map[string]bool
	FailClicks     int
	FailFills      int
	NavigateErr    error
	EvaluateErr    error
	IdleErr        error
	ScreenshotErr  error
	ScreenshotData []byte

	// FailScreenshots makes the next N screenshots fail.
	FailScreenshots int

	url   string
	calls []Call
}

func NewFakePage(present ...string) *FakePage {
	p := &FakePage{
		Present:        make(map[string]bool),
		ScreenshotData: []byte{0xff, 0xd8, 0xff, 0xd9},
		url:            "about:blank",
	}
	for _, sel := range present {
		p.Present[sel] = true
	}
	return p
}

func (p *FakePage) record(c Call) {
	p.calls = append(p.calls, c)
}

// Calls returns every recorded primitive in order.
func (p *FakePage) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallsOf returns the recorded calls for one primitive.
func (p *FakePage) CallsOf(op string) []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Mutations counts calls that change page state.
func (p *FakePage) Mutations() int {
	n := 0
	for _, c := range p.Calls() {
		switch c.Op {
		case "navigate", "click", "fill", "evaluate":
			n++
		}
	}
	return n
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(Call{Op: "navigate", Target: url})
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.url = url
	return nil
}

func (p *FakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *FakePage) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(Call{Op: "click", Target: selector})
	if !p.Present[selector] {
		return fmt.Errorf("element not found: %s", selector)
	}
	if p.FailClicks > 0 {
		p.FailClicks--
		return errors.New("element not interactable")
	}
	return nil
}

func (p *FakePage) Fill(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(Call{Op: "fill", Target: selector, Value: value})
	if !p.Present[selector] {
		return fmt.Errorf("element not found: %s", selector)
	}
	if p.FailFills > 0 {
		p.FailFills--
		return errors.New("element not editable")
	}
	return nil
}

func (p *FakePage) Evaluate(_ context.Context, script string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(Call{Op: "evaluate", Value: script})
	return p.EvaluateErr
}

func (p *FakePage) WaitForSelector(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(Call{Op: "wait_for_selector", Target: selector})
	if !p.Present[selector] {
		return fmt.Errorf("timed out waiting for %s", selector)
	}
	return nil
}

func (p *FakePage) WaitNetworkIdle(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(Call{Op: "network_idle"})
	return p.IdleErr
}

func (p *FakePage) Screenshot(_ context.Context, quality int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(Call{Op: "screenshot", Value: fmt.Sprint(quality)})
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	if p.FailScreenshots > 0 {
		p.FailScreenshots--
		return nil, errors.New("screenshot failed")
	}
	return append([]byte(nil), p.ScreenshotData...), nil
}

// FakeEngine hands out one FakePage per NewPage call.
type FakeEngine struct {
	mu       sync.Mutex
	MakePage func() (*FakePage, error)
	CloseErr error
	closed   int
	pages    []*FakePage
}

func (e *FakeEngine) NewPage(context.Context) (browser.Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var (
		page *FakePage
		err  error
	)
	if e.MakePage != nil {
		page, err = e.MakePage()
	} else {
		page = NewFakePage()
	}
	if err != nil {
		return nil, err
	}
	e.pages = append(e.pages, page)
	return page, nil
}

func (e *FakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return e.CloseErr
}

// Closed reports how many times Close was called.
func (e *FakeEngine) Closed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Pages returns the pages created so far.
func (e *FakeEngine) Pages() []*FakePage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*FakePage(nil), e.pages...)
}

// FakeLauncher launches FakeEngines, or fails with LaunchErr.
type FakeLauncher struct {
	mu        sync.Mutex
	LaunchErr error
	// Page, when set, is returned by every launched engine.
	Page    *FakePage
	PageErr error
	engines []*FakeEngine
}

func (l *FakeLauncher) Launch(context.Context) (browser.Engine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	eng := &FakeEngine{}
	page, pageErr := l.Page, l.PageErr
	eng.MakePage = func() (*FakePage, error) {
		if pageErr != nil {
			return nil, pageErr
		}
		if page != nil {
			return page, nil
		}
		return NewFakePage(), nil
	}
	l.engines = append(l.engines, eng)
	return eng, nil
}

// Engines returns every engine launched so far.
func (l *FakeLauncher) Engines() []*FakeEngine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*FakeEngine(nil), l.engines...)
}
