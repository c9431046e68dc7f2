package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"demoagent-server/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// requestIdleWindow is how long the network must stay quiet to count as idle.
const requestIdleWindow = 500 * time.Millisecond

// RodLauncher launches a dedicated Chrome process through Rod's launcher.
type RodLauncher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

func NewRodLauncher(cfg config.BrowserConfig, logger *zap.Logger) *RodLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RodLauncher{cfg: cfg, logger: logger}
}

// Launch starts Chrome and connects to it. On failure any started process is killed.
func (l *RodLauncher) Launch(_ context.Context) (Engine, error) {
	launch := launcher.New().Headless(l.cfg.IsHeadless())
	if l.cfg.Bin != "" {
		launch = launch.Bin(l.cfg.Bin)
	}
	for _, rawFlag := range l.cfg.Flags {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			launch = launch.Set(flags.Flag(name), val)
		} else {
			launch = launch.Set(flags.Flag(name))
		}
	}

	controlURL, err := launch.Launch()
	if err != nil {
		launch.Kill()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	// The browser outlives the request that opened it, so it is not bound to ctx.
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		launch.Kill()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	l.logger.Info("browser connected", zap.String("control_url", controlURL))
	return &rodEngine{cfg: l.cfg, browser: browser, launch: launch}, nil
}

type rodEngine struct {
	cfg     config.BrowserConfig
	browser *rod.Browser
	launch  *launcher.Launcher
}

func (e *rodEngine) NewPage(ctx context.Context) (Page, error) {
	page, err := e.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	// Drop the creation context so later calls pick their own deadlines.
	page = page.Context(context.Background())

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             e.cfg.GetViewportWidth(),
		Height:            e.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	return &rodPage{page: page}, nil
}

func (e *rodEngine) Close() error {
	err := e.browser.Close()
	e.launch.Kill()
	e.launch.Cleanup()
	return err
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil || info == nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element not found: %s: %w", selector, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) Fill(ctx context.Context, selector, value string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("element not found: %s: %w", selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	if value == "" {
		_, err := el.Eval(`() => { this.value = ""; this.dispatchEvent(new Event("input", { bubbles: true })); }`)
		return err
	}
	return el.Input(value)
}

func (p *rodPage) Evaluate(ctx context.Context, script string) error {
	_, err := p.page.Context(ctx).Eval(script)
	return err
}

func (p *rodPage) WaitForSelector(ctx context.Context, selector string) error {
	_, err := p.page.Context(ctx).Element(selector)
	return err
}

func (p *rodPage) WaitNetworkIdle(ctx context.Context) error {
	wait := p.page.Context(ctx).WaitRequestIdle(requestIdleWindow, nil, nil, nil)
	wait()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("network idle: %w", err)
	}
	return nil
}

func (p *rodPage) Screenshot(ctx context.Context, quality int) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: &quality,
	})
}
