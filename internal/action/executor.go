package action

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"demoagent-server/internal/browser"

	"go.uber.org/zap"
)

// ErrInvalidURL rejects navigation targets that are not absolute http(s) URLs.
var ErrInvalidURL = errors.New("invalid URL")

// DefaultSelectorTimeout applies to WaitForSelector when no timeout is given.
const DefaultSelectorTimeout = 30 * time.Second

const (
	scrollDownScript = "() => window.scrollBy(0, window.innerHeight * 0.8)"
	scrollUpScript   = "() => window.scrollBy(0, -window.innerHeight * 0.8)"
)

// Mode selects the per-attempt timeout for click and type.
type Mode int

const (
	// ModeSetup runs a demo's predefined script.
	ModeSetup Mode = iota
	// ModeTurn runs an action chosen during a conversational turn.
	ModeTurn
)

func (m Mode) String() string {
	if m == ModeSetup {
		return "setup"
	}
	return "turn"
}

// Timeouts bounds each kind of browser operation.
type Timeouts struct {
	Setup      time.Duration
	Turn       time.Duration
	Navigation time.Duration
	Idle       time.Duration
}

// DefaultTimeouts mirrors the config defaults.
var DefaultTimeouts = Timeouts{
	Setup:      10 * time.Second,
	Turn:       5 * time.Second,
	Navigation: 15 * time.Second,
	Idle:       10 * time.Second,
}

// URLSink receives the page location after a successful navigation.
type URLSink interface {
	SetCurrentURL(url string)
}

// Failure describes an action that could not be carried out.
type Failure struct {
	Kind     Kind
	Target   string
	Attempts int
	Cause    error
}

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString(string(f.Kind))
	if f.Target != "" {
		fmt.Fprintf(&b, " %q", f.Target)
	}
	if f.Attempts > 1 {
		fmt.Fprintf(&b, " failed after %d attempts", f.Attempts)
	} else {
		b.WriteString(" failed")
	}
	if f.Cause != nil {
		b.WriteString(": ")
		b.WriteString(f.Cause.Error())
	}
	return b.String()
}

func (f *Failure) Unwrap() error { return f.Cause }

// Result is the outcome of one Execute call. Failure is nil on success;
// Warning is set when the descriptor was inert.
type Result struct {
	Kind     Kind
	Target   string
	Attempts int
	Warning  string
	Failure  *Failure
}

// OK reports whether the action completed or was skipped as inert.
func (r Result) OK() bool { return r.Failure == nil }

// Skipped reports whether the descriptor was inert.
func (r Result) Skipped() bool { return r.Warning != "" }

// Executor runs descriptors against a page with bounded retry.
type Executor struct {
	timeouts Timeouts
	policy   Policy
	sleep    SleepFunc
	urls     URLSink
	logger   *zap.Logger
}

// Option customizes an Executor.
type Option func(*Executor)

// WithPolicy overrides the click/type retry policy.
func WithPolicy(p Policy) Option { return func(e *Executor) { e.policy = p } }

// WithSleep injects the clock used for retry delays and wait actions.
func WithSleep(s SleepFunc) Option { return func(e *Executor) { e.sleep = s } }

// WithURLSink registers where navigations report the new location.
func WithURLSink(s URLSink) Option { return func(e *Executor) { e.urls = s } }

func WithLogger(l *zap.Logger) Option { return func(e *Executor) { e.logger = l } }

func NewExecutor(timeouts Timeouts, opts ...Option) *Executor {
	e := &Executor{
		timeouts: timeouts,
		policy:   DefaultPolicy,
		sleep:    Sleep,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute performs d against page. Failures are returned in the Result,
// never as a panic or error, so callers can fold them into a reply.
func (e *Executor) Execute(ctx context.Context, d Descriptor, page browser.Page, mode Mode) Result {
	if d == nil {
		d = Inert{Reason: "missing action"}
	}
	res := Result{Kind: d.Kind(), Target: d.Target()}

	var err error
	switch a := d.(type) {
	case Click:
		res.Attempts, err = e.retry(ctx, mode, func(ctx context.Context) error {
			return page.Click(ctx, a.Selector)
		})
		if err == nil {
			e.waitIdle(ctx, page, KindClick, a.Selector)
		}
	case Type:
		res.Attempts, err = e.retry(ctx, mode, func(ctx context.Context) error {
			return page.Fill(ctx, a.Selector, a.Value)
		})
	case Navigate:
		res.Attempts = 1
		err = e.NavigateTo(ctx, page, a.URL, e.timeouts.Navigation)
	case Scroll:
		res.Attempts = 1
		script := scrollDownScript
		if a.Direction == Up {
			script = scrollUpScript
		}
		err = page.Evaluate(ctx, script)
	case Wait:
		res.Attempts = 1
		err = e.sleep(ctx, a.Duration)
	case WaitForSelector:
		res.Attempts = 1
		timeout := a.Timeout
		if timeout <= 0 {
			timeout = DefaultSelectorTimeout
		}
		wctx, cancel := context.WithTimeout(ctx, timeout)
		err = page.WaitForSelector(wctx, a.Selector)
		cancel()
	case Inert:
		res.Warning = a.Reason
		if res.Warning == "" {
			res.Warning = "unrecognized action"
		}
		e.logger.Warn("skipping inert action",
			zap.String("action", a.Action),
			zap.String("reason", a.Reason),
			zap.Stringer("mode", mode))
		return res
	}

	if err != nil {
		res.Failure = &Failure{Kind: res.Kind, Target: res.Target, Attempts: res.Attempts, Cause: err}
		e.logger.Warn("action failed",
			zap.String("action", string(res.Kind)),
			zap.String("target", res.Target),
			zap.Int("attempts", res.Attempts),
			zap.Stringer("mode", mode),
			zap.Error(err))
		return res
	}

	e.logger.Debug("action executed",
		zap.String("action", string(res.Kind)),
		zap.String("target", res.Target),
		zap.Int("attempts", res.Attempts))
	return res
}

// NavigateTo validates target and loads it within timeout, then waits for
// network idle before reporting the resulting location to the URL sink.
func (e *Executor) NavigateTo(ctx context.Context, page browser.Page, target string, timeout time.Duration) error {
	if err := ValidateURL(target); err != nil {
		return err
	}
	nctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := page.Navigate(nctx, target); err != nil {
		return fmt.Errorf("navigate to %s: %w", target, err)
	}
	e.waitIdle(ctx, page, KindNavigate, target)
	if e.urls != nil {
		current := page.URL()
		if current == "" {
			current = target
		}
		e.urls.SetCurrentURL(current)
	}
	return nil
}

func (e *Executor) retry(ctx context.Context, mode Mode, op func(ctx context.Context) error) (int, error) {
	timeout := e.timeouts.Turn
	if mode == ModeSetup {
		timeout = e.timeouts.Setup
	}
	return Retry(ctx, e.policy, e.sleep, func(ctx context.Context, attempt int) error {
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := op(actx)
		if err != nil {
			e.logger.Debug("attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
}

// waitIdle lets the network activity of a click or navigation settle. Pages
// that never go idle are not an error.
func (e *Executor) waitIdle(ctx context.Context, page browser.Page, kind Kind, target string) {
	ictx, cancel := context.WithTimeout(ctx, e.timeouts.Idle)
	defer cancel()
	if err := page.WaitNetworkIdle(ictx); err != nil {
		e.logger.Info("network did not settle",
			zap.String("after", string(kind)),
			zap.String("target", target),
			zap.Error(err),
		)
	}
}

// ValidateURL accepts absolute http and https URLs only.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q must start with http:// or https://", ErrInvalidURL, raw)
	}
	return nil
}
