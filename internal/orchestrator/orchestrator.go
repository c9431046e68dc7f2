// Package orchestrator runs demo turns: starting a demo, answering a visitor
// message with a decision and an optional browser action, and stopping.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"demoagent-server/internal/action"
	"demoagent-server/internal/browser"
	"demoagent-server/internal/conversation"
	"demoagent-server/internal/decision"
	"demoagent-server/internal/demo"
	"demoagent-server/internal/journal"
	"demoagent-server/internal/metrics"
	"demoagent-server/internal/recorder"
)

const defaultTag = "twitter"

// Caveats appended to replies when an action goes wrong.
const (
	invalidURLCaveat   = " I received an invalid URL for navigation. Please provide a full URL starting with http:// or https://."
	unrecognizedCaveat = " I received an unrecognized web action from the AI."
)

func setupCaveat(err error) string {
	return fmt.Sprintf(" I encountered an issue during setup: %v. I'll proceed, but please be aware.", err)
}

func actionCaveat(err error) string {
	return fmt.Sprintf(" I tried to perform an action on the website but encountered an issue: %v. Let's try something else.", err)
}

// Response is the reply for one demo operation. Screenshot holds JPEG bytes.
type Response struct {
	AIResponse string
	Screenshot []byte
}

// DemoLoader resolves a demo tag to its definition.
type DemoLoader interface {
	Load(tag string) (demo.Config, error)
}

// Options wires the orchestrator's collaborators. Journal, Recorder and
// Metrics may be nil.
type Options struct {
	Sessions *browser.SessionManager
	Executor *action.Executor
	Demos    DemoLoader
	Decider  decision.Service
	State    *conversation.State

	Journal  *journal.Journal
	Recorder *recorder.Recorder
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	DefaultTag        string
	StartNavTimeout   time.Duration
	ScreenshotQuality int
}

// Orchestrator serializes StartDemo, Interact and StopDemo so exactly one
// demo runs at a time.
type Orchestrator struct {
	opts   Options
	logger *zap.Logger

	mu    sync.Mutex
	runID string
	turns int
}

func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.State == nil {
		opts.State = conversation.NewState()
	}
	if opts.DefaultTag == "" {
		opts.DefaultTag = defaultTag
	}
	if opts.StartNavTimeout <= 0 {
		opts.StartNavTimeout = 30 * time.Second
	}
	if opts.ScreenshotQuality <= 0 {
		opts.ScreenshotQuality = 85
	}

	o := &Orchestrator{opts: opts, logger: opts.Logger}
	opts.Sessions.OnClose(func() {
		opts.State.Clear()
		opts.Metrics.Session(false)
	})
	return o
}

// Session returns the current session metadata.
func (o *Orchestrator) Session() browser.Session {
	return o.opts.Sessions.Current()
}

// Conversation returns the current conversation context.
func (o *Orchestrator) Conversation() conversation.Context {
	return o.opts.State.Context()
}

// StartDemo replaces any running demo with the one named by tag, runs its
// setup script and returns the greeting with a screenshot. Setup action
// failures become caveats in the greeting.
func (o *Orchestrator) StartDemo(ctx context.Context, tag string) (resp Response, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer func() { o.opts.Metrics.Turn("start_demo", err) }()

	tag = strings.TrimSpace(tag)
	if tag == "" {
		tag = o.opts.DefaultTag
	}

	cfg, err := o.opts.Demos.Load(tag)
	if err != nil {
		o.closeLocked(ctx)
		return Response{}, err
	}

	o.closeLocked(ctx)
	sess, err := o.opts.Sessions.Open(ctx)
	if err != nil {
		return Response{}, err
	}
	o.opts.Metrics.Session(true)
	o.opts.State.Reset(cfg.ProductFeatures)
	o.runID, o.turns = sess.ID, 0

	log := o.logger.With(zap.String("run_id", o.runID), zap.String("tag", tag))
	log.Info("starting demo", zap.String("start_url", cfg.StartURL))
	o.journal(ctx, journal.DemoStarted(o.runID, tag, cfg.StartURL))
	if err := o.opts.Recorder.Begin(o.runID, map[string]string{"tag": tag, "start_url": cfg.StartURL}); err != nil {
		log.Warn("trace unavailable", zap.Error(err))
	}

	page, err := o.opts.Sessions.EnsureActive()
	if err != nil {
		o.closeLocked(ctx)
		return Response{}, err
	}
	if err := o.opts.Executor.NavigateTo(ctx, page, cfg.StartURL, o.opts.StartNavTimeout); err != nil {
		o.closeLocked(ctx)
		return Response{}, fmt.Errorf("open start url: %w", err)
	}

	greeting := cfg.InitialGreeting
	for _, d := range cfg.PredefinedActions {
		res := o.execute(ctx, d, page, action.ModeSetup)
		if res.Failure != nil {
			greeting += setupCaveat(res.Failure)
		}
	}

	shot, err := page.Screenshot(ctx, o.opts.ScreenshotQuality)
	if err != nil {
		o.closeLocked(ctx)
		return Response{}, fmt.Errorf("capture screenshot: %w", err)
	}

	log.Info("demo ready", zap.Int("setup_actions", len(cfg.PredefinedActions)))
	return Response{AIResponse: greeting, Screenshot: shot}, nil
}

// Interact answers one visitor message. It fails with
// browser.ErrSessionNotStarted before any browser or decision call when no
// demo is running, and with decision.ErrDecisionService when no usable
// decision comes back. Action failures become caveats in the reply.
func (o *Orchestrator) Interact(ctx context.Context, message string, history []conversation.Turn) (resp Response, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer func() { o.opts.Metrics.Turn("interact", err) }()

	page, err := o.opts.Sessions.EnsureActive()
	if err != nil {
		return Response{}, err
	}
	log := o.logger.With(zap.String("run_id", o.runID))

	rw := o.opts.State.Rewrite(message)
	if rw.Reply != conversation.Unclassified {
		o.journal(ctx, journal.ReplyClassified(o.runID, rw.Reply.String()))
		log.Debug("reply classified", zap.Stringer("reply", rw.Reply), zap.String("feature", rw.Feature))
	}

	before, err := page.Screenshot(ctx, o.opts.ScreenshotQuality)
	if err != nil {
		log.Warn("screenshot for decision failed", zap.Error(err))
		before = nil
	}

	req := decision.Request{
		CurrentURL: o.opts.Sessions.Current().CurrentURL,
		Message:    rw.Message,
		Features:   o.opts.State.Context().ProductFeatures,
		Screenshot: before,
		History:    conversation.FilterHistory(history),
	}

	start := time.Now()
	d, err := o.opts.Decider.Decide(ctx, req)
	o.opts.Metrics.Decision(time.Since(start))
	if err != nil {
		log.Error("decision failed", zap.Error(err))
		if !errors.Is(err, decision.ErrDecisionService) {
			err = fmt.Errorf("%w: %v", decision.ErrDecisionService, err)
		}
		return Response{}, err
	}

	o.opts.State.Observe(d.ProposedFeature)
	if d.ProposedFeature != "" {
		o.journal(ctx, journal.FeatureProposed(o.runID, d.ProposedFeature))
	}

	reply := d.AIResponse
	if d.Action != nil {
		res := o.execute(ctx, d.Action, page, action.ModeTurn)
		switch {
		case res.Skipped():
			reply += unrecognizedCaveat
		case res.Failure != nil && errors.Is(res.Failure, action.ErrInvalidURL):
			reply += invalidURLCaveat
		case res.Failure != nil:
			reply += actionCaveat(res.Failure)
		}
	}

	shot, err := page.Screenshot(ctx, o.opts.ScreenshotQuality)
	if err != nil {
		return Response{}, fmt.Errorf("capture screenshot: %w", err)
	}

	o.turns++
	o.journal(ctx, journal.TurnCompleted(o.runID, o.turns))
	o.opts.Recorder.Record(recorder.EventTurn, turnTrace{
		N:         o.turns,
		Message:   message,
		Effective: rw.Message,
		Reply:     reply,
		Proposed:  d.ProposedFeature,
	})
	return Response{AIResponse: reply, Screenshot: shot}, nil
}

// StopDemo closes the running demo, if any. It never fails.
func (o *Orchestrator) StopDemo(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeLocked(ctx)
	o.opts.Metrics.Turn("stop_demo", nil)
	return nil
}

// closeLocked ends the current run and tears the session down. Caller holds mu.
func (o *Orchestrator) closeLocked(ctx context.Context) {
	if o.runID != "" {
		o.journal(ctx, journal.DemoStopped(o.runID))
		o.opts.Recorder.End(map[string]int{"turns": o.turns})
		o.logger.Info("demo stopped", zap.String("run_id", o.runID), zap.Int("turns", o.turns))
	}
	o.runID, o.turns = "", 0
	o.opts.Sessions.Close(ctx)
}

type turnTrace struct {
	N         int    `json:"n"`
	Message   string `json:"message"`
	Effective string `json:"effective_message"`
	Reply     string `json:"reply"`
	Proposed  string `json:"proposed_feature,omitempty"`
}

type actionTrace struct {
	Mode     string `json:"mode"`
	Action   string `json:"action"`
	Target   string `json:"target,omitempty"`
	Attempts int    `json:"attempts"`
	Outcome  string `json:"outcome"`
	Detail   string `json:"detail,omitempty"`
}

// execute runs d and records the outcome in the journal, trace and metrics.
func (o *Orchestrator) execute(ctx context.Context, d action.Descriptor, page browser.Page, mode action.Mode) action.Result {
	res := o.opts.Executor.Execute(ctx, d, page, mode)

	trace := actionTrace{
		Mode:     mode.String(),
		Action:   string(res.Kind),
		Target:   res.Target,
		Attempts: res.Attempts,
		Outcome:  metrics.OutcomeOK,
	}
	switch {
	case res.Skipped():
		trace.Outcome, trace.Detail = metrics.OutcomeSkipped, res.Warning
		o.journal(ctx, journal.ActionSkipped(o.runID, res.Warning))
	case res.Failure != nil:
		trace.Outcome, trace.Detail = metrics.OutcomeFailed, res.Failure.Error()
		o.journal(ctx, journal.ActionFailed(o.runID, string(res.Kind), res.Target, errorText(res.Failure.Cause)))
	default:
		o.journal(ctx, journal.ActionExecuted(o.runID, string(res.Kind), res.Target, res.Attempts))
	}
	o.opts.Metrics.Action(trace.Action, trace.Outcome, res.Attempts)
	o.opts.Recorder.Record(recorder.EventAction, trace)
	return res
}

func (o *Orchestrator) journal(ctx context.Context, facts ...journal.Fact) {
	if err := o.opts.Journal.Add(ctx, facts...); err != nil {
		o.logger.Warn("journal append failed", zap.Error(err))
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
