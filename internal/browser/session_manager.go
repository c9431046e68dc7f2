package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrSessionInit reports that the automation engine could not be brought up.
	ErrSessionInit = errors.New("session init failed")
	// ErrSessionNotStarted reports a browser operation with no active session.
	ErrSessionNotStarted = errors.New("demo not started")
)

// Status is the lifecycle state of the single demo session.
type Status int

const (
	StatusUninitialized Status = iota
	StatusActive
	// StatusClosed is held while an active session is being torn down.
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusClosed:
		return "closed"
	default:
		return "uninitialized"
	}
}

// MarshalText renders the status by name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session describes the public metadata for the live browser context.
type Session struct {
	ID         string    `json:"id,omitempty"`
	Status     Status    `json:"status"`
	CurrentURL string    `json:"current_url"`
	StartedAt  time.Time `json:"started_at,omitempty"`
}

// SessionManager owns the one browser session the server drives. The page
// handle is non-nil exactly while the status is StatusActive.
type SessionManager struct {
	launcher Launcher
	logger   *zap.Logger

	mu      sync.RWMutex
	session Session
	engine  Engine
	page    Page
	onClose []func()
}

func NewSessionManager(launcher Launcher, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		launcher: launcher,
		logger:   logger,
		session:  blankSession(),
	}
}

func blankSession() Session {
	return Session{
		Status:     StatusUninitialized,
		CurrentURL: "about:blank",
	}
}

// OnClose registers fn to run every time Close completes.
func (m *SessionManager) OnClose(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = append(m.onClose, fn)
}

// Open launches the engine and opens one page. It replaces any prior session
// without closing it; callers close first. On failure nothing is left running.
func (m *SessionManager) Open(ctx context.Context) (Session, error) {
	engine, err := m.launcher.Launch(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrSessionInit, err)
	}

	page, err := engine.NewPage(ctx)
	if err != nil {
		if closeErr := engine.Close(); closeErr != nil {
			m.logger.Warn("teardown after failed page creation", zap.Error(closeErr))
		}
		return Session{}, fmt.Errorf("%w: %v", ErrSessionInit, err)
	}

	sess := Session{
		ID:         uuid.NewString(),
		Status:     StatusActive,
		CurrentURL: "about:blank",
		StartedAt:  time.Now(),
	}

	m.mu.Lock()
	m.engine = engine
	m.page = page
	m.session = sess
	m.mu.Unlock()

	m.logger.Info("browser session opened", zap.String("session_id", sess.ID))
	return sess, nil
}

// Close tears the session down. It is idempotent and always leaves the
// manager uninitialized; engine errors are logged, never returned.
func (m *SessionManager) Close(_ context.Context) {
	m.mu.Lock()
	engine := m.engine
	id := m.session.ID
	if engine != nil {
		m.session.Status = StatusClosed
	}
	m.page = nil
	m.engine = nil
	hooks := append([]func(){}, m.onClose...)
	m.mu.Unlock()

	if engine != nil {
		if err := engine.Close(); err != nil {
			m.logger.Warn("error closing browser", zap.String("session_id", id), zap.Error(err))
		} else {
			m.logger.Info("browser session closed", zap.String("session_id", id))
		}
	}

	m.mu.Lock()
	m.session = blankSession()
	m.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// EnsureActive returns the live page or ErrSessionNotStarted. Callers must
// not cache the page across requests.
func (m *SessionManager) EnsureActive() (Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session.Status != StatusActive || m.page == nil {
		return nil, ErrSessionNotStarted
	}
	return m.page, nil
}

// Current returns a snapshot of the session metadata.
func (m *SessionManager) Current() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// SetCurrentURL records the page location after a navigation.
func (m *SessionManager) SetCurrentURL(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.Status != StatusActive || url == "" {
		return
	}
	m.session.CurrentURL = url
}
