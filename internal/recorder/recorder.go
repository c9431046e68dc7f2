// Package recorder writes one JSONL trace file per demo run.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"demoagent-server/internal/config"
)

const defaultKeep = 5

// EventType names a trace record.
type EventType string

const (
	EventStart  EventType = "start"
	EventTurn   EventType = "turn"
	EventAction EventType = "action"
	EventStop   EventType = "stop"
)

// Event is a single line in a trace file.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      EventType   `json:"type"`
	RunID     string      `json:"run_id"`
	Data      interface{} `json:"data,omitempty"`
}

// Recorder keeps the newest traces on disk. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	dir    string
	keep   int
	logger *zap.Logger

	mu    sync.Mutex
	file  *os.File
	enc   *json.Encoder
	runID string
}

// New returns nil when recording is disabled.
func New(cfg config.RecorderConfig, logger *zap.Logger) (*Recorder, error) {
	if !cfg.Enable {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := cfg.Dir
	if dir == "" {
		dir = "data/traces"
	}
	keep := cfg.Keep
	if keep <= 0 {
		keep = defaultKeep
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	return &Recorder{dir: dir, keep: keep, logger: logger}, nil
}

// Begin closes any open trace, prunes old ones and opens a trace for runID.
func (r *Recorder) Begin(runID string, data interface{}) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()
	if err := r.prune(r.keep - 1); err != nil {
		return fmt.Errorf("prune traces: %w", err)
	}

	name := fmt.Sprintf("trace_%s_%d.jsonl", runID, time.Now().UnixMilli())
	f, err := os.Create(filepath.Join(r.dir, name))
	if err != nil {
		return err
	}
	r.file = f
	r.enc = json.NewEncoder(f)
	r.runID = runID
	r.writeLocked(EventStart, data)
	return nil
}

// Record appends an event to the open trace; it is a no-op between runs.
func (r *Recorder) Record(t EventType, data interface{}) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeLocked(t, data)
}

// End writes a stop event and closes the trace.
func (r *Recorder) End(data interface{}) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeLocked(EventStop, data)
	r.closeLocked()
}

// Close closes the open trace without a stop event.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Recorder) writeLocked(t EventType, data interface{}) {
	if r.enc == nil {
		return
	}
	evt := Event{Timestamp: time.Now(), Type: t, RunID: r.runID, Data: data}
	if err := r.enc.Encode(evt); err != nil {
		r.logger.Warn("trace write failed", zap.String("run_id", r.runID), zap.Error(err))
	}
}

func (r *Recorder) closeLocked() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.enc = nil
	r.runID = ""
	return err
}

// prune deletes all but the newest keep trace files.
func (r *Recorder) prune(keep int) error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}

	type trace struct {
		name string
		mod  time.Time
	}
	var traces []trace
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "trace_") || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, trace{e.Name(), info.ModTime()})
	}

	sort.Slice(traces, func(i, j int) bool {
		return traces[i].mod.After(traces[j].mod)
	})

	if keep < 0 {
		keep = 0
	}
	for i := keep; i < len(traces); i++ {
		if err := os.Remove(filepath.Join(r.dir, traces[i].name)); err != nil {
			r.logger.Warn("remove old trace", zap.String("file", traces[i].name), zap.Error(err))
		}
	}
	return nil
}
