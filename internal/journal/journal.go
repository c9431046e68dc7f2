// Package journal keeps a bounded, queryable record of demo events as Mangle facts.
package journal

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"

	"demoagent-server/internal/config"
)

//go:embed schema.mg
var schema string

// ErrDisabled is returned by Query when the journal is switched off.
var ErrDisabled = errors.New("journal disabled")

// Fact is one recorded demo event.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult binds query variables to values.
type QueryResult map[string]interface{}

// Journal buffers facts in arrival order and mirrors them into a Mangle
// store so the rules in schema.mg can derive summaries.
type Journal struct {
	cfg    config.JournalConfig
	logger *zap.Logger

	mu          sync.RWMutex
	programInfo *analysis.ProgramInfo
	store       factstore.FactStore
	facts       []Fact
	index       map[string][]int
}

func New(cfg config.JournalConfig, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	unit, err := parse.Unit(strings.NewReader(schema))
	if err != nil {
		return nil, fmt.Errorf("parse journal schema: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return nil, fmt.Errorf("analyze journal schema: %w", err)
	}
	return &Journal{
		cfg:         cfg,
		logger:      logger,
		programInfo: programInfo,
		store:       factstore.NewSimpleInMemoryStore(),
		facts:       make([]Fact, 0, cfg.FactBufferLimit),
		index:       make(map[string][]int),
	}, nil
}

// Enabled reports whether facts are being recorded.
func (j *Journal) Enabled() bool {
	return j != nil && j.cfg.Enable
}

// Add appends facts, trimming the oldest once the buffer limit is reached,
// and re-evaluates the derived predicates.
func (j *Journal) Add(_ context.Context, facts ...Fact) error {
	if !j.Enabled() || len(facts) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	for i := range facts {
		if facts[i].Timestamp.IsZero() {
			facts[i].Timestamp = now
		}
	}

	baseIdx := len(j.facts)
	j.facts = append(j.facts, facts...)
	if j.cfg.FactBufferLimit > 0 && len(j.facts) > j.cfg.FactBufferLimit {
		trim := len(j.facts) - j.cfg.FactBufferLimit
		j.facts = append([]Fact(nil), j.facts[trim:]...)
		j.rebuild()
	} else {
		for i, f := range facts {
			j.index[f.Predicate] = append(j.index[f.Predicate], baseIdx+i)
			j.store.Add(toAtom(f))
		}
	}

	if err := engine.EvalProgram(j.programInfo, j.store); err != nil {
		j.logger.Warn("journal evaluation failed", zap.Error(err))
		return fmt.Errorf("evaluate journal rules: %w", err)
	}
	return nil
}

// rebuild recreates the index and store from the buffer. Caller holds mu.
func (j *Journal) rebuild() {
	j.index = make(map[string][]int)
	j.store = factstore.NewSimpleInMemoryStore()
	for i, f := range j.facts {
		j.index[f.Predicate] = append(j.index[f.Predicate], i)
		j.store.Add(toAtom(f))
	}
}

// Reset drops every fact.
func (j *Journal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.facts = j.facts[:0]
	j.rebuild()
}

// FactsByPredicate returns buffered base facts for predicate in arrival order.
func (j *Journal) FactsByPredicate(predicate string) []Fact {
	j.mu.RLock()
	defer j.mu.RUnlock()

	indices := j.index[predicate]
	out := make([]Fact, 0, len(indices))
	for _, idx := range indices {
		out = append(out, j.facts[idx])
	}
	return out
}

// Facts returns a copy of the buffer.
func (j *Journal) Facts() []Fact {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]Fact(nil), j.facts...)
}

// Predicates lists the predicates the schema declares.
func (j *Journal) Predicates() []string {
	out := make([]string, 0, len(j.programInfo.Decls))
	for sym := range j.programInfo.Decls {
		out = append(out, sym.Symbol)
	}
	sort.Strings(out)
	return out
}

// Query evaluates a single Mangle atom such as `friction(R, "click", T)` and
// returns one binding per matching fact. Base and derived predicates are both
// queryable.
func (j *Journal) Query(_ context.Context, query string) ([]QueryResult, error) {
	if !j.Enabled() {
		return nil, ErrDisabled
	}

	query = strings.TrimSpace(query)
	if !strings.HasSuffix(query, ".") {
		query += "."
	}
	unit, err := parse.Unit(bytes.NewReader([]byte(query)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(unit.Clauses) == 0 {
		return nil, errors.New("no query found")
	}
	queryAtom := unit.Clauses[0].Head

	j.mu.RLock()
	defer j.mu.RUnlock()

	results := make([]QueryResult, 0)
	err = j.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		result := make(QueryResult)
		for i, arg := range queryAtom.Args {
			if i >= len(atom.Args) {
				break
			}
			if v, ok := arg.(ast.Variable); ok && v.Symbol != "_" {
				result[v.Symbol] = fromTerm(atom.Args[i])
			}
		}
		results = append(results, result)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return results, nil
}

func toAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{
		Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)},
		Args:      args,
	}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func fromTerm(t ast.BaseTerm) interface{} {
	c, ok := t.(ast.Constant)
	if !ok {
		return fmt.Sprintf("%v", t)
	}
	switch c.Type {
	case ast.StringType:
		s, _ := c.StringValue()
		return s
	case ast.NumberType:
		if n, err := c.NumberValue(); err == nil {
			return n
		}
	case ast.Float64Type:
		if f, err := c.Float64Value(); err == nil {
			return f
		}
	}
	return c.String()
}
