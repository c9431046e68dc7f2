// Package demo loads per-product demo definitions from disk.
package demo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"demoagent-server/internal/action"
)

var (
	// ErrConfigNotFound means no definition exists for the requested tag.
	ErrConfigNotFound = errors.New("demo config not found")
	// ErrInvalidConfig means the definition exists but cannot be used.
	ErrInvalidConfig = errors.New("invalid demo config")
)

var tagPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Config is one demo definition. It is not modified after Load.
type Config struct {
	Tag               string
	StartURL          string
	Name              string
	InitialGreeting   string
	PredefinedActions []action.Descriptor
	ProductFeatures   []string
}

type fileConfig struct {
	StartURL          string            `json:"start_url"`
	Name              string            `json:"name"`
	InitialGreeting   string            `json:"initial_greeting"`
	ProductFeatures   []string          `json:"product_features"`
	PredefinedActions []json.RawMessage `json:"predefined_actions"`
}

// Loader reads <Dir>/<tag>.json.
type Loader struct {
	Dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{Dir: dir}
}

// Load reads and validates the definition for tag. Unknown action shapes in
// the predefined script decode as inert descriptors rather than failing.
func (l *Loader) Load(tag string) (Config, error) {
	if !tagPattern.MatchString(tag) {
		return Config{}, fmt.Errorf("%w: %q", ErrConfigNotFound, tag)
	}

	path := filepath.Join(l.Dir, tag+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, tag)
		}
		return Config{}, fmt.Errorf("read demo config %s: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(raw, &fc); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, tag, err)
	}

	fc.StartURL = strings.TrimSpace(fc.StartURL)
	if fc.StartURL == "" {
		return Config{}, fmt.Errorf("%w: %s: start_url is required", ErrInvalidConfig, tag)
	}
	if err := action.ValidateURL(fc.StartURL); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, tag, err)
	}

	cfg := Config{
		Tag:               tag,
		StartURL:          fc.StartURL,
		Name:              fc.Name,
		InitialGreeting:   fc.InitialGreeting,
		PredefinedActions: action.DecodeList(fc.PredefinedActions),
	}
	for _, f := range fc.ProductFeatures {
		if f = strings.TrimSpace(f); f != "" {
			cfg.ProductFeatures = append(cfg.ProductFeatures, f)
		}
	}
	if cfg.Name == "" {
		cfg.Name = capitalize(tag)
	}
	if cfg.InitialGreeting == "" {
		cfg.InitialGreeting = DefaultGreeting(cfg.Name)
	}
	return cfg, nil
}

// Tags lists the demo tags available in the directory.
func (l *Loader) Tags() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, err
	}
	var tags []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		if tag := strings.TrimSuffix(e.Name(), ".json"); tagPattern.MatchString(tag) {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}

// DefaultGreeting is used when a definition has no initial_greeting.
func DefaultGreeting(name string) string {
	return fmt.Sprintf("Hello! Welcome to the demo of %s. I'm performing the initial setup steps. What would you like to explore first?", name)
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
