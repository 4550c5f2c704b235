// Package registry is the static catalog of available node types: their
// category, config schema, defaults, output schema and dispatcher.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/praxishq/automation/pkg/models"
	"github.com/praxishq/automation/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// ErrNodeTypeNotRegistered indicates a lookup for an unknown node type key.
var ErrNodeTypeNotRegistered = errors.New("node type not registered")

// OutputField describes one dotted variable path a node type exposes to
// downstream nodes (e.g. "response.status": number).
type OutputField struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// RetryPolicy bounds per-node retries with exponential backoff.
type RetryPolicy struct {
	MaxAttempts    int           `json:"max_attempts"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
}

// BackoffFor returns the delay before the given attempt (1-based). Attempt 1
// has no delay; each retry doubles the previous delay up to MaxBackoff.
func (p RetryPolicy) BackoffFor(attempt int) time.Duration {
	if attempt <= 1 || p.InitialBackoff <= 0 {
		return 0
	}

	backoff := p.InitialBackoff
	for i := 2; i < attempt; i++ {
		backoff *= 2
		if p.MaxBackoff > 0 && backoff >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}

	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		return p.MaxBackoff
	}

	return backoff
}

// Definition describes one node type available to the graph editor and the
// execution engine.
type Definition struct {
	Key           string                 `json:"key"`
	Category      models.CategoryType    `json:"category"`
	DisplayName   string                 `json:"display_name"`
	Description   string                 `json:"description"`
	DefaultConfig map[string]any         `json:"default_config"`
	ConfigSchema  string                 `json:"-"`
	AllowMultiple bool                   `json:"allow_multiple"`
	InPalette     bool                   `json:"in_palette"`
	EventKey      string                 `json:"event_key,omitempty"` // trigger kinds only
	Outputs       map[string]OutputField `json:"outputs"`
	Retry         RetryPolicy            `json:"retry"`

	// Dispatcher executes action and condition nodes. Trigger kinds have none;
	// the originating trigger node is processed implicitly at run start.
	Dispatcher protocol.Dispatcher `json:"-"`

	schema *gojsonschema.Schema
}

// ValidateConfig checks a node config against the type's JSON schema. Types
// without a schema accept any config.
func (d *Definition) ValidateConfig(config map[string]any) error {
	if d.schema == nil {
		return nil
	}

	if config == nil {
		config = make(map[string]any)
	}

	result, err := d.schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("config validation failed for %s: %w", d.Key, err)
	}

	if !result.Valid() {
		return fmt.Errorf("invalid config for %s: %s", d.Key, result.Errors()[0].String())
	}

	return nil
}

// Registry is read-only process-wide state populated at startup; lookups
// after that are safe from any goroutine.
type Registry struct {
	logger      *slog.Logger
	definitions map[string]*Definition
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:      logger.With("module", "registry"),
		definitions: make(map[string]*Definition),
	}
}

// Register adds a node type definition, compiling its config schema.
func (r *Registry) Register(def *Definition) error {
	if def.Key == "" {
		return errors.New("node type key is required")
	}

	if _, exists := r.definitions[def.Key]; exists {
		return fmt.Errorf("node type %q already registered", def.Key)
	}

	if def.ConfigSchema != "" {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(def.ConfigSchema))
		if err != nil {
			return fmt.Errorf("failed to compile config schema for %s: %w", def.Key, err)
		}

		def.schema = schema
	}

	r.definitions[def.Key] = def
	r.logger.Debug("Registered node type", "key", def.Key, "category", def.Category)

	return nil
}

// MustRegister panics on registration errors; built-in definitions use it at
// startup where a failure is a programming error.
func (r *Registry) MustRegister(def *Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Lookup returns the definition for the given node type key.
func (r *Registry) Lookup(key string) (*Definition, error) {
	def, ok := r.definitions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeTypeNotRegistered, key)
	}

	return def, nil
}

// Palette returns the definitions the node palette should offer, sorted by
// key for stable listings.
func (r *Registry) Palette() []*Definition {
	palette := make([]*Definition, 0, len(r.definitions))

	for _, def := range r.definitions {
		if def.InPalette {
			palette = append(palette, def)
		}
	}

	sort.Slice(palette, func(i, j int) bool { return palette[i].Key < palette[j].Key })

	return palette
}

// TriggerForEventKey returns the trigger definition bound to the given
// business event key, if any.
func (r *Registry) TriggerForEventKey(eventKey string) (*Definition, bool) {
	for _, def := range r.definitions {
		if def.Category == models.CategoryTypeTrigger && def.EventKey == eventKey {
			return def, true
		}
	}

	return nil, false
}

// HealthCheck reports whether the registry holds any definitions.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.definitions) == 0 {
		return "no node types registered", false
	}

	return fmt.Sprintf("%d node types registered", len(r.definitions)), true
}
