// Package conditiondispatch provides the condition node dispatcher. It reads
// the field value straight from the run's variable context so that an absent
// value stays distinguishable from an empty string.
package conditiondispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/praxishq/automation/pkg/condition"
	"github.com/praxishq/automation/pkg/protocol"
)

// Config defines the configuration for condition nodes. Field is a dotted
// variable path; a field authored as a template arrives already resolved and
// is compared as the literal value.
type Config struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type Dispatcher struct {
	logger *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{logger: logger.With("module", "dispatcher:condition")}
}

func (d *Dispatcher) Key() string {
	return "condition"
}

func (d *Dispatcher) Execute(ctx context.Context, req protocol.Request) (protocol.Result, error) {
	config, err := parseConfig(req.Config)
	if err != nil {
		return protocol.Result{}, err
	}

	operator := condition.Operator(config.Operator)
	if !operator.IsValid() {
		// An unknown operator is a configuration mistake, but it must not
		// abort the run; it evaluates to false like every other bad predicate.
		d.logger.WarnContext(ctx, "Unknown condition operator", "operator", config.Operator, "node_id", req.NodeID)

		return protocol.Result{Output: map[string]any{"result": false}}, nil
	}

	var fieldValue any = condition.Missing

	found := false

	if req.Vars != nil {
		if value, ok := req.Vars.Lookup(config.Field); ok {
			fieldValue = value
			found = true
		}
	}

	// A field written as {{template}} was resolved to its value before
	// dispatch, so the path lookup misses. Value comparisons then run against
	// the resolved string itself; presence checks keep the miss so an absent
	// path stays distinguishable from an empty one.
	if !found && !operator.ChecksPresence() {
		fieldValue = config.Field
	}

	result := condition.Evaluate(operator, fieldValue, config.Value)

	return protocol.Result{Output: map[string]any{"result": result}}, nil
}

func parseConfig(raw map[string]any) (Config, error) {
	var config Config

	field, ok := raw["field"].(string)
	if !ok || field == "" {
		return Config{}, errors.New("missing required field 'field'")
	}

	config.Field = field

	operator, ok := raw["operator"].(string)
	if !ok || operator == "" {
		return Config{}, errors.New("missing required field 'operator'")
	}

	config.Operator = operator

	if value, ok := raw["value"].(string); ok {
		config.Value = value
	}

	return config, nil
}
