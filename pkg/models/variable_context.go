package models

import "strings"

// VariableContext is the resolved mapping of dotted token paths to values
// used for template substitution. It is seeded from the triggering subject's
// exposed fields and extended with each executed node's output under the
// node's id.
type VariableContext struct {
	values map[string]any
}

// NewVariableContext creates a context seeded with the given values. Keys may
// be nested maps or flat dotted paths; both resolve through Lookup.
func NewVariableContext(seed map[string]any) *VariableContext {
	values := make(map[string]any, len(seed))
	for k, v := range seed {
		values[k] = v
	}

	return &VariableContext{values: values}
}

// Lookup resolves a dotted token path. The second return value distinguishes
// an absent token from a present nil/empty one.
func (c *VariableContext) Lookup(path string) (any, bool) {
	if c == nil || path == "" {
		return nil, false
	}

	return lookupPath(c.values, path)
}

// SetNodeOutput merges a node's declared output into the context under the
// node id, making it addressable downstream as "{nodeID}.{field}".
func (c *VariableContext) SetNodeOutput(nodeID string, output map[string]any) {
	if output == nil {
		output = make(map[string]any)
	}

	c.values[nodeID] = output
}

// Set stores a single top-level value.
func (c *VariableContext) Set(key string, value any) {
	c.values[key] = value
}

// Snapshot returns a copy of the context suitable for capturing on a node
// run's input record. Nested maps are copied one level deep; leaf values are
// shared, which is fine because resolved values are treated as read-only.
func (c *VariableContext) Snapshot() map[string]any {
	snapshot := make(map[string]any, len(c.values))

	for k, v := range c.values {
		if nested, ok := v.(map[string]any); ok {
			inner := make(map[string]any, len(nested))
			for nk, nv := range nested {
				inner[nk] = nv
			}

			snapshot[k] = inner

			continue
		}

		snapshot[k] = v
	}

	return snapshot
}

func lookupPath(values map[string]any, path string) (any, bool) {
	// Exact key first: seeds are allowed to use flat dotted keys such as
	// "contact.name" next to nested maps.
	if v, ok := values[path]; ok {
		return v, true
	}

	head, rest, found := strings.Cut(path, ".")
	if !found {
		return nil, false
	}

	child, ok := values[head]
	if !ok {
		return nil, false
	}

	nested, ok := child.(map[string]any)
	if !ok {
		return nil, false
	}

	return lookupPath(nested, rest)
}
