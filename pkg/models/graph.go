package models

// CategoryType represents the category of a node type.
type CategoryType string

const (
	CategoryTypeTrigger   CategoryType = "trigger"
	CategoryTypeAction    CategoryType = "action"
	CategoryTypeCondition CategoryType = "condition"
)

// Named output ports. An empty port on an edge is the default port used by
// trigger and action nodes; condition nodes route through "true"/"false".
const (
	PortDefault = ""
	PortTrue    = "true"
	PortFalse   = "false"
)

// GraphDefinition is the serialized graph of one automation version, exactly
// as the visual editor produced it. Validation and normalization into the
// execution-ready form happen at publish time, not at run time.
type GraphDefinition struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// GraphNode is one node instance in a version graph. The ID is stable within
// the version and is what node runs and edges refer to.
type GraphNode struct {
	ID        string         `json:"id"     validate:"required"`
	Type      string         `json:"type"   validate:"required"`
	PositionX int            `json:"position_x"`
	PositionY int            `json:"position_y"`
	Config    map[string]any `json:"config"`
}

// GraphEdge connects a source node's output port to a target node.
type GraphEdge struct {
	ID     string `json:"id"`
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
	Port   string `json:"port,omitempty"`
}

// NodeByID returns the node with the given id.
func (g *GraphDefinition) NodeByID(id string) (GraphNode, bool) {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return GraphNode{}, false
}
