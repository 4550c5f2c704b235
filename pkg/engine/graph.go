package engine

import (
	"fmt"

	"github.com/praxishq/automation/pkg/models"
	"github.com/praxishq/automation/pkg/registry"
)

// execGraph is the adjacency-list form of a version graph, normalized once
// per run before walking.
type execGraph struct {
	nodes    map[string]models.GraphNode
	defs     map[string]*registry.Definition
	outgoing map[string]map[string][]models.GraphEdge // node id -> port -> edges
	incoming map[string][]models.GraphEdge
	trigger  models.GraphNode
}

// buildGraph normalizes a graph definition for execution. Published versions
// passed validation already; the checks here guard against runs pinned to
// versions written by older code.
func buildGraph(def models.GraphDefinition, reg *registry.Registry) (*execGraph, error) {
	graph := &execGraph{
		nodes:    make(map[string]models.GraphNode, len(def.Nodes)),
		defs:     make(map[string]*registry.Definition, len(def.Nodes)),
		outgoing: make(map[string]map[string][]models.GraphEdge),
		incoming: make(map[string][]models.GraphEdge),
	}

	triggerCount := 0

	for _, node := range def.Nodes {
		nodeDef, err := reg.Lookup(node.Type)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node.ID, err)
		}

		graph.nodes[node.ID] = node
		graph.defs[node.ID] = nodeDef

		if nodeDef.Category == models.CategoryTypeTrigger {
			graph.trigger = node
			triggerCount++
		}
	}

	if triggerCount != 1 {
		return nil, fmt.Errorf("graph must have exactly one trigger node, found %d", triggerCount)
	}

	for _, edge := range def.Edges {
		if _, ok := graph.nodes[edge.Source]; !ok {
			return nil, fmt.Errorf("edge %s references unknown source node %s", edge.ID, edge.Source)
		}

		if _, ok := graph.nodes[edge.Target]; !ok {
			return nil, fmt.Errorf("edge %s references unknown target node %s", edge.ID, edge.Target)
		}

		ports := graph.outgoing[edge.Source]
		if ports == nil {
			ports = make(map[string][]models.GraphEdge)
			graph.outgoing[edge.Source] = ports
		}

		ports[edge.Port] = append(ports[edge.Port], edge)
		graph.incoming[edge.Target] = append(graph.incoming[edge.Target], edge)
	}

	return graph, nil
}

// outgoingEdges returns the edges leaving a node on the given port.
func (g *execGraph) outgoingEdges(nodeID, port string) []models.GraphEdge {
	return g.outgoing[nodeID][port]
}

// allOutgoingEdges returns every edge leaving a node regardless of port.
func (g *execGraph) allOutgoingEdges(nodeID string) []models.GraphEdge {
	var edges []models.GraphEdge
	for _, portEdges := range g.outgoing[nodeID] {
		edges = append(edges, portEdges...)
	}

	return edges
}
