// Package publish validates draft graphs and turns them into immutable
// published versions. Validation happens only here; the execution engine
// trusts published graphs.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/praxishq/automation/pkg/models"
	"github.com/praxishq/automation/pkg/persistence"
	"github.com/praxishq/automation/pkg/registry"
)

// ValidationError aggregates every problem found in a draft graph so the
// editor can show them all at once.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "graph validation failed: " + strings.Join(e.Issues, "; ")
}

// Service owns the draft and publish lifecycle of automation versions.
type Service struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewService(store persistence.Persistence, reg *registry.Registry, logger *slog.Logger) *Service {
	return &Service{
		persistence: store,
		registry:    reg,
		validator:   validator.New(),
		logger:      logger.With("module", "publish"),
	}
}

// SaveDraft snapshots the graph as a new unpublished version. Drafts are
// allowed to be incomplete or invalid.
func (s *Service) SaveDraft(ctx context.Context, automationID string, graph models.GraphDefinition, createdBy string) (*models.AutomationVersion, error) {
	automation, err := s.persistence.AutomationRepository().GetByID(ctx, automationID)
	if err != nil {
		return nil, err
	}

	number, err := s.persistence.VersionRepository().NextNumber(ctx, automation.ID)
	if err != nil {
		return nil, err
	}

	version := &models.AutomationVersion{
		AutomationID: automation.ID,
		Number:       number,
		Graph:        normalizeGraph(graph),
		CreatedBy:    createdBy,
	}

	err = s.persistence.VersionRepository().Save(ctx, version)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Draft saved", "automation_id", automation.ID, "version", number)

	return version, nil
}

// Publish validates the graph, snapshots it as the next version and flips the
// automation's published pointer to it.
func (s *Service) Publish(ctx context.Context, automationID string, graph models.GraphDefinition, createdBy string) (*models.AutomationVersion, error) {
	automation, err := s.persistence.AutomationRepository().GetByID(ctx, automationID)
	if err != nil {
		return nil, err
	}

	graph = normalizeGraph(graph)

	err = s.ValidateGraph(graph)
	if err != nil {
		return nil, err
	}

	number, err := s.persistence.VersionRepository().NextNumber(ctx, automation.ID)
	if err != nil {
		return nil, err
	}

	version := &models.AutomationVersion{
		AutomationID: automation.ID,
		Number:       number,
		Graph:        graph,
		CreatedBy:    createdBy,
	}

	err = s.persistence.VersionRepository().Save(ctx, version)
	if err != nil {
		return nil, err
	}

	err = s.persistence.VersionRepository().MarkPublished(ctx, automation.ID, version.ID)
	if err != nil {
		return nil, err
	}

	err = s.persistence.AutomationRepository().SetPublishedVersion(ctx, automation.ID, number)
	if err != nil {
		return nil, err
	}

	version.Published = true

	s.logger.InfoContext(ctx, "Version published", "automation_id", automation.ID, "version", number)

	return version, nil
}

// ValidateGraph checks a graph against every publish-time rule and reports
// all violations together.
func (s *Service) ValidateGraph(graph models.GraphDefinition) error {
	var issues []string

	if len(graph.Nodes) == 0 {
		return &ValidationError{Issues: []string{"graph has no nodes"}}
	}

	nodes := make(map[string]models.GraphNode, len(graph.Nodes))
	defs := make(map[string]*registry.Definition, len(graph.Nodes))
	typeCounts := make(map[string]int)
	triggerID := ""
	triggerCount := 0

	for _, node := range graph.Nodes {
		err := s.validator.Struct(node)
		if err != nil {
			issues = append(issues, fmt.Sprintf("node %s: %v", node.ID, err))

			continue
		}

		if _, exists := nodes[node.ID]; exists {
			issues = append(issues, fmt.Sprintf("duplicate node id %s", node.ID))

			continue
		}

		nodes[node.ID] = node
		typeCounts[node.Type]++

		def, err := s.registry.Lookup(node.Type)
		if err != nil {
			issues = append(issues, fmt.Sprintf("node %s: unknown type %s", node.ID, node.Type))

			continue
		}

		defs[node.ID] = def

		if def.Category == models.CategoryTypeTrigger {
			triggerID = node.ID
			triggerCount++
		}

		err = def.ValidateConfig(node.Config)
		if err != nil {
			issues = append(issues, fmt.Sprintf("node %s: %v", node.ID, err))
		}
	}

	for nodeType, count := range typeCounts {
		def, err := s.registry.Lookup(nodeType)
		if err == nil && !def.AllowMultiple && count > 1 && def.Category != models.CategoryTypeTrigger {
			issues = append(issues, fmt.Sprintf("node type %s appears %d times but allows only one instance", nodeType, count))
		}
	}

	if triggerCount != 1 {
		issues = append(issues, fmt.Sprintf("graph must have exactly one trigger node, found %d", triggerCount))
	}

	adjacency := make(map[string][]string)

	for _, edge := range graph.Edges {
		source, sourceOK := nodes[edge.Source]
		if !sourceOK {
			issues = append(issues, fmt.Sprintf("edge %s references unknown source node %s", edge.ID, edge.Source))
		}

		if _, ok := nodes[edge.Target]; !ok {
			issues = append(issues, fmt.Sprintf("edge %s references unknown target node %s", edge.ID, edge.Target))
		}

		if edge.Target == triggerID && triggerID != "" {
			issues = append(issues, fmt.Sprintf("edge %s targets the trigger node", edge.ID))
		}

		if sourceOK {
			if def, ok := defs[source.ID]; ok {
				issue := validatePort(def, edge)
				if issue != "" {
					issues = append(issues, issue)
				}
			}

			adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
		}
	}

	if cyclePath := findCycle(nodes, adjacency); len(cyclePath) > 0 {
		issues = append(issues, "graph contains a cycle: "+strings.Join(cyclePath, " -> "))
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}

	return nil
}

func validatePort(def *registry.Definition, edge models.GraphEdge) string {
	if def.Category == models.CategoryTypeCondition {
		if edge.Port != models.PortTrue && edge.Port != models.PortFalse {
			return fmt.Sprintf("edge %s leaves condition node %s without a true/false port", edge.ID, edge.Source)
		}

		return ""
	}

	if edge.Port != models.PortDefault {
		return fmt.Sprintf("edge %s uses port %q on non-condition node %s", edge.ID, edge.Port, edge.Source)
	}

	return ""
}

// findCycle runs a coloring DFS over the adjacency list and returns one cycle
// path if any exists.
func findCycle(nodes map[string]models.GraphNode, adjacency map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	colors := make(map[string]int, len(nodes))

	var stack []string

	var visit func(id string) []string

	visit = func(id string) []string {
		colors[id] = gray
		stack = append(stack, id)

		for _, next := range adjacency[id] {
			switch colors[next] {
			case gray:
				// Found the back edge; cut the stack down to the cycle.
				for i, onPath := range stack {
					if onPath == next {
						return append(append([]string{}, stack[i:]...), next)
					}
				}

				return []string{id, next}
			case white:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}

		colors[id] = black
		stack = stack[:len(stack)-1]

		return nil
	}

	for id := range nodes {
		if colors[id] == white {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}

// normalizeGraph fills in missing edge ids so later bookkeeping can key on
// them.
func normalizeGraph(graph models.GraphDefinition) models.GraphDefinition {
	for i := range graph.Edges {
		if graph.Edges[i].ID == "" {
			if id, err := uuid.NewV7(); err == nil {
				graph.Edges[i].ID = id.String()
			}
		}
	}

	return graph
}
