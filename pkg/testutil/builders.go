// Package testutil provides test data builders shared across package tests.
package testutil

import (
	"github.com/google/uuid"

	"github.com/praxishq/automation/pkg/models"
)

// CreateTestNode creates a graph node with default values that can be
// overridden.
func CreateTestNode(overrides ...func(*models.GraphNode)) models.GraphNode {
	node := models.GraphNode{
		ID:   uuid.New().String(),
		Type: "action:webhook",
		Config: map[string]any{
			"url":    "https://example.com/hook",
			"method": "POST",
		},
	}

	for _, override := range overrides {
		override(&node)
	}

	return node
}

// WithID sets the node ID.
func WithID(id string) func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.ID = id
	}
}

// WithType sets the node type.
func WithType(nodeType string) func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.Type = nodeType
	}
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.Config = config
	}
}

// WithTriggerNode configures the node as a stage entered trigger.
func WithTriggerNode() func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.Type = "trigger:stage_entered"
		n.Config = map[string]any{}
	}
}

// WithConditionNode configures the node as a condition comparing the given
// field against the given value.
func WithConditionNode(field, operator string, value any) func(*models.GraphNode) {
	return func(n *models.GraphNode) {
		n.Type = "condition"
		n.Config = map[string]any{
			"field":    field,
			"operator": operator,
			"value":    value,
		}
	}
}

// Edge creates an edge on the default port.
func Edge(source, target string) models.GraphEdge {
	return models.GraphEdge{
		ID:     uuid.New().String(),
		Source: source,
		Target: target,
		Port:   models.PortDefault,
	}
}

// EdgeOn creates an edge on a named port.
func EdgeOn(source, target, port string) models.GraphEdge {
	return models.GraphEdge{
		ID:     uuid.New().String(),
		Source: source,
		Target: target,
		Port:   port,
	}
}

// CreateTestAutomation creates an automation with sensible defaults.
func CreateTestAutomation() *models.Automation {
	return &models.Automation{
		ID:        uuid.New().String(),
		TenantID:  "tenant-1",
		Name:      "Test Automation",
		Active:    true,
		CreatedBy: "test-user",
	}
}

// CreateTestGraph creates a minimal valid graph: one trigger feeding one
// webhook action.
func CreateTestGraph() models.GraphDefinition {
	trigger := CreateTestNode(WithTriggerNode(), WithID("trigger-1"))
	action := CreateTestNode(WithID("action-1"))

	return models.GraphDefinition{
		Nodes: []models.GraphNode{trigger, action},
		Edges: []models.GraphEdge{Edge("trigger-1", "action-1")},
	}
}

// CreateTestVersion wraps the given graph in a version for the automation.
func CreateTestVersion(automationID string, number int, graph models.GraphDefinition) *models.AutomationVersion {
	return &models.AutomationVersion{
		ID:           uuid.New().String(),
		AutomationID: automationID,
		Number:       number,
		Graph:        graph,
		CreatedBy:    "test-user",
	}
}

// CreateTestTrigger creates an active trigger binding for the automation.
func CreateTestTrigger(automationID, eventKey string) *models.AutomationTrigger {
	return &models.AutomationTrigger{
		ID:           uuid.New().String(),
		AutomationID: automationID,
		EventKey:     eventKey,
		Active:       true,
	}
}

// CreateTestSubject creates a deal subject.
func CreateTestSubject() models.Subject {
	return models.Subject{Type: "deal", ID: "deal-42"}
}
