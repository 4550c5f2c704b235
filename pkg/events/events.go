// Package events defines the event types flowing between the API, the trigger
// service and the workers.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/praxishq/automation/pkg/models"
)

type EventType string

// Topic carries every automation event.
const Topic = "automation.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// BusinessEventRaisedEvent is emitted by the host application when
	// something automatable happens (a card moves, an invoice is issued).
	BusinessEventRaisedEvent EventType = "business.event.raised"

	// RunDispatchedEvent hands a created run to a worker for execution.
	RunDispatchedEvent EventType = "run.dispatched"

	// RunFinishedEvent reports a run reaching a terminal status.
	RunFinishedEvent EventType = "run.finished"

	// AutomationPublishedEvent reports a new version going live.
	AutomationPublishedEvent EventType = "automation.published"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	AutomationID string         `json:"automation_id,omitempty"`
	WorkerID     string         `json:"worker_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, automationID string) BaseEvent {
	return BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		AutomationID: automationID,
		Metadata:     make(map[string]any),
	}
}

type BusinessEventRaised struct {
	BaseEvent

	EventKey string            `json:"event_key"`
	Subject  models.Subject    `json:"subject"`
	Scope    map[string]string `json:"scope,omitempty"`
	Payload  map[string]any    `json:"payload,omitempty"`
}

func (e BusinessEventRaised) GetType() EventType {
	return BusinessEventRaisedEvent
}

type RunDispatched struct {
	BaseEvent

	RunID       string         `json:"run_id"`
	VersionID   string         `json:"version_id"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

func (e RunDispatched) GetType() EventType {
	return RunDispatchedEvent
}

type RunFinished struct {
	BaseEvent

	RunID      string           `json:"run_id"`
	Status     models.RunStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	DurationMs int64            `json:"duration_ms"`
}

func (e RunFinished) GetType() EventType {
	return RunFinishedEvent
}

type AutomationPublished struct {
	BaseEvent

	Version int `json:"version"`
}

func (e AutomationPublished) GetType() EventType {
	return AutomationPublishedEvent
}
