package registry

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/praxishq/automation/pkg/dispatchers/conditiondispatch"
	"github.com/praxishq/automation/pkg/dispatchers/telegram"
	"github.com/praxishq/automation/pkg/dispatchers/webhook"
	"github.com/praxishq/automation/pkg/dispatchers/whatsapp"
	"github.com/praxishq/automation/pkg/models"
	"github.com/praxishq/automation/pkg/protocol"
	"github.com/praxishq/automation/pkg/ratelimit"
)

// Business event keys the built-in triggers bind to.
const (
	EventKeyStageEntered   = "workflow.stage_entered"
	EventKeyInvoiceCreated = "invoice.created"
	EventKeyScheduleDue    = "automation.schedule_due"
)

// Dependencies carries the collaborators the built-in dispatchers need.
type Dependencies struct {
	HTTPClient  *http.Client
	Credentials protocol.CredentialStore
	ChatLimiter ratelimit.Limiter
	Logger      *slog.Logger
}

// RegisterDefaults registers the built-in node types.
func RegisterDefaults(r *Registry, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	chatRetry := RetryPolicy{MaxAttempts: 3, InitialBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second}

	r.MustRegister(&Definition{
		Key:         "trigger:stage_entered",
		Category:    models.CategoryTypeTrigger,
		DisplayName: "Stage entered",
		Description: "Fires when a card enters a workflow stage",
		EventKey:    EventKeyStageEntered,
		InPalette:   true,
		Outputs: map[string]OutputField{
			"trigger.workflow_id": {Type: "string", Description: "Workflow the card moved in"},
			"trigger.stage_id":    {Type: "string", Description: "Stage the card entered"},
		},
	})

	r.MustRegister(&Definition{
		Key:         "trigger:invoice_created",
		Category:    models.CategoryTypeTrigger,
		DisplayName: "Invoice created",
		Description: "Fires when an invoice is issued",
		EventKey:    EventKeyInvoiceCreated,
		InPalette:   true,
		Outputs: map[string]OutputField{
			"trigger.invoice_id": {Type: "string", Description: "The new invoice"},
		},
	})

	r.MustRegister(&Definition{
		Key:         "trigger:schedule",
		Category:    models.CategoryTypeTrigger,
		DisplayName: "Schedule",
		Description: "Fires on a cron schedule",
		EventKey:    EventKeyScheduleDue,
		InPalette:   true,
		ConfigSchema: `{
			"type": "object",
			"properties": {
				"cron": {"type": "string", "minLength": 1}
			},
			"required": ["cron"]
		}`,
		Outputs: map[string]OutputField{
			"trigger.fired_at": {Type: "string", Description: "Schedule fire time"},
		},
	})

	r.MustRegister(&Definition{
		Key:           "action:webhook",
		Category:      models.CategoryTypeAction,
		DisplayName:   "Send webhook",
		Description:   "Calls an HTTP endpoint with a templated payload",
		AllowMultiple: true,
		InPalette:     true,
		DefaultConfig: map[string]any{"method": "POST"},
		ConfigSchema: `{
			"type": "object",
			"properties": {
				"url": {"type": "string", "minLength": 1},
				"method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE"]},
				"headers": {"type": "object"},
				"body": {"type": "string"},
				"timeout": {"type": "number", "minimum": 1, "maximum": 300}
			},
			"required": ["url"]
		}`,
		Outputs: map[string]OutputField{
			"response.status": {Type: "number", Description: "HTTP status code"},
			"response.body":   {Type: "string", Description: "Response body, truncated"},
		},
		Retry:      chatRetry,
		Dispatcher: webhook.NewDispatcher(deps.HTTPClient, logger),
	})

	r.MustRegister(&Definition{
		Key:           "action:telegram",
		Category:      models.CategoryTypeAction,
		DisplayName:   "Send Telegram message",
		Description:   "Sends a message through a connected Telegram bot",
		AllowMultiple: true,
		InPalette:     true,
		ConfigSchema: `{
			"type": "object",
			"properties": {
				"credential_id": {"type": "string", "minLength": 1},
				"chat_id": {"type": "string", "minLength": 1},
				"text": {"type": "string", "minLength": 1},
				"parse_mode": {"type": "string", "enum": ["Markdown", "MarkdownV2", "HTML"]}
			},
			"required": ["credential_id", "chat_id", "text"]
		}`,
		Outputs: map[string]OutputField{
			"message.id": {Type: "number", Description: "Provider message id"},
		},
		Retry:      chatRetry,
		Dispatcher: telegram.NewDispatcher(deps.HTTPClient, deps.Credentials, deps.ChatLimiter, logger),
	})

	r.MustRegister(&Definition{
		Key:           "action:whatsapp",
		Category:      models.CategoryTypeAction,
		DisplayName:   "Send WhatsApp message",
		Description:   "Sends a message through a connected WhatsApp business account",
		AllowMultiple: true,
		InPalette:     true,
		ConfigSchema: `{
			"type": "object",
			"properties": {
				"credential_id": {"type": "string", "minLength": 1},
				"to": {"type": "string", "minLength": 1},
				"text": {"type": "string"},
				"template_name": {"type": "string"},
				"template_lang": {"type": "string"},
				"template_params": {"type": "array", "items": {"type": "string"}}
			},
			"required": ["credential_id", "to"]
		}`,
		Outputs: map[string]OutputField{
			"message.id": {Type: "string", Description: "Provider message id"},
		},
		Retry:      chatRetry,
		Dispatcher: whatsapp.NewDispatcher(deps.HTTPClient, deps.Credentials, deps.ChatLimiter, logger),
	})

	r.MustRegister(&Definition{
		Key:           "condition",
		Category:      models.CategoryTypeCondition,
		DisplayName:   "Condition",
		Description:   "Routes the run through the true or false branch",
		AllowMultiple: true,
		InPalette:     true,
		ConfigSchema: `{
			"type": "object",
			"properties": {
				"field": {"type": "string", "minLength": 1},
				"operator": {"type": "string", "enum": [
					"equals", "not_equals", "contains", "not_contains",
					"starts_with", "ends_with", "greater_than", "less_than",
					"greater_or_equal", "less_or_equal", "is_empty",
					"is_not_empty", "is_null", "is_not_null", "in_list", "regex"
				]},
				"value": {"type": "string"}
			},
			"required": ["field", "operator"]
		}`,
		Outputs: map[string]OutputField{
			"result": {Type: "boolean", Description: "Evaluation outcome"},
		},
		Retry:      RetryPolicy{MaxAttempts: 1},
		Dispatcher: conditiondispatch.NewDispatcher(logger),
	})
}
