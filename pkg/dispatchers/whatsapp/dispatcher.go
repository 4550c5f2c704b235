// Package whatsapp provides the WhatsApp message action dispatcher, built on
// the Cloud API messages endpoint. It sends free-form text inside the 24-hour
// customer service window and pre-approved template messages outside it.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/praxishq/automation/pkg/protocol"
	"github.com/praxishq/automation/pkg/ratelimit"
)

const (
	defaultBaseURL = "https://graph.facebook.com/v20.0"
	defaultTimeout = 10 * time.Second
)

// Config defines the configuration for WhatsApp message nodes. Either Text or
// TemplateName must be set.
type Config struct {
	CredentialID   string   `json:"credential_id"`
	To             string   `json:"to"`
	Text           string   `json:"text,omitempty"`
	TemplateName   string   `json:"template_name,omitempty"`
	TemplateLang   string   `json:"template_lang,omitempty"`
	TemplateParams []string `json:"template_params,omitempty"`
}

// Dispatcher sends messages through a tenant-connected WhatsApp business
// account.
type Dispatcher struct {
	client      *http.Client
	credentials protocol.CredentialStore
	limiter     ratelimit.Limiter
	baseURL     string
	logger      *slog.Logger
}

func NewDispatcher(client *http.Client, credentials protocol.CredentialStore, limiter ratelimit.Limiter, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}

	return &Dispatcher{
		client:      client,
		credentials: credentials,
		limiter:     limiter,
		baseURL:     defaultBaseURL,
		logger:      logger.With("module", "dispatcher:whatsapp"),
	}
}

// WithBaseURL overrides the Cloud API endpoint, used by tests.
func (d *Dispatcher) WithBaseURL(baseURL string) *Dispatcher {
	d.baseURL = baseURL

	return d
}

func (d *Dispatcher) Key() string {
	return "action:whatsapp"
}

func (d *Dispatcher) Execute(ctx context.Context, req protocol.Request) (protocol.Result, error) {
	config, err := parseConfig(req.Config)
	if err != nil {
		return protocol.Result{}, err
	}

	if req.DryRun {
		return protocol.Result{Output: map[string]any{
			"message": map[string]any{
				"to":       config.To,
				"text":     config.Text,
				"template": config.TemplateName,
			},
		}}, nil
	}

	credential, err := d.credentials.Get(ctx, protocol.CredentialWhatsAppAccount, config.CredentialID)
	if err != nil {
		return protocol.Result{}, fmt.Errorf("failed to resolve whatsapp credential: %w", err)
	}

	phoneNumberID := credential.Values["phone_number_id"]
	accessToken := credential.Values["access_token"]

	if phoneNumberID == "" || accessToken == "" {
		return protocol.Result{}, errors.New("whatsapp credential is missing phone_number_id or access_token")
	}

	allowed, err := d.limiter.Allow(ctx, credential.ID)
	if err != nil {
		return protocol.Result{}, protocol.Transient(fmt.Errorf("rate limiter unavailable: %w", err))
	}

	if !allowed {
		return protocol.Result{}, protocol.Transient(errors.New("whatsapp rate limit exceeded"))
	}

	payload := buildPayload(config)

	body, err := json.Marshal(payload)
	if err != nil {
		return protocol.Result{}, fmt.Errorf("failed to marshal whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", d.baseURL, phoneNumberID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return protocol.Result{}, fmt.Errorf("failed to create whatsapp request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return protocol.Result{}, protocol.Transient(fmt.Errorf("whatsapp request failed: %w", err))
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return protocol.Result{}, protocol.Transient(fmt.Errorf("failed to read whatsapp response: %w", err))
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return protocol.Result{}, protocol.Transient(fmt.Errorf("whatsapp returned status %d", resp.StatusCode))
	}

	if resp.StatusCode != http.StatusOK {
		return protocol.Result{}, fmt.Errorf("whatsapp returned status %d: %s", resp.StatusCode, respBody)
	}

	var apiResponse struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}

	err = json.Unmarshal(respBody, &apiResponse)
	if err != nil {
		return protocol.Result{}, fmt.Errorf("failed to decode whatsapp response: %w", err)
	}

	messageID := ""
	if len(apiResponse.Messages) > 0 {
		messageID = apiResponse.Messages[0].ID
	}

	return protocol.Result{Output: map[string]any{
		"message": map[string]any{
			"id": messageID,
			"to": config.To,
		},
	}}, nil
}

func buildPayload(config Config) map[string]any {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                config.To,
	}

	if config.TemplateName != "" {
		lang := config.TemplateLang
		if lang == "" {
			lang = "en"
		}

		template := map[string]any{
			"name":     config.TemplateName,
			"language": map[string]any{"code": lang},
		}

		if len(config.TemplateParams) > 0 {
			parameters := make([]map[string]any, 0, len(config.TemplateParams))
			for _, param := range config.TemplateParams {
				parameters = append(parameters, map[string]any{"type": "text", "text": param})
			}

			template["components"] = []map[string]any{
				{"type": "body", "parameters": parameters},
			}
		}

		payload["type"] = "template"
		payload["template"] = template

		return payload
	}

	payload["type"] = "text"
	payload["text"] = map[string]any{"body": config.Text}

	return payload
}

func parseConfig(raw map[string]any) (Config, error) {
	var config Config

	credentialID, ok := raw["credential_id"].(string)
	if !ok || credentialID == "" {
		return Config{}, errors.New("missing required field 'credential_id'")
	}

	config.CredentialID = credentialID

	to, ok := raw["to"].(string)
	if !ok || to == "" {
		return Config{}, errors.New("missing required field 'to'")
	}

	config.To = to

	if text, ok := raw["text"].(string); ok {
		config.Text = text
	}

	if templateName, ok := raw["template_name"].(string); ok {
		config.TemplateName = templateName
	}

	if templateLang, ok := raw["template_lang"].(string); ok {
		config.TemplateLang = templateLang
	}

	if params, ok := raw["template_params"].([]any); ok {
		for _, param := range params {
			if strVal, ok := param.(string); ok {
				config.TemplateParams = append(config.TemplateParams, strVal)
			}
		}
	}

	if config.Text == "" && config.TemplateName == "" {
		return Config{}, errors.New("either 'text' or 'template_name' is required")
	}

	return config, nil
}
