// Package telegram provides the Telegram message action dispatcher, built on
// the Bot API sendMessage call.
package telegram

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
	defaultBaseURL = "https://api.telegram.org"
	defaultTimeout = 10 * time.Second
)

// Config defines the configuration for Telegram message nodes.
type Config struct {
	CredentialID string `json:"credential_id"`
	ChatID       string `json:"chat_id"`
	Text         string `json:"text"`
	ParseMode    string `json:"parse_mode,omitempty"`
}

// Dispatcher sends messages through a tenant-connected Telegram bot.
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
		logger:      logger.With("module", "dispatcher:telegram"),
	}
}

// WithBaseURL overrides the Bot API endpoint, used by tests.
func (d *Dispatcher) WithBaseURL(baseURL string) *Dispatcher {
	d.baseURL = baseURL

	return d
}

func (d *Dispatcher) Key() string {
	return "action:telegram"
}

func (d *Dispatcher) Execute(ctx context.Context, req protocol.Request) (protocol.Result, error) {
	config, err := parseConfig(req.Config)
	if err != nil {
		return protocol.Result{}, err
	}

	if req.DryRun {
		return protocol.Result{Output: map[string]any{
			"message": map[string]any{
				"chat_id": config.ChatID,
				"text":    config.Text,
			},
		}}, nil
	}

	credential, err := d.credentials.Get(ctx, protocol.CredentialTelegramBot, config.CredentialID)
	if err != nil {
		return protocol.Result{}, fmt.Errorf("failed to resolve telegram credential: %w", err)
	}

	token := credential.Values["token"]
	if token == "" {
		return protocol.Result{}, errors.New("telegram credential has no bot token")
	}

	allowed, err := d.limiter.Allow(ctx, credential.ID)
	if err != nil {
		return protocol.Result{}, protocol.Transient(fmt.Errorf("rate limiter unavailable: %w", err))
	}

	if !allowed {
		return protocol.Result{}, protocol.Transient(errors.New("telegram rate limit exceeded"))
	}

	payload := map[string]any{
		"chat_id": config.ChatID,
		"text":    config.Text,
	}

	if config.ParseMode != "" {
		payload["parse_mode"] = config.ParseMode
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return protocol.Result{}, fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", d.baseURL, token)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return protocol.Result{}, fmt.Errorf("failed to create telegram request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return protocol.Result{}, protocol.Transient(fmt.Errorf("telegram request failed: %w", err))
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return protocol.Result{}, protocol.Transient(fmt.Errorf("failed to read telegram response: %w", err))
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return protocol.Result{}, protocol.Transient(fmt.Errorf("telegram returned status %d", resp.StatusCode))
	}

	if resp.StatusCode != http.StatusOK {
		return protocol.Result{}, fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, respBody)
	}

	var apiResponse struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
		Description string `json:"description"`
	}

	err = json.Unmarshal(respBody, &apiResponse)
	if err != nil {
		return protocol.Result{}, fmt.Errorf("failed to decode telegram response: %w", err)
	}

	if !apiResponse.OK {
		return protocol.Result{}, fmt.Errorf("telegram rejected message: %s", apiResponse.Description)
	}

	return protocol.Result{Output: map[string]any{
		"message": map[string]any{
			"id":      apiResponse.Result.MessageID,
			"chat_id": config.ChatID,
		},
	}}, nil
}

func parseConfig(raw map[string]any) (Config, error) {
	var config Config

	credentialID, ok := raw["credential_id"].(string)
	if !ok || credentialID == "" {
		return Config{}, errors.New("missing required field 'credential_id'")
	}

	config.CredentialID = credentialID

	chatID, ok := raw["chat_id"].(string)
	if !ok || chatID == "" {
		return Config{}, errors.New("missing required field 'chat_id'")
	}

	config.ChatID = chatID

	text, ok := raw["text"].(string)
	if !ok || text == "" {
		return Config{}, errors.New("missing required field 'text'")
	}

	config.Text = text

	if parseMode, ok := raw["parse_mode"].(string); ok {
		config.ParseMode = parseMode
	}

	return config, nil
}
