// Package webhook provides the outbound webhook action dispatcher.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/praxishq/automation/pkg/protocol"
)

const (
	defaultMethod  = http.MethodPost
	defaultTimeout = 10 * time.Second

	// Response bodies are truncated before they are stored on the node run;
	// the history view needs a preview, not the full payload.
	maxStoredBody = 4096
)

// Config defines the configuration for webhook nodes. All string fields
// arrive template-resolved.
type Config struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body,omitempty"`
	Timeout int               `json:"timeout"`
}

// Dispatcher delivers HTTP calls to tenant-configured endpoints.
type Dispatcher struct {
	client *http.Client
	logger *slog.Logger
}

func NewDispatcher(client *http.Client, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	return &Dispatcher{
		client: client,
		logger: logger.With("module", "dispatcher:webhook"),
	}
}

func (d *Dispatcher) Key() string {
	return "action:webhook"
}

func (d *Dispatcher) Execute(ctx context.Context, req protocol.Request) (protocol.Result, error) {
	config, err := parseConfig(req.Config)
	if err != nil {
		return protocol.Result{}, err
	}

	if req.DryRun {
		return protocol.Result{Output: map[string]any{
			"request": map[string]any{
				"url":    config.URL,
				"method": config.Method,
				"body":   truncate(config.Body),
			},
		}}, nil
	}

	var body io.Reader
	if config.Body != "" {
		body = strings.NewReader(config.Body)
	}

	callCtx := ctx

	if config.Timeout > 0 {
		var cancel context.CancelFunc

		callCtx, cancel = context.WithTimeout(ctx, time.Duration(config.Timeout)*time.Second)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(callCtx, config.Method, config.URL, body)
	if err != nil {
		return protocol.Result{}, fmt.Errorf("failed to create webhook request: %w", err)
	}

	for key, value := range config.Headers {
		httpReq.Header.Set(key, value)
	}

	if config.Body != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		// Network failures and timeouts are worth another attempt.
		return protocol.Result{}, protocol.Transient(fmt.Errorf("webhook request failed: %w", err))
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxStoredBody+1))
	if err != nil {
		return protocol.Result{}, protocol.Transient(fmt.Errorf("failed to read webhook response: %w", err))
	}

	output := map[string]any{
		"response": map[string]any{
			"status": resp.StatusCode,
			"body":   truncate(string(respBody)),
		},
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return protocol.Result{Output: output}, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return protocol.Result{}, protocol.Transient(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	default:
		return protocol.Result{}, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}

func parseConfig(raw map[string]any) (Config, error) {
	config := Config{
		Method:  defaultMethod,
		Headers: make(map[string]string),
	}

	url, ok := raw["url"].(string)
	if !ok || url == "" {
		return Config{}, errors.New("missing required field 'url'")
	}

	config.URL = url

	if method, ok := raw["method"].(string); ok && method != "" {
		config.Method = strings.ToUpper(method)
	}

	if headers, ok := raw["headers"].(map[string]any); ok {
		for key, value := range headers {
			if strVal, ok := value.(string); ok {
				config.Headers[key] = strVal
			}
		}
	}

	if body, ok := raw["body"].(string); ok {
		config.Body = body
	}

	if timeout, ok := raw["timeout"].(float64); ok {
		config.Timeout = int(timeout)
	}

	return config, nil
}

// truncate caps the stored body, backing off to a rune boundary so the cut
// never splits a multi-byte character.
func truncate(body string) string {
	if len(body) <= maxStoredBody {
		return body
	}

	cut := maxStoredBody
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}

	return body[:cut]
}
