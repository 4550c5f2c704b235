package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxishq/automation/pkg/protocol"
)

func testDispatcher() *Dispatcher {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	return NewDispatcher(nil, logger)
}

func TestExecute_Success(t *testing.T) {
	var receivedBody string

	var receivedHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		receivedBody = string(body)
		receivedHeader = r.Header.Get("X-Token")

		assert.Equal(t, http.MethodPost, r.Method)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	d := testDispatcher()

	result, err := d.Execute(context.Background(), protocol.Request{
		NodeID: "node-1",
		Config: map[string]any{
			"url":     server.URL,
			"method":  "post",
			"headers": map[string]any{"X-Token": "secret"},
			"body":    `{"deal":"deal-42"}`,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, `{"deal":"deal-42"}`, receivedBody)
	assert.Equal(t, "secret", receivedHeader)

	response, ok := result.Output["response"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, response["status"])
	assert.Equal(t, `{"ok":true}`, response["body"])
}

func TestExecute_DefaultContentType(t *testing.T) {
	var contentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := testDispatcher()

	_, err := d.Execute(context.Background(), protocol.Request{
		Config: map[string]any{"url": server.URL, "body": `{}`},
	})
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
}

func TestExecute_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := testDispatcher()

	_, err := d.Execute(context.Background(), protocol.Request{
		Config: map[string]any{"url": server.URL},
	})
	require.Error(t, err)

	var transient *protocol.TransientError
	assert.True(t, errors.As(err, &transient), "5xx must be retryable")
}

func TestExecute_RateLimitIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	d := testDispatcher()

	_, err := d.Execute(context.Background(), protocol.Request{
		Config: map[string]any{"url": server.URL},
	})
	require.Error(t, err)

	var transient *protocol.TransientError
	assert.True(t, errors.As(err, &transient))
}

func TestExecute_ClientErrorIsNotTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	d := testDispatcher()

	_, err := d.Execute(context.Background(), protocol.Request{
		Config: map[string]any{"url": server.URL},
	})
	require.Error(t, err)

	var transient *protocol.TransientError
	assert.False(t, errors.As(err, &transient), "4xx is a configuration problem, not retryable")
}

func TestExecute_NetworkErrorIsTransient(t *testing.T) {
	d := testDispatcher()

	_, err := d.Execute(context.Background(), protocol.Request{
		Config: map[string]any{"url": "http://127.0.0.1:1"},
	})
	require.Error(t, err)

	var transient *protocol.TransientError
	assert.True(t, errors.As(err, &transient))
}

func TestExecute_MissingURL(t *testing.T) {
	d := testDispatcher()

	_, err := d.Execute(context.Background(), protocol.Request{
		Config: map[string]any{"method": "POST"},
	})
	assert.Error(t, err)
}

func TestExecute_DryRunSendsNothing(t *testing.T) {
	called := false

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	d := testDispatcher()

	result, err := d.Execute(context.Background(), protocol.Request{
		DryRun: true,
		Config: map[string]any{
			"url":    server.URL,
			"method": "PUT",
			"body":   `{"x":1}`,
		},
	})
	require.NoError(t, err)
	assert.False(t, called, "dry run must not reach the endpoint")

	request, ok := result.Output["request"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, server.URL, request["url"])
	assert.Equal(t, "PUT", request["method"])
	assert.Equal(t, `{"x":1}`, request["body"])
}

func TestExecute_TruncatesLongResponseBody(t *testing.T) {
	long := make([]byte, maxStoredBody+500)
	for i := range long {
		long[i] = 'x'
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(long)
	}))
	defer server.Close()

	d := testDispatcher()

	result, err := d.Execute(context.Background(), protocol.Request{
		Config: map[string]any{"url": server.URL},
	})
	require.NoError(t, err)

	response, ok := result.Output["response"].(map[string]any)
	require.True(t, ok)

	body, ok := response["body"].(string)
	require.True(t, ok)
	assert.Len(t, body, maxStoredBody)
}

func TestExecute_TruncationKeepsRuneBoundary(t *testing.T) {
	// Three-byte runes that do not divide the cap evenly; a byte-offset cut
	// would leave a partial rune at the end.
	long := strings.Repeat("日", maxStoredBody/3+200)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(long))
	}))
	defer server.Close()

	d := testDispatcher()

	result, err := d.Execute(context.Background(), protocol.Request{
		Config: map[string]any{"url": server.URL},
	})
	require.NoError(t, err)

	response, ok := result.Output["response"].(map[string]any)
	require.True(t, ok)

	body, ok := response["body"].(string)
	require.True(t, ok)
	assert.True(t, utf8.ValidString(body))
	assert.LessOrEqual(t, len(body), maxStoredBody)
}
