package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/praxishq/automation/pkg/protocol"
)

// HTTPSubjectSource fetches a subject's exposed fields from the host
// application over HTTP.
type HTTPSubjectSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSubjectSource(baseURL string) *HTTPSubjectSource {
	return &HTTPSubjectSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSubjectSource) SubjectFields(ctx context.Context, subjectType, subjectID string) (map[string]any, error) {
	url := fmt.Sprintf("%s/subjects/%s/%s/fields", s.baseURL, subjectType, subjectID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create subject fields request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subject fields: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subject fields endpoint returned status %d", resp.StatusCode)
	}

	var fields map[string]any

	err = json.NewDecoder(resp.Body).Decode(&fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode subject fields: %w", err)
	}

	return fields, nil
}

// NewSubjectSource returns the HTTP-backed source, or nil when no host URL is
// configured; runs then see only the subject identity and trigger data.
func NewSubjectSource(baseURL string) protocol.SubjectSource {
	if baseURL == "" {
		return nil
	}

	return NewHTTPSubjectSource(baseURL)
}
