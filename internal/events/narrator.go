package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Narrator produces a dispatcher reply for an event code.
type Narrator interface {
	Narrate(ctx context.Context, missionID, eventCode string) (string, error)
}

// HTTPNarrator calls the dispatch agent endpoint.
type HTTPNarrator struct {
	URL    string
	APIKey string
	Client *http.Client
}

// NewHTTPNarrator builds a narrator with a bounded client timeout.
func NewHTTPNarrator(url, apiKey string, timeout time.Duration) *HTTPNarrator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNarrator{URL: url, APIKey: apiKey, Client: &http.Client{Timeout: timeout}}
}

type narrateRequest struct {
	MissionID   string `json:"mission_id"`
	CrewMessage string `json:"crew_message"`
}

type narrateResponse struct {
	ResponseText string `json:"response_text"`
}

// Narrate posts the event code as a crew message and returns the reply text.
func (n *HTTPNarrator) Narrate(ctx context.Context, missionID, eventCode string) (string, error) {
	body, err := json.Marshal(narrateRequest{MissionID: missionID, CrewMessage: eventCode})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.APIKey != "" {
		req.Header.Set("x-api-key", n.APIKey)
	}

	resp, err := n.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("narrator request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("narrator returned %s", resp.Status)
	}

	var out narrateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode narrator reply: %w", err)
	}
	if out.ResponseText == "" {
		return "", errors.New("narrator returned an empty reply")
	}
	return out.ResponseText, nil
}
