package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/hems-dispatch/internal/telemetry"
)

// UplinkConfig addresses the cloud tracking service. APIKey takes precedence
// over Token.
type UplinkConfig struct {
	BaseURL string
	APIKey  string
	Token   string
	Timeout time.Duration
}

// ChatRequest is a crew radio call relayed to dispatch.
type ChatRequest struct {
	MissionID   string `json:"mission_id"`
	CrewMessage string `json:"crew_message"`
}

// ChatReply is dispatch's answer.
type ChatReply struct {
	ResponseText string `json:"response_text"`
}

// Uplink posts bridge traffic to the cloud.
type Uplink struct {
	cfg    UplinkConfig
	client *http.Client
	log    *logrus.Entry
}

// NewUplink creates an uplink.
func NewUplink(cfg UplinkConfig) *Uplink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Uplink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logrus.WithField("component", "uplink"),
	}
}

// send posts body and rejects only credential failures.
func (u *Uplink) send(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case u.cfg.APIKey != "":
		req.Header.Set("x-api-key", u.cfg.APIKey)
	case u.cfg.Token != "":
		req.Header.Set("Authorization", "Bearer "+u.cfg.Token)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, ErrUnauthorized
	}
	return resp, nil
}

func (u *Uplink) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	resp, err := u.send(ctx, path, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// SendTelemetry posts one reading and returns the tactical status the cloud
// replied with.
func (u *Uplink) SendTelemetry(ctx context.Context, r telemetry.Report) (telemetry.TacticalStatus, error) {
	resp, err := u.post(ctx, "/api/telemetry", r)
	if err != nil {
		return telemetry.TacticalStatus{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return telemetry.TacticalStatus{}, fmt.Errorf("read tactical status: %w", err)
	}
	return telemetry.ParseTacticalStatus(string(body))
}

// Chat relays a crew message and returns dispatch's reply.
func (u *Uplink) Chat(ctx context.Context, missionID, message string) (ChatReply, error) {
	resp, err := u.post(ctx, "/api/chat-relay", ChatRequest{MissionID: missionID, CrewMessage: message})
	if err != nil {
		return ChatReply{}, err
	}
	defer resp.Body.Close()
	var reply ChatReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return ChatReply{}, fmt.Errorf("failed to decode chat reply: %w", err)
	}
	return reply, nil
}

// Dispatch forwards a mission request to the cloud and returns its status and
// body as sent, so a no-go verdict reaches the bridge UI intact.
func (u *Uplink) Dispatch(ctx context.Context, req json.RawMessage) (int, []byte, error) {
	resp, err := u.send(ctx, "/api/missions", req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read dispatch reply: %w", err)
	}
	return resp.StatusCode, body, nil
}
