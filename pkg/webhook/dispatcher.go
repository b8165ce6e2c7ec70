// Package webhook implements the fire-and-forget delivery of policy-engine
// and approval-decision events to a single configured destination.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/wisbric/agentguard/internal/telemetry"
)

const deliveryTimeout = 5 * time.Second

// Dispatcher posts AgentGuard event payloads to a configured URL.
// It implements policy.WebhookDispatcher, which the approval handler also uses.
type Dispatcher struct {
	url    string
	secret string
	client *http.Client
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher. If url is empty, Dispatch becomes a
// noop — matching the teacher's pattern of a disabled notifier that logs at
// debug level instead of erroring.
func NewDispatcher(url, secret string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: deliveryTimeout},
		logger: logger,
	}
}

// IsEnabled reports whether a destination URL is configured.
func (d *Dispatcher) IsEnabled() bool {
	return d.url != ""
}

// Dispatch sends eventType with payload in a detached goroutine. Delivery is
// at-most-once per call; failures are logged and discarded, never surfaced
// to the caller (spec.md §4.8).
func (d *Dispatcher) Dispatch(eventType string, payload map[string]any) {
	if !d.IsEnabled() {
		d.logger.Debug("webhook dispatcher disabled, skipping event", "event", eventType)
		return
	}

	go d.deliver(eventType, payload)
}

func (d *Dispatcher) deliver(eventType string, payload map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	if strings.Contains(d.url, "hooks.slack.com") {
		d.deliverSlack(ctx, eventType, payload)
		return
	}
	d.deliverJSON(ctx, eventType, payload)
}

func (d *Dispatcher) deliverSlack(ctx context.Context, eventType string, payload map[string]any) {
	msg := &slack.WebhookMessage{Attachments: []slack.Attachment{slackAttachment(eventType, payload)}}

	if err := slack.PostWebhookContext(ctx, d.url, msg); err != nil {
		d.logger.Warn("slack webhook delivery failed", "event", eventType, "error", err)
		telemetry.WebhookDeliveriesTotal.WithLabelValues(eventType, "error").Inc()
		return
	}
	d.logger.Debug("slack webhook delivered", "event", eventType)
	telemetry.WebhookDeliveriesTotal.WithLabelValues(eventType, "success").Inc()
}

func (d *Dispatcher) deliverJSON(ctx context.Context, eventType string, payload map[string]any) {
	body := map[string]any{
		"event":     eventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range payload {
		body[k] = v
	}

	raw, err := json.Marshal(body)
	if err != nil {
		d.logger.Warn("marshaling webhook body failed", "event", eventType, "error", err)
		telemetry.WebhookDeliveriesTotal.WithLabelValues(eventType, "error").Inc()
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(raw))
	if err != nil {
		d.logger.Warn("building webhook request failed", "event", eventType, "error", err)
		telemetry.WebhookDeliveriesTotal.WithLabelValues(eventType, "error").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if d.secret != "" {
		req.Header.Set("X-AgentGuard-Signature", "sha256="+signBody(d.secret, raw))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("webhook delivery failed", "event", eventType, "url", d.url, "error", err)
		telemetry.WebhookDeliveriesTotal.WithLabelValues(eventType, "error").Inc()
		return
	}
	defer resp.Body.Close()

	d.logger.Debug("webhook delivered", "event", eventType, "status_code", resp.StatusCode)
	telemetry.WebhookDeliveriesTotal.WithLabelValues(eventType, "success").Inc()
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func slackAttachment(eventType string, payload map[string]any) slack.Attachment {
	action, _ := payload["action"].(string)
	if action == "" {
		action = "unknown"
	}
	agentName, _ := payload["agent_name"].(string)
	if agentName == "" {
		agentName, _ = payload["agent_id"].(string)
	}
	if agentName == "" {
		agentName = "unknown"
	}
	resource, _ := payload["resource"].(string)
	resourcePart := ""
	if resource != "" {
		resourcePart = fmt.Sprintf(" on `%s`", resource)
	}
	reason, _ := payload["decision_reason"].(string)
	reasonPart := ""
	if reason != "" {
		reasonPart = fmt.Sprintf("\n> %s", reason)
	}

	var text, color string
	switch eventType {
	case "approval.created":
		text = fmt.Sprintf("*AgentGuard — Human Approval Required* :hourglass_flowing_sand:\nAgent *%s* wants to perform `%s`%s.", agentName, action, resourcePart)
		color = "#F59E0B"
	case "approval.approved":
		text = fmt.Sprintf("*AgentGuard — Request Approved* :white_check_mark:\nAgent *%s* action `%s`%s was *approved*.%s", agentName, action, resourcePart, reasonPart)
		color = "#10B981"
	default:
		text = fmt.Sprintf("*AgentGuard — Request Denied* :x:\nAgent *%s* action `%s`%s was *denied*.%s", agentName, action, resourcePart, reasonPart)
		color = "#EF4444"
	}

	return slack.Attachment{
		Color:  color,
		Text:   text,
		Footer: "AgentGuard | " + time.Now().UTC().Format("2006-01-02 15:04 MST"),
	}
}
