// Package notify delivers outcome and alert notifications to a
// Discord-compatible webhook.
//
// Delivery is best-effort by contract: a failed send is logged and
// reported to the caller, but callers never abort the pipeline over it.
// Every alert and every orchestrator run produces exactly one
// notification; silence is never acceptable.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/config"
)

// Severity selects the embed color.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
	SeveritySuccess  Severity = "success"
)

// Discord embed colors, decimal.
const (
	colorCritical = 15158332 // #E74C3C
	colorWarning  = 16776960 // #FFFF00
	colorInfo     = 3447003  // #3498DB
	colorSuccess  = 3066993  // #2ECC71
)

// Field is one name/value pair rendered inside the embed.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Message is one notification.
type Message struct {
	Severity Severity
	Title    string
	Body     string
	Fields   []Field

	// CorrelationID ties the notification to a pipeline run or log
	// record for manual follow-up.
	CorrelationID string
}

type webhookEmbed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Color       int     `json:"color"`
	Fields      []Field `json:"fields,omitempty"`
	Timestamp   string  `json:"timestamp"`
}

type webhookPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []webhookEmbed `json:"embeds"`
}

// Scrubber removes secrets from outbound text. Implemented by
// redact.Scrubber; nil disables scrubbing.
type Scrubber interface {
	Scrub(content string) string
}

// Notifier sends messages to the configured webhook.
type Notifier struct {
	webhookURL string
	username   string
	scrubber   Scrubber
	client     *http.Client
	logger     *zap.Logger
}

// New creates a notifier. An unset webhook URL disables delivery; Send
// then logs the message and returns nil.
func New(cfg config.NotifyConfig, scrubber Scrubber, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		webhookURL: cfg.WebhookURL.Value(),
		username:   cfg.Username,
		scrubber:   scrubber,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Send posts the message to the webhook. Errors are returned for the
// caller to log; they must never abort the pipeline.
//
// Titles, bodies and field values carry raw log and diagnosis text, so
// each is scrubbed before it leaves the process.
func (n *Notifier) Send(ctx context.Context, msg Message) error {
	msg.Title = n.scrub(msg.Title)
	msg.Body = n.scrub(msg.Body)

	fields := make([]Field, 0, len(msg.Fields)+1)
	for _, f := range msg.Fields {
		f.Value = n.scrub(f.Value)
		fields = append(fields, f)
	}
	if msg.CorrelationID != "" {
		fields = append(fields, Field{Name: "Correlation ID", Value: msg.CorrelationID, Inline: true})
	}

	if n.webhookURL == "" {
		n.logger.Info("notification webhook not configured, logging only",
			zap.String("severity", string(msg.Severity)),
			zap.String("title", msg.Title),
			zap.String("correlation_id", msg.CorrelationID),
		)
		return nil
	}

	payload := webhookPayload{
		Username: n.username,
		Embeds: []webhookEmbed{{
			Title:       msg.Title,
			Description: msg.Body,
			Color:       severityColor(msg.Severity),
			Fields:      fields,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification webhook returned %d: %s", resp.StatusCode, string(detail))
	}

	n.logger.Debug("notification delivered",
		zap.String("severity", string(msg.Severity)),
		zap.String("title", msg.Title),
	)
	return nil
}

func (n *Notifier) scrub(s string) string {
	if n.scrubber == nil {
		return s
	}
	return n.scrubber.Scrub(s)
}

func severityColor(s Severity) int {
	switch s {
	case SeverityCritical:
		return colorCritical
	case SeverityWarning:
		return colorWarning
	case SeveritySuccess:
		return colorSuccess
	default:
		return colorInfo
	}
}
