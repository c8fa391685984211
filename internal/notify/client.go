// Package notify is the client for the external notification sender.
// Dispatch is fire-and-forget: failures are logged and never propagate into
// the consent workflow that triggered them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	// NotificationsEndpoint is the sender's API endpoint
	NotificationsEndpoint = "/api/notifications"
	// DefaultHTTPTimeout bounds a single dispatch attempt
	DefaultHTTPTimeout = 10 * time.Second
)

// Notifier dispatches patient-facing notifications.
type Notifier interface {
	// Notify sends a message to the patient. Implementations must not
	// block the caller on delivery and must swallow delivery failures.
	Notify(ctx context.Context, patientID, message string)
}

// Message is the payload sent to the notification service.
type Message struct {
	PatientID string `json:"patient_id"`
	Message   string `json:"message"`
	SentAt    string `json:"sent_at"`
}

// Client is an HTTP Notifier. A Client with an empty base URL is disabled
// and all Notify calls are no-ops.
type Client struct {
	baseURL    string
	httpClient *http.Client
	enabled    bool
}

// NewClient creates a new notification client. An empty baseURL disables
// dispatch cleanly.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		slog.Info("Notification client disabled",
			"reason", "notification service URL not configured",
			"impact", "patients will not receive consent notifications")
		return &Client{enabled: false}
	}

	slog.Info("Notification client initialized", "baseURL", baseURL)
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultHTTPTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
			},
		},
		enabled: true,
	}
}

// Notify dispatches the message in a background goroutine. A background
// context is used so delivery survives cancellation of the triggering
// request.
func (c *Client) Notify(ctx context.Context, patientID, message string) {
	if !c.enabled || c.httpClient == nil {
		return
	}
	go c.send(context.Background(), patientID, message)
}

func (c *Client) send(ctx context.Context, patientID, message string) {
	payload, err := json.Marshal(Message{
		PatientID: patientID,
		Message:   message,
		SentAt:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		slog.Error("Failed to marshal notification", "error", err)
		return
	}

	endpointURL, err := url.JoinPath(c.baseURL, NotificationsEndpoint)
	if err != nil {
		slog.Error("Failed to construct notification URL", "error", err, "baseURL", c.baseURL)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(payload))
	if err != nil {
		slog.Error("Failed to create notification request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Failed to send notification", "error", err, "patientId", patientID)
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Failed to close notification response body", "error", err)
		}
	}()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("Notification service returned error status",
			"status", resp.StatusCode, "body", string(body), "patientId", patientID)
		return
	}

	slog.Debug("Notification dispatched", "patientId", patientID)
}
